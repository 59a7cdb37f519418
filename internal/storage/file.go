// internal/storage/file.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

// ErrNoSnapshot is returned by Load when the snapshot file does not exist.
var ErrNoSnapshot = portfolio.ErrNoSnapshot

const defaultRetries = 3

// FileConfig configures a FileStore.
type FileConfig struct {
	Path string
	// Retries is the number of write attempts per Save.
	Retries int
	// RetryInterval is the initial backoff between write attempts.
	RetryInterval time.Duration
	// DefaultBalanceSOL is used when a snapshot has no balance_sol field.
	DefaultBalanceSOL float64
}

// FileStore keeps the ledger snapshot in a single JSON document.
// Writes go to a temp file in the same directory which is then renamed over
// the target, so concurrent readers only ever see a complete snapshot.
type FileStore struct {
	cfg    FileConfig
	logger *zap.Logger
}

// NewFileStore creates a store writing to cfg.Path.
func NewFileStore(cfg FileConfig, logger *zap.Logger) *FileStore {
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.DefaultBalanceSOL <= 0 {
		cfg.DefaultBalanceSOL = portfolio.DefaultStartingBalanceSOL
	}
	return &FileStore{
		cfg:    cfg,
		logger: logger.Named("store"),
	}
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.cfg.Path
}

// Load reads and decodes the snapshot.
func (s *FileStore) Load(_ context.Context) (*portfolio.Snapshot, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.cfg.Path, err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.cfg.Path, err)
	}
	return doc.toSnapshot(s.cfg.DefaultBalanceSOL), nil
}

// Save atomically replaces the snapshot, retrying transient failures.
func (s *FileStore) Save(ctx context.Context, snap portfolio.Snapshot) error {
	data, err := json.MarshalIndent(fromSnapshot(snap), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryInterval
	policy.MaxInterval = s.cfg.RetryInterval * 10

	notify := func(err error, d time.Duration) {
		s.logger.Warn("Snapshot write failed, retrying",
			zap.String("path", s.cfg.Path),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	operation := func() (struct{}, error) {
		return struct{}{}, writeAtomic(s.cfg.Path, data)
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.cfg.Retries)),
		backoff.WithNotify(notify))
	if err != nil {
		return fmt.Errorf("write snapshot %s (%d bytes): %w", s.cfg.Path, len(data), err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// snapshotDoc is the on-disk layout. Optional fields are pointers so that
// files written by older versions load with the same defaults.
type snapshotDoc struct {
	BalanceSOL   *float64                  `json:"balance_sol"`
	Positions    map[string]positionRecord `json:"positions"`
	ClosedTrades []closedTradeRecord       `json:"closed_trades"`
}

type positionRecord struct {
	Symbol              string   `json:"symbol"`
	Contract            string   `json:"contract"`
	EntryPriceUSD       float64  `json:"entry_price_usd"`
	SOLInvested         float64  `json:"sol_invested"`
	SOLPriceAtEntry     float64  `json:"sol_price_at_entry"`
	TokensBought        float64  `json:"tokens_bought"`
	Timestamp           float64  `json:"timestamp"`
	PartialSold         bool     `json:"partial_sold"`
	HighestMult         *float64 `json:"highest_mult,omitempty"`
	NextTPIndex         int      `json:"next_tp_index"`
	DCADone             bool     `json:"dca_done"`
	OriginalSOLInvested *float64 `json:"original_sol_invested,omitempty"`
	EarlyJeetDone       bool     `json:"early_jeet_done"`
}

type closedTradeRecord struct {
	Symbol      string  `json:"symbol"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	Multiplier  float64 `json:"multiplier"`
	PnLSOL      float64 `json:"pnl_sol"`
	SOLReceived float64 `json:"sol_received"`
	Reason      string  `json:"reason"`
	Timestamp   float64 `json:"timestamp"`
}

func fromSnapshot(snap portfolio.Snapshot) snapshotDoc {
	balance := snap.BalanceSOL
	doc := snapshotDoc{
		BalanceSOL:   &balance,
		Positions:    make(map[string]positionRecord, len(snap.Positions)),
		ClosedTrades: make([]closedTradeRecord, 0, len(snap.ClosedTrades)),
	}
	for sym, p := range snap.Positions {
		highest := p.HighestMult
		original := p.OriginalSOLInvested
		doc.Positions[sym] = positionRecord{
			Symbol:              p.Symbol,
			Contract:            p.Contract,
			EntryPriceUSD:       p.EntryPriceUSD,
			SOLInvested:         p.SOLInvested,
			SOLPriceAtEntry:     p.SOLPriceAtEntry,
			TokensBought:        p.TokensBought,
			Timestamp:           toUnixSeconds(p.OpenedAt),
			PartialSold:         p.PartialSold(),
			HighestMult:         &highest,
			NextTPIndex:         p.NextTPIndex,
			DCADone:             p.DCADone(),
			OriginalSOLInvested: &original,
			EarlyJeetDone:       p.EarlyJeetDone(),
		}
	}
	for _, t := range snap.ClosedTrades {
		doc.ClosedTrades = append(doc.ClosedTrades, closedTradeRecord{
			Symbol:      t.Symbol,
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Multiplier:  t.Multiplier,
			PnLSOL:      t.PnLSOL,
			SOLReceived: t.SOLReceived,
			Reason:      string(t.Reason),
			Timestamp:   toUnixSeconds(t.Timestamp),
		})
	}
	return doc
}

func (d snapshotDoc) toSnapshot(defaultBalance float64) *portfolio.Snapshot {
	snap := &portfolio.Snapshot{
		BalanceSOL:   defaultBalance,
		Positions:    make(map[string]portfolio.Position, len(d.Positions)),
		ClosedTrades: make([]portfolio.ClosedTrade, 0, len(d.ClosedTrades)),
	}
	if d.BalanceSOL != nil {
		snap.BalanceSOL = *d.BalanceSOL
	}

	for sym, r := range d.Positions {
		pos := portfolio.Position{
			Symbol:              r.Symbol,
			Contract:            r.Contract,
			EntryPriceUSD:       r.EntryPriceUSD,
			SOLInvested:         r.SOLInvested,
			SOLPriceAtEntry:     r.SOLPriceAtEntry,
			TokensBought:        r.TokensBought,
			OriginalSOLInvested: r.SOLInvested,
			OpenedAt:            fromUnixSeconds(r.Timestamp),
			NextTPIndex:         r.NextTPIndex,
			HighestMult:         1.0,
			Milestones:          portfolio.NewMilestones(r.PartialSold, r.DCADone, r.EarlyJeetDone),
		}
		if pos.Symbol == "" {
			pos.Symbol = sym
		}
		if r.HighestMult != nil {
			pos.HighestMult = *r.HighestMult
		}
		if r.OriginalSOLInvested != nil {
			pos.OriginalSOLInvested = *r.OriginalSOLInvested
		}
		snap.Positions[sym] = pos
	}

	for _, r := range d.ClosedTrades {
		snap.ClosedTrades = append(snap.ClosedTrades, portfolio.ClosedTrade{
			Symbol:      r.Symbol,
			EntryPrice:  r.EntryPrice,
			ExitPrice:   r.ExitPrice,
			Multiplier:  r.Multiplier,
			PnLSOL:      r.PnLSOL,
			SOLReceived: r.SOLReceived,
			Reason:      portfolio.ExitReason(r.Reason),
			Timestamp:   fromUnixSeconds(r.Timestamp),
		})
	}
	return snap
}

// Timestamps are stored as fractional unix seconds with microsecond precision.
func toUnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole := math.Floor(sec)
	micros := math.Round((sec - whole) * 1e6)
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC()
}
