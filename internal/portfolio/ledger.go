// internal/portfolio/ledger.go
package portfolio

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultStartingBalanceSOL = 10.0
	DefaultDCAMinSOL          = 0.05

	// dcaFraction caps the DCA add at half the original size and half the free balance.
	dcaFraction = 0.5
)

// ErrNoSnapshot is returned by a Store that has nothing persisted yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot is the durable state of a ledger.
type Snapshot struct {
	BalanceSOL   float64
	Positions    map[string]Position
	ClosedTrades []ClosedTrade
}

// Store persists ledger snapshots.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// LedgerConfig holds ledger settings.
type LedgerConfig struct {
	StartingBalanceSOL float64
	DCAMinSOL          float64
	Now                func() time.Time
}

// DCAResult describes a completed averaging-down buy.
type DCAResult struct {
	Symbol        string
	SOLAdded      float64
	NewTokens     float64
	AvgEntryPrice float64
}

// PartialSellResult describes a completed partial exit.
type PartialSellResult struct {
	Symbol        string
	Pct           float64
	Multiplier    float64
	TokensSold    float64
	SOLReceived   float64
	CostBasisSold float64
}

// PnLSOL is the profit of the sold slice against its share of cost basis.
func (r PartialSellResult) PnLSOL() float64 {
	return r.SOLReceived - r.CostBasisSold
}

// Summary is a point-in-time view of the ledger.
type Summary struct {
	BalanceSOL     float64
	OpenPositions  int
	ClosedTrades   int
	RealizedPnLSOL float64
	WinRate        float64
}

// Ledger owns the free balance, open positions and closed trades.
// Every mutation is serialized and followed by a snapshot write.
type Ledger struct {
	mu           sync.RWMutex
	balanceSOL   float64
	positions    map[string]*Position
	closedTrades []ClosedTrade
	dirty        bool

	store  Store
	cfg    LedgerConfig
	logger *zap.Logger
}

// NewLedger creates a ledger and restores it from store if a snapshot exists.
// A missing or unreadable snapshot leaves a fresh ledger with the starting balance.
func NewLedger(ctx context.Context, store Store, cfg LedgerConfig, logger *zap.Logger) *Ledger {
	if cfg.StartingBalanceSOL <= 0 {
		cfg.StartingBalanceSOL = DefaultStartingBalanceSOL
	}
	if cfg.DCAMinSOL <= 0 {
		cfg.DCAMinSOL = DefaultDCAMinSOL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Ledger{
		balanceSOL: cfg.StartingBalanceSOL,
		positions:  make(map[string]*Position),
		store:      store,
		cfg:        cfg,
		logger:     logger.Named("ledger"),
	}
	l.restore(ctx)
	return l
}

func (l *Ledger) restore(ctx context.Context) {
	if l.store == nil {
		return
	}
	snap, err := l.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			l.logger.Info("No snapshot found, starting fresh",
				zap.Float64("balance_sol", l.balanceSOL))
		} else {
			l.logger.Warn("Could not load snapshot, starting fresh",
				zap.Float64("balance_sol", l.balanceSOL),
				zap.Error(err))
		}
		return
	}

	l.balanceSOL = snap.BalanceSOL
	for sym, pos := range snap.Positions {
		p := pos
		if p.Symbol == "" {
			p.Symbol = sym
		}
		l.positions[sym] = &p
	}
	l.closedTrades = append(l.closedTrades, snap.ClosedTrades...)

	l.logger.Info("Portfolio loaded",
		zap.Float64("balance_sol", l.balanceSOL),
		zap.Strings("open_positions", l.symbolsLocked()),
		zap.Int("closed_trades", len(l.closedTrades)))
}

// Buy opens a new position for symbol. It returns false if the symbol is
// already held, the balance is short, or the inputs cannot price a fill.
func (l *Ledger) Buy(ctx context.Context, symbol, contract string, priceUSD, solPriceUSD, solAmount float64) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.positions[symbol]; held {
		l.logger.Info("Already holding, skipping buy", zap.String("symbol", symbol))
		return Position{}, false
	}
	if l.balanceSOL < solAmount {
		l.logger.Info("Not enough balance to buy",
			zap.String("symbol", symbol),
			zap.Float64("balance_sol", l.balanceSOL),
			zap.Float64("sol_amount", solAmount))
		return Position{}, false
	}
	if !positive(priceUSD) || !positive(solPriceUSD) || !positive(solAmount) {
		l.logger.Info("Invalid buy inputs",
			zap.String("symbol", symbol),
			zap.Float64("price_usd", priceUSD),
			zap.Float64("sol_price_usd", solPriceUSD),
			zap.Float64("sol_amount", solAmount))
		return Position{}, false
	}

	tokens := solAmount * solPriceUSD / priceUSD
	pos := &Position{
		Symbol:              symbol,
		Contract:            contract,
		EntryPriceUSD:       priceUSD,
		SOLInvested:         solAmount,
		SOLPriceAtEntry:     solPriceUSD,
		TokensBought:        tokens,
		OriginalSOLInvested: solAmount,
		OpenedAt:            l.now(),
		HighestMult:         1.0,
	}
	l.balanceSOL -= solAmount
	l.positions[symbol] = pos
	l.saveLocked(ctx)

	l.logger.Info("BUY",
		zap.String("symbol", symbol),
		zap.Float64("tokens", tokens),
		zap.Float64("price_usd", priceUSD),
		zap.Float64("balance_sol", l.balanceSOL))
	return *pos, true
}

// DCABuy averages down into an existing position once in its lifetime.
func (l *Ledger) DCABuy(ctx context.Context, symbol string, priceUSD, solPriceUSD float64) (DCAResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return DCAResult{}, false
	}
	if pos.DCADone() {
		l.logger.Info("DCA already done", zap.String("symbol", symbol))
		return DCAResult{}, false
	}
	if !positive(priceUSD) || !positive(solPriceUSD) {
		return DCAResult{}, false
	}

	spend := math.Min(pos.OriginalSOLInvested*dcaFraction, l.balanceSOL*dcaFraction)
	if spend < l.cfg.DCAMinSOL {
		l.logger.Info("DCA size too small, skipping",
			zap.String("symbol", symbol),
			zap.Float64("spend_sol", spend))
		return DCAResult{}, false
	}

	newTokens := spend * solPriceUSD / priceUSD
	totalTokens := pos.TokensBought + newTokens
	totalInvested := pos.SOLInvested + spend

	pos.EntryPriceUSD = (pos.EntryPriceUSD*pos.TokensBought + priceUSD*newTokens) / totalTokens
	pos.SOLPriceAtEntry = (pos.SOLPriceAtEntry*pos.SOLInvested + solPriceUSD*spend) / totalInvested
	pos.TokensBought = totalTokens
	pos.SOLInvested = totalInvested
	pos.Milestones.mark(DCADone)
	l.balanceSOL -= spend
	l.saveLocked(ctx)

	l.logger.Info("DCA",
		zap.String("symbol", symbol),
		zap.Float64("sol_added", spend),
		zap.Float64("new_tokens", newTokens),
		zap.Float64("avg_entry_usd", pos.EntryPriceUSD))

	return DCAResult{
		Symbol:        symbol,
		SOLAdded:      spend,
		NewTokens:     newTokens,
		AvgEntryPrice: pos.EntryPriceUSD,
	}, true
}

// PartialSell sells pct (0 < pct < 1) of the remaining tokens and shrinks the
// cost basis by the same fraction.
func (l *Ledger) PartialSell(ctx context.Context, symbol string, priceUSD, solPriceUSD, pct float64) (PartialSellResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return PartialSellResult{}, false
	}
	if !(pct > 0 && pct < 1) || !positive(solPriceUSD) || !quotable(priceUSD) {
		l.logger.Info("Invalid partial sell inputs",
			zap.String("symbol", symbol),
			zap.Float64("pct", pct),
			zap.Float64("price_usd", priceUSD),
			zap.Float64("sol_price_usd", solPriceUSD))
		return PartialSellResult{}, false
	}

	tokensSold := pos.TokensBought * pct
	solReceived := tokensSold * priceUSD / solPriceUSD
	costBasisSold := pos.SOLInvested * pct

	pos.TokensBought -= tokensSold
	pos.SOLInvested -= costBasisSold
	pos.Milestones.mark(PartialTaken)
	l.balanceSOL += solReceived
	l.saveLocked(ctx)

	mult := pos.Multiplier(priceUSD)
	l.logger.Info("PARTIAL SELL",
		zap.String("symbol", symbol),
		zap.Float64("pct", pct),
		zap.Float64("multiplier", mult),
		zap.Float64("sol_received", solReceived))

	return PartialSellResult{
		Symbol:        symbol,
		Pct:           pct,
		Multiplier:    mult,
		TokensSold:    tokensSold,
		SOLReceived:   solReceived,
		CostBasisSold: costBasisSold,
	}, true
}

// FullSell closes the position and appends its closing record.
func (l *Ledger) FullSell(ctx context.Context, symbol string, priceUSD, solPriceUSD float64, reason ExitReason) (ClosedTrade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return ClosedTrade{}, false
	}
	if !positive(solPriceUSD) || !quotable(priceUSD) {
		l.logger.Info("Invalid full sell inputs",
			zap.String("symbol", symbol),
			zap.Float64("price_usd", priceUSD),
			zap.Float64("sol_price_usd", solPriceUSD))
		return ClosedTrade{}, false
	}

	solReceived := pos.TokensBought * priceUSD / solPriceUSD
	record := ClosedTrade{
		Symbol:      symbol,
		EntryPrice:  pos.EntryPriceUSD,
		ExitPrice:   priceUSD,
		Multiplier:  pos.Multiplier(priceUSD),
		PnLSOL:      solReceived - pos.SOLInvested,
		SOLReceived: solReceived,
		Reason:      reason,
		Timestamp:   l.now(),
	}

	l.balanceSOL += solReceived
	l.closedTrades = append(l.closedTrades, record)
	delete(l.positions, symbol)
	l.saveLocked(ctx)

	l.logger.Info("FULL SELL",
		zap.String("symbol", symbol),
		zap.Float64("multiplier", record.Multiplier),
		zap.String("reason", string(reason)),
		zap.Float64("pnl_sol", record.PnLSOL))
	return record, true
}

// UpdateProgress applies the sell evaluator's watermark results. Neither
// value is ever lowered. The change is persisted by the next save or Flush.
func (l *Ledger) UpdateProgress(symbol string, highestMult float64, nextTPIndex int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return false
	}
	changed := false
	if highestMult > pos.HighestMult {
		pos.HighestMult = highestMult
		changed = true
	}
	if nextTPIndex > pos.NextTPIndex {
		pos.NextTPIndex = nextTPIndex
		changed = true
	}
	if changed {
		l.dirty = true
	}
	return changed
}

// MarkJeeted consumes the position's early-jeet step. It returns false if the
// position is gone or was already jeeted.
func (l *Ledger) MarkJeeted(ctx context.Context, symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok || !pos.Milestones.mark(JeetDone) {
		return false
	}
	l.saveLocked(ctx)
	return true
}

// Flush writes a snapshot if there are unsaved changes.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty {
		return nil
	}
	return l.saveLocked(ctx)
}

// TotalPnLSOL sums realized PnL and, when prices are given, the unrealized
// PnL of open positions. Positions without a price count as flat.
func (l *Ledger) TotalPnLSOL(prices map[string]float64, solPriceUSD float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := l.realizedLocked()
	if len(prices) == 0 {
		return total
	}
	for sym, pos := range l.positions {
		price, ok := prices[sym]
		if !ok || !quotable(price) {
			continue
		}
		total += pos.UnrealizedPnLSOL(price, solPriceUSD)
	}
	return total
}

// WinRate returns the percentage of closed trades with positive PnL.
func (l *Ledger) WinRate() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.winRateLocked()
}

// Balance returns the free SOL balance.
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceSOL
}

// Position returns a copy of the position held for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.positions))
	for _, sym := range l.symbolsLocked() {
		out = append(out, *l.positions[sym])
	}
	return out
}

// Holds reports whether symbol has an open position.
func (l *Ledger) Holds(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[symbol]
	return ok
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// ClosedTrades returns a copy of the closed-trade records in exit order.
func (l *Ledger) ClosedTrades() []ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ClosedTrade, len(l.closedTrades))
	copy(out, l.closedTrades)
	return out
}

// Summary returns balance, counts, realized PnL and win rate.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Summary{
		BalanceSOL:     l.balanceSOL,
		OpenPositions:  len(l.positions),
		ClosedTrades:   len(l.closedTrades),
		RealizedPnLSOL: l.realizedLocked(),
		WinRate:        l.winRateLocked(),
	}
}

// Snapshot returns a deep copy of the persisted state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	positions := make(map[string]Position, len(l.positions))
	for sym, pos := range l.positions {
		positions[sym] = *pos
	}
	closed := make([]ClosedTrade, len(l.closedTrades))
	copy(closed, l.closedTrades)

	return Snapshot{
		BalanceSOL:   l.balanceSOL,
		Positions:    positions,
		ClosedTrades: closed,
	}
}

// saveLocked writes the snapshot. On failure the ledger stays dirty so the
// next mutation or Flush retries; in-memory state is never rolled back.
func (l *Ledger) saveLocked(ctx context.Context) error {
	l.dirty = true
	if l.store == nil {
		return nil
	}
	if err := l.store.Save(ctx, l.snapshotLocked()); err != nil {
		l.logger.Error("SNAPSHOT WRITE FAILED, simulated capital not persisted",
			zap.Float64("balance_sol", l.balanceSOL),
			zap.Int("open_positions", len(l.positions)),
			zap.Int("closed_trades", len(l.closedTrades)),
			zap.Error(err))
		return err
	}
	l.dirty = false
	return nil
}

func (l *Ledger) realizedLocked() float64 {
	var sum float64
	for _, t := range l.closedTrades {
		sum += t.PnLSOL
	}
	return sum
}

func (l *Ledger) winRateLocked() float64 {
	if len(l.closedTrades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range l.closedTrades {
		if t.Win() {
			wins++
		}
	}
	return float64(wins) / float64(len(l.closedTrades)) * 100
}

func (l *Ledger) symbolsLocked() []string {
	syms := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// now is the ledger clock at the precision the snapshot keeps.
func (l *Ledger) now() time.Time {
	return l.cfg.Now().UTC().Truncate(time.Microsecond)
}

// positive rejects zero, negatives, NaN and infinities; none of them can be
// encoded into a snapshot or price a fill.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// quotable is a finite price that may be zero, as for a rugged token.
func quotable(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
