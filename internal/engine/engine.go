// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/market"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-papertrader/internal/strategy"
)

const defaultFetchWorkers = 4

// ErrNoSOLPrice is returned when the provider reports a non-positive SOL price.
var ErrNoSOLPrice = errors.New("no SOL price")

// Config holds the engine settings.
type Config struct {
	Params     strategy.Params
	Candidates market.CandidateQuery
	// FetchWorkers bounds concurrent stats lookups for held positions.
	FetchWorkers int
	Now          func() time.Time
	Rand         *rand.Rand
}

// Engine runs one scan cycle at a time against the ledger.
type Engine struct {
	mu       sync.Mutex
	ledger   *portfolio.Ledger
	provider market.Provider
	bus      *events.Bus
	cfg      Config
	logger   *zap.Logger
}

// New creates an engine. bus may be nil, in which case events are only returned.
func New(ledger *portfolio.Ledger, provider market.Provider, bus *events.Bus, cfg Config, logger *zap.Logger) *Engine {
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = defaultFetchWorkers
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if len(cfg.Params.TakeProfitTargets) == 0 {
		cfg.Params = strategy.DefaultParams()
	}
	return &Engine{
		ledger:   ledger,
		provider: provider,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.Named("engine"),
	}
}

// tick carries the state of one scan cycle.
type tick struct {
	now      time.Time
	solPrice float64
	prices   map[string]float64
	events   []events.Event
}

func (t *tick) emit(e events.Event) {
	t.events = append(t.events, e)
}

// RunTick evaluates exits, averaging down, the early jeet and new entries,
// in that order, and returns the events it produced in order. The events
// are also published to the bus.
func (e *Engine) RunTick(ctx context.Context) ([]events.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	solPrice, err := e.provider.SOLPriceUSD(ctx)
	if err == nil && !market.ValidPrice(solPrice) {
		err = ErrNoSOLPrice
	}
	if err != nil {
		e.logger.Warn("No SOL price, skipping tick", zap.Error(err))
		return nil, fmt.Errorf("sol price: %w", err)
	}

	t := &tick{now: e.cfg.Now(), solPrice: solPrice}
	sum := e.ledger.Summary()
	e.logger.Info("Tick",
		zap.Float64("sol_price", solPrice),
		zap.Float64("balance_sol", sum.BalanceSOL),
		zap.Int("open_positions", sum.OpenPositions),
		zap.Int("closed_trades", sum.ClosedTrades),
		zap.Float64("realized_pnl_sol", sum.RealizedPnLSOL),
		zap.Float64("win_rate", sum.WinRate))

	positions := e.ledger.Positions()
	t.prices = e.fetchPrices(ctx, positions)

	for _, pos := range positions {
		price, ok := t.prices[pos.Symbol]
		if !ok {
			continue
		}
		e.evaluatePosition(ctx, t, pos, price)
	}

	e.evaluateJeet(ctx, t)
	e.scanCandidates(ctx, t)

	if err := e.ledger.Flush(ctx); err != nil {
		e.logger.Error("Failed to flush ledger", zap.Error(err))
	}

	if e.bus != nil && len(t.events) > 0 {
		if err := e.bus.PublishAll(ctx, t.events); err != nil {
			e.logger.Warn("Event delivery incomplete", zap.Error(err))
		}
	}
	return t.events, nil
}

// fetchPrices looks up every held position concurrently. Failed lookups are
// left out of the map, so the position is skipped this tick.
func (e *Engine) fetchPrices(ctx context.Context, positions []portfolio.Position) map[string]float64 {
	prices := make([]float64, len(positions))
	found := make([]bool, len(positions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchWorkers)
	for i, pos := range positions {
		g.Go(func() error {
			stats, err := e.provider.TokenStats(gctx, pos.Contract)
			if err != nil || !market.ValidPrice(stats.PriceUSD) {
				e.logger.Warn("Could not get price, skipping position",
					zap.String("symbol", pos.Symbol),
					zap.String("contract", pos.Contract),
					zap.Error(err))
				return nil
			}
			prices[i] = stats.PriceUSD
			found[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]float64, len(positions))
	for i, pos := range positions {
		if found[i] {
			out[pos.Symbol] = prices[i]
		}
	}
	return out
}

func (e *Engine) evaluatePosition(ctx context.Context, t *tick, pos portfolio.Position, price float64) {
	p := e.cfg.Params
	d := strategy.EvaluateSell(pos, price, t.now, p)
	e.ledger.UpdateProgress(pos.Symbol, d.HighestMult, d.NextTPIndex)

	switch d.Signal {
	case strategy.SignalPartial:
		res, ok := e.ledger.PartialSell(ctx, pos.Symbol, price, t.solPrice, p.PartialSellPct)
		if !ok {
			return
		}
		t.emit(events.PartialSellEvent{
			BaseEvent:   events.NewBase(events.PartialSell, t.now, pos.Symbol),
			Multiplier:  d.Multiplier,
			Pct:         p.PartialSellPct,
			SOLReceived: res.SOLReceived,
			PnLSOL:      res.PnLSOL(),
		})

	case strategy.SignalStopLoss, strategy.SignalFullTP, strategy.SignalStale:
		reason, _ := d.Signal.ExitReason()
		kind, ok := events.KindForReason(reason)
		if !ok {
			e.logger.Error("No full-sell kind for exit reason",
				zap.String("symbol", pos.Symbol),
				zap.String("reason", string(reason)))
			return
		}
		trade, ok := e.ledger.FullSell(ctx, pos.Symbol, price, t.solPrice, reason)
		if !ok {
			return
		}
		t.emit(events.FullSellEvent{
			BaseEvent:   events.NewBase(events.FullSell, t.now, pos.Symbol),
			Kind:        kind,
			Reason:      reason,
			Multiplier:  d.Multiplier,
			EntryPrice:  trade.EntryPrice,
			ExitPrice:   trade.ExitPrice,
			SOLReceived: trade.SOLReceived,
			PnLSOL:      trade.PnLSOL,
		})

	case strategy.SignalNone:
		if !strategy.ShouldDCA(pos, d, p) {
			return
		}
		res, ok := e.ledger.DCABuy(ctx, pos.Symbol, price, t.solPrice)
		if !ok {
			return
		}
		t.emit(events.DCABuyEvent{
			BaseEvent:   events.NewBase(events.DCABuy, t.now, pos.Symbol),
			SOLAdded:    res.SOLAdded,
			NewTokens:   res.NewTokens,
			AvgEntryUSD: res.AvgEntryPrice,
			PriceUSD:    price,
			Multiplier:  d.Multiplier,
		})
	}
}

// evaluateJeet cuts at most one small winner when the whole book, valued at
// this tick's prices, is losing.
func (e *Engine) evaluateJeet(ctx context.Context, t *tick) {
	p := e.cfg.Params
	aggregate := e.ledger.TotalPnLSOL(t.prices, t.solPrice)

	d, ok := strategy.SelectJeet(e.ledger.Positions(), t.prices, aggregate, p, e.cfg.Rand)
	if !ok {
		return
	}
	if !e.ledger.MarkJeeted(ctx, d.Symbol) {
		return
	}

	e.logger.Info("Early jeet",
		zap.String("symbol", d.Symbol),
		zap.Float64("aggregate_pnl_sol", aggregate),
		zap.Float64("multiplier", d.Multiplier),
		zap.Float64("fraction", d.Fraction))

	evt := events.EarlyJeetEvent{
		BaseEvent:  events.NewBase(events.EarlyJeet, t.now, d.Symbol),
		Multiplier: d.Multiplier,
		Pct:        int(d.Fraction*100 + 0.5),
	}
	if d.Full() {
		trade, ok := e.ledger.FullSell(ctx, d.Symbol, d.PriceUSD, t.solPrice, portfolio.ReasonJeet)
		if !ok {
			return
		}
		evt.SOLReceived = trade.SOLReceived
		evt.PnLSOL = trade.PnLSOL
	} else {
		res, ok := e.ledger.PartialSell(ctx, d.Symbol, d.PriceUSD, t.solPrice, d.Fraction)
		if !ok {
			return
		}
		evt.SOLReceived = res.SOLReceived
		evt.PnLSOL = res.PnLSOL()
	}
	t.emit(evt)
}

// scanCandidates opens new positions while there is capacity.
func (e *Engine) scanCandidates(ctx context.Context, t *tick) {
	p := e.cfg.Params
	if e.ledger.OpenCount() >= p.MaxPositions {
		e.logger.Info("Max positions reached, skipping buy scan")
		return
	}

	candidates, err := e.provider.Candidates(ctx, e.cfg.Candidates)
	if err != nil {
		e.logger.Warn("Candidate scan failed", zap.Error(err))
		if len(candidates) == 0 {
			return
		}
	}
	e.logger.Info("Evaluating candidates", zap.Int("count", len(candidates)))

	for _, stats := range candidates {
		symbol := strings.ToUpper(stats.Symbol)
		if symbol == "" || stats.Contract == "" {
			continue
		}
		stats.Symbol = symbol

		d := strategy.EvaluateBuy(stats, e.ledger, p)
		if !d.Accept {
			e.logger.Debug("SKIP", zap.String("symbol", symbol), zap.String("reason", d.Reason))
			continue
		}

		pos, ok := e.ledger.Buy(ctx, symbol, stats.Contract, stats.PriceUSD, t.solPrice, p.PositionSizeSOL)
		if !ok {
			continue
		}
		e.logger.Info("BUY signal", zap.String("symbol", symbol), zap.String("reason", d.Reason))
		t.emit(events.BuyEvent{
			BaseEvent: events.NewBase(events.Buy, t.now, symbol),
			Contract:  stats.Contract,
			PriceUSD:  stats.PriceUSD,
			SOLAmount: p.PositionSizeSOL,
			Tokens:    pos.TokensBought,
			Reason:    d.Reason,
			Stats:     stats,
		})
	}
}
