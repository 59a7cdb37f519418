// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/market"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

func TestRunTickSellsAndAveragesDown(t *testing.T) {
	h := newHarness(t, 1)
	h.open(t, "DIP", 0.001)
	h.open(t, "GONE", 0.001)
	h.open(t, "MOON", 0.001)
	h.open(t, "RUG", 0.001)

	h.provider.On("SOLPriceUSD", mock.Anything).Return(100.0, nil)
	h.provider.priceFor("DIPMint", 0.0008)
	h.provider.On("TokenStats", mock.Anything, "GONEMint").Return(market.Stats{}, errors.New("timeout"))
	h.provider.priceFor("MOONMint", 0.002)
	h.provider.priceFor("RUGMint", 0.00069)
	h.provider.On("Candidates", mock.Anything, market.DefaultCandidateQuery()).Return([]market.Stats{}, nil)

	evts, err := h.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []events.EventType{events.DCABuy, events.PartialSell, events.FullSell}, types(evts))
	assert.Equal(t, evts, h.received)

	dca := evts[0].(events.DCABuyEvent)
	assert.Equal(t, "DIP", dca.Token())
	assert.InDelta(t, 0.1, dca.SOLAdded, 1e-12)
	assert.InDelta(t, 0.8, dca.Multiplier, 1e-12)

	partial := evts[1].(events.PartialSellEvent)
	assert.Equal(t, "MOON", partial.Token())
	assert.Equal(t, 0.5, partial.Pct)
	assert.InDelta(t, 0.2, partial.SOLReceived, 1e-9)
	assert.InDelta(t, 0.1, partial.PnLSOL, 1e-9)

	sl := evts[2].(events.FullSellEvent)
	assert.Equal(t, "RUG", sl.Token())
	assert.Equal(t, events.KindStopLoss, sl.Kind)
	assert.Equal(t, portfolio.ReasonStopLoss, sl.Reason)
	assert.Less(t, sl.PnLSOL, 0.0)

	// stop loss removes the position and records one losing trade
	assert.False(t, h.ledger.Holds("RUG"))
	closed := h.ledger.ClosedTrades()
	require.Len(t, closed, 1)
	assert.Less(t, closed[0].PnLSOL, 0.0)

	// first rung sells half and advances the ladder
	moon, _ := h.ledger.Position("MOON")
	assert.Equal(t, 1, moon.NextTPIndex)
	assert.InDelta(t, 10000.0, moon.TokensBought, 1e-9)
	assert.InDelta(t, 2.0, moon.HighestMult, 1e-12)

	dip, _ := h.ledger.Position("DIP")
	assert.True(t, dip.DCADone())

	// failed lookup leaves the position untouched
	gone, _ := h.ledger.Position("GONE")
	assert.Equal(t, portfolio.PhaseOpen, gone.Phase())
	assert.InDelta(t, 20000.0, gone.TokensBought, 1e-9)
}

func TestRunTickStaleExit(t *testing.T) {
	h := newHarness(t, 1)
	h.open(t, "OLD", 0.001)
	*h.clock = tickTime.Add(30 * time.Hour)

	h.provider.On("SOLPriceUSD", mock.Anything).Return(100.0, nil)
	h.provider.priceFor("OLDMint", 0.0012)
	h.provider.On("Candidates", mock.Anything, mock.Anything).Return([]market.Stats{}, nil)

	evts, err := h.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, evts, 1)

	stale := evts[0].(events.FullSellEvent)
	assert.Equal(t, events.KindStale, stale.Kind)
	assert.Equal(t, portfolio.ReasonStale, stale.Reason)
	assert.InDelta(t, 1.2, stale.Multiplier, 1e-9)
	assert.Equal(t, 0, h.ledger.OpenCount())
}

func TestRunTickEarlyJeetOnePerTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)

	// realized -0.23 SOL
	h.open(t, "AAA", 0.001)
	_, ok := h.ledger.Buy(ctx, "LOSS", "LOSSMint", 0.001, 100, 0.03)
	require.True(t, ok)
	h.ledger.FullSell(ctx, "AAA", 0, 100, portfolio.ReasonStopLoss)
	h.ledger.FullSell(ctx, "LOSS", 0, 100, portfolio.ReasonStopLoss)
	require.InDelta(t, -0.23, h.ledger.TotalPnLSOL(nil, 100), 1e-9)

	// two eligible winners at 1.2x, +0.04 SOL each: aggregate -0.15
	h.open(t, "YYY", 0.001)
	h.open(t, "XXX", 0.001)
	h.provider.On("SOLPriceUSD", mock.Anything).Return(100.0, nil)
	h.provider.priceFor("XXXMint", 0.0012)
	h.provider.priceFor("YYYMint", 0.0012)
	h.provider.On("Candidates", mock.Anything, mock.Anything).Return([]market.Stats{}, nil)

	prices := map[string]float64{"XXX": 0.0012, "YYY": 0.0012}
	require.InDelta(t, -0.15, h.ledger.TotalPnLSOL(prices, 100), 1e-9)

	evts, err := h.engine.RunTick(ctx)
	require.NoError(t, err)
	require.Len(t, evts, 1)

	jeet := evts[0].(events.EarlyJeetEvent)
	assert.Equal(t, events.EarlyJeet, jeet.Type())
	assert.Equal(t, "XXX", jeet.Token())
	assert.InDelta(t, 1.2, jeet.Multiplier, 1e-9)
	assert.Contains(t, []int{50, 75, 100}, jeet.Pct)
	assert.Greater(t, jeet.PnLSOL, 0.0)

	if jeet.Pct == 100 {
		assert.False(t, h.ledger.Holds("XXX"))
		closed := h.ledger.ClosedTrades()
		assert.Equal(t, portfolio.ReasonJeet, closed[len(closed)-1].Reason)
	} else {
		x, ok := h.ledger.Position("XXX")
		require.True(t, ok)
		assert.True(t, x.EarlyJeetDone())
		assert.InDelta(t, 20000*(1-float64(jeet.Pct)/100), x.TokensBought, 1e-6)
	}

	y, ok := h.ledger.Position("YYY")
	require.True(t, ok)
	assert.False(t, y.EarlyJeetDone())
	assert.InDelta(t, 20000.0, y.TokensBought, 1e-9)
}

func TestRunTickBuysCandidates(t *testing.T) {
	h := newHarness(t, 1)
	for _, sym := range []string{"P1", "P2", "P3", "P4", "P5", "P6"} {
		h.open(t, sym, 0.001)
	}

	good := func(symbol string) market.Stats {
		return market.Stats{
			Symbol:        symbol,
			Contract:      symbol + "Mint",
			PriceUSD:      0.004,
			Volume24h:     900_000,
			LiquidityUSD:  200_000,
			PriceChange1h: 8,
			PriceChange6h: 25,
			FDV:           3_000_000,
		}
	}
	illiquid := good("THIN")
	illiquid.LiquidityUSD = 10_000

	h.provider.On("SOLPriceUSD", mock.Anything).Return(100.0, nil)
	h.provider.On("TokenStats", mock.Anything, mock.Anything).Return(market.Stats{PriceUSD: 0.0011}, nil)
	h.provider.On("Candidates", mock.Anything, market.DefaultCandidateQuery()).Return([]market.Stats{
		good("p1"), // already held after upper-casing
		illiquid,
		good("new1"),
		good("NEW2"),
		good("NEW3"), // over capacity
	}, nil)

	evts, err := h.engine.RunTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []events.EventType{events.Buy, events.Buy}, types(evts))

	buy := evts[0].(events.BuyEvent)
	assert.Equal(t, "NEW1", buy.Token())
	assert.Equal(t, "new1Mint", buy.Contract)
	assert.Equal(t, 0.2, buy.SOLAmount)
	assert.InDelta(t, 0.2*100/0.004, buy.Tokens, 1e-9)
	assert.Equal(t, 3_000_000.0, buy.Stats.FDV)
	assert.Contains(t, buy.Reason, "mcap $3,000,000")

	assert.Equal(t, "NEW2", evts[1].Token())
	assert.Equal(t, 8, h.ledger.OpenCount())
	assert.False(t, h.ledger.Holds("NEW3"))
	assert.False(t, h.ledger.Holds("THIN"))
}

func TestRunTickSkipsScanAtCapacity(t *testing.T) {
	h := newHarness(t, 1)
	for _, sym := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		h.open(t, sym, 0.001)
	}
	h.provider.On("SOLPriceUSD", mock.Anything).Return(100.0, nil)
	h.provider.On("TokenStats", mock.Anything, mock.Anything).Return(market.Stats{PriceUSD: 0.001}, nil)

	evts, err := h.engine.RunTick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evts)
	h.provider.AssertNotCalled(t, "Candidates", mock.Anything, mock.Anything)
}

func TestRunTickWithoutSOLPrice(t *testing.T) {
	for _, price := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		t.Run(fmt.Sprint(price), func(t *testing.T) {
			h := newHarness(t, 1)
			h.open(t, "FOO", 0.001)
			h.provider.On("SOLPriceUSD", mock.Anything).Return(price, nil)

			evts, err := h.engine.RunTick(context.Background())
			assert.ErrorIs(t, err, ErrNoSOLPrice)
			assert.Empty(t, evts)
			h.provider.AssertNotCalled(t, "TokenStats", mock.Anything, mock.Anything)
		})
	}
}

func TestRunTickSkipsNonFiniteQuotes(t *testing.T) {
	h := newHarness(t, 1)
	h.open(t, "NAN", 0.001)
	h.open(t, "INF", 0.001)

	h.provider.On("SOLPriceUSD", mock.Anything).Return(100.0, nil)
	h.provider.priceFor("NANMint", math.NaN())
	h.provider.priceFor("INFMint", math.Inf(1))
	h.provider.On("Candidates", mock.Anything, mock.Anything).Return([]market.Stats{}, nil)

	evts, err := h.engine.RunTick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evts)
	assert.Equal(t, 2, h.ledger.OpenCount())
	assert.InDelta(t, 9.6, h.ledger.Balance(), 1e-12)

	for _, pos := range h.ledger.Positions() {
		assert.Equal(t, 1.0, pos.HighestMult, pos.Symbol)
		assert.Equal(t, 0, pos.NextTPIndex, pos.Symbol)
	}
}

func TestRunTickCandidateFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, 1)
	h.provider.On("SOLPriceUSD", mock.Anything).Return(100.0, nil)
	h.provider.On("Candidates", mock.Anything, mock.Anything).Return([]market.Stats(nil), errors.New("dexscreener down"))

	evts, err := h.engine.RunTick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evts)
	assert.Equal(t, 10.0, h.ledger.Balance())
}
