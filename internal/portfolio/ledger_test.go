// internal/portfolio/ledger_test.go
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// memStore keeps the last saved snapshot in memory.
type memStore struct {
	mu      sync.Mutex
	snap    *Snapshot
	saves   int
	failErr error
	loadErr error
}

func (s *memStore) Load(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.snap == nil {
		return nil, ErrNoSnapshot
	}
	cp := *s.snap
	return &cp, nil
}

func (s *memStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.saves++
	s.snap = &snap
	return nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	return NewLedger(context.Background(), store, LedgerConfig{
		StartingBalanceSOL: 10.0,
		Now:                func() time.Time { return testNow },
	}, zaptest.NewLogger(t))
}

func TestBuyOpensPosition(t *testing.T) {
	store := &memStore{}
	l := newTestLedger(t, store)

	pos, ok := l.Buy(context.Background(), "FOO", "FooMint", 0.001, 100, 0.2)
	require.True(t, ok)

	assert.InDelta(t, 20000.0, pos.TokensBought, 1e-9)
	assert.InDelta(t, 9.8, l.Balance(), 1e-9)
	assert.Equal(t, 1.0, pos.HighestMult)
	assert.Equal(t, 0.2, pos.OriginalSOLInvested)
	assert.Equal(t, testNow, pos.OpenedAt)
	assert.Equal(t, PhaseOpen, pos.Phase())
	assert.Equal(t, 1, store.saves)
	assert.Contains(t, store.snap.Positions, "FOO")
}

func TestBuyRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		price  float64
		sol    float64
		amount float64
	}{
		{"zero price", 0, 100, 0.2},
		{"zero sol price", 0.001, 0, 0.2},
		{"negative amount", 0.001, 100, -1},
		{"more than balance", 0.001, 100, 10.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			l := newTestLedger(t, store)

			_, ok := l.Buy(ctx, "FOO", "FooMint", tt.price, tt.sol, tt.amount)
			assert.False(t, ok)
			assert.Equal(t, 10.0, l.Balance())
			assert.Equal(t, 0, l.OpenCount())
			assert.Equal(t, 0, store.saves)
		})
	}
}

func TestBuyDuplicateSymbol(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	_, ok := l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)
	require.True(t, ok)
	_, ok = l.Buy(ctx, "FOO", "FooMint", 0.002, 100, 0.2)
	assert.False(t, ok)

	assert.Equal(t, 1, l.OpenCount())
	assert.InDelta(t, 9.8, l.Balance(), 1e-9)
	pos, _ := l.Position("FOO")
	assert.Equal(t, 0.001, pos.EntryPriceUSD)
}

func TestBalanceNeverNegativeAcrossBuys(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	amounts := []float64{3, 4, 2.5, 1, 0.6, 0.4, 5, 0.5}
	for i, amount := range amounts {
		l.Buy(ctx, fmt.Sprintf("T%d", i), "mint", 0.01, 100, amount)
		assert.GreaterOrEqual(t, l.Balance(), 0.0, "after buy %d", i)
	}
	assert.InDelta(t, 0.1, l.Balance(), 1e-9)
	assert.Equal(t, 4, l.OpenCount())
}

func TestPartialSellProportional(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})
	_, ok := l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)
	require.True(t, ok)

	before, _ := l.Position("FOO")
	res, ok := l.PartialSell(ctx, "FOO", 0.002, 100, 0.5)
	require.True(t, ok)

	after, _ := l.Position("FOO")
	assert.InDelta(t, before.TokensBought*0.5, after.TokensBought, 1e-9)
	assert.InDelta(t, before.SOLInvested*0.5, after.SOLInvested, 1e-12)
	assert.InDelta(t, 0.5*before.TokensBought*0.002/100, res.SOLReceived, 1e-12)
	assert.InDelta(t, 0.1, res.CostBasisSold, 1e-12)
	assert.InDelta(t, 0.1, res.PnLSOL(), 1e-12)
	assert.InDelta(t, 2.0, res.Multiplier, 1e-12)
	assert.InDelta(t, 9.8+0.2, l.Balance(), 1e-9)
	assert.True(t, after.PartialSold())
	assert.Equal(t, PhasePartialTaken, after.Phase())
}

func TestPartialSellRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})
	l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)

	for _, pct := range []float64{0, 1, 1.5, -0.2} {
		_, ok := l.PartialSell(ctx, "FOO", 0.002, 100, pct)
		assert.False(t, ok, "pct %v", pct)
	}
	_, ok := l.PartialSell(ctx, "BAR", 0.002, 100, 0.5)
	assert.False(t, ok)

	pos, _ := l.Position("FOO")
	assert.False(t, pos.PartialSold())
	assert.InDelta(t, 20000.0, pos.TokensBought, 1e-9)
}

func TestFullSellStopLoss(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})
	l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)

	trade, ok := l.FullSell(ctx, "FOO", 0.00069, 100, ReasonStopLoss)
	require.True(t, ok)

	assert.False(t, l.Holds("FOO"))
	closed := l.ClosedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, trade, closed[0])
	assert.Equal(t, ReasonStopLoss, trade.Reason)
	assert.InDelta(t, 0.69, trade.Multiplier, 1e-9)
	assert.InDelta(t, 0.138, trade.SOLReceived, 1e-9)
	assert.InDelta(t, -0.062, trade.PnLSOL, 1e-9)
	assert.Less(t, trade.PnLSOL, 0.0)
	assert.InDelta(t, 9.938, l.Balance(), 1e-9)

	_, ok = l.FullSell(ctx, "FOO", 0.001, 100, ReasonStopLoss)
	assert.False(t, ok)
}

func TestDCABuy(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})
	l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)

	res, ok := l.DCABuy(ctx, "FOO", 0.0008, 110)
	require.True(t, ok)

	// min(0.5*0.2, 0.5*9.8) = 0.1
	assert.InDelta(t, 0.1, res.SOLAdded, 1e-12)
	assert.InDelta(t, 0.1*110/0.0008, res.NewTokens, 1e-6)

	pos, _ := l.Position("FOO")
	wantTokens := 20000 + res.NewTokens
	wantEntry := (0.001*20000 + 0.0008*res.NewTokens) / wantTokens
	assert.InDelta(t, wantTokens, pos.TokensBought, 1e-6)
	assert.InDelta(t, wantEntry, pos.EntryPriceUSD, 1e-12)
	assert.InDelta(t, wantEntry, res.AvgEntryPrice, 1e-12)
	assert.InDelta(t, (100*0.2+110*0.1)/0.3, pos.SOLPriceAtEntry, 1e-9)
	assert.InDelta(t, 0.3, pos.SOLInvested, 1e-12)
	assert.Equal(t, 0.2, pos.OriginalSOLInvested)
	assert.True(t, pos.DCADone())
	assert.InDelta(t, 9.7, l.Balance(), 1e-9)

	// one-shot
	_, ok = l.DCABuy(ctx, "FOO", 0.0005, 110)
	assert.False(t, ok)
	assert.InDelta(t, 9.7, l.Balance(), 1e-9)
}

func TestDCABuyTooSmall(t *testing.T) {
	ctx := context.Background()

	t.Run("small original", func(t *testing.T) {
		l := newTestLedger(t, &memStore{})
		l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.08)

		_, ok := l.DCABuy(ctx, "FOO", 0.0007, 100)
		assert.False(t, ok)
		pos, _ := l.Position("FOO")
		assert.False(t, pos.DCADone())
	})

	t.Run("drained balance", func(t *testing.T) {
		l := NewLedger(ctx, &memStore{}, LedgerConfig{StartingBalanceSOL: 1.0}, zap.NewNop())
		l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.92)

		// balance 0.08, half is 0.04
		_, ok := l.DCABuy(ctx, "FOO", 0.0007, 100)
		assert.False(t, ok)
		assert.InDelta(t, 0.08, l.Balance(), 1e-9)
	})

	t.Run("no position", func(t *testing.T) {
		l := newTestLedger(t, &memStore{})
		_, ok := l.DCABuy(ctx, "NOPE", 0.0007, 100)
		assert.False(t, ok)
	})
}

func TestTotalPnLAndWinRate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})

	assert.Equal(t, 0.0, l.WinRate())
	assert.Equal(t, 0.0, l.TotalPnLSOL(nil, 100))

	l.Buy(ctx, "WIN", "m1", 0.001, 100, 0.2)
	l.Buy(ctx, "LOSS", "m2", 0.001, 100, 0.2)
	l.Buy(ctx, "OPEN", "m3", 0.001, 100, 0.2)
	l.FullSell(ctx, "WIN", 0.002, 100, ReasonTakeProfit)
	l.FullSell(ctx, "LOSS", 0.0005, 100, ReasonStopLoss)
	l.Buy(ctx, "FLAT", "m4", 0.001, 100, 0.2)
	l.FullSell(ctx, "FLAT", 0.001, 100, ReasonStale)

	// +0.2, -0.1 and a flat exit

	assert.InDelta(t, 100.0/3.0, l.WinRate(), 1e-9)
	assert.InDelta(t, 0.1, l.TotalPnLSOL(nil, 100), 1e-9)

	// OPEN holds 20000 tokens, +0.0005 USD each at 100 USD/SOL = +0.1 SOL
	prices := map[string]float64{"OPEN": 0.0015}
	assert.InDelta(t, 0.2, l.TotalPnLSOL(prices, 100), 1e-9)

	// missing symbols count as flat
	assert.InDelta(t, 0.1, l.TotalPnLSOL(map[string]float64{"GONE": 5}, 100), 1e-9)

	sum := l.Summary()
	assert.Equal(t, 1, sum.OpenPositions)
	assert.Equal(t, 3, sum.ClosedTrades)
	assert.InDelta(t, 0.1, sum.RealizedPnLSOL, 1e-9)
	assert.InDelta(t, l.Balance(), sum.BalanceSOL, 1e-12)
}

func TestUpdateProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	l := newTestLedger(t, store)
	l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)

	assert.True(t, l.UpdateProgress("FOO", 2.5, 1))
	assert.False(t, l.UpdateProgress("FOO", 1.5, 0))
	assert.False(t, l.UpdateProgress("NOPE", 3, 2))

	pos, _ := l.Position("FOO")
	assert.Equal(t, 2.5, pos.HighestMult)
	assert.Equal(t, 1, pos.NextTPIndex)

	saves := store.saves
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, saves+1, store.saves)
	assert.Equal(t, 2.5, store.snap.Positions["FOO"].HighestMult)

	// nothing pending
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, saves+1, store.saves)
}

func TestMarkJeetedOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{})
	l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)

	assert.True(t, l.MarkJeeted(ctx, "FOO"))
	assert.False(t, l.MarkJeeted(ctx, "FOO"))
	assert.False(t, l.MarkJeeted(ctx, "NOPE"))

	pos, _ := l.Position("FOO")
	assert.True(t, pos.EarlyJeetDone())
	assert.Equal(t, PhaseJeeted, pos.Phase())
}

func TestSaveFailureKeepsStateDirty(t *testing.T) {
	ctx := context.Background()
	store := &memStore{failErr: errors.New("disk full")}
	l := newTestLedger(t, store)

	_, ok := l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)
	require.True(t, ok)
	assert.InDelta(t, 9.8, l.Balance(), 1e-9)
	assert.Error(t, l.Flush(ctx))

	store.failErr = nil
	require.NoError(t, l.Flush(ctx))
	require.NotNil(t, store.snap)
	assert.InDelta(t, 9.8, store.snap.BalanceSOL, 1e-9)
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	l := newTestLedger(t, store)
	l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)
	l.Buy(ctx, "BAR", "BarMint", 0.01, 100, 0.5)
	l.FullSell(ctx, "BAR", 0.02, 100, ReasonTakeProfit)

	restored := newTestLedger(t, store)
	assert.Equal(t, l.Snapshot(), restored.Snapshot())
	assert.Equal(t, []string{"FOO"}, symbols(restored.Positions()))
}

func TestRestoreFallsBackToDefaults(t *testing.T) {
	l := newTestLedger(t, &memStore{loadErr: errors.New("malformed")})
	assert.Equal(t, 10.0, l.Balance())
	assert.Equal(t, 0, l.OpenCount())

	l = NewLedger(context.Background(), nil, LedgerConfig{}, zap.NewNop())
	assert.Equal(t, DefaultStartingBalanceSOL, l.Balance())
}

func TestMilestonesNeverReset(t *testing.T) {
	m := NewMilestones(true, false, true)
	assert.True(t, m.Has(PartialTaken))
	assert.False(t, m.Has(DCADone))
	assert.True(t, m.Has(JeetDone))

	assert.True(t, m.mark(DCADone))
	assert.False(t, m.mark(DCADone))
	assert.True(t, m.Has(PartialTaken))
}

func symbols(positions []Position) []string {
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.Symbol)
	}
	return out
}

func TestNonFiniteInputsAreRejected(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	l := newTestLedger(t, store)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		t.Run(fmt.Sprint(bad), func(t *testing.T) {
			_, ok := l.Buy(ctx, "BAD", "BadMint", bad, 100, 0.2)
			assert.False(t, ok, "token price")
			_, ok = l.Buy(ctx, "BAD", "BadMint", 0.001, bad, 0.2)
			assert.False(t, ok, "sol price")
			_, ok = l.Buy(ctx, "BAD", "BadMint", 0.001, 100, bad)
			assert.False(t, ok, "sol amount")
		})
	}
	assert.False(t, l.Holds("BAD"))

	_, ok := l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)
	require.True(t, ok)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, ok = l.DCABuy(ctx, "FOO", bad, 100)
		assert.False(t, ok)
		_, ok = l.PartialSell(ctx, "FOO", bad, 100, 0.5)
		assert.False(t, ok)
		_, ok = l.PartialSell(ctx, "FOO", 0.002, 100, bad)
		assert.False(t, ok)
		_, ok = l.FullSell(ctx, "FOO", bad, 100, ReasonStopLoss)
		assert.False(t, ok)
		_, ok = l.FullSell(ctx, "FOO", 0.001, bad, ReasonStopLoss)
		assert.False(t, ok)
	}
	assert.InDelta(t, 0.0, l.TotalPnLSOL(map[string]float64{"FOO": math.NaN()}, 100), 1e-12)

	pos, ok := l.Position("FOO")
	require.True(t, ok)
	assert.Equal(t, PhaseOpen, pos.Phase())
	assert.InDelta(t, 9.8, l.Balance(), 1e-12)

	_, err := json.Marshal(store.snap)
	assert.NoError(t, err)
}

func TestTimestampsKeepSnapshotPrecision(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.FixedZone("UTC+3", 3*3600))
	l := NewLedger(ctx, &memStore{}, LedgerConfig{Now: func() time.Time { return at }}, zaptest.NewLogger(t))

	pos, ok := l.Buy(ctx, "FOO", "FooMint", 0.001, 100, 0.2)
	require.True(t, ok)
	trade, ok := l.FullSell(ctx, "FOO", 0.002, 100, ReasonTakeProfit)
	require.True(t, ok)

	want := time.Date(2025, 6, 1, 9, 0, 0, 123456000, time.UTC)
	assert.Equal(t, want, pos.OpenedAt)
	assert.Equal(t, want, trade.Timestamp)
}
