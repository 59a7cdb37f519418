// internal/engine/mocks_test.go
package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/market"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-papertrader/internal/strategy"
)

// MockProvider implements market.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) TokenStats(ctx context.Context, contract string) (market.Stats, error) {
	args := m.Called(ctx, contract)
	return args.Get(0).(market.Stats), args.Error(1)
}

func (m *MockProvider) SOLPriceUSD(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockProvider) Candidates(ctx context.Context, q market.CandidateQuery) ([]market.Stats, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]market.Stats), args.Error(1)
}

func (m *MockProvider) priceFor(contract string, price float64) {
	m.On("TokenStats", mock.Anything, contract).Return(market.Stats{Contract: contract, PriceUSD: price}, nil)
}

var tickTime = time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)

type harness struct {
	ledger   *portfolio.Ledger
	provider *MockProvider
	bus      *events.Bus
	engine   *Engine
	clock    *time.Time
	received []events.Event
}

func newHarness(t *testing.T, seed int64) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	now := tickTime
	h := &harness{clock: &now, provider: new(MockProvider)}
	clock := func() time.Time { return *h.clock }

	h.ledger = portfolio.NewLedger(ctx, nil, portfolio.LedgerConfig{
		StartingBalanceSOL: 10,
		Now:                clock,
	}, logger)
	h.bus = events.NewBus(logger)
	h.bus.SubscribeFunc(events.AllEvents, func(_ context.Context, e events.Event) error {
		h.received = append(h.received, e)
		return nil
	})
	h.engine = New(h.ledger, h.provider, h.bus, Config{
		Params:     strategy.DefaultParams(),
		Candidates: market.DefaultCandidateQuery(),
		Now:        clock,
		Rand:       rand.New(rand.NewSource(seed)),
	}, logger)
	return h
}

// open buys symbol at entry with 0.2 SOL at 100 USD/SOL.
func (h *harness) open(t *testing.T, symbol string, entry float64) {
	t.Helper()
	if _, ok := h.ledger.Buy(context.Background(), symbol, symbol+"Mint", entry, 100, 0.2); !ok {
		t.Fatalf("buy %s failed", symbol)
	}
}

func types(evts []events.Event) []events.EventType {
	out := make([]events.EventType, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type())
	}
	return out
}
