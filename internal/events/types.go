// internal/events/types.go
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/rovshanmuradov/solana-papertrader/internal/market"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

// EventType represents the type of event.
type EventType string

const (
	Buy         EventType = "buy"
	PartialSell EventType = "partial_sell"
	FullSell    EventType = "full_sell"
	DCABuy      EventType = "dca_buy"
	EarlyJeet   EventType = "early_jeet"

	// AllEvents subscribes a handler to every event type.
	AllEvents EventType = "*"
)

// FullSellKind tells apart the three full-exit rules.
type FullSellKind string

const (
	KindStopLoss FullSellKind = "stop_loss"
	KindFullTP   FullSellKind = "full_tp"
	KindStale    FullSellKind = "stale"
)

// KindForReason maps a rule-driven exit reason to its full-sell kind. Early
// jeets have their own event, so JEET and unknown reasons report false.
func KindForReason(r portfolio.ExitReason) (FullSellKind, bool) {
	switch r {
	case portfolio.ReasonStopLoss:
		return KindStopLoss, true
	case portfolio.ReasonTakeProfit:
		return KindFullTP, true
	case portfolio.ReasonStale:
		return KindStale, true
	default:
		return "", false
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	ID() string
	Token() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventID   string
	EventType EventType
	EventTime time.Time
	Symbol    string
}

// NewBase stamps a new event with a unique id.
func NewBase(t EventType, at time.Time, symbol string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: t,
		EventTime: at,
		Symbol:    symbol,
	}
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e BaseEvent) ID() string           { return e.EventID }
func (e BaseEvent) Token() string        { return e.Symbol }

// BuyEvent is emitted when a candidate passes the gate and a position opens.
type BuyEvent struct {
	BaseEvent
	Contract  string
	PriceUSD  float64
	SOLAmount float64
	Tokens    float64
	Reason    string
	Stats     market.Stats
}

// PartialSellEvent is emitted for a take-profit rung below the last one.
type PartialSellEvent struct {
	BaseEvent
	Multiplier  float64
	Pct         float64
	SOLReceived float64
	PnLSOL      float64
}

// FullSellEvent is emitted when a position is closed by stop loss, the
// last take-profit rung, or staleness.
type FullSellEvent struct {
	BaseEvent
	Kind        FullSellKind
	Reason      portfolio.ExitReason
	Multiplier  float64
	EntryPrice  float64
	ExitPrice   float64
	SOLReceived float64
	PnLSOL      float64
}

// DCABuyEvent is emitted when a losing position is averaged down.
type DCABuyEvent struct {
	BaseEvent
	SOLAdded    float64
	NewTokens   float64
	AvgEntryUSD float64
	PriceUSD    float64
	Multiplier  float64
}

// EarlyJeetEvent is emitted when a small winner is cut to offset drawdown.
type EarlyJeetEvent struct {
	BaseEvent
	Multiplier  float64
	Pct         int // percent of the remaining position sold
	SOLReceived float64
	PnLSOL      float64
}
