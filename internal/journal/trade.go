package journal

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
)

// Trade is one journal line: a ledger mutation as it was announced on the bus.
type Trade struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"` // event type
	Symbol     string    `json:"symbol"`
	Contract   string    `json:"contract,omitempty"`
	PriceUSD   float64   `json:"price_usd,omitempty"`
	SOLSpent   float64   `json:"sol_spent,omitempty"`
	SOLGot     float64   `json:"sol_received,omitempty"`
	Tokens     float64   `json:"tokens,omitempty"`
	Multiplier float64   `json:"multiplier,omitempty"`
	PnLSOL     float64   `json:"pnl_sol,omitempty"`
	SoldPct    float64   `json:"sold_pct,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// IsBuy reports whether the trade spent SOL.
func (t Trade) IsBuy() bool {
	return t.Action == string(events.Buy) || t.Action == string(events.DCABuy)
}

// FromEvent converts a bus event into a journal line.
func FromEvent(e events.Event) (Trade, bool) {
	t := Trade{
		ID:        e.ID(),
		Timestamp: e.Timestamp(),
		Action:    string(e.Type()),
		Symbol:    e.Token(),
	}

	switch ev := e.(type) {
	case events.BuyEvent:
		t.Contract = ev.Contract
		t.PriceUSD = ev.PriceUSD
		t.SOLSpent = ev.SOLAmount
		t.Tokens = ev.Tokens
		t.Multiplier = 1
		t.Reason = ev.Reason
	case events.DCABuyEvent:
		t.PriceUSD = ev.PriceUSD
		t.SOLSpent = ev.SOLAdded
		t.Tokens = ev.NewTokens
		t.Multiplier = ev.Multiplier
		t.Reason = fmt.Sprintf("avg entry %.10g", ev.AvgEntryUSD)
	case events.PartialSellEvent:
		t.SOLGot = ev.SOLReceived
		t.Multiplier = ev.Multiplier
		t.PnLSOL = ev.PnLSOL
		t.SoldPct = ev.Pct * 100
		t.Reason = "TP"
	case events.FullSellEvent:
		t.PriceUSD = ev.ExitPrice
		t.SOLGot = ev.SOLReceived
		t.Multiplier = ev.Multiplier
		t.PnLSOL = ev.PnLSOL
		t.SoldPct = 100
		t.Reason = string(ev.Kind)
	case events.EarlyJeetEvent:
		t.SOLGot = ev.SOLReceived
		t.Multiplier = ev.Multiplier
		t.PnLSOL = ev.PnLSOL
		t.SoldPct = float64(ev.Pct)
		t.Reason = "JEET"
	default:
		return Trade{}, false
	}
	return t, true
}

// ToCSV converts trade to CSV record
func (t Trade) ToCSV() []string {
	return []string{
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339),
		t.Action,
		t.Symbol,
		t.Contract,
		formatFloat(t.PriceUSD),
		formatFloat(t.SOLSpent),
		formatFloat(t.SOLGot),
		formatFloat(t.Tokens),
		formatFloat(t.Multiplier),
		formatFloat(t.PnLSOL),
		formatFloat(t.SoldPct),
		t.Reason,
	}
}

// CSVHeaders returns the header row for journal files
func CSVHeaders() []string {
	return []string{
		"id",
		"timestamp",
		"action",
		"symbol",
		"contract",
		"price_usd",
		"sol_spent",
		"sol_received",
		"tokens",
		"multiplier",
		"pnl_sol",
		"sold_pct",
		"reason",
	}
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
