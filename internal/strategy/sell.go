// internal/strategy/sell.go
package strategy

import (
	"time"

	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

// SellSignal is the exit action chosen for a position.
type SellSignal string

const (
	SignalNone     SellSignal = "none"
	SignalPartial  SellSignal = "partial"
	SignalFullTP   SellSignal = "full_tp"
	SignalStopLoss SellSignal = "stop_loss"
	SignalStale    SellSignal = "stale"
)

// ExitReason maps a full-exit signal to the reason recorded on the closed trade.
func (s SellSignal) ExitReason() (portfolio.ExitReason, bool) {
	switch s {
	case SignalStopLoss:
		return portfolio.ReasonStopLoss, true
	case SignalFullTP:
		return portfolio.ReasonTakeProfit, true
	case SignalStale:
		return portfolio.ReasonStale, true
	default:
		return "", false
	}
}

// SellDecision is the evaluator output. HighestMult and NextTPIndex are the
// position's progress after this evaluation and must be written back to the
// ledger before acting on Signal.
type SellDecision struct {
	Signal      SellSignal
	Multiplier  float64
	HighestMult float64
	NextTPIndex int
}

// EvaluateSell decides whether pos should be exited at priceUSD.
// Stop loss wins over the take-profit ladder, which wins over staleness.
func EvaluateSell(pos portfolio.Position, priceUSD float64, now time.Time, p Params) SellDecision {
	mult := pos.Multiplier(priceUSD)
	d := SellDecision{
		Signal:      SignalNone,
		Multiplier:  mult,
		HighestMult: pos.HighestMult,
		NextTPIndex: pos.NextTPIndex,
	}
	if mult > d.HighestMult {
		d.HighestMult = mult
	}

	if mult <= 1-p.StopLossPct {
		d.Signal = SignalStopLoss
		return d
	}

	targets := p.TakeProfitTargets
	if idx := d.NextTPIndex; idx < len(targets) && mult >= targets[idx] {
		switch {
		case idx == 0 && !pos.PartialSold():
			d.Signal = SignalPartial
			d.NextTPIndex++
		case idx >= len(targets)-1:
			d.Signal = SignalFullTP
		default:
			// Every rung before the last sells PartialSellPct of what is left.
			d.Signal = SignalPartial
			d.NextTPIndex++
		}
		return d
	}

	if pos.Age(now) > p.StaleAfter && mult < p.StaleMaxMult {
		d.Signal = SignalStale
	}
	return d
}
