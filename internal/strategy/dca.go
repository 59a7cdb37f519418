// internal/strategy/dca.go
package strategy

import "github.com/rovshanmuradov/solana-papertrader/internal/portfolio"

// ShouldDCA reports whether a position the sell evaluator left alone has
// dropped far enough to average down. Each position averages down once.
func ShouldDCA(pos portfolio.Position, d SellDecision, p Params) bool {
	if d.Signal != SignalNone || pos.DCADone() {
		return false
	}
	return d.Multiplier <= 1-p.DCATriggerPct
}
