// internal/strategy/jeet.go
package strategy

import (
	"math/rand"
	"sort"

	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

// JeetDecision names the position to cut early and how much of it to sell.
type JeetDecision struct {
	Symbol     string
	Fraction   float64
	Multiplier float64
	PriceUSD   float64
}

// Full reports whether the whole remaining position is sold.
func (d JeetDecision) Full() bool {
	return d.Fraction >= 1
}

// SelectJeet picks at most one small winner to sell when the portfolio as a
// whole is down more than JeetLossThresholdSOL. Positions are scanned in
// symbol order; those without a price this tick are skipped.
func SelectJeet(positions []portfolio.Position, prices map[string]float64, aggregatePnLSOL float64, p Params, rng *rand.Rand) (JeetDecision, bool) {
	if aggregatePnLSOL >= -p.JeetLossThresholdSOL || len(p.JeetFractions) == 0 {
		return JeetDecision{}, false
	}

	sorted := make([]portfolio.Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	for _, pos := range sorted {
		if pos.EarlyJeetDone() {
			continue
		}
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		mult := pos.Multiplier(price)
		gain := mult - 1
		if gain < p.JeetMinGain || gain > p.JeetMaxGain {
			continue
		}
		return JeetDecision{
			Symbol:     pos.Symbol,
			Fraction:   p.JeetFractions[rng.Intn(len(p.JeetFractions))],
			Multiplier: mult,
			PriceUSD:   price,
		}, true
	}
	return JeetDecision{}, false
}
