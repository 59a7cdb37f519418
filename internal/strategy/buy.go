// internal/strategy/buy.go
package strategy

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/rovshanmuradov/solana-papertrader/internal/market"
)

// LedgerView is the read-only ledger state the buy gate needs.
type LedgerView interface {
	Holds(symbol string) bool
	OpenCount() int
	Balance() float64
}

// BuyDecision is the gate verdict with a human-readable reason.
type BuyDecision struct {
	Accept bool
	Reason string
}

func reject(format string, args ...any) BuyDecision {
	return BuyDecision{Reason: fmt.Sprintf(format, args...)}
}

// EvaluateBuy runs a candidate through the buy filters in a fixed order and
// reports the first one that fails.
func EvaluateBuy(s market.Stats, view LedgerView, p Params) BuyDecision {
	g := p.Gate

	switch {
	case view.Holds(s.Symbol):
		return reject("already holding")
	case view.OpenCount() >= p.MaxPositions:
		return reject("max positions reached")
	case view.Balance() < p.PositionSizeSOL:
		return reject("insufficient balance")
	case s.LiquidityUSD < g.MinLiquidityUSD:
		return reject("low liquidity (%s)", usd(s.LiquidityUSD))
	case s.Volume24h < g.MinVolume24hUSD:
		return reject("low volume (%s)", usd(s.Volume24h))
	case s.FDV < g.MinFDV:
		return reject("mcap too low (%s)", usd(s.FDV))
	case s.FDV > g.MaxFDV:
		return reject("mcap too high (%s)", usd(s.FDV))
	case s.PriceChange1h < g.MinChange1h:
		return reject("not pumping enough (%+.1f%% 1h)", s.PriceChange1h)
	case s.PriceChange1h > g.MaxChange1h:
		return reject("pump too big, likely top (%+.1f%% 1h)", s.PriceChange1h)
	case s.PriceChange6h > g.MaxChange6h:
		return reject("6h already mooned (%+.1f%%)", s.PriceChange6h)
	case s.PriceChange6h < g.MinChange6h:
		return reject("6h trend negative (%+.1f%%)", s.PriceChange6h)
	}

	return BuyDecision{
		Accept: true,
		Reason: fmt.Sprintf("1h %+.1f%% | 6h %+.1f%% | vol %s | liq %s | mcap %s",
			s.PriceChange1h, s.PriceChange6h, usd(s.Volume24h), usd(s.LiquidityUSD), usd(s.FDV)),
	}
}

// usd formats a dollar amount with thousands separators and no cents.
func usd(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "$n/a"
	}
	r := math.Round(v)
	if r < 0 {
		return "-$" + humanize.Commaf(-r)
	}
	return "$" + humanize.Commaf(r)
}
