// internal/market/types.go
package market

import (
	"context"
	"errors"
	"math"
)

// ErrNoPairs is returned when DexScreener knows no trading pair for a token.
var ErrNoPairs = errors.New("no pairs found")

// Stats is a point-in-time market snapshot of one token. Price changes are
// in percent.
type Stats struct {
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name,omitempty"`
	Contract       string  `json:"contract"`
	PairAddress    string  `json:"pair_address,omitempty"`
	DEX            string  `json:"dex,omitempty"`
	PriceUSD       float64 `json:"price_usd"`
	Volume24h      float64 `json:"volume_24h"`
	LiquidityUSD   float64 `json:"liquidity_usd"`
	PriceChange1h  float64 `json:"price_change_1h"`
	PriceChange6h  float64 `json:"price_change_6h"`
	PriceChange24h float64 `json:"price_change_24h"`
	FDV            float64 `json:"fdv"`
}

// ValidPrice reports whether p can price a trade: positive and finite.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0)
}

// finite maps NaN and infinities to zero so they fail every threshold.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// CandidateQuery holds the pre-filter thresholds for candidate discovery.
type CandidateQuery struct {
	MinVolume    float64
	MinLiquidity float64
	Limit        int
}

// DefaultCandidateQuery returns the stock discovery thresholds.
func DefaultCandidateQuery() CandidateQuery {
	return CandidateQuery{
		MinVolume:    150_000,
		MinLiquidity: 80_000,
		Limit:        50,
	}
}

// Provider supplies market data to the trading engine.
type Provider interface {
	TokenStats(ctx context.Context, contract string) (Stats, error)
	SOLPriceUSD(ctx context.Context) (float64, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]Stats, error)
}
