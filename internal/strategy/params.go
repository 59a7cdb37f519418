// internal/strategy/params.go
package strategy

import "time"

// Params holds every threshold the decision engine uses.
type Params struct {
	// Position sizing
	MaxPositions    int
	PositionSizeSOL float64

	// Exits
	TakeProfitTargets []float64
	PartialSellPct    float64
	StopLossPct       float64
	StaleAfter        time.Duration
	StaleMaxMult      float64

	// Averaging down
	DCATriggerPct float64

	// Early jeet
	JeetLossThresholdSOL float64
	JeetMinGain          float64
	JeetMaxGain          float64
	JeetFractions        []float64

	// Buy gate
	Gate GateParams
}

// GateParams are the candidate filters of the buy gate. Percent changes are
// expressed in percent (2.0 means +2%).
type GateParams struct {
	MinLiquidityUSD float64
	MinVolume24hUSD float64
	MinFDV          float64
	MaxFDV          float64
	MinChange1h     float64
	MaxChange1h     float64
	MaxChange6h     float64
	MinChange6h     float64
}

// DefaultParams returns the stock trading rules.
func DefaultParams() Params {
	return Params{
		MaxPositions:         8,
		PositionSizeSOL:      0.2,
		TakeProfitTargets:    []float64{2, 3, 5, 10},
		PartialSellPct:       0.5,
		StopLossPct:          0.30,
		StaleAfter:           24 * time.Hour,
		StaleMaxMult:         1.5,
		DCATriggerPct:        0.20,
		JeetLossThresholdSOL: 0.1,
		JeetMinGain:          0.10,
		JeetMaxGain:          0.35,
		JeetFractions:        []float64{0.5, 0.75, 1.0},
		Gate:                 DefaultGateParams(),
	}
}

// DefaultGateParams returns the stock candidate filters.
func DefaultGateParams() GateParams {
	return GateParams{
		MinLiquidityUSD: 50_000,
		MinVolume24hUSD: 100_000,
		MinFDV:          150_000,
		MaxFDV:          80_000_000,
		MinChange1h:     2,
		MaxChange1h:     300,
		MaxChange6h:     400,
		MinChange6h:     -15,
	}
}
