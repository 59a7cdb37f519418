// internal/portfolio/position.go
package portfolio

import "time"

// Milestone is a one-shot lifecycle step of a position.
type Milestone uint8

const (
	// PartialTaken is set by the first partial sell.
	PartialTaken Milestone = 1 << iota
	// DCADone is set by the single averaging-down buy.
	DCADone
	// JeetDone is set right before the early-jeet exit.
	JeetDone
)

// Milestones is the set of one-shot steps a position has gone through.
// Steps can be added but never removed.
type Milestones uint8

// NewMilestones builds a set from the persisted flags.
func NewMilestones(partialSold, dcaDone, earlyJeetDone bool) Milestones {
	var m Milestones
	if partialSold {
		m.mark(PartialTaken)
	}
	if dcaDone {
		m.mark(DCADone)
	}
	if earlyJeetDone {
		m.mark(JeetDone)
	}
	return m
}

// Has reports whether the step has happened.
func (m Milestones) Has(step Milestone) bool {
	return uint8(m)&uint8(step) != 0
}

// mark adds step and reports whether it was newly added.
func (m *Milestones) mark(step Milestone) bool {
	if m.Has(step) {
		return false
	}
	*m |= Milestones(step)
	return true
}

// Phase is a display-level summary of the milestones.
type Phase string

// Phases in lifecycle order. A position reports the latest one it reached.
const (
	PhaseOpen         Phase = "open"          // no milestone yet
	PhaseAveraged     Phase = "averaged"      // DCA add done
	PhasePartialTaken Phase = "partial_taken" // first take-profit sold
	PhaseJeeted       Phase = "jeeted"        // early jeet consumed
)

// Position is one open simulated trade.
type Position struct {
	Symbol   string
	Contract string

	// Cost basis
	EntryPriceUSD       float64
	SOLInvested         float64
	SOLPriceAtEntry     float64
	TokensBought        float64
	OriginalSOLInvested float64 // sizes the DCA add, never changes
	OpenedAt            time.Time

	// Take-profit ladder progress
	NextTPIndex int
	HighestMult float64

	Milestones Milestones
}

// Multiplier returns current price over entry price.
func (p Position) Multiplier(priceUSD float64) float64 {
	if p.EntryPriceUSD == 0 {
		return 1.0
	}
	return priceUSD / p.EntryPriceUSD
}

// UnrealizedPnLSOL values the remaining tokens at priceUSD against the entry price.
func (p Position) UnrealizedPnLSOL(priceUSD, solPriceUSD float64) float64 {
	if solPriceUSD <= 0 {
		return 0
	}
	return p.TokensBought * (priceUSD - p.EntryPriceUSD) / solPriceUSD
}

// Age returns how long the position has been open at now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// PartialSold reports whether a take-profit partial sell has happened.
func (p Position) PartialSold() bool { return p.Milestones.Has(PartialTaken) }

// DCADone reports whether the one averaging-down buy was made.
func (p Position) DCADone() bool { return p.Milestones.Has(DCADone) }

// EarlyJeetDone reports whether the early-jeet step was used.
func (p Position) EarlyJeetDone() bool { return p.Milestones.Has(JeetDone) }

// Phase reports the most advanced lifecycle step reached.
func (p Position) Phase() Phase {
	switch {
	case p.EarlyJeetDone():
		return PhaseJeeted
	case p.PartialSold():
		return PhasePartialTaken
	case p.DCADone():
		return PhaseAveraged
	default:
		return PhaseOpen
	}
}

// ExitReason is the tag recorded on a closed trade.
type ExitReason string

const (
	ReasonStopLoss   ExitReason = "SL"
	ReasonTakeProfit ExitReason = "TP"
	ReasonStale      ExitReason = "STALE"
	ReasonJeet       ExitReason = "JEET"
)

// ClosedTrade is the record appended when a position is fully exited.
type ClosedTrade struct {
	Symbol      string
	EntryPrice  float64
	ExitPrice   float64
	Multiplier  float64
	PnLSOL      float64
	SOLReceived float64
	Reason      ExitReason
	Timestamp   time.Time
}

// Win reports whether the trade closed in profit.
func (t ClosedTrade) Win() bool {
	return t.PnLSOL > 0
}
