package notify

import "github.com/charmbracelet/lipgloss"

// Colors used for console output.
var (
	Cyan   = lipgloss.Color("#00E5FF")
	Yellow = lipgloss.Color("#FFB500")
	Green  = lipgloss.Color("#2AFFAA")
	Red    = lipgloss.Color("#FF5555")
	Purple = lipgloss.Color("#8B5CF6")
	Muted  = lipgloss.Color("#6C7280")
)

// Palette maps trade outcomes to colors.
type Palette struct {
	Buy     lipgloss.Color
	Profit  lipgloss.Color
	Loss    lipgloss.Color
	Average lipgloss.Color
	Jeet    lipgloss.Color
	Header  lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultPalette returns the default color palette
func DefaultPalette() Palette {
	return Palette{
		Buy:     Cyan,
		Profit:  Green,
		Loss:    Red,
		Average: Yellow,
		Jeet:    Purple,
		Header:  Cyan,
		Muted:   Muted,
	}
}

type styles struct {
	buy, profit, loss, average, jeet, header, muted lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, p Palette) styles {
	return styles{
		buy:     r.NewStyle().Foreground(p.Buy).Bold(true),
		profit:  r.NewStyle().Foreground(p.Profit).Bold(true),
		loss:    r.NewStyle().Foreground(p.Loss).Bold(true),
		average: r.NewStyle().Foreground(p.Average),
		jeet:    r.NewStyle().Foreground(p.Jeet).Bold(true),
		header:  r.NewStyle().Foreground(p.Header).Bold(true),
		muted:   r.NewStyle().Foreground(p.Muted),
	}
}

func (s styles) pnl(v float64) lipgloss.Style {
	if v < 0 {
		return s.loss
	}
	return s.profit
}
