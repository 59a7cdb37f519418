package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/journal"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

// Console prints trade events and portfolio views to a terminal.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
	logger *zap.Logger
}

// NewConsole creates a console notifier. Colors are dropped when out is not
// a terminal.
func NewConsole(out io.Writer, palette Palette, logger *zap.Logger) *Console {
	return &Console{
		out:    out,
		styles: newStyles(lipgloss.NewRenderer(out), palette),
		logger: logger.Named("notify"),
	}
}

// Handle renders one event line.
func (c *Console) Handle(_ context.Context, e events.Event) error {
	line, ok := c.Format(e)
	if !ok {
		c.logger.Debug("No console format for event", zap.String("event_type", string(e.Type())))
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s %s\n", c.styles.muted.Render(e.Timestamp().Format("15:04:05")), line)
	return err
}

// Format returns the console line for an event.
func (c *Console) Format(e events.Event) (string, bool) {
	s := c.styles
	switch ev := e.(type) {
	case events.BuyEvent:
		return fmt.Sprintf("%s %s @ $%.10g | %.4f SOL | %s",
			s.buy.Render("BUY"), ev.Token(), ev.PriceUSD, ev.SOLAmount, ev.Reason), true

	case events.DCABuyEvent:
		return fmt.Sprintf("%s %s at %.2fx | +%.4f SOL | avg entry $%.10g",
			s.average.Render("DCA"), ev.Token(), ev.Multiplier, ev.SOLAdded, ev.AvgEntryUSD), true

	case events.PartialSellEvent:
		return fmt.Sprintf("%s %s %.0f%% at %.2fx | got %.4f SOL | pnl %s",
			s.profit.Render("TAKE PROFIT"), ev.Token(), ev.Pct*100, ev.Multiplier, ev.SOLReceived,
			s.pnl(ev.PnLSOL).Render(fmt.Sprintf("%+.4f SOL", ev.PnLSOL))), true

	case events.FullSellEvent:
		label := map[events.FullSellKind]string{
			events.KindStopLoss: "STOP LOSS",
			events.KindFullTP:   "FULL TP",
			events.KindStale:    "STALE EXIT",
		}[ev.Kind]
		return fmt.Sprintf("%s %s at %.2fx | got %.4f SOL | pnl %s",
			s.pnl(ev.PnLSOL).Render(label), ev.Token(), ev.Multiplier, ev.SOLReceived,
			s.pnl(ev.PnLSOL).Render(fmt.Sprintf("%+.4f SOL", ev.PnLSOL))), true

	case events.EarlyJeetEvent:
		return fmt.Sprintf("%s %s %d%% at %.2fx | got %.4f SOL | pnl %s",
			s.jeet.Render("EARLY JEET"), ev.Token(), ev.Pct, ev.Multiplier, ev.SOLReceived,
			s.pnl(ev.PnLSOL).Render(fmt.Sprintf("%+.4f SOL", ev.PnLSOL))), true
	}
	return "", false
}

// PrintSummary prints the one-line portfolio summary.
func (c *Console) PrintSummary(sum portfolio.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "%s balance %.4f SOL | open %d | closed %d | pnl %s | win rate %.1f%%\n",
		c.styles.header.Render("PORTFOLIO"),
		sum.BalanceSOL, sum.OpenPositions, sum.ClosedTrades,
		c.styles.pnl(sum.RealizedPnLSOL).Render(fmt.Sprintf("%+.4f SOL", sum.RealizedPnLSOL)),
		sum.WinRate)
}

// PrintPositions renders open positions as a table.
func (c *Console) PrintPositions(positions []portfolio.Position, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  No open positions.")
		return
	}

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Symbol", "Phase", "Entry $", "SOL In", "Tokens", "Peak", "Next TP", "Age")
	for _, p := range positions {
		tbl.Append(
			p.Symbol,
			string(p.Phase()),
			fmt.Sprintf("%.10g", p.EntryPriceUSD),
			fmt.Sprintf("%.4f", p.SOLInvested),
			fmt.Sprintf("%.0f", p.TokensBought),
			fmt.Sprintf("%.2fx", p.HighestMult),
			fmt.Sprintf("%d", p.NextTPIndex),
			p.Age(now).Truncate(time.Minute).String(),
		)
	}
	if err := tbl.Render(); err != nil {
		c.logger.Warn("Failed to render positions table", zap.Error(err))
	}
}

// PrintJournal prints the session's journal statistics and its latest lines.
func (c *Console) PrintJournal(stats journal.Statistics, recent []journal.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "%s trades %d (%d buys, %d sells) | spent %.4f SOL | received %.4f SOL | pnl %s | win rate %.1f%% | avg win %+.4f | avg loss %+.4f\n",
		c.styles.header.Render("JOURNAL"),
		stats.TotalTrades, stats.BuyCount, stats.SellCount,
		stats.SOLSpent, stats.SOLReceived,
		c.styles.pnl(stats.RealizedPnLSOL).Render(fmt.Sprintf("%+.4f SOL", stats.RealizedPnLSOL)),
		stats.WinRate, stats.AvgWinPnL, stats.AvgLossPnL)

	if len(recent) == 0 {
		return
	}
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Time", "Action", "Symbol", "Mult", "SOL", "PnL", "Reason")
	for _, tr := range recent {
		sol := tr.SOLGot
		if tr.IsBuy() {
			sol = -tr.SOLSpent
		}
		tbl.Append(
			tr.Timestamp.Format("15:04:05"),
			tr.Action,
			tr.Symbol,
			fmt.Sprintf("%.2fx", tr.Multiplier),
			fmt.Sprintf("%+.4f", sol),
			fmt.Sprintf("%+.4f", tr.PnLSOL),
			tr.Reason,
		)
	}
	if err := tbl.Render(); err != nil {
		c.logger.Warn("Failed to render journal table", zap.Error(err))
	}
}
