// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/export"
	"github.com/rovshanmuradov/solana-papertrader/internal/journal"
	"github.com/rovshanmuradov/solana-papertrader/internal/notify"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

// Ticker runs one scan cycle.
type Ticker interface {
	RunTick(ctx context.Context) ([]events.Event, error)
}

// RunnerConfig wires the runner. Console, Journal and Exporter are optional.
type RunnerConfig struct {
	Engine    Ticker
	Ledger    *portfolio.Ledger
	Console   *notify.Console
	Journal   *journal.History
	Exporter  *export.TradeExporter
	ReportDir string
	Interval  time.Duration
	Now       func() time.Time
}

// Runner drives the engine on a fixed interval until it is stopped.
type Runner struct {
	cfg      RunnerConfig
	shutdown *ShutdownHandler
	logger   *zap.Logger
	ticks    int
}

// NewRunner creates a runner. Services registered on Shutdown() are closed
// after the final ledger flush and daily report.
func NewRunner(cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 45 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		cfg:      cfg,
		shutdown: NewShutdownHandler(logger, 10*time.Second),
		logger:   logger.Named("runner"),
	}
}

// Shutdown returns the handler services register with.
func (r *Runner) Shutdown() *ShutdownHandler {
	return r.shutdown
}

// Ticks returns how many cycles completed.
func (r *Runner) Ticks() int {
	return r.ticks
}

const recentJournalLines = 10

// Run ticks immediately and then every interval until ctx is done or
// SIGINT/SIGTERM arrives, then stops cleanly. A failed tick is logged and
// the loop keeps going.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("🚀 Paper trader started", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("📡 Stop requested", zap.Error(context.Cause(ctx)))
			return r.stop()
		case <-ticker.C:
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	evts, err := r.cfg.Engine.RunTick(ctx)
	r.ticks++
	if err != nil {
		r.logger.Warn("Tick failed", zap.Int("tick", r.ticks), zap.Error(err))
		return
	}

	r.logger.Debug("Tick complete",
		zap.Int("tick", r.ticks),
		zap.Int("events", len(evts)),
		zap.Duration("took", time.Since(started)))

	if j := r.cfg.Journal; j != nil && len(evts) > 0 {
		if err := j.Flush(); err != nil {
			r.logger.Warn("Failed to flush trade journal", zap.Error(err))
		}
	}

	if c := r.cfg.Console; c != nil && r.cfg.Ledger != nil {
		c.PrintSummary(r.cfg.Ledger.Summary())
		c.PrintPositions(r.cfg.Ledger.Positions(), r.cfg.Now())
	}
}

// stop flushes the ledger, writes the daily report, prints the journal and
// closes services.
func (r *Runner) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if r.cfg.Ledger != nil {
		if err := r.cfg.Ledger.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if r.cfg.Exporter != nil && r.cfg.ReportDir != "" {
			sum := r.cfg.Ledger.Summary()
			if _, err := r.cfg.Exporter.ExportDailyReport(r.cfg.Ledger.ClosedTrades(), &sum, r.cfg.Now(), r.cfg.ReportDir); err != nil {
				r.logger.Error("Failed to write daily report", zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	if j := r.cfg.Journal; j != nil {
		stats := j.Statistics()
		r.logger.Info("Session journal",
			zap.Int("trades", stats.TotalTrades),
			zap.Float64("realized_pnl_sol", stats.RealizedPnLSOL),
			zap.Float64("win_rate", stats.WinRate))
		if r.cfg.Console != nil {
			r.cfg.Console.PrintJournal(stats, j.RecentTrades(recentJournalLines))
		}
	}
	if err := r.shutdown.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	r.logger.Info("👋 Paper trader stopped", zap.Int("ticks", r.ticks))
	return errors.Join(errs...)
}
