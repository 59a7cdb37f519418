// ====================================
// File: cmd/papertrader/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/bot"
	"github.com/rovshanmuradov/solana-papertrader/internal/config"
	"github.com/rovshanmuradov/solana-papertrader/internal/engine"
	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/export"
	"github.com/rovshanmuradov/solana-papertrader/internal/journal"
	"github.com/rovshanmuradov/solana-papertrader/internal/logger"
	"github.com/rovshanmuradov/solana-papertrader/internal/market"
	"github.com/rovshanmuradov/solana-papertrader/internal/notify"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML or JSON config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	exportFormat := flag.String("export", "", "export closed trades as csv or json and exit")
	once := flag.Bool("once", false, "run a single tick and exit")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	if err := run(cfg, *exportFormat, *once, log); err != nil {
		log.Error("Paper trader failed", zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
}

func run(cfg *config.Config, exportFormat string, once bool, log *zap.Logger) error {
	ctx := context.Background()
	clock := time.Now

	store := storage.NewFileStore(cfg.StoreConfig(), log)
	ledger := portfolio.NewLedger(ctx, store, cfg.LedgerConfig(clock), log)
	exporter := export.NewTradeExporter(clock, log)

	if exportFormat != "" {
		path, err := exporter.ExportTrades(ledger.ClosedTrades(), export.ExportOptions{
			Format:    export.ExportFormat(exportFormat),
			OutputDir: cfg.TradesDir(),
		})
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Println(path)
		return nil
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bus := events.NewBus(log)
	history, err := journal.NewHistory(cfg.DataDir, 500, clock(), log)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	console := notify.NewConsole(os.Stdout, notify.DefaultPalette(), log)
	bus.Subscribe(events.AllEvents, history)
	bus.Subscribe(events.AllEvents, console)

	eng := engine.New(ledger, market.NewClient(cfg.MarketConfig(clock), log), bus, engine.Config{
		Params:     cfg.StrategyParams(),
		Candidates: cfg.CandidateQuery(),
		Now:        clock,
		Rand:       rand.New(rand.NewSource(seed)),
	}, log)

	log.Info("Starting paper trader",
		zap.Float64("balance_sol", ledger.Balance()),
		zap.Int("open_positions", ledger.OpenCount()),
		zap.String("snapshot", store.Path()),
		zap.String("journal", history.Path()),
		zap.Int64("seed", seed))

	if once {
		defer history.Close()
		if _, err := eng.RunTick(ctx); err != nil {
			return err
		}
		console.PrintSummary(ledger.Summary())
		console.PrintPositions(ledger.Positions(), clock())
		console.PrintJournal(history.Statistics(), history.RecentTrades(10))
		return ledger.Flush(ctx)
	}

	runner := bot.NewRunner(bot.RunnerConfig{
		Engine:    eng,
		Ledger:    ledger,
		Console:   console,
		Journal:   history,
		Exporter:  exporter,
		ReportDir: cfg.TradesDir(),
		Interval:  cfg.ScanInterval(),
		Now:       clock,
	}, log)
	runner.Shutdown().Add("journal", history)
	runner.Shutdown().AddFunc("event_bus", func() error {
		stats := bus.Stats()
		log.Info("Event bus totals",
			zap.Any("published", stats.PublishedPerType),
			zap.Int("failed_deliveries", stats.FailedDeliveries))
		return bus.Shutdown(context.Background())
	})

	return runner.Run(ctx)
}
