package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/logger"
)

const defaultFlushInterval = 30 * time.Second

// History appends every trade event to a CSV journal and keeps the most
// recent ones in memory with running statistics.
type History struct {
	mu        sync.RWMutex
	csvWriter *logger.SafeCSVWriter
	trades    []Trade
	maxTrades int
	logger    *zap.Logger

	// Statistics over every recorded trade, not only the ones in memory.
	totalTrades int
	buyCount    int
	sellCount   int
	solSpent    float64
	solReceived float64
	wins        int
	losses      int
	winPnL      float64
	lossPnL     float64
}

// NewHistory creates data/trades/trades_<started>.csv under dataDir.
func NewHistory(dataDir string, maxTrades int, started time.Time, zapLogger *zap.Logger) (*History, error) {
	filename := fmt.Sprintf("trades_%s.csv", started.Format("20060102_150405"))
	csvPath := filepath.Join(dataDir, "trades", filename)

	csvWriter, err := logger.NewSafeCSVWriter(csvPath, CSVHeaders(), defaultFlushInterval, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}
	if maxTrades <= 0 {
		maxTrades = 500
	}

	h := &History{
		csvWriter: csvWriter,
		trades:    make([]Trade, 0, maxTrades),
		maxTrades: maxTrades,
		logger:    zapLogger.Named("journal"),
	}

	h.logger.Info("Trade journal initialized",
		zap.String("csv_file", csvPath),
		zap.Int("max_memory_trades", maxTrades))

	return h, nil
}

// Path returns the journal file.
func (h *History) Path() string {
	return h.csvWriter.Path()
}

// Handle records trade events from the bus; other events are ignored.
func (h *History) Handle(_ context.Context, e events.Event) error {
	trade, ok := FromEvent(e)
	if !ok {
		return nil
	}
	return h.Record(trade)
}

// Record appends a trade to the journal.
func (h *History) Record(trade Trade) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.csvWriter.WriteRecord(trade.ToCSV()); err != nil {
		h.logger.Error("Failed to write trade to journal",
			zap.String("trade_id", trade.ID),
			zap.Error(err))
		return fmt.Errorf("failed to write trade: %w", err)
	}

	if len(h.trades) >= h.maxTrades {
		h.trades = h.trades[1:]
	}
	h.trades = append(h.trades, trade)

	h.totalTrades++
	if trade.IsBuy() {
		h.buyCount++
		h.solSpent += trade.SOLSpent
	} else {
		h.sellCount++
		h.solReceived += trade.SOLGot
		switch {
		case trade.PnLSOL > 0:
			h.wins++
			h.winPnL += trade.PnLSOL
		case trade.PnLSOL < 0:
			h.losses++
			h.lossPnL += trade.PnLSOL
		}
	}

	h.logger.Debug("Trade journaled",
		zap.String("id", trade.ID),
		zap.String("action", trade.Action),
		zap.String("symbol", trade.Symbol))

	return nil
}

// RecentTrades returns up to limit of the newest trades, oldest first.
func (h *History) RecentTrades(limit int) []Trade {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.trades) {
		limit = len(h.trades)
	}
	result := make([]Trade, limit)
	copy(result, h.trades[len(h.trades)-limit:])
	return result
}

// Statistics returns aggregate journal statistics.
func (h *History) Statistics() Statistics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statisticsLocked()
}

func (h *History) statisticsLocked() Statistics {
	stats := Statistics{
		TotalTrades:    h.totalTrades,
		BuyCount:       h.buyCount,
		SellCount:      h.sellCount,
		SOLSpent:       h.solSpent,
		SOLReceived:    h.solReceived,
		RealizedPnLSOL: h.winPnL + h.lossPnL,
	}
	if decided := h.wins + h.losses; decided > 0 {
		stats.WinRate = float64(h.wins) / float64(decided) * 100
	}
	if h.wins > 0 {
		stats.AvgWinPnL = h.winPnL / float64(h.wins)
	}
	if h.losses > 0 {
		stats.AvgLossPnL = h.lossPnL / float64(h.losses)
	}
	return stats
}

// Flush forces buffered lines to disk.
func (h *History) Flush() error {
	return h.csvWriter.Flush()
}

// Close writes out the journal.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := h.statisticsLocked()
	records, flushes := h.csvWriter.GetStats()
	h.logger.Info("Closing trade journal",
		zap.Int("total_trades", stats.TotalTrades),
		zap.Uint64("csv_records", records),
		zap.Uint64("csv_flushes", flushes),
		zap.Float64("sol_spent", stats.SOLSpent),
		zap.Float64("sol_received", stats.SOLReceived),
		zap.Float64("realized_pnl_sol", stats.RealizedPnLSOL),
		zap.Float64("win_rate", stats.WinRate))

	return h.csvWriter.Close()
}

// Statistics holds aggregate journal statistics. Win rate counts sells with
// a non-zero PnL, partial exits included.
type Statistics struct {
	TotalTrades    int     `json:"total_trades"`
	BuyCount       int     `json:"buy_count"`
	SellCount      int     `json:"sell_count"`
	SOLSpent       float64 `json:"sol_spent"`
	SOLReceived    float64 `json:"sol_received"`
	RealizedPnLSOL float64 `json:"realized_pnl_sol"`
	WinRate        float64 `json:"win_rate"`
	AvgWinPnL      float64 `json:"avg_win_pnl"`
	AvgLossPnL     float64 `json:"avg_loss_pnl"`
}
