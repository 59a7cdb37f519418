package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

// ErrNoTrades is returned when no closed trade matches the export filters.
var ErrNoTrades = errors.New("no trades match the export criteria")

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format       ExportFormat
	StartTime    time.Time
	EndTime      time.Time
	SymbolFilter string
	ReasonFilter portfolio.ExitReason
	OutputDir    string
}

// TradeExporter writes closed trades to files.
type TradeExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewTradeExporter creates a new trade exporter. now may be nil.
func NewTradeExporter(now func() time.Time, logger *zap.Logger) *TradeExporter {
	if now == nil {
		now = time.Now
	}
	return &TradeExporter{
		logger: logger.Named("export"),
		now:    now,
	}
}

// Trade is the exported form of a closed trade.
type Trade struct {
	Symbol      string    `json:"symbol"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Multiplier  float64   `json:"multiplier"`
	PnLSOL      float64   `json:"pnl_sol"`
	SOLReceived float64   `json:"sol_received"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

func fromClosed(t portfolio.ClosedTrade) Trade {
	return Trade{
		Symbol:      t.Symbol,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		Multiplier:  t.Multiplier,
		PnLSOL:      t.PnLSOL,
		SOLReceived: t.SOLReceived,
		Reason:      string(t.Reason),
		Timestamp:   t.Timestamp,
	}
}

func (t Trade) toCSV() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		t.Timestamp.UTC().Format(time.RFC3339),
		t.Symbol,
		t.Reason,
		f(t.EntryPrice),
		f(t.ExitPrice),
		strconv.FormatFloat(t.Multiplier, 'f', 4, 64),
		f(t.SOLReceived),
		f(t.PnLSOL),
	}
}

// CSVHeaders returns the header row of exported CSV files.
func CSVHeaders() []string {
	return []string{"timestamp", "symbol", "reason", "entry_price", "exit_price", "multiplier", "sol_received", "pnl_sol"}
}

// ExportTrades exports trades based on the provided options
func (te *TradeExporter) ExportTrades(trades []portfolio.ClosedTrade, options ExportOptions) (string, error) {
	filtered := te.filterTrades(trades, options)
	if len(filtered) == 0 {
		return "", ErrNoTrades
	}

	outputPath := filepath.Join(options.OutputDir, te.generateFilename(options))
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = te.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = te.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

// filterTrades applies filters and returns matches sorted by close time.
// EndTime is exclusive.
func (te *TradeExporter) filterTrades(trades []portfolio.ClosedTrade, options ExportOptions) []Trade {
	var filtered []Trade
	for _, trade := range trades {
		if !options.StartTime.IsZero() && trade.Timestamp.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !trade.Timestamp.Before(options.EndTime) {
			continue
		}
		if options.SymbolFilter != "" && trade.Symbol != options.SymbolFilter {
			continue
		}
		if options.ReasonFilter != "" && trade.Reason != options.ReasonFilter {
			continue
		}
		filtered = append(filtered, fromClosed(trade))
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})
	return filtered
}

func (te *TradeExporter) generateFilename(options ExportOptions) string {
	prefix := "trades_all"
	if options.ReasonFilter != "" {
		prefix = "trades_" + string(options.ReasonFilter)
	}
	if options.SymbolFilter != "" {
		prefix += "_" + options.SymbolFilter
	}
	return fmt.Sprintf("%s_%s.%s", prefix, te.now().Format("20060102_150405"), options.Format)
}

func (te *TradeExporter) exportToCSV(trades []Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, trade := range trades {
		if err := writer.Write(trade.toCSV()); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func (te *TradeExporter) exportToJSON(trades []Trade, outputPath string) error {
	exportData := struct {
		ExportTime time.Time     `json:"export_time"`
		TradeCount int           `json:"trade_count"`
		Trades     []Trade       `json:"trades"`
		Summary    ExportSummary `json:"summary"`
	}{
		ExportTime: te.now(),
		TradeCount: len(trades),
		Trades:     trades,
		Summary:    calculateSummary(trades),
	}
	return writeJSON(outputPath, exportData)
}

func writeJSON(outputPath string, v any) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary contains summary statistics for exported trades
type ExportSummary struct {
	TotalTrades      int            `json:"total_trades"`
	UniqueTokens     int            `json:"unique_tokens"`
	WinCount         int            `json:"win_count"`
	LossCount        int            `json:"loss_count"`
	WinRate          float64        `json:"win_rate"`
	TotalPnLSOL      float64        `json:"total_pnl_sol"`
	AvgPnLSOL        float64        `json:"avg_pnl_sol"`
	TotalSOLReceived float64        `json:"total_sol_received"`
	BestMultiplier   float64        `json:"best_multiplier"`
	WorstMultiplier  float64        `json:"worst_multiplier"`
	ByReason         map[string]int `json:"by_reason"`
	StartDate        time.Time      `json:"start_date"`
	EndDate          time.Time      `json:"end_date"`
}

// calculateSummary expects trades sorted by timestamp. Win rate counts
// trades with positive PnL over all trades, like the ledger does.
func calculateSummary(trades []Trade) ExportSummary {
	summary := ExportSummary{
		TotalTrades: len(trades),
		ByReason:    make(map[string]int),
	}
	if len(trades) == 0 {
		return summary
	}

	summary.StartDate = trades[0].Timestamp
	summary.EndDate = trades[len(trades)-1].Timestamp
	summary.BestMultiplier = trades[0].Multiplier
	summary.WorstMultiplier = trades[0].Multiplier

	tokens := make(map[string]struct{})
	for _, trade := range trades {
		tokens[trade.Symbol] = struct{}{}
		summary.ByReason[trade.Reason]++
		summary.TotalPnLSOL += trade.PnLSOL
		summary.TotalSOLReceived += trade.SOLReceived

		switch {
		case trade.PnLSOL > 0:
			summary.WinCount++
		case trade.PnLSOL < 0:
			summary.LossCount++
		}
		summary.BestMultiplier = max(summary.BestMultiplier, trade.Multiplier)
		summary.WorstMultiplier = min(summary.WorstMultiplier, trade.Multiplier)
	}

	summary.UniqueTokens = len(tokens)
	summary.WinRate = float64(summary.WinCount) / float64(len(trades)) * 100
	summary.AvgPnLSOL = summary.TotalPnLSOL / float64(len(trades))
	return summary
}

// DailyReport represents a daily trading report
type DailyReport struct {
	Date            time.Time          `json:"date"`
	TradeCount      int                `json:"trade_count"`
	Summary         ExportSummary      `json:"summary"`
	Portfolio       *portfolio.Summary `json:"portfolio,omitempty"`
	HourlyBreakdown []HourlyStats      `json:"hourly_breakdown"`
	Trades          []Trade            `json:"trades"`
}

// HourlyStats represents trading statistics for an hour
type HourlyStats struct {
	Hour        int     `json:"hour"`
	TradeCount  int     `json:"trade_count"`
	WinCount    int     `json:"win_count"`
	SOLReceived float64 `json:"sol_received"`
	PnLSOL      float64 `json:"pnl_sol"`
}

// ExportDailyReport writes daily_report_YYYYMMDD.json for the day containing
// date. It returns an empty path when the day has no closed trades.
func (te *TradeExporter) ExportDailyReport(trades []portfolio.ClosedTrade, book *portfolio.Summary, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	filtered := te.filterTrades(trades, ExportOptions{
		StartTime: startOfDay,
		EndTime:   startOfDay.AddDate(0, 0, 1),
	})

	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report", zap.Time("date", startOfDay))
		return "", nil
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Summary:         calculateSummary(filtered),
		Portfolio:       book,
		HourlyBreakdown: calculateHourlyBreakdown(filtered, date.Location()),
		Trades:          filtered,
	}
	if err := writeJSON(outputPath, report); err != nil {
		return "", fmt.Errorf("daily report: %w", err)
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("trades", len(filtered)))

	return outputPath, nil
}

func calculateHourlyBreakdown(trades []Trade, loc *time.Location) []HourlyStats {
	var hours [24]*HourlyStats
	for _, trade := range trades {
		hour := trade.Timestamp.In(loc).Hour()
		if hours[hour] == nil {
			hours[hour] = &HourlyStats{Hour: hour}
		}
		stats := hours[hour]
		stats.TradeCount++
		stats.SOLReceived += trade.SOLReceived
		stats.PnLSOL += trade.PnLSOL
		if trade.PnLSOL > 0 {
			stats.WinCount++
		}
	}

	var breakdown []HourlyStats
	for _, stats := range hours {
		if stats != nil {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
