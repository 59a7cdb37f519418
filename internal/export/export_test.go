package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
)

var day = time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return day.Add(23 * time.Hour) }

func generateTestTrades() []portfolio.ClosedTrade {
	return []portfolio.ClosedTrade{
		{Symbol: "WIF", EntryPrice: 0.001, ExitPrice: 0.01, Multiplier: 10, PnLSOL: 0.35, SOLReceived: 0.5, Reason: portfolio.ReasonTakeProfit, Timestamp: day.Add(14*time.Hour + 5*time.Minute)},
		{Symbol: "FOO", EntryPrice: 0.001, ExitPrice: 0.00069, Multiplier: 0.69, PnLSOL: -0.062, SOLReceived: 0.138, Reason: portfolio.ReasonStopLoss, Timestamp: day.Add(9 * time.Hour)},
		{Symbol: "BAR", EntryPrice: 0.002, ExitPrice: 0.0024, Multiplier: 1.2, PnLSOL: 0.04, SOLReceived: 0.24, Reason: portfolio.ReasonJeet, Timestamp: day.Add(9*time.Hour + 30*time.Minute)},
		{Symbol: "OLD", EntryPrice: 0.01, ExitPrice: 0.011, Multiplier: 1.1, PnLSOL: 0.02, SOLReceived: 0.22, Reason: portfolio.ReasonStale, Timestamp: day.Add(-2 * time.Hour)},
	}
}

func TestTradeExportCSV(t *testing.T) {
	exporter := NewTradeExporter(fixedNow, zap.NewNop())
	tempDir := t.TempDir()

	outputPath, err := exporter.ExportTrades(generateTestTrades(), ExportOptions{
		Format:    FormatCSV,
		OutputDir: tempDir,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "trades_all_20250603_230000.csv"), outputPath)

	f, err := os.Open(outputPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 5)
	assert.Equal(t, CSVHeaders(), rows[0])
	// sorted by close time
	assert.Equal(t, "OLD", rows[1][1])
	assert.Equal(t, "WIF", rows[4][1])
	assert.Equal(t, []string{"2025-06-03T09:00:00Z", "FOO", "SL", "0.001", "0.00069", "0.6900", "0.138", "-0.062"}, rows[2])
}

func TestTradeExportJSON(t *testing.T) {
	exporter := NewTradeExporter(fixedNow, zap.NewNop())

	outputPath, err := exporter.ExportTrades(generateTestTrades(), ExportOptions{
		Format:    FormatJSON,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	var decoded struct {
		TradeCount int           `json:"trade_count"`
		Trades     []Trade       `json:"trades"`
		Summary    ExportSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.Equal(t, 4, decoded.TradeCount)
	assert.Equal(t, 3, decoded.Summary.WinCount)
	assert.Equal(t, 1, decoded.Summary.LossCount)
	assert.Equal(t, 75.0, decoded.Summary.WinRate)
	assert.InDelta(t, 0.348, decoded.Summary.TotalPnLSOL, 1e-12)
	assert.Equal(t, 10.0, decoded.Summary.BestMultiplier)
	assert.Equal(t, 0.69, decoded.Summary.WorstMultiplier)
	assert.Equal(t, map[string]int{"TP": 1, "SL": 1, "JEET": 1, "STALE": 1}, decoded.Summary.ByReason)
	assert.True(t, strings.Contains(string(content), `"pnl_sol": -0.062`))
}

func TestTradeExportFilters(t *testing.T) {
	exporter := NewTradeExporter(fixedNow, zap.NewNop())
	trades := generateTestTrades()

	tests := []struct {
		name    string
		options ExportOptions
		want    []string
	}{
		{"time window", ExportOptions{StartTime: day.Add(9 * time.Hour), EndTime: day.Add(10 * time.Hour)}, []string{"FOO", "BAR"}},
		{"end is exclusive", ExportOptions{EndTime: day.Add(9 * time.Hour)}, []string{"OLD"}},
		{"symbol", ExportOptions{SymbolFilter: "WIF"}, []string{"WIF"}},
		{"reason", ExportOptions{ReasonFilter: portfolio.ReasonJeet}, []string{"BAR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, tr := range exporter.filterTrades(trades, tt.options) {
				got = append(got, tr.Symbol)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := exporter.ExportTrades(trades, ExportOptions{Format: FormatCSV, SymbolFilter: "NONE", OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoTrades)

	_, err = exporter.ExportTrades(trades, ExportOptions{Format: "xml", OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "unsupported format")

	path, err := exporter.ExportTrades(trades, ExportOptions{Format: FormatJSON, ReasonFilter: portfolio.ReasonStopLoss, SymbolFilter: "FOO", OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "trades_SL_FOO_20250603_230000.json", filepath.Base(path))
}

func TestDailyReport(t *testing.T) {
	exporter := NewTradeExporter(fixedNow, zap.NewNop())
	tempDir := t.TempDir()
	book := &portfolio.Summary{BalanceSOL: 9.5, OpenPositions: 2, ClosedTrades: 4}

	outputPath, err := exporter.ExportDailyReport(generateTestTrades(), book, day.Add(20*time.Hour), tempDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "daily_report_20250603.json"), outputPath)

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	var report DailyReport
	require.NoError(t, json.Unmarshal(content, &report))

	assert.Equal(t, 3, report.TradeCount)
	require.NotNil(t, report.Portfolio)
	assert.Equal(t, 9.5, report.Portfolio.BalanceSOL)
	require.Len(t, report.HourlyBreakdown, 2)
	assert.Equal(t, 9, report.HourlyBreakdown[0].Hour)
	assert.Equal(t, 2, report.HourlyBreakdown[0].TradeCount)
	assert.Equal(t, 1, report.HourlyBreakdown[0].WinCount)
	assert.InDelta(t, -0.022, report.HourlyBreakdown[0].PnLSOL, 1e-12)
	assert.Equal(t, 14, report.HourlyBreakdown[1].Hour)
}

func TestDailyReportWithoutTrades(t *testing.T) {
	exporter := NewTradeExporter(fixedNow, zap.NewNop())

	outputPath, err := exporter.ExportDailyReport(generateTestTrades(), nil, day.AddDate(0, 0, 5), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, outputPath)
}
