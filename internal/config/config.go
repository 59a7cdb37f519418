// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-papertrader/internal/logger"
	"github.com/rovshanmuradov/solana-papertrader/internal/market"
	"github.com/rovshanmuradov/solana-papertrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
	"github.com/rovshanmuradov/solana-papertrader/internal/strategy"
)

// EnvPrefix prefixes every environment override, e.g. PAPERTRADER_MAX_POSITIONS.
const EnvPrefix = "PAPERTRADER"

type Config struct {
	StartingBalanceSOL float64 `mapstructure:"starting_balance_sol"`

	MaxPositions      int       `mapstructure:"max_positions"`
	PositionSizeSOL   float64   `mapstructure:"position_size_sol"`
	TakeProfitTargets []float64 `mapstructure:"take_profit_targets"`
	PartialSellPct    float64   `mapstructure:"partial_sell_pct"`
	StopLossPct       float64   `mapstructure:"stop_loss_pct"`
	DCATriggerPct     float64   `mapstructure:"dca_trigger_pct"`
	DCAMinSOL         float64   `mapstructure:"dca_min_sol"`
	StaleAfterHours   int       `mapstructure:"stale_after_hours"`
	StaleMaxMult      float64   `mapstructure:"stale_max_mult"`

	JeetLossThresholdSOL float64 `mapstructure:"jeet_loss_threshold_sol"`
	JeetMinGain          float64 `mapstructure:"jeet_min_gain"`
	JeetMaxGain          float64 `mapstructure:"jeet_max_gain"`

	ScanIntervalSeconds   int     `mapstructure:"scan_interval_seconds"`
	CandidateMinVolume    float64 `mapstructure:"candidate_min_volume"`
	CandidateMinLiquidity float64 `mapstructure:"candidate_min_liquidity"`
	CandidateLimit        int     `mapstructure:"candidate_limit"`

	SnapshotPath string `mapstructure:"snapshot_path"`
	DataDir      string `mapstructure:"data_dir"`
	LogFile      string `mapstructure:"log_file"`
	DebugLogging bool   `mapstructure:"debug_logging"`
	Retries      int    `mapstructure:"retries"`

	DexScreenerURL     string  `mapstructure:"dexscreener_url"`
	SOLPriceURL        string  `mapstructure:"sol_price_url"`
	SOLPriceTTLSeconds int     `mapstructure:"sol_price_ttl_seconds"`
	SOLPriceFallback   float64 `mapstructure:"sol_price_fallback"`
	RateLimitPerMinute int     `mapstructure:"rate_limit_per_minute"`
	RandomSeed         int64   `mapstructure:"random_seed"`
}

const (
	DefaultScanIntervalSeconds = 45
	DefaultRetries             = 3
	DefaultRateLimitPerMinute  = 300
)

func defaults() map[string]interface{} {
	p := strategy.DefaultParams()
	q := market.DefaultCandidateQuery()
	return map[string]interface{}{
		"starting_balance_sol":    portfolio.DefaultStartingBalanceSOL,
		"max_positions":           p.MaxPositions,
		"position_size_sol":       p.PositionSizeSOL,
		"take_profit_targets":     p.TakeProfitTargets,
		"partial_sell_pct":        p.PartialSellPct,
		"stop_loss_pct":           p.StopLossPct,
		"dca_trigger_pct":         p.DCATriggerPct,
		"dca_min_sol":             portfolio.DefaultDCAMinSOL,
		"stale_after_hours":       int(p.StaleAfter / time.Hour),
		"stale_max_mult":          p.StaleMaxMult,
		"jeet_loss_threshold_sol": p.JeetLossThresholdSOL,
		"jeet_min_gain":           p.JeetMinGain,
		"jeet_max_gain":           p.JeetMaxGain,
		"scan_interval_seconds":   DefaultScanIntervalSeconds,
		"candidate_min_volume":    q.MinVolume,
		"candidate_min_liquidity": q.MinLiquidity,
		"candidate_limit":         q.Limit,
		"snapshot_path":           "positions.json",
		"data_dir":                "data",
		"log_file":                "bot.log",
		"debug_logging":           false,
		"retries":                 DefaultRetries,
		"dexscreener_url":         market.DefaultBaseURL,
		"sol_price_url":           market.DefaultSOLPriceURL,
		"sol_price_ttl_seconds":   int(market.DefaultSOLPriceTTL / time.Second),
		"sol_price_fallback":      market.DefaultSOLPriceFallback,
		"rate_limit_per_minute":   DefaultRateLimitPerMinute,
		"random_seed":             0,
	}
}

// Load reads path (YAML or JSON) over the defaults and applies PAPERTRADER_*
// environment overrides. An empty or missing path means defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if err := validateNumericParams(cfg); err != nil {
		return err
	}
	if err := validateTargets(cfg.TakeProfitTargets); err != nil {
		return err
	}
	if err := validateURL(cfg.DexScreenerURL); err != nil {
		return fmt.Errorf("dexscreener_url: %w", err)
	}
	if err := validateURL(cfg.SOLPriceURL); err != nil {
		return fmt.Errorf("sol_price_url: %w", err)
	}
	if cfg.SnapshotPath == "" {
		return errors.New("snapshot_path is empty")
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	switch {
	case cfg.StartingBalanceSOL <= 0:
		return errors.New("invalid starting_balance_sol")
	case cfg.MaxPositions <= 0:
		return errors.New("invalid max_positions")
	case cfg.PositionSizeSOL <= 0:
		return errors.New("invalid position_size_sol")
	case cfg.DCAMinSOL < 0:
		return errors.New("invalid dca_min_sol")
	case !fraction(cfg.PartialSellPct):
		return errors.New("partial_sell_pct must be in (0,1)")
	case !fraction(cfg.StopLossPct):
		return errors.New("stop_loss_pct must be in (0,1)")
	case !fraction(cfg.DCATriggerPct):
		return errors.New("dca_trigger_pct must be in (0,1)")
	case cfg.JeetLossThresholdSOL <= 0:
		return errors.New("invalid jeet_loss_threshold_sol")
	case cfg.JeetMinGain < 0 || cfg.JeetMinGain >= cfg.JeetMaxGain:
		return errors.New("jeet_min_gain must be below jeet_max_gain")
	case cfg.StaleAfterHours <= 0:
		return errors.New("invalid stale_after_hours")
	case cfg.StaleMaxMult <= 0:
		return errors.New("invalid stale_max_mult")
	case cfg.ScanIntervalSeconds <= 0:
		return errors.New("invalid scan_interval_seconds")
	case cfg.CandidateLimit <= 0:
		return errors.New("invalid candidate_limit")
	case cfg.Retries < 0:
		return errors.New("invalid retries count")
	case cfg.RateLimitPerMinute <= 0:
		return errors.New("invalid rate_limit_per_minute")
	case cfg.SOLPriceTTLSeconds <= 0:
		return errors.New("invalid sol_price_ttl_seconds")
	case cfg.SOLPriceFallback <= 0:
		return errors.New("invalid sol_price_fallback")
	}
	return nil
}

func fraction(v float64) bool {
	return v > 0 && v < 1
}

func validateTargets(targets []float64) error {
	if len(targets) == 0 {
		return errors.New("take_profit_targets is empty")
	}
	if !sort.Float64sAreSorted(targets) {
		return errors.New("take_profit_targets must be ascending")
	}
	for i, t := range targets {
		if t <= 1 || (i > 0 && t == targets[i-1]) {
			return fmt.Errorf("invalid take profit target %v", t)
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("invalid URL protocol")
	}
	if parsed.Host == "" {
		return errors.New("missing URL host")
	}
	return nil
}

// StrategyParams returns the decision thresholds.
func (c *Config) StrategyParams() strategy.Params {
	p := strategy.DefaultParams()
	p.MaxPositions = c.MaxPositions
	p.PositionSizeSOL = c.PositionSizeSOL
	p.TakeProfitTargets = append([]float64(nil), c.TakeProfitTargets...)
	p.PartialSellPct = c.PartialSellPct
	p.StopLossPct = c.StopLossPct
	p.StaleAfter = time.Duration(c.StaleAfterHours) * time.Hour
	p.StaleMaxMult = c.StaleMaxMult
	p.DCATriggerPct = c.DCATriggerPct
	p.JeetLossThresholdSOL = c.JeetLossThresholdSOL
	p.JeetMinGain = c.JeetMinGain
	p.JeetMaxGain = c.JeetMaxGain
	return p
}

// CandidateQuery returns the discovery pre-filter.
func (c *Config) CandidateQuery() market.CandidateQuery {
	return market.CandidateQuery{
		MinVolume:    c.CandidateMinVolume,
		MinLiquidity: c.CandidateMinLiquidity,
		Limit:        c.CandidateLimit,
	}
}

// LedgerConfig returns the ledger settings.
func (c *Config) LedgerConfig(now func() time.Time) portfolio.LedgerConfig {
	return portfolio.LedgerConfig{
		StartingBalanceSOL: c.StartingBalanceSOL,
		DCAMinSOL:          c.DCAMinSOL,
		Now:                now,
	}
}

// StoreConfig returns the snapshot store settings.
func (c *Config) StoreConfig() storage.FileConfig {
	return storage.FileConfig{
		Path:              c.SnapshotPath,
		Retries:           c.Retries,
		DefaultBalanceSOL: c.StartingBalanceSOL,
	}
}

// MarketConfig returns the market client settings.
func (c *Config) MarketConfig(now func() time.Time) market.ClientConfig {
	return market.ClientConfig{
		BaseURL:           c.DexScreenerURL,
		SOLPriceURL:       c.SOLPriceURL,
		RequestsPerMinute: c.RateLimitPerMinute,
		Retries:           c.Retries,
		SOLPriceTTL:       time.Duration(c.SOLPriceTTLSeconds) * time.Second,
		SOLPriceFallback:  c.SOLPriceFallback,
		Now:               now,
	}
}

// LoggerConfig returns the process logger settings.
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	lc.LogFile = c.LogFile
	lc.Debug = c.DebugLogging
	return lc
}

// ScanInterval is the pause between ticks.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// TradesDir is where the journal and reports go.
func (c *Config) TradesDir() string {
	return filepath.Join(c.DataDir, "trades")
}
