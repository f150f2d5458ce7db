// Package config loads and validates backtest configuration from YAML or
// JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/simex/market"
)

// Config represents the complete backtest configuration.
type Config struct {
	Account  AccountConfig  `json:"account" yaml:"account"`
	Data     DataConfig     `json:"data" yaml:"data"`
	Matching MatchingConfig `json:"matching" yaml:"matching"`
	Intrabar IntrabarConfig `json:"intrabar" yaml:"intrabar"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Optimize OptimizeConfig `json:"optimize,omitempty" yaml:"optimize,omitempty"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
}

// AccountConfig contains account initialization parameters.
type AccountConfig struct {
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// DataConfig points at the bar series to replay.
type DataConfig struct {
	Path      string `json:"path" yaml:"path"`
	Timeframe string `json:"timeframe" yaml:"timeframe"` // "1m".."1d"
}

// MatchingConfig tunes execution realism.
type MatchingConfig struct {
	SlippageBps    float64 `json:"slippage_bps" yaml:"slippage_bps"`
	AllowPartial   bool    `json:"allow_partial,omitempty" yaml:"allow_partial,omitempty"`
	MaxFillPerTick float64 `json:"max_fill_per_tick,omitempty" yaml:"max_fill_per_tick,omitempty"`
}

// IntrabarConfig tunes sub-bar tick synthesis.
type IntrabarConfig struct {
	TickLevel bool    `json:"tick_level" yaml:"tick_level"`
	BaseTicks int     `json:"base_ticks,omitempty" yaml:"base_ticks,omitempty"`
	MaxTicks  int     `json:"max_ticks,omitempty" yaml:"max_ticks,omitempty"`
	NoiseFrac float64 `json:"noise_frac,omitempty" yaml:"noise_frac,omitempty"`
	Seed      int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// StrategyConfig names a strategy and its parameters.
type StrategyConfig struct {
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// OptimizeConfig configures a parameter sweep.
type OptimizeConfig struct {
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Concurrency int         `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Timeout     string      `json:"timeout,omitempty" yaml:"timeout,omitempty"` // e.g. "5m"
	Retries     int         `json:"retries,omitempty" yaml:"retries,omitempty"`
	RankBy      string      `json:"rank_by,omitempty" yaml:"rank_by,omitempty"`
	MinTrades   int         `json:"min_trades,omitempty" yaml:"min_trades,omitempty"`
	MaxDrawdown float64     `json:"max_drawdown,omitempty" yaml:"max_drawdown,omitempty"`
	Params      []ParamAxis `json:"params,omitempty" yaml:"params,omitempty"`
}

// ParamAxis is one swept parameter: an explicit value list or a numeric
// range with step.
type ParamAxis struct {
	Name   string  `json:"name" yaml:"name"`
	Values []any   `json:"values,omitempty" yaml:"values,omitempty"`
	Min    float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Step   float64 `json:"step,omitempty" yaml:"step,omitempty"`
}

// ParseTimeout converts the timeout string to a duration.
func (o OptimizeConfig) ParseTimeout() (time.Duration, error) {
	if o.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(o.Timeout)
}

// JournalConfig contains journaling parameters.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	RunsFile   string `json:"runs_file,omitempty" yaml:"runs_file,omitempty"`
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoadFromFile loads configuration from a file, trying YAML first and
// falling back to JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, choosing the format by extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if c.Data.Path == "" {
		return fmt.Errorf("data.path is required")
	}
	if _, err := market.ParseTimeframe(c.Data.Timeframe); err != nil {
		return fmt.Errorf("data.timeframe: %w", err)
	}
	if c.Matching.SlippageBps < 0 {
		return fmt.Errorf("matching.slippage_bps must not be negative")
	}
	if c.Intrabar.NoiseFrac < 0 {
		return fmt.Errorf("intrabar.noise_frac must not be negative")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Optimize.Enabled {
		if len(c.Optimize.Params) == 0 {
			return fmt.Errorf("optimize.params required when optimize is enabled")
		}
		if _, err := c.Optimize.ParseTimeout(); err != nil {
			return fmt.Errorf("optimize.timeout: %w", err)
		}
	}
	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.RunsFile == "" || c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal runs_file, trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Currency: "USD",
			Balance:  10_000,
		},
		Data: DataConfig{
			Path:      "./bars.csv",
			Timeframe: "1h",
		},
		Matching: MatchingConfig{
			SlippageBps: 1,
		},
		Intrabar: IntrabarConfig{
			TickLevel: true,
			BaseTicks: 8,
			MaxTicks:  64,
			NoiseFrac: 0.1,
		},
		Strategy: StrategyConfig{
			Name: "ema-cross",
			Params: map[string]any{
				"fastPeriod": 10,
				"slowPeriod": 30,
			},
		},
		Journal: JournalConfig{
			Type:       "csv",
			RunsFile:   "./runs.csv",
			TradesFile: "./trades.csv",
			EquityFile: "./equity.csv",
		},
	}
}
