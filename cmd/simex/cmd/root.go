package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/simex/config"
	"github.com/rustyeddy/simex/internal/logging"
	"github.com/rustyeddy/simex/strategy"
)

var rootCmd = &cobra.Command{
	Use:   "simex",
	Short: "A deterministic trading-strategy backtest engine",
	Long: `Simex replays historical price bars through a simulated exchange to
evaluate trading strategies.

It provides tools for:
  - Backtesting strategies with exchange-like fill behavior
  - Bracket (entry + stop-loss + take-profit) order management
  - Synthetic intra-bar price paths for tick-level matching
  - Concurrent parameter sweeps with ranked results
  - Trade and equity journaling to SQLite or CSV`,
}

var (
	cfgPath string
	verbose bool
)

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func newLogger() *zap.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	log, err := logging.New(level)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	return config.LoadFromFile(cfgPath)
}

// buildStrategy maps a configured strategy name to an implementation.
func buildStrategy(name string, params map[string]any) (strategy.Strategy, error) {
	switch name {
	case "noop":
		return strategy.Noop{}, nil
	case "ema-cross":
		return strategy.NewEMACrossFromParams(params)
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// strategyFactory returns a sweep factory that overlays each combination on
// the configured fixed parameters.
func strategyFactory(name string, fixed map[string]any) strategy.Factory {
	return func(params map[string]any) (strategy.Strategy, error) {
		merged := make(map[string]any, len(fixed)+len(params))
		for k, v := range fixed {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		return buildStrategy(name, merged)
	}
}
