package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/market/data"
	"github.com/rustyeddy/simex/optimize"
)

var optTop int

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Sweep a strategy's parameter space",
	Long: `Optimize runs one isolated backtest per parameter combination under
bounded concurrency and prints the ranked results.

Example:
  simex optimize -c config.yaml --top 10`,
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
	optimizeCmd.Flags().IntVar(&optTop, "top", 10, "how many ranked results to print")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Optimize.Enabled || len(cfg.Optimize.Params) == 0 {
		return fmt.Errorf("optimize section missing or disabled in config")
	}
	log := newLogger()
	defer log.Sync()

	bars, err := data.LoadBars(cfg.Data.Path)
	if err != nil {
		return fmt.Errorf("load data: %w", err)
	}
	tf, err := market.ParseTimeframe(cfg.Data.Timeframe)
	if err != nil {
		return err
	}
	timeout, err := cfg.Optimize.ParseTimeout()
	if err != nil {
		return err
	}

	specs := make([]optimize.ParamSpec, len(cfg.Optimize.Params))
	for i, p := range cfg.Optimize.Params {
		specs[i] = optimize.ParamSpec{
			Name: p.Name, Values: p.Values,
			Min: p.Min, Max: p.Max, Step: p.Step,
		}
	}

	runner := optimize.NewRunner(optimize.Config{
		Engine:      engineConfig(cfg, tf),
		Concurrency: cfg.Optimize.Concurrency,
		Timeout:     timeout,
		Retries:     cfg.Optimize.Retries,
		RankBy:      optimize.Criterion(cfg.Optimize.RankBy),
		Filter: optimize.Filter{
			MinTrades:   cfg.Optimize.MinTrades,
			MaxDrawdown: cfg.Optimize.MaxDrawdown,
		},
		OnProgress: func(done, total int) {
			fmt.Printf("\r%d/%d runs complete", done, total)
		},
	}, log)

	factory := strategyFactory(cfg.Strategy.Name, cfg.Strategy.Params)
	report, err := runner.Run(cmd.Context(), bars, factory, specs)
	if err != nil {
		return err
	}
	fmt.Println()

	fmt.Printf("Sweep %s: %d ranked, %d excluded, %d failed (%.1fs)\n",
		report.ID, len(report.Results), len(report.Excluded), len(report.Failed),
		report.Finished.Sub(report.Started).Seconds())
	fmt.Printf("Score distribution: mean %.4f stddev %.4f min %.4f max %.4f\n",
		report.Scores.Mean, report.Scores.StdDev, report.Scores.Min, report.Scores.Max)

	n := optTop
	if n > len(report.Results) {
		n = len(report.Results)
	}
	for i := 0; i < n; i++ {
		r := report.Results[i]
		fmt.Printf("%2d. %-40s return %7.2f%%  sharpe %6.2f  dd %6.2f%%  trades %d\n",
			i+1, r.ID, r.Metrics.TotalReturn*100, r.Metrics.SharpeRatio,
			r.Metrics.MaxDrawdown*100, r.Metrics.Trades)
	}
	for _, r := range report.Failed {
		fmt.Printf("failed: %s (%s, %d attempts)\n", r.ID, r.Error, r.Attempts)
	}
	return nil
}
