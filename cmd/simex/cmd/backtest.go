package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/simex/config"
	"github.com/rustyeddy/simex/engine"
	"github.com/rustyeddy/simex/internal/id"
	"github.com/rustyeddy/simex/intrabar"
	"github.com/rustyeddy/simex/journal"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/market/data"
	"github.com/rustyeddy/simex/match"
	"github.com/rustyeddy/simex/optimize"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one backtest from a config file",
	Long: `Backtest replays the configured bar series through the simulation
engine with the configured strategy, journaling trades and equity as it goes.

Example:
  simex backtest -c config.yaml`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)
}

func engineConfig(cfg *config.Config, tf market.Timeframe) engine.Config {
	return engine.Config{
		InitialBalance: cfg.Account.Balance,
		BarDuration:    tf.Duration,
		TickLevel:      cfg.Intrabar.TickLevel,
		Match: match.Config{
			SlippageBps:    cfg.Matching.SlippageBps,
			AllowPartial:   cfg.Matching.AllowPartial,
			MaxFillPerTick: cfg.Matching.MaxFillPerTick,
		},
		Intrabar: intrabar.Config{
			BaseTicks: cfg.Intrabar.BaseTicks,
			MaxTicks:  cfg.Intrabar.MaxTicks,
			NoiseFrac: cfg.Intrabar.NoiseFrac,
			Seed:      cfg.Intrabar.Seed,
		},
	}
}

// openJournal builds the configured journal; nil means journaling is off.
func openJournal(jc config.JournalConfig) (journal.Journal, error) {
	switch jc.Type {
	case "", "none":
		return nil, nil
	case "csv":
		return journal.NewCSV(jc.RunsFile, jc.TradesFile, jc.EquityFile)
	case "sqlite":
		return journal.NewSQLite(jc.DBPath)
	}
	return nil, fmt.Errorf("unknown journal type %q", jc.Type)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	strat, err := buildStrategy(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	e := engine.New(engineConfig(cfg, tf), nil, log)
	e.SetStrategy(strat)
	if err := e.LoadData(bars); err != nil {
		return err
	}

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	runID := id.New()
	if j != nil {
		defer j.Close()
		journal.Attach(e, j, runID, log)
	}

	started := time.Now()
	if err := e.Start(); err != nil {
		return err
	}

	equity := []float64{cfg.Account.Balance}
	for {
		bar, err := e.ProcessNextBar()
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if bar == nil {
			break
		}
		st := e.State()
		equity = append(equity, st.Equity(bar.Close))
	}

	st := e.State()
	trades := st.ClosedTrades()
	m := optimize.Evaluate(cfg.Account.Balance, equity, trades, tf.Duration)

	if j != nil {
		rec := journal.RunRecord{
			RunID:          runID,
			Strategy:       strat.Name(),
			Params:         fmt.Sprintf("%v", cfg.Strategy.Params),
			StartedAt:      started,
			FinishedAt:     time.Now(),
			InitialBalance: cfg.Account.Balance,
			FinalBalance:   st.Balance,
			TotalReturn:    m.TotalReturn,
			MaxDrawdown:    m.MaxDrawdown,
			SharpeRatio:    m.SharpeRatio,
			Trades:         m.Trades,
		}
		if err := j.RecordRun(rec); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}

	fmt.Printf("Run %s: %s over %d bars\n", runID, strat.Name(), len(bars))
	fmt.Printf("  Final balance:  %.2f (return %.2f%%)\n", st.Balance, m.TotalReturn*100)
	fmt.Printf("  Trades:         %d (win rate %.1f%%)\n", m.Trades, m.WinRate*100)
	fmt.Printf("  Max drawdown:   %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("  Sharpe:         %.2f\n", m.SharpeRatio)
	return nil
}
