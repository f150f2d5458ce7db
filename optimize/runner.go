package optimize

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/simex/engine"
	"github.com/rustyeddy/simex/internal/logging"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/strategy"
)

// Criterion names a built-in ranking metric.
type Criterion string

const (
	RankTotalReturn  Criterion = "totalReturn"
	RankSharpe       Criterion = "sharpeRatio"
	RankCalmar       Criterion = "calmarRatio"
	RankProfitFactor Criterion = "profitFactor"
)

// Filter drops runs before ranking. Zero values disable the corresponding
// bound.
type Filter struct {
	MinTrades   int
	MinReturn   float64
	MaxDrawdown float64
}

func (f Filter) pass(m Metrics) bool {
	if f.MinTrades > 0 && m.Trades < f.MinTrades {
		return false
	}
	if f.MinReturn != 0 && m.TotalReturn < f.MinReturn {
		return false
	}
	if f.MaxDrawdown != 0 && m.MaxDrawdown > f.MaxDrawdown {
		return false
	}
	return true
}

// Config tunes one sweep.
type Config struct {
	// Engine is the template every run's engine is built from.
	Engine engine.Config

	// Concurrency bounds how many runs execute at once; 0 means 4.
	Concurrency int

	// Timeout bounds each run; 0 disables. Retries resubmits a timed-out or
	// failed run up to this many extra attempts. Aborted runs never retry.
	Timeout time.Duration
	Retries int

	Filter Filter

	// RankBy picks the built-in ranking metric; Scorer overrides it with a
	// caller-supplied score. Both rank descending.
	RankBy Criterion
	Scorer func(Result) float64

	// OnProgress and OnResult fire after each run completes. They are called
	// from worker goroutines under a lock; keep them fast.
	OnProgress func(done, total int)
	OnResult   func(Result)
}

// Result is one parameter combination's outcome.
type Result struct {
	ID           string
	Params       Params
	Metrics      Metrics
	FinalBalance float64
	Failed       bool
	Error        string
	Attempts     int
}

// Report is the aggregated sweep outcome. Results holds the runs that passed
// the filter, ranked descending; Excluded the successful runs the filter
// dropped; Failed the runs that errored.
type Report struct {
	ID       string
	Started  time.Time
	Finished time.Time

	Results  []Result
	Excluded []Result
	Failed   []Result

	// Score distribution across every successful run, filtered or not.
	Scores Distribution
}

// Runner executes sweeps. Safe to reuse across sweeps; each Run call is
// independent.
type Runner struct {
	cfg Config
	log *zap.Logger
}

func NewRunner(cfg Config, log *zap.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RankBy == "" {
		cfg.RankBy = RankTotalReturn
	}
	return &Runner{cfg: cfg, log: logging.Or(log)}
}

// Run expands the specs and executes every combination to completion. The
// source bars are treated as immutable; each worker takes a defensive copy.
// Cancelling ctx aborts in-flight runs cooperatively at the next bar.
func (r *Runner) Run(ctx context.Context, bars []market.Bar, factory strategy.Factory, specs []ParamSpec) (Report, error) {
	combos, err := Combinations(specs)
	if err != nil {
		return Report{}, err
	}
	if len(bars) == 0 {
		return Report{}, fmt.Errorf("optimize: no data")
	}

	report := Report{ID: uuid.NewString(), Started: time.Now()}
	results := make([]Result, len(combos))

	var mu sync.Mutex
	var done int

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)
	for i, p := range combos {
		g.Go(func() error {
			res := r.runOne(ctx, bars, factory, p)
			results[i] = res

			mu.Lock()
			done++
			d := done
			if r.cfg.OnResult != nil {
				r.cfg.OnResult(res)
			}
			if r.cfg.OnProgress != nil {
				r.cfg.OnProgress(d, len(combos))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.assemble(&report, results)
	report.Finished = time.Now()
	return report, nil
}

// runOne executes one combination, retrying failed attempts up to the retry
// limit. Aborts are final.
func (r *Runner) runOne(ctx context.Context, bars []market.Bar, factory strategy.Factory, p Params) Result {
	var res Result
	for attempt := 1; ; attempt++ {
		res = r.attempt(ctx, bars, factory, p)
		res.Attempts = attempt
		if !res.Failed || res.Error == "aborted" || attempt > r.cfg.Retries {
			return res
		}
		r.log.Debug("retrying run",
			zap.String("params", res.ID), zap.Int("attempt", attempt), zap.String("error", res.Error))
	}
}

func (r *Runner) attempt(ctx context.Context, bars []market.Bar, factory strategy.Factory, p Params) Result {
	res := Result{ID: p.ID(), Params: p}
	fail := func(msg string) Result {
		res.Failed = true
		res.Error = msg
		return res
	}

	strat, err := factory(p)
	if err != nil {
		return fail(err.Error())
	}

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	// private dataset copy: no sharing between concurrent runs
	e := engine.New(r.cfg.Engine, nil, r.log)
	e.SetStrategy(strat)
	if err := e.LoadData(market.CloneBars(bars)); err != nil {
		return fail(err.Error())
	}
	if err := e.Start(); err != nil {
		return fail(err.Error())
	}

	initial := e.State().Balance
	equity := []float64{initial}

	for {
		// cooperative cancellation at bar boundaries
		if ctx.Err() != nil {
			return fail("aborted")
		}
		if runCtx.Err() != nil {
			return fail("timeout")
		}
		bar, err := e.ProcessNextBar()
		if err != nil {
			return fail(err.Error())
		}
		if bar == nil {
			break
		}
		st := e.State()
		equity = append(equity, st.Equity(bar.Close))
	}

	st := e.State()
	res.FinalBalance = st.Balance
	res.Metrics = computeMetrics(initial, equity, st.ClosedTrades(), barDuration(r.cfg.Engine))
	return res
}

func barDuration(cfg engine.Config) time.Duration {
	if cfg.BarDuration > 0 {
		return cfg.BarDuration
	}
	return time.Hour
}

// assemble filters, scores and ranks the raw results into the report.
func (r *Runner) assemble(report *Report, results []Result) {
	var scores []float64
	for _, res := range results {
		switch {
		case res.Failed:
			report.Failed = append(report.Failed, res)
		case r.cfg.Filter.pass(res.Metrics):
			report.Results = append(report.Results, res)
			scores = append(scores, r.score(res))
		default:
			report.Excluded = append(report.Excluded, res)
			scores = append(scores, r.score(res))
		}
	}

	sort.SliceStable(report.Results, func(i, j int) bool {
		return r.score(report.Results[i]) > r.score(report.Results[j])
	})
	report.Scores = distribution(scores)
}

func (r *Runner) score(res Result) float64 {
	if r.cfg.Scorer != nil {
		return r.cfg.Scorer(res)
	}
	switch r.cfg.RankBy {
	case RankSharpe:
		return res.Metrics.SharpeRatio
	case RankCalmar:
		return res.Metrics.CalmarRatio
	case RankProfitFactor:
		return res.Metrics.ProfitFactor
	}
	return res.Metrics.TotalReturn
}
