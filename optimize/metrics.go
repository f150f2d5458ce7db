package optimize

import (
	"math"
	"time"

	"github.com/rustyeddy/simex/engine"
)

const year = 365 * 24 * time.Hour

// Metrics are the per-run performance numbers the sweep ranks on.
type Metrics struct {
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64 // peak-to-trough fraction, positive
	SharpeRatio      float64
	CalmarRatio      float64
	WinRate          float64
	ProfitFactor     float64
	Trades           int
}

// Evaluate derives run metrics from a per-bar equity curve and the closed
// trades, for callers running single backtests outside a sweep.
func Evaluate(initial float64, equity []float64, trades []engine.Trade, barDur time.Duration) Metrics {
	return computeMetrics(initial, equity, trades, barDur)
}

// computeMetrics derives the run metrics from the per-bar equity curve and
// the closed trades. equity starts with the initial balance; barDur is the
// spacing between curve points.
func computeMetrics(initial float64, equity []float64, trades []engine.Trade, barDur time.Duration) Metrics {
	var m Metrics
	if initial <= 0 || len(equity) == 0 {
		return m
	}

	final := equity[len(equity)-1]
	m.TotalReturn = (final - initial) / initial

	span := time.Duration(len(equity)-1) * barDur
	if span > 0 && final > 0 {
		years := float64(span) / float64(year)
		m.AnnualizedReturn = math.Pow(final/initial, 1/years) - 1
	}

	m.MaxDrawdown = maxDrawdown(equity)
	m.SharpeRatio = sharpe(equity, barDur)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}

	m.Trades = len(trades)
	var wins int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	if m.Trades > 0 {
		m.WinRate = float64(wins) / float64(m.Trades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	return m
}

// maxDrawdown is the deepest peak-to-trough drop as a fraction of the peak.
func maxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe annualizes the mean/stddev of per-bar returns. Zero when the curve
// never moves.
func sharpe(equity []float64, barDur time.Duration) float64 {
	if len(equity) < 2 || barDur <= 0 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			rets = append(rets, (equity[i]-equity[i-1])/equity[i-1])
		}
	}
	if len(rets) == 0 {
		return 0
	}

	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	var variance float64
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(rets))
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}

	perYear := float64(year) / float64(barDur)
	return mean / sd * math.Sqrt(perYear)
}

// Distribution summarizes one metric across all successful runs.
type Distribution struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

func distribution(vals []float64) Distribution {
	d := Distribution{Count: len(vals)}
	if d.Count == 0 {
		return d
	}
	d.Min, d.Max = vals[0], vals[0]
	for _, v := range vals {
		d.Mean += v
		if v < d.Min {
			d.Min = v
		}
		if v > d.Max {
			d.Max = v
		}
	}
	d.Mean /= float64(d.Count)

	var variance float64
	for _, v := range vals {
		dv := v - d.Mean
		variance += dv * dv
	}
	d.StdDev = math.Sqrt(variance / float64(d.Count))
	return d
}
