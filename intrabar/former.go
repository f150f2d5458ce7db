package intrabar

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/simex/internal/logging"
	"github.com/rustyeddy/simex/market"
)

// Source provides real lower-timeframe bars covering a time window. The
// window is [from, to); bars outside it are ignored.
type Source interface {
	Bars(tf market.Timeframe, from, to time.Time) ([]market.Bar, error)
}

// Config tunes tick synthesis.
type Config struct {
	// BaseTicks is the tick count for a bar with negligible range; wider
	// bars get proportionally more, up to MaxTicks.
	BaseTicks int
	MaxTicks  int

	// NoiseFrac scales the random perturbation of interpolated ticks as a
	// fraction of the bar range. Waypoint ticks (open/low/high/close) are
	// never perturbed, so bar reconstruction stays exact.
	NoiseFrac float64

	// Seed makes synthesis reproducible. Two formers built with the same
	// seed and fed the same bars produce identical tick sequences.
	Seed int64

	// Hierarchy lists the lower timeframes to try for real sub-bar data,
	// in preference order. Empty means synthetic only.
	Hierarchy []market.Timeframe
}

func (c Config) withDefaults() Config {
	if c.BaseTicks <= 0 {
		c.BaseTicks = 8
	}
	if c.MaxTicks <= 0 {
		c.MaxTicks = 64
	}
	if c.NoiseFrac < 0 {
		c.NoiseFrac = 0
	}
	return c
}

// Former produces tick sequences one bar at a time. Not safe for concurrent
// use; each simulation run owns its own former.
type Former struct {
	cfg Config
	src Source
	rng *rand.Rand
	log *zap.Logger

	ticks   []market.Tick
	next    int
	forming *FormingBar
}

func New(cfg Config, src Source, log *zap.Logger) *Former {
	cfg = cfg.withDefaults()
	return &Former{
		cfg: cfg,
		src: src,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		log: logging.Or(log),
	}
}

// Start begins forming the given bar over duration d. Real lower-timeframe
// data is tried first through the configured hierarchy; any miss degrades to
// the next alternative and finally to synthetic generation, never failing the
// run.
func (f *Former) Start(bar market.Bar, d time.Duration) (FormingBar, error) {
	if err := bar.Validate(); err != nil {
		return FormingBar{}, err
	}
	if d <= 0 {
		return FormingBar{}, fmt.Errorf("intrabar: non-positive bar duration %v", d)
	}

	ticks, ok := f.fromSource(bar, d)
	if !ok {
		ticks = f.synthesize(bar, d)
	}

	f.ticks = ticks
	f.next = 0
	f.forming = &FormingBar{
		Time:      bar.Time,
		StartTime: bar.Time,
		EndTime:   bar.Time.Add(d),
	}
	return *f.forming, nil
}

// NextTick returns the next tick and folds it into the forming bar. ok is
// false once the sequence is exhausted; the forming bar is then Complete.
func (f *Former) NextTick() (market.Tick, bool) {
	if f.forming == nil || f.next >= len(f.ticks) {
		return market.Tick{}, false
	}
	t := f.ticks[f.next]
	f.next++
	f.forming.apply(t)
	if f.next == len(f.ticks) {
		f.forming.Complete = true
	}
	return t, true
}

// Forming returns a snapshot of the bar under construction.
func (f *Former) Forming() FormingBar {
	if f.forming == nil {
		return FormingBar{}
	}
	return *f.forming
}

// Reset restores the former to its freshly built state: the RNG returns to
// the configured seed, so a replay of the same bars reproduces the same
// ticks.
func (f *Former) Reset() {
	f.rng = rand.New(rand.NewSource(f.cfg.Seed))
	f.ticks = nil
	f.next = 0
	f.forming = nil
}

// Remaining reports how many ticks are still to come.
func (f *Former) Remaining() int {
	if f.forming == nil {
		return 0
	}
	return len(f.ticks) - f.next
}

// fromSource maps real lower-timeframe bars inside the window to three ticks
// each (open, midpoint of high/low, close), concatenated in time order with
// the final tick forced to the target bar's close.
func (f *Former) fromSource(bar market.Bar, d time.Duration) ([]market.Tick, bool) {
	if f.src == nil {
		return nil, false
	}
	end := bar.Time.Add(d)
	for _, tf := range f.cfg.Hierarchy {
		if tf.Duration <= 0 || tf.Duration >= d {
			continue
		}
		sub, err := f.src.Bars(tf, bar.Time, end)
		if err != nil {
			f.log.Debug("sub-bar source failed, trying next timeframe",
				zap.String("timeframe", tf.Key), zap.Error(err))
			continue
		}

		var ticks []market.Tick
		for _, sb := range sub {
			if sb.Time.Before(bar.Time) || !sb.Time.Before(end) {
				continue
			}
			step := tf.Duration / 3
			v := sb.Volume / 3
			ticks = append(ticks,
				market.Tick{Time: sb.Time, Price: sb.Open, Volume: v},
				market.Tick{Time: sb.Time.Add(step), Price: (sb.High + sb.Low) / 2, Volume: v},
				market.Tick{Time: sb.Time.Add(2 * step), Price: sb.Close, Volume: v},
			)
		}
		if len(ticks) == 0 {
			f.log.Debug("no sub-bars in window, trying next timeframe",
				zap.String("timeframe", tf.Key))
			continue
		}
		ticks[len(ticks)-1].Price = bar.Close
		return ticks, true
	}
	return nil, false
}

// synthesize builds the canonical path through {open, high, low, close}:
// bullish bars traverse open,low,high,close (skipping extremes that coincide
// with the body), bearish bars the mirror image, dojis visit the nearer
// extreme first. Interpolated ticks between waypoints carry bounded noise
// clamped to [low, high]; waypoints are exact.
func (f *Former) synthesize(bar market.Bar, d time.Duration) []market.Tick {
	wps := waypoints(bar)
	n := f.tickCount(bar, len(wps))

	prices := make([]float64, 0, n)
	prices = append(prices, wps[0])

	if len(wps) > 1 {
		// Spread the remaining n-1 ticks over the segments proportionally
		// to each segment's price distance, at least one per segment.
		total := 0.0
		for i := 1; i < len(wps); i++ {
			total += abs(wps[i] - wps[i-1])
		}
		remaining := n - 1
		segs := len(wps) - 1
		for i := 1; i < len(wps); i++ {
			var k int
			if i == len(wps)-1 {
				k = remaining
			} else if total > 0 {
				k = int(float64(n-1) * abs(wps[i]-wps[i-1]) / total)
			}
			if k < 1 {
				k = 1
			}
			if k > remaining-(segs-i) {
				k = remaining - (segs - i)
			}
			remaining -= k

			from, to := wps[i-1], wps[i]
			for j := 1; j < k; j++ {
				p := from + (to-from)*float64(j)/float64(k)
				p += (f.rng.Float64()*2 - 1) * f.cfg.NoiseFrac * bar.Range()
				prices = append(prices, clamp(p, bar.Low, bar.High))
			}
			prices = append(prices, to)
		}
	}

	ticks := make([]market.Tick, len(prices))
	step := d / time.Duration(len(prices))
	vol := bar.Volume / float64(len(prices))
	for i, p := range prices {
		ticks[i] = market.Tick{
			Time:   bar.Time.Add(step * time.Duration(i)),
			Price:  p,
			Volume: vol,
		}
	}
	// last tick is the close by construction of waypoints
	return ticks
}

// tickCount scales with the bar's relative range: more ticks for wider bars.
func (f *Former) tickCount(bar market.Bar, minTicks int) int {
	n := f.cfg.BaseTicks
	if bar.Open > 0 {
		n += int(bar.Range() / bar.Open * 1000)
	}
	if n > f.cfg.MaxTicks {
		n = f.cfg.MaxTicks
	}
	if n < minTicks {
		n = minTicks
	}
	if n < 1 {
		n = 1
	}
	return n
}

// waypoints returns the ordered price pivots the path must touch exactly:
// open first, close last, both extremes in between when they extend past the
// body. A flat bar degenerates to the single close tick.
func waypoints(b market.Bar) []float64 {
	if b.Flat() && b.Open == b.Close {
		return []float64{b.Close}
	}

	wp := []float64{b.Open}
	switch {
	case b.Close > b.Open: // bullish: dip first, then run
		if b.Low < b.Open {
			wp = append(wp, b.Low)
		}
		if b.High > b.Close {
			wp = append(wp, b.High)
		}
	case b.Close < b.Open: // bearish: mirror image
		if b.High > b.Open {
			wp = append(wp, b.High)
		}
		if b.Low < b.Close {
			wp = append(wp, b.Low)
		}
	default: // doji: visit the nearer extreme first
		if b.Open-b.Low <= b.High-b.Open {
			if b.Low < b.Open {
				wp = append(wp, b.Low)
			}
			if b.High > b.Open {
				wp = append(wp, b.High)
			}
		} else {
			if b.High > b.Open {
				wp = append(wp, b.High)
			}
			if b.Low < b.Open {
				wp = append(wp, b.Low)
			}
		}
	}
	return append(wp, b.Close)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
