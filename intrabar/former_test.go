package intrabar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/simex/market"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func drain(t *testing.T, f *Former) []market.Tick {
	t.Helper()
	var out []market.Tick
	for {
		tick, ok := f.NextTick()
		if !ok {
			break
		}
		out = append(out, tick)
	}
	return out
}

func checkReconstruction(t *testing.T, bar market.Bar, ticks []market.Tick) {
	t.Helper()
	require.NotEmpty(t, ticks)

	lo, hi := ticks[0].Price, ticks[0].Price
	for _, tk := range ticks {
		if tk.Price < lo {
			lo = tk.Price
		}
		if tk.Price > hi {
			hi = tk.Price
		}
	}
	assert.Equal(t, bar.Open, ticks[0].Price, "first tick is the open")
	assert.Equal(t, bar.Close, ticks[len(ticks)-1].Price, "last tick is the close")
	assert.Equal(t, bar.Low, lo, "min tick price is the low")
	assert.Equal(t, bar.High, hi, "max tick price is the high")

	for i := 1; i < len(ticks); i++ {
		assert.True(t, ticks[i].Time.After(ticks[i-1].Time), "timestamps monotonic")
	}
}

func TestSynthetic_Reconstruction(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{
		{Time: t0, Open: 100, High: 112, Low: 99, Close: 108, Volume: 900},  // bullish
		{Time: t0, Open: 108, High: 109, Low: 98, Close: 100, Volume: 900},  // bearish
		{Time: t0, Open: 100, High: 104, Low: 97, Close: 100, Volume: 900},  // doji
		{Time: t0, Open: 100, High: 100, Low: 95, Close: 96, Volume: 900},   // high == open
		{Time: t0, Open: 100, High: 106, Low: 100, Close: 104, Volume: 900}, // low == open
	}
	for _, bar := range bars {
		f := New(Config{Seed: 42, NoiseFrac: 0.2}, nil, nil)
		_, err := f.Start(bar, time.Hour)
		require.NoError(t, err)
		checkReconstruction(t, bar, drain(t, f))
	}
}

func TestSynthetic_BullishVisitsLowBeforeHigh(t *testing.T) {
	t.Parallel()

	bar := market.Bar{Time: t0, Open: 100, High: 112, Low: 99, Close: 108, Volume: 100}
	f := New(Config{Seed: 1}, nil, nil)
	_, err := f.Start(bar, time.Hour)
	require.NoError(t, err)
	ticks := drain(t, f)

	lowIdx, highIdx := -1, -1
	for i, tk := range ticks {
		if tk.Price == bar.Low && lowIdx == -1 {
			lowIdx = i
		}
		if tk.Price == bar.High && highIdx == -1 {
			highIdx = i
		}
	}
	require.NotEqual(t, -1, lowIdx)
	require.NotEqual(t, -1, highIdx)
	assert.Less(t, lowIdx, highIdx, "bullish path dips before it runs")
}

func TestSynthetic_FlatBarProducesOneTick(t *testing.T) {
	t.Parallel()

	bar := market.Bar{Time: t0, Open: 100, High: 100, Low: 100, Close: 100, Volume: 50}
	f := New(Config{Seed: 7}, nil, nil)
	_, err := f.Start(bar, time.Hour)
	require.NoError(t, err)

	ticks := drain(t, f)
	require.Len(t, ticks, 1)
	assert.Equal(t, 100.0, ticks[0].Price)
	assert.True(t, f.Forming().Complete)
}

func TestSynthetic_Deterministic(t *testing.T) {
	t.Parallel()

	bar := market.Bar{Time: t0, Open: 100, High: 112, Low: 99, Close: 108, Volume: 900}

	gen := func() []market.Tick {
		f := New(Config{Seed: 99, NoiseFrac: 0.3}, nil, nil)
		_, err := f.Start(bar, time.Hour)
		require.NoError(t, err)
		return drain(t, f)
	}
	assert.Equal(t, gen(), gen(), "same seed, same ticks")
}

func TestFormingBar_WidenOnly(t *testing.T) {
	t.Parallel()

	bar := market.Bar{Time: t0, Open: 100, High: 112, Low: 99, Close: 108, Volume: 900}
	f := New(Config{Seed: 3}, nil, nil)
	fb, err := f.Start(bar, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, fb.TickCount)

	prevHigh, prevLow := 0.0, 0.0
	count := 0
	for {
		tick, ok := f.NextTick()
		if !ok {
			break
		}
		fb := f.Forming()
		count++
		assert.Equal(t, count, fb.TickCount)
		assert.Equal(t, tick.Price, fb.Close, "close tracks the latest tick")
		if count > 1 {
			assert.GreaterOrEqual(t, fb.High, prevHigh, "high widens only")
			assert.LessOrEqual(t, fb.Low, prevLow, "low widens only")
		}
		prevHigh, prevLow = fb.High, fb.Low
	}

	final := f.Forming()
	assert.True(t, final.Complete)
	frozen := final.Bar()
	assert.Equal(t, bar.Open, frozen.Open)
	assert.Equal(t, bar.High, frozen.High)
	assert.Equal(t, bar.Low, frozen.Low)
	assert.Equal(t, bar.Close, frozen.Close)
	assert.InDelta(t, bar.Volume, frozen.Volume, 1e-6, "per-tick volume sums back to the bar")
}

// fakeSource serves canned lower-timeframe bars.
type fakeSource struct {
	bars map[string][]market.Bar
	errs map[string]error
}

func (s *fakeSource) Bars(tf market.Timeframe, from, to time.Time) ([]market.Bar, error) {
	if err := s.errs[tf.Key]; err != nil {
		return nil, err
	}
	return s.bars[tf.Key], nil
}

func TestRealData_PreferredOverSynthetic(t *testing.T) {
	t.Parallel()

	m15, _ := market.ParseTimeframe("15m")
	bar := market.Bar{Time: t0, Open: 100, High: 104, Low: 99, Close: 103, Volume: 300}
	src := &fakeSource{bars: map[string][]market.Bar{
		"15m": {
			{Time: t0, Open: 100, High: 101, Low: 99, Close: 99.5, Volume: 100},
			{Time: t0.Add(15 * time.Minute), Open: 99.5, High: 102, Low: 99.5, Close: 101, Volume: 100},
			{Time: t0.Add(30 * time.Minute), Open: 101, High: 104, Low: 101, Close: 103, Volume: 100},
		},
	}}

	f := New(Config{Seed: 5, Hierarchy: []market.Timeframe{m15}}, src, nil)
	_, err := f.Start(bar, time.Hour)
	require.NoError(t, err)
	ticks := drain(t, f)

	require.Len(t, ticks, 9, "three ticks per sub-bar")
	assert.Equal(t, 100.0, ticks[0].Price, "first sub-bar open")
	assert.Equal(t, 100.0, ticks[1].Price, "midpoint of first sub-bar")
	assert.Equal(t, bar.Close, ticks[8].Price, "last tick forced to the target close")
}

func TestRealData_FallsThroughHierarchyToSynthetic(t *testing.T) {
	t.Parallel()

	m15, _ := market.ParseTimeframe("15m")
	m5, _ := market.ParseTimeframe("5m")
	bar := market.Bar{Time: t0, Open: 100, High: 104, Low: 99, Close: 103, Volume: 300}

	src := &fakeSource{
		bars: map[string][]market.Bar{},
		errs: map[string]error{"15m": errors.New("store offline")},
	}

	f := New(Config{Seed: 5, Hierarchy: []market.Timeframe{m15, m5}}, src, nil)
	_, err := f.Start(bar, time.Hour)
	require.NoError(t, err, "data errors degrade, never fail the run")

	checkReconstruction(t, bar, drain(t, f))
}

func TestStart_RejectsBadInput(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	_, err := f.Start(market.Bar{Time: t0, Open: 100, High: 99, Low: 99, Close: 100}, time.Hour)
	require.Error(t, err)

	_, err = f.Start(market.Bar{Time: t0, Open: 100, High: 101, Low: 99, Close: 100}, 0)
	require.Error(t, err)
}
