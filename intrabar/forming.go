// Package intrabar turns one OHLC bar into an ordered sequence of sub-bar
// ticks so order matching can decide which intra-bar level was touched first.
// Real lower-timeframe data is preferred when a source can provide it;
// otherwise a deterministic synthetic path through the bar's extremes is
// generated.
package intrabar

import (
	"time"

	"github.com/rustyeddy/simex/market"
)

// FormingBar is a bar under construction from an in-progress tick sequence.
// High/low only widen, close always tracks the latest tick. Once Complete it
// is frozen and convertible to a finished Bar.
type FormingBar struct {
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	TickCount int
	Complete  bool
	StartTime time.Time
	EndTime   time.Time
}

// Bar freezes the forming bar into a completed Bar. Only meaningful once
// Complete is true.
func (fb FormingBar) Bar() market.Bar {
	return market.Bar{
		Time:   fb.Time,
		Open:   fb.Open,
		High:   fb.High,
		Low:    fb.Low,
		Close:  fb.Close,
		Volume: fb.Volume,
	}
}

// apply folds one tick into the forming bar.
func (fb *FormingBar) apply(t market.Tick) {
	if fb.TickCount == 0 {
		fb.Open = t.Price
		fb.High = t.Price
		fb.Low = t.Price
	}
	if t.Price > fb.High {
		fb.High = t.Price
	}
	if t.Price < fb.Low {
		fb.Low = t.Price
	}
	fb.Close = t.Price
	fb.Volume += t.Volume
	fb.TickCount++
}
