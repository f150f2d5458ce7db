package market

import (
	"fmt"
	"time"
)

// Bar represents OHLC(V) candlestick data for a fixed time interval.
// Bars are immutable once produced; nothing in this package mutates one.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Bullish reports whether the bar closed at or above its open.
func (b Bar) Bullish() bool { return b.Close >= b.Open }

// Range returns the high-low spread of the bar.
func (b Bar) Range() float64 { return b.High - b.Low }

// Flat reports whether the bar never moved (high == low).
func (b Bar) Flat() bool { return b.High == b.Low }

// BodyLow returns min(open, close).
func (b Bar) BodyLow() float64 {
	if b.Open < b.Close {
		return b.Open
	}
	return b.Close
}

// BodyHigh returns max(open, close).
func (b Bar) BodyHigh() float64 {
	if b.Open > b.Close {
		return b.Open
	}
	return b.Close
}

// Validate checks the OHLC consistency invariant:
// low <= min(open,close) <= max(open,close) <= high.
func (b Bar) Validate() error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar %s: non-positive price", b.Time.Format(time.RFC3339))
	}
	if b.Low > b.BodyLow() {
		return fmt.Errorf("bar %s: low %.6f above body", b.Time.Format(time.RFC3339), b.Low)
	}
	if b.High < b.BodyHigh() {
		return fmt.Errorf("bar %s: high %.6f below body", b.Time.Format(time.RFC3339), b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume", b.Time.Format(time.RFC3339))
	}
	return nil
}

// ValidateSeries checks every bar plus series-level ordering: timestamps must
// be strictly ascending with no duplicates.
func ValidateSeries(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("series index %d: %w", i, err)
		}
		if i > 0 && !bars[i-1].Time.Before(b.Time) {
			return fmt.Errorf("series index %d: timestamp %s not after previous %s",
				i, b.Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// CloneBars returns a defensive copy of the slice. Bars are value types, so a
// shallow copy is a full copy.
func CloneBars(bars []Bar) []Bar {
	if bars == nil {
		return nil
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out
}
