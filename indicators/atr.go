package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/simex/market"
)

// ATR is a streaming Average True Range with Wilder smoothing. The first
// period's true ranges are averaged for the initial value.
type ATR struct {
	period    int
	value     float64
	warmupSum float64
	prevClose float64
	count     int // true ranges seen
	hasPrev   bool
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

// Warmup is period+1 bars: the first bar only establishes the previous close.
func (a *ATR) Warmup() int { return a.period + 1 }

func (a *ATR) Reset() {
	a.value, a.warmupSum, a.prevClose = 0, 0, 0
	a.count, a.hasPrev = 0, false
}

func (a *ATR) Update(b market.Bar) {
	if !a.hasPrev {
		a.prevClose = b.Close
		a.hasPrev = true
		return
	}

	tr := trueRange(b, a.prevClose)
	a.prevClose = b.Close
	a.count++

	if a.count <= a.period {
		a.warmupSum += tr
		a.value = a.warmupSum / float64(a.count)
		return
	}
	// Wilder's smoothing
	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
}

func (a *ATR) Ready() bool    { return a.count >= a.period }
func (a *ATR) Value() float64 { return a.value }

func trueRange(b market.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if hc := math.Abs(b.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(b.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}
