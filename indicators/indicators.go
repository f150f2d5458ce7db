// Package indicators provides streaming technical indicators and a memoizing
// provider for per-bar strategy lookups.
package indicators

import (
	"fmt"

	"github.com/rustyeddy/simex/market"
)

// Indicator computes a single streaming value from closed bars. It is
// deterministic: the same bar sequence always yields the same values.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current value; callers should check Ready() first.
	Value() float64
}

// SMA is a streaming simple moving average of closes.
type SMA struct {
	period int
	window []float64
	sum    float64
	idx    int
	count  int
}

func NewSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, period)}
}

func (s *SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.period) }
func (s *SMA) Warmup() int  { return s.period }

func (s *SMA) Reset() {
	for i := range s.window {
		s.window[i] = 0
	}
	s.sum, s.idx, s.count = 0, 0, 0
}

func (s *SMA) Update(b market.Bar) {
	s.sum += b.Close - s.window[s.idx]
	s.window[s.idx] = b.Close
	s.idx = (s.idx + 1) % s.period
	if s.count < s.period {
		s.count++
	}
}

func (s *SMA) Ready() bool { return s.count >= s.period }

func (s *SMA) Value() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// EMA is a streaming exponential moving average of closes, seeded with the
// SMA of the first period's closes.
type EMA struct {
	period int
	k      float64
	value  float64
	seed   float64
	count  int
}

func NewEMA(period int) *EMA {
	return &EMA{period: period, k: 2.0 / float64(period+1)}
}

func (e *EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *EMA) Warmup() int  { return e.period }

func (e *EMA) Reset() {
	e.value, e.seed, e.count = 0, 0, 0
}

func (e *EMA) Update(b market.Bar) {
	e.count++
	if e.count <= e.period {
		e.seed += b.Close
		e.value = e.seed / float64(e.count)
		return
	}
	e.value = (b.Close-e.value)*e.k + e.value
}

func (e *EMA) Ready() bool    { return e.count >= e.period }
func (e *EMA) Value() float64 { return e.value }
