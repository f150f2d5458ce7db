package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/order"
)

func barAt(i int, close float64) market.Bar {
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	return market.Bar{
		Time: t0.Add(time.Duration(i) * time.Hour),
		Open: close, High: close, Low: close, Close: close,
	}
}

func feed(t *testing.T, s Strategy, closes []float64, positions []Position) Actions {
	t.Helper()
	var last Actions
	for i, c := range closes {
		acts, err := s.Execute(Context{Bar: barAt(i, c), Positions: positions})
		require.NoError(t, err)
		last = acts
	}
	return last
}

func TestEMACross_EntersLongOnBullishCross(t *testing.T) {
	t.Parallel()

	s, err := NewEMACross(EMACrossConfig{FastPeriod: 2, SlowPeriod: 4, Quantity: 5, StopFrac: 0.05, RR: 2})
	require.NoError(t, err)

	// drift down to set a negative diff, then jump to force the cross
	acts := feed(t, s, []float64{100, 99, 98, 97, 96, 95, 120}, nil)
	require.Len(t, acts.Brackets, 1)

	b := acts.Brackets[0]
	assert.Equal(t, order.Buy, b.Side)
	assert.Equal(t, 5.0, b.Quantity)
	assert.InDelta(t, 120*0.95, b.StopLoss, 1e-9)
	assert.InDelta(t, 120*1.10, b.TakeProfit, 1e-9, "take-profit at RR times the stop distance")
}

func TestEMACross_EntersShortOnBearishCross(t *testing.T) {
	t.Parallel()

	s, err := NewEMACross(EMACrossConfig{FastPeriod: 2, SlowPeriod: 4})
	require.NoError(t, err)

	acts := feed(t, s, []float64{100, 101, 102, 103, 104, 105, 80}, nil)
	require.Len(t, acts.Brackets, 1)
	assert.Equal(t, order.Sell, acts.Brackets[0].Side)
}

func TestEMACross_NoSignalWithoutCross(t *testing.T) {
	t.Parallel()

	s, err := NewEMACross(EMACrossConfig{FastPeriod: 2, SlowPeriod: 4})
	require.NoError(t, err)

	acts := feed(t, s, []float64{100, 101, 102, 103, 104, 105, 106}, nil)
	assert.True(t, acts.Empty(), "steady trend, fast stays above slow")
}

func TestEMACross_HoldsWhilePositionOpen(t *testing.T) {
	t.Parallel()

	s, err := NewEMACross(EMACrossConfig{FastPeriod: 2, SlowPeriod: 4})
	require.NoError(t, err)

	open := []Position{{ID: "t1", Side: order.Sell, Size: 1}}
	acts := feed(t, s, []float64{100, 99, 98, 97, 96, 95, 120}, open)
	assert.True(t, acts.Empty(), "one bracket at a time")
}

func TestEMACross_SizesByRiskWhenConfigured(t *testing.T) {
	t.Parallel()

	s, err := NewEMACross(EMACrossConfig{
		FastPeriod: 2, SlowPeriod: 4, Quantity: 5, StopFrac: 0.05, RR: 2,
		RiskPct: 0.01,
	})
	require.NoError(t, err)

	closes := []float64{100, 99, 98, 97, 96, 95, 120}
	var last Actions
	for i, c := range closes {
		acts, err := s.Execute(Context{Bar: barAt(i, c), Balance: 10_000})
		require.NoError(t, err)
		last = acts
	}
	require.Len(t, last.Brackets, 1)

	// 1% of 10k over a 6-point stop distance, not the fixed quantity
	b := last.Brackets[0]
	assert.InDelta(t, 100.0/6.0, b.Quantity, 1e-9)
}

func TestEMACross_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewEMACross(EMACrossConfig{FastPeriod: 30, SlowPeriod: 10})
	require.Error(t, err)
}

func TestNewEMACrossFromParams(t *testing.T) {
	t.Parallel()

	s, err := NewEMACrossFromParams(map[string]any{
		"fastPeriod": 5, "slowPeriod": 20.0, "quantity": 2.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "ema-cross(5/20)", s.Name())

	_, err = NewEMACrossFromParams(map[string]any{"fastPeriod": 50, "slowPeriod": 10})
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	acts, err := Noop{}.Execute(Context{})
	require.NoError(t, err)
	assert.True(t, acts.Empty())
}
