package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("market", func(t *testing.T) {
		require.NoError(t, NewMarket(Buy, 10).Validate())
		require.Error(t, NewMarket(Buy, 0).Validate())
		require.Error(t, NewMarket(Buy, -5).Validate())
	})

	t.Run("limit", func(t *testing.T) {
		require.NoError(t, NewLimit(Sell, 1, 101.5).Validate())
		require.Error(t, NewLimit(Sell, 1, 0).Validate())
	})

	t.Run("stop", func(t *testing.T) {
		require.NoError(t, NewStop(Sell, 1, 95).Validate())
		require.Error(t, NewStop(Sell, 1, 0).Validate())
	})

	t.Run("stop limit", func(t *testing.T) {
		require.NoError(t, NewStopLimit(Buy, 1, 105, 106).Validate())
		require.Error(t, NewStopLimit(Buy, 1, 105, 0).Validate())
		require.Error(t, NewStopLimit(Buy, 1, 0, 106).Validate())
	})

	t.Run("variant carries only its fields", func(t *testing.T) {
		o := NewMarket(Buy, 1)
		o.Limit = 100
		require.Error(t, o.Validate())

		o = NewLimit(Buy, 1, 100)
		o.Stop = 99
		require.Error(t, o.Validate())
	})

	t.Run("bad side", func(t *testing.T) {
		o := Order{Side: 0, Kind: Market, Quantity: 1}
		require.Error(t, o.Validate())
	})
}

func TestSide(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
	assert.Equal(t, "BUY", Buy.String())
	assert.Equal(t, "SELL", Sell.String())
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, Pending.Terminal())
	assert.False(t, PartiallyFilled.Terminal())
	assert.True(t, Filled.Terminal())
	assert.True(t, Cancelled.Terminal())
	assert.True(t, Rejected.Terminal())
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	o := NewMarket(Buy, 10)
	o.FilledQty = 4
	assert.Equal(t, 6.0, o.Remaining())
}
