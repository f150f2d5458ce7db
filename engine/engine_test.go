package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/simex/bracket"
	"github.com/rustyeddy/simex/intrabar"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/match"
	"github.com/rustyeddy/simex/order"
	"github.com/rustyeddy/simex/strategy"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func hourBars(bars ...market.Bar) []market.Bar {
	for i := range bars {
		bars[i].Time = t0.Add(time.Duration(i) * time.Hour)
	}
	return bars
}

func newTickEngine(t *testing.T, bars []market.Bar) *Engine {
	t.Helper()
	e := New(Config{
		InitialBalance: 10_000,
		BarDuration:    time.Hour,
		TickLevel:      true,
	}, nil, nil)
	require.NoError(t, e.LoadData(bars))
	return e
}

func runToEnd(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Start())
	for {
		bar, err := e.ProcessNextBar()
		require.NoError(t, err)
		if bar == nil {
			return
		}
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	bars := hourBars(market.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10})
	e := newTickEngine(t, bars)

	assert.Equal(t, Idle, e.State().Status)
	require.Error(t, e.Pause(), "nothing running yet")
	require.Error(t, e.Resume())

	var events []EventType
	e.SubscribeAll(func(ev Event) { events = append(events, ev.Type) })

	require.NoError(t, e.Start())
	require.Error(t, e.Start(), "double start")
	require.NoError(t, e.Pause())
	_, err := e.ProcessNextBar()
	require.Error(t, err, "paused engine does not advance")
	require.NoError(t, e.Resume())

	bar, err := e.ProcessNextBar()
	require.NoError(t, err)
	require.NotNil(t, bar)
	assert.Equal(t, bars[0], *bar)

	// cursor at the end: nil bar and auto-stop
	bar, err = e.ProcessNextBar()
	require.NoError(t, err)
	assert.Nil(t, bar)
	assert.Equal(t, Stopped, e.State().Status)

	assert.Equal(t, EventStarted, events[0])
	assert.Equal(t, EventPaused, events[1])
	assert.Equal(t, EventResumed, events[2])
	assert.Equal(t, EventCompleted, events[len(events)-1])
}

func TestBracketScenario_TakeProfitBeforeStop(t *testing.T) {
	t.Parallel()

	// Canonical bullish path visits the low before the high, so a bar
	// spanning both exit levels must resolve to the take-profit.
	bars := hourBars(market.Bar{Open: 100, High: 112, Low: 99, Close: 108, Volume: 1000})
	e := newTickEngine(t, bars)

	var events []EventType
	e.SubscribeAll(func(ev Event) { events = append(events, ev.Type) })

	b, err := e.SubmitBracket(bracket.Config{
		Side:       order.Buy,
		Quantity:   10,
		EntryKind:  order.Market,
		StopLoss:   95,
		TakeProfit: 110,
	})
	require.NoError(t, err)

	runToEnd(t, e)

	got, ok := e.Bracket(b.ID)
	require.True(t, ok)
	assert.Equal(t, bracket.Completed, got.Status)
	assert.Equal(t, bracket.ExitTakeProfit, got.ExitReason)
	assert.InDelta(t, 100.0, got.EntryFillPrice, 1e-9, "market entry at the open tick")
	assert.InDelta(t, 100.0, got.RealizedPnL, 5.0, "(~110-100)*10")

	assert.Contains(t, events, EventTakeTriggered)
	assert.NotContains(t, events, EventStopTriggered)

	st := e.State()
	trades := st.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, got.RealizedPnL, trades[0].PnL)
	assert.False(t, trades[0].Open)
	assert.Empty(t, st.OpenPositions())

	// balance = initial - entry cash + exit cash
	want := 10_000 - 100.0*10 + got.ExitFillPrice*10
	assert.InDelta(t, want, st.Balance, 1e-9)
}

func TestBracketScenario_StopLossOnBearishBar(t *testing.T) {
	t.Parallel()

	// bearish path: open -> high -> low -> close, so the stop fires
	bars := hourBars(market.Bar{Open: 100, High: 104, Low: 90, Close: 92, Volume: 1000})
	e := newTickEngine(t, bars)

	b, err := e.SubmitBracket(bracket.Config{
		Side: order.Buy, Quantity: 10, EntryKind: order.Market,
		StopLoss: 95, TakeProfit: 110,
	})
	require.NoError(t, err)

	runToEnd(t, e)

	got, _ := e.Bracket(b.ID)
	assert.Equal(t, bracket.Completed, got.Status)
	assert.Equal(t, bracket.ExitStopLoss, got.ExitReason)
	assert.Negative(t, got.RealizedPnL)
}

func TestBracketScenario_ExpiredPartialEntryKeepsExits(t *testing.T) {
	t.Parallel()

	// The limit entry fills 4 of 10 on the first bar, expires on the second,
	// and the take-profit for the filled units fires on the third.
	bars := hourBars(
		market.Bar{Open: 100, High: 101, Low: 98, Close: 100, Volume: 500},
		market.Bar{Open: 100, High: 101, Low: 99.5, Close: 100, Volume: 500},
		market.Bar{Open: 100, High: 112, Low: 100, Close: 108, Volume: 500},
	)
	e := New(Config{
		InitialBalance: 10_000,
		BarDuration:    time.Hour,
		Match:          match.Config{AllowPartial: true, MaxFillPerTick: 4},
	}, nil, nil)
	require.NoError(t, e.LoadData(bars))

	b, err := e.SubmitBracket(bracket.Config{
		Side:       order.Buy,
		Quantity:   10,
		EntryKind:  order.Limit,
		EntryLimit: 99,
		StopLoss:   95,
		TakeProfit: 110,
		ExpiresAt:  t0.Add(time.Hour),
	})
	require.NoError(t, err)

	runToEnd(t, e)

	got, ok := e.Bracket(b.ID)
	require.True(t, ok)
	assert.Equal(t, bracket.Completed, got.Status, "promoted bracket reaches a terminal state")
	assert.Equal(t, bracket.ExitTakeProfit, got.ExitReason)
	assert.Equal(t, 4.0, got.EntryFillQty)
	assert.Equal(t, 4.0, got.ExitFillQty, "exits sized to the filled units")
	assert.InDelta(t, (110-99)*4.0, got.RealizedPnL, 1e-9)

	st := e.State()
	assert.Empty(t, st.OpenPositions(), "no orphaned units after the expiry")
	trades := st.ClosedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, 4.0, trades[0].Size)
	assert.InDelta(t, 10_000-99*4.0+110*4.0, st.Balance, 1e-9)
}

func TestBalanceConservation(t *testing.T) {
	t.Parallel()

	bars := hourBars(
		market.Bar{Open: 100, High: 112, Low: 99, Close: 108, Volume: 500},
		market.Bar{Open: 108, High: 115, Low: 107, Close: 112, Volume: 500},
	)
	e := newTickEngine(t, bars)

	flow := 0.0
	e.Subscribe(EventOrderFilled, func(ev Event) {
		p := ev.Payload.(FillPayload)
		if p.Order.Side == order.Buy {
			flow -= p.Fill.Price * p.Fill.Quantity
		} else {
			flow += p.Fill.Price * p.Fill.Quantity
		}
	})

	_, err := e.SubmitBracket(bracket.Config{
		Side: order.Buy, Quantity: 10, EntryKind: order.Market,
		StopLoss: 95, TakeProfit: 110,
	})
	require.NoError(t, err)

	runToEnd(t, e)
	assert.InDelta(t, 10_000+flow, e.State().Balance, 1e-9,
		"balance moves only by signed fill cash flows")
}

func TestDeterminism(t *testing.T) {
	t.Parallel()

	bars := hourBars(
		market.Bar{Open: 100, High: 112, Low: 99, Close: 108, Volume: 500},
		market.Bar{Open: 108, High: 110, Low: 101, Close: 103, Volume: 500},
		market.Bar{Open: 103, High: 109, Low: 102, Close: 107, Volume: 500},
	)

	run := func() State {
		e := newTickEngine(t, bars)
		_, err := e.SubmitBracket(bracket.Config{
			Side: order.Buy, Quantity: 7, EntryKind: order.Market,
			StopLoss: 96, TakeProfit: 109,
		})
		require.NoError(t, err)
		runToEnd(t, e)
		return e.State()
	}

	a, b := run(), run()
	assert.Equal(t, a.Balance, b.Balance)
	assert.Equal(t, len(a.Orders), len(b.Orders))
	assert.Equal(t, len(a.ClosedTrades()), len(b.ClosedTrades()))
}

func TestCopyOnWrite_SnapshotsNeverTear(t *testing.T) {
	t.Parallel()

	bars := hourBars(market.Bar{Open: 100, High: 112, Low: 99, Close: 108, Volume: 500})
	e := newTickEngine(t, bars)

	before := e.State()
	_, err := e.SubmitBracket(bracket.Config{
		Side: order.Buy, Quantity: 10, EntryKind: order.Market,
		StopLoss: 95, TakeProfit: 110,
	})
	require.NoError(t, err)
	runToEnd(t, e)

	assert.Equal(t, 10_000.0, before.Balance, "old snapshot untouched")
	assert.Empty(t, before.Orders)

	var snapshots []State
	e2 := newTickEngine(t, bars)
	e2.OnStateChange(func(s State) { snapshots = append(snapshots, s) })
	require.NoError(t, e2.Start())
	_, err = e2.ProcessNextBar()
	require.NoError(t, err)

	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].Cursor, snapshots[i-1].Cursor)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	bars := hourBars(market.Bar{Open: 100, High: 112, Low: 99, Close: 108, Volume: 500})
	e := newTickEngine(t, bars)
	_, err := e.SubmitBracket(bracket.Config{
		Side: order.Buy, Quantity: 10, EntryKind: order.Market,
		StopLoss: 95, TakeProfit: 110,
	})
	require.NoError(t, err)
	runToEnd(t, e)
	require.NotEqual(t, 10_000.0, e.State().Balance)

	e.Reset()
	st := e.State()
	assert.Equal(t, Idle, st.Status)
	assert.Equal(t, 10_000.0, st.Balance)
	assert.Empty(t, st.Orders)
	assert.Empty(t, st.Trades)
	assert.Zero(t, st.Cursor)
	assert.Equal(t, bars, st.Bars, "loaded data survives a reset")
	assert.Empty(t, e.Brackets())
}

func TestReset_ReplayIsDeterministic(t *testing.T) {
	t.Parallel()

	// Noisy synthesis exercises the seeded RNG; a reset run must reproduce
	// the exact same tick path and therefore the same fills.
	bars := hourBars(market.Bar{Open: 100, High: 112, Low: 99, Close: 108, Volume: 1000})
	e := New(Config{
		InitialBalance: 10_000,
		BarDuration:    time.Hour,
		TickLevel:      true,
		Intrabar:       intrabar.Config{NoiseFrac: 0.3, Seed: 7},
	}, nil, nil)
	require.NoError(t, e.LoadData(bars))

	cfg := bracket.Config{
		Side: order.Buy, Quantity: 10, EntryKind: order.Market,
		StopLoss: 95, TakeProfit: 110,
	}

	run := func() (float64, float64) {
		b, err := e.SubmitBracket(cfg)
		require.NoError(t, err)
		runToEnd(t, e)
		got, ok := e.Bracket(b.ID)
		require.True(t, ok)
		require.Equal(t, bracket.Completed, got.Status)
		return got.ExitFillPrice, e.State().Balance
	}

	exit1, bal1 := run()
	e.Reset()
	exit2, bal2 := run()

	assert.Equal(t, exit1, exit2, "same seed, same exit fill after a reset")
	assert.Equal(t, bal1, bal2)
}

func TestSubmitOrder_ValidationAndCancel(t *testing.T) {
	t.Parallel()

	bars := hourBars(market.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10})
	e := newTickEngine(t, bars)

	_, err := e.SubmitOrder(order.NewLimit(order.Buy, -1, 95))
	require.Error(t, err, "non-positive quantity never reaches matching")

	o, err := e.SubmitOrder(order.NewLimit(order.Buy, 5, 95))
	require.NoError(t, err)
	require.NotEmpty(t, o.ID)

	assert.True(t, e.CancelOrder(o.ID))
	assert.False(t, e.CancelOrder(o.ID), "already cancelled is a no-op")
	assert.False(t, e.CancelOrder("ghost"))

	st := e.State()
	assert.Equal(t, order.Cancelled, st.Orders[o.ID].Status)
}

func TestLoadData_Guards(t *testing.T) {
	t.Parallel()

	bars := hourBars(market.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10})
	e := newTickEngine(t, bars)

	out := []market.Bar{
		{Time: t0.Add(time.Hour), Open: 1, High: 1, Low: 1, Close: 1},
		{Time: t0, Open: 1, High: 1, Low: 1, Close: 1},
	}
	require.Error(t, e.LoadData(out), "out-of-order series rejected")

	require.NoError(t, e.Start())
	require.Error(t, e.LoadData(bars), "no reload mid-run")
}

// signalOnce submits one bracket after the first bar it sees.
type signalOnce struct {
	cfg  bracket.Config
	done bool
}

func (s *signalOnce) Name() string { return "signal-once" }

func (s *signalOnce) Execute(strategy.Context) (strategy.Actions, error) {
	if s.done {
		return strategy.Actions{}, nil
	}
	s.done = true
	return strategy.Actions{Brackets: []bracket.Config{s.cfg}}, nil
}

func TestStrategyHook_IntentsApplyNextBar(t *testing.T) {
	t.Parallel()

	bars := hourBars(
		market.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		market.Bar{Open: 100, High: 112, Low: 99, Close: 108, Volume: 10},
	)
	e := newTickEngine(t, bars)
	e.SetStrategy(&signalOnce{cfg: bracket.Config{
		Side: order.Buy, Quantity: 10, EntryKind: order.Market,
		StopLoss: 95, TakeProfit: 110,
	}})

	runToEnd(t, e)

	brs := e.Brackets()
	require.Len(t, brs, 1)
	assert.Equal(t, bracket.Completed, brs[0].Status)
	assert.Equal(t, bracket.ExitTakeProfit, brs[0].ExitReason)
}

// failingStrategy always errors.
type failingStrategy struct{}

func (failingStrategy) Name() string { return "boom" }

func (failingStrategy) Execute(strategy.Context) (strategy.Actions, error) {
	return strategy.Actions{}, errors.New("bad signal")
}

func TestStrategyHook_ErrorSurfaces(t *testing.T) {
	t.Parallel()

	bars := hourBars(market.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10})
	e := newTickEngine(t, bars)
	e.SetStrategy(failingStrategy{})
	require.NoError(t, e.Start())

	_, err := e.ProcessNextBar()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestBusDisposer(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var got int
	off := b.Subscribe(EventBarProcessed, func(Event) { got++ })
	b.Publish(Event{Type: EventBarProcessed})
	off()
	b.Publish(Event{Type: EventBarProcessed})
	assert.Equal(t, 1, got)

	var all int
	offAll := b.SubscribeAll(func(Event) { all++ })
	b.Publish(Event{Type: EventOrderFilled})
	offAll()
	b.Publish(Event{Type: EventOrderFilled})
	assert.Equal(t, 1, all)
}
