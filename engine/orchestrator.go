// Package engine orchestrates one simulation run: it owns the state root,
// advances it bar by bar (or tick by tick through the bar former), routes
// matching results through the bracket manager, and publishes events. Every
// transition replaces the state wholesale so observers never see a torn
// intermediate.
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/simex/bracket"
	"github.com/rustyeddy/simex/indicators"
	"github.com/rustyeddy/simex/internal/id"
	"github.com/rustyeddy/simex/internal/logging"
	"github.com/rustyeddy/simex/intrabar"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/match"
	"github.com/rustyeddy/simex/order"
	"github.com/rustyeddy/simex/strategy"
)

// Config assembles one engine instance.
type Config struct {
	InitialBalance float64

	// BarDuration is the timeframe of the loaded bars.
	BarDuration time.Duration

	// TickLevel runs matching against synthesized sub-bar ticks instead of
	// whole bars, so same-bar stop/take ordering is resolved by the price
	// path rather than left ambiguous.
	TickLevel bool

	Match    match.Config
	Intrabar intrabar.Config

	// IndicatorCache bounds the memoized indicator entries; 0 uses the
	// provider default.
	IndicatorCache int
}

func (c Config) withDefaults() Config {
	if c.InitialBalance <= 0 {
		c.InitialBalance = 10_000
	}
	if c.BarDuration <= 0 {
		c.BarDuration = time.Hour
	}
	return c
}

type stateSub struct {
	id int
	fn func(State)
}

// Engine is single-writer: all transitions happen synchronously inside the
// calling goroutine, and callers must serialize access to one instance.
type Engine struct {
	cfg Config
	log *zap.Logger

	match    *match.Engine
	brackets *bracket.Manager
	former   *intrabar.Former
	bus      *Bus
	provider *indicators.Provider
	strat    strategy.Strategy

	state       *State
	stateSubs   []stateSub
	nextStateID int
	newID       func() string
}

// New builds an engine. src may be nil; tick synthesis then has no real-data
// path to prefer.
func New(cfg Config, src intrabar.Source, log *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	log = logging.Or(log)
	return &Engine{
		cfg:      cfg,
		log:      log,
		match:    match.NewEngine(cfg.Match, log),
		brackets: bracket.NewManager(log),
		former:   intrabar.New(cfg.Intrabar, src, log),
		bus:      NewBus(),
		provider: indicators.NewProvider(cfg.IndicatorCache),
		state:    newState(cfg.InitialBalance),
		newID:    id.New,
	}
}

// SetStrategy installs the per-bar hook. Pass nil to run signal-free.
func (e *Engine) SetStrategy(s strategy.Strategy) { e.strat = s }

// State returns the current immutable snapshot.
func (e *Engine) State() State { return *e.state }

// Subscribe registers a handler for one event type; the returned disposer
// removes it.
func (e *Engine) Subscribe(t EventType, fn Handler) func() { return e.bus.Subscribe(t, fn) }

// SubscribeAll registers a handler for every event type.
func (e *Engine) SubscribeAll(fn Handler) func() { return e.bus.SubscribeAll(fn) }

// OnStateChange registers fn to receive every new state snapshot,
// synchronously in the mutating call's context.
func (e *Engine) OnStateChange(fn func(State)) func() {
	e.nextStateID++
	sid := e.nextStateID
	e.stateSubs = append(e.stateSubs, stateSub{id: sid, fn: fn})
	return func() {
		for i, s := range e.stateSubs {
			if s.id == sid {
				e.stateSubs = append(e.stateSubs[:i:i], e.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// LoadData installs the bar series to replay. The series must be validated
// OHLC sorted ascending; the engine treats it as immutable from here on.
func (e *Engine) LoadData(bars []market.Bar) error {
	if e.state.Status == Running || e.state.Status == Paused {
		return fmt.Errorf("engine: cannot load data while %s", e.state.Status)
	}
	if err := market.ValidateSeries(bars); err != nil {
		return err
	}
	next := e.state.clone()
	next.Bars = bars
	next.Cursor = 0
	e.swap(next)
	return nil
}

// Start transitions to Running and emits backtest-started.
func (e *Engine) Start() error {
	if len(e.state.Bars) == 0 {
		return fmt.Errorf("engine: no data loaded")
	}
	if e.state.Status == Running || e.state.Status == Paused {
		return fmt.Errorf("engine: already started (%s)", e.state.Status)
	}
	next := e.state.clone()
	next.Status = Running
	e.swap(next)
	e.publish(EventStarted, e.now(), RunPayload{Status: Running, Balance: next.Balance})
	return nil
}

func (e *Engine) Pause() error {
	if e.state.Status != Running {
		return fmt.Errorf("engine: cannot pause while %s", e.state.Status)
	}
	next := e.state.clone()
	next.Status = Paused
	e.swap(next)
	e.publish(EventPaused, e.now(), RunPayload{Status: Paused, Balance: next.Balance})
	return nil
}

func (e *Engine) Resume() error {
	if e.state.Status != Paused {
		return fmt.Errorf("engine: cannot resume while %s", e.state.Status)
	}
	next := e.state.clone()
	next.Status = Running
	e.swap(next)
	e.publish(EventResumed, e.now(), RunPayload{Status: Running, Balance: next.Balance})
	return nil
}

func (e *Engine) Stop() error {
	if e.state.Status != Running && e.state.Status != Paused {
		return fmt.Errorf("engine: cannot stop while %s", e.state.Status)
	}
	next := e.state.clone()
	next.Status = Stopped
	e.swap(next)
	return nil
}

// Reset clears every collection, the matching book, all bracket bookkeeping
// and the tick synthesizer, and restores the initial balance. Loaded bars
// stay loaded, so a reset run replays identically.
func (e *Engine) Reset() {
	e.match.Reset()
	e.brackets.Reset()
	e.former.Reset()
	next := newState(e.cfg.InitialBalance)
	next.Bars = e.state.Bars
	e.swap(next)
}

// ProcessNextBar advances the simulation by one bar, returning the bar it
// processed. It returns nil exactly when the cursor has reached the end of
// the loaded data, which also stops the run.
func (e *Engine) ProcessNextBar() (*market.Bar, error) {
	if e.state.Status != Running {
		return nil, fmt.Errorf("engine: not running (%s)", e.state.Status)
	}

	next := e.state.clone()
	bar, ok := next.CurrentBar()
	if !ok {
		next.Status = Stopped
		e.swap(next)
		e.publish(EventCompleted, e.now(), RunPayload{Status: Stopped, Balance: next.Balance})
		return nil, nil
	}

	if e.cfg.TickLevel {
		if err := e.processTicks(next, bar); err != nil {
			return nil, err
		}
	} else {
		res := e.match.ProcessBar(bar)
		e.applyResult(next, res, bar.Time)
	}

	next.Cursor++
	e.publish(EventBarProcessed, bar.Time, BarPayload{Bar: bar})

	if e.strat != nil {
		if err := e.applyStrategy(next, bar); err != nil {
			e.swap(next)
			return &bar, err
		}
	}
	e.swap(next)
	return &bar, nil
}

// processTicks replays the bar as a tick sequence, matching after every tick
// so intra-bar level ordering is honored.
func (e *Engine) processTicks(next *State, bar market.Bar) error {
	fb, err := e.former.Start(bar, e.cfg.BarDuration)
	if err != nil {
		return err
	}
	next.Forming = &fb
	e.publish(EventBarForming, bar.Time, BarPayload{Bar: bar})

	for {
		tick, ok := e.former.NextTick()
		if !ok {
			break
		}
		res := e.match.ProcessTick(tick)
		e.applyResult(next, res, tick.Time)

		forming := e.former.Forming()
		next.Forming = &forming
		e.publish(EventBarUpdate, tick.Time, TickPayload{Tick: tick, Forming: forming})
	}

	frozen := e.former.Forming().Bar()
	next.Forming = nil
	e.publish(EventBarCompleted, bar.Time.Add(e.cfg.BarDuration), BarPayload{Bar: frozen})
	return nil
}

// applyResult folds one matching pass into the state: fills adjust cash and
// order records and advance brackets; cancellations notify the bracket
// bookkeeping.
func (e *Engine) applyResult(next *State, res match.Result, now time.Time) {
	for _, f := range res.Fills {
		e.applyFill(next, f, now)
	}
	for _, c := range res.Cancelled {
		e.applyCancel(next, c.Order, c.Reason, now)
	}
}

// applyCancel folds one cancellation into the state. A cancelled partially
// filled entry leaves real units behind: the bracket manager promotes it to
// the exit phase and the position opens at the filled quantity.
func (e *Engine) applyCancel(next *State, co order.Order, reason string, now time.Time) {
	before, inBracket := e.brackets.ByOrder(co.ID)
	cmds := e.brackets.OnCancel(co.ID, reason == "expired", now)
	next.recordOrder(co)
	e.publish(EventOrderCancelled, now, OrderPayload{Order: co, Reason: reason})
	if inBracket && co.Role == order.Entry {
		after, _ := e.brackets.ByOrder(co.ID)
		if after.Status == bracket.PendingExit && before.Status != bracket.PendingExit {
			e.openTrade(next, after, now)
		}
	}
	e.execCommands(next, cmds, now)
}

func (e *Engine) applyFill(next *State, f order.Fill, now time.Time) {
	o, known := next.Orders[f.OrderID]
	if !known {
		e.log.Warn("fill for unrecorded order", zap.String("order_id", f.OrderID))
		return
	}

	prev := o.FilledQty
	o.FilledQty += f.Quantity
	o.FillPrice = (o.FillPrice*prev + f.Price*f.Quantity) / o.FilledQty
	if f.Complete {
		o.Status = order.Filled
	} else {
		o.Status = order.PartiallyFilled
	}
	next.recordOrder(o)

	// The only balance mutation path: signed fill cash flow.
	if o.Side == order.Buy {
		next.Balance -= f.Price * f.Quantity
	} else {
		next.Balance += f.Price * f.Quantity
	}

	e.publish(EventOrderFilled, now, FillPayload{Order: o, Fill: f})

	// both snapshots must predate OnFill: it mutates live manager state
	before, inBracket := e.brackets.ByOrder(f.OrderID)
	var gBefore bracket.OCOGroup
	if inBracket {
		gBefore, _ = e.brackets.Group(before.OCOGroup)
	}
	cmds := e.brackets.OnFill(f, now)
	if inBracket {
		after, _ := e.brackets.ByOrder(f.OrderID)
		e.bracketTransitions(next, before, after, gBefore, o, now)
	}
	e.execCommands(next, cmds, now)
}

// bracketTransitions compares the bracket before and after the fill, emits
// the lifecycle events for whatever advanced, and keeps the trade ledger in
// step.
func (e *Engine) bracketTransitions(next *State, before, after bracket.Bracket, gBefore bracket.OCOGroup, o order.Order, now time.Time) {
	switch o.Role {
	case order.Entry:
		if after.Status != bracket.PendingExit || before.Status == bracket.PendingExit {
			return
		}
		e.publish(EventBracketEntryFilled, now, BracketPayload{Bracket: after})
		e.openTrade(next, after, now)

	case order.StopLoss, order.TakeProfit:
		// first touch of either leg flips the OCO group to triggered
		gAfter, ok := e.brackets.Group(after.OCOGroup)
		if ok && gBefore.Status == bracket.OCOActive && gAfter.Status == bracket.OCOTriggered {
			if o.Role == order.StopLoss {
				e.publish(EventStopTriggered, now, BracketPayload{Bracket: after})
			} else {
				e.publish(EventTakeTriggered, now, BracketPayload{Bracket: after})
			}
		}
		if after.Status != bracket.Completed {
			return
		}
		e.publish(EventBracketCompleted, now, BracketPayload{Bracket: after})
		e.closeTrade(next, after, now)
	}
}

// openTrade records the position opened by a bracket's (possibly partial)
// entry.
func (e *Engine) openTrade(next *State, b bracket.Bracket, now time.Time) {
	t := Trade{
		ID:         e.newID(),
		BracketID:  b.ID,
		Side:       b.Cfg.Side,
		Size:       b.EntryFillQty,
		EntryPrice: b.EntryFillPrice,
		EntryTime:  now,
		Open:       true,
	}
	next.Trades[t.ID] = t
	next.TradeIDs = append(next.TradeIDs, t.ID)
	next.Positions[t.ID] = t
}

func (e *Engine) closeTrade(next *State, b bracket.Bracket, now time.Time) {
	for tid, t := range next.Positions {
		if t.BracketID != b.ID {
			continue
		}
		t.ExitPrice = b.ExitFillPrice
		t.ExitTime = now
		t.PnL = b.RealizedPnL
		t.Open = false
		next.Trades[tid] = t
		delete(next.Positions, tid)
		return
	}
}

// execCommands carries out the bracket manager's decisions against the
// matching engine.
func (e *Engine) execCommands(next *State, cmds bracket.Commands, now time.Time) {
	for _, o := range cmds.Submit {
		if err := e.match.Submit(o); err != nil {
			e.log.Warn("bracket exit rejected by matching engine",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		o.Status = order.Pending
		next.recordOrder(o)
		e.publish(EventOrderSubmitted, now, OrderPayload{Order: o})
	}
	for _, oid := range cmds.Cancel {
		if co, ok := e.match.Cancel(oid); ok {
			e.brackets.OnCancel(oid, false, now)
			next.recordOrder(co)
			e.publish(EventOrderCancelled, now, OrderPayload{Order: co, Reason: "cancel"})
		}
	}
}

// applyStrategy hands the per-bar snapshot to the strategy hook and applies
// its intents. Submissions take effect on the next bar's matching pass.
func (e *Engine) applyStrategy(next *State, bar market.Bar) error {
	ctx := strategy.Context{
		Bar:        bar,
		History:    next.Bars[:next.Cursor],
		Balance:    next.Balance,
		Positions:  positionsView(next),
		Indicators: e.provider,
	}
	acts, err := e.strat.Execute(ctx)
	if err != nil {
		return fmt.Errorf("engine: strategy %s: %w", e.strat.Name(), err)
	}

	now := bar.Time.Add(e.cfg.BarDuration)
	for _, cfg := range acts.Brackets {
		if _, err := e.submitBracket(next, cfg, now); err != nil {
			return err
		}
	}
	for _, o := range acts.Orders {
		if _, err := e.submitOrder(next, o, now); err != nil {
			return err
		}
	}
	for _, oid := range acts.Cancels {
		e.cancelOrder(next, oid, now)
	}
	return nil
}

func positionsView(s *State) []strategy.Position {
	open := s.OpenPositions()
	out := make([]strategy.Position, len(open))
	for i, t := range open {
		out[i] = strategy.Position{
			ID:         t.ID,
			BracketID:  t.BracketID,
			Side:       t.Side,
			Size:       t.Size,
			EntryPrice: t.EntryPrice,
			EntryTime:  t.EntryTime,
		}
	}
	return out
}

// SubmitOrder validates and books a standalone order. Malformed orders are
// rejected here and never reach matching.
func (e *Engine) SubmitOrder(o order.Order) (order.Order, error) {
	next := e.state.clone()
	booked, err := e.submitOrder(next, o, e.now())
	if err != nil {
		return order.Order{}, err
	}
	e.swap(next)
	return booked, nil
}

func (e *Engine) submitOrder(next *State, o order.Order, now time.Time) (order.Order, error) {
	if o.ID == "" {
		o.ID = e.newID()
	}
	if o.SubmittedAt.IsZero() {
		o.SubmittedAt = now
	}
	if err := e.match.Submit(o); err != nil {
		return order.Order{}, err
	}
	o.Status = order.Pending
	next.recordOrder(o)
	e.publish(EventOrderSubmitted, now, OrderPayload{Order: o})
	return o, nil
}

// SubmitBracket opens a bracket: the entry order is booked immediately, the
// exit legs appear when the entry fills.
func (e *Engine) SubmitBracket(cfg bracket.Config) (bracket.Bracket, error) {
	next := e.state.clone()
	b, err := e.submitBracket(next, cfg, e.now())
	if err != nil {
		return bracket.Bracket{}, err
	}
	e.swap(next)
	return b, nil
}

func (e *Engine) submitBracket(next *State, cfg bracket.Config, now time.Time) (bracket.Bracket, error) {
	b, entry, err := e.brackets.Create(cfg, now)
	if err != nil {
		return bracket.Bracket{}, err
	}
	if err := e.match.Submit(entry); err != nil {
		return bracket.Bracket{}, err
	}
	entry.Status = order.Pending
	next.recordOrder(entry)
	e.publish(EventBracketCreated, now, BracketPayload{Bracket: b})
	e.publish(EventOrderSubmitted, now, OrderPayload{Order: entry})
	return b, nil
}

// CancelOrder cancels a pending order. Unknown or already terminal ids are a
// logged no-op reported as false.
func (e *Engine) CancelOrder(oid string) bool {
	next := e.state.clone()
	ok := e.cancelOrder(next, oid, e.now())
	if ok {
		e.swap(next)
	}
	return ok
}

func (e *Engine) cancelOrder(next *State, oid string, now time.Time) bool {
	co, ok := e.match.Cancel(oid)
	if !ok {
		return false
	}
	e.applyCancel(next, co, "cancel", now)
	return true
}

// Bracket returns the bracket by id.
func (e *Engine) Bracket(bid string) (bracket.Bracket, bool) { return e.brackets.Bracket(bid) }

// Brackets returns every bracket in creation order.
func (e *Engine) Brackets() []bracket.Bracket { return e.brackets.Brackets() }

// CancelBracket cancels whatever remains of a bracket.
func (e *Engine) CancelBracket(bid string) error {
	next := e.state.clone()
	cmds, err := e.brackets.CancelBracket(bid)
	if err != nil {
		return err
	}
	now := e.now()
	for _, oid := range cmds.Cancel {
		e.cancelOrder(next, oid, now)
	}
	e.swap(next)
	return nil
}

// now is the simulation clock: the time of the bar under the cursor, or the
// end of the last bar once the data is exhausted.
func (e *Engine) now() time.Time {
	if b, ok := e.state.CurrentBar(); ok {
		return b.Time
	}
	if n := len(e.state.Bars); n > 0 {
		return e.state.Bars[n-1].Time.Add(e.cfg.BarDuration)
	}
	return time.Time{}
}

// swap installs the next state and notifies full-state subscribers.
func (e *Engine) swap(next *State) {
	e.state = next
	for _, s := range e.stateSubs {
		s.fn(*next)
	}
}

func (e *Engine) publish(t EventType, ts time.Time, p Payload) {
	e.bus.Publish(Event{Type: t, Time: ts, Payload: p})
}
