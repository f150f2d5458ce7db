package engine

import (
	"time"

	"github.com/rustyeddy/simex/bracket"
	"github.com/rustyeddy/simex/intrabar"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/order"
)

// EventType names every notification the orchestrator publishes.
type EventType string

const (
	EventBarProcessed EventType = "bar-processed"

	EventOrderSubmitted EventType = "order-submitted"
	EventOrderFilled    EventType = "order-filled"
	EventOrderCancelled EventType = "order-cancelled"

	EventBracketCreated     EventType = "bracket-created"
	EventBracketEntryFilled EventType = "bracket-entry-filled"
	EventStopTriggered      EventType = "bracket-stop-triggered"
	EventTakeTriggered      EventType = "bracket-take-profit-triggered"
	EventBracketCompleted   EventType = "bracket-completed"

	EventBarForming   EventType = "bar-forming"
	EventBarUpdate    EventType = "bar-update"
	EventBarCompleted EventType = "bar-completed"

	EventStarted   EventType = "backtest-started"
	EventPaused    EventType = "backtest-paused"
	EventResumed   EventType = "backtest-resumed"
	EventCompleted EventType = "backtest-completed"
)

// Payload is the closed set of event payloads. Handlers type-switch on the
// concrete type instead of digging through a loosely typed bag.
type Payload interface {
	eventPayload()
}

// BarPayload accompanies bar-processed, bar-forming and bar-completed.
type BarPayload struct {
	Bar market.Bar
}

// TickPayload accompanies bar-update: one synthetic tick and the bar forming
// around it.
type TickPayload struct {
	Tick    market.Tick
	Forming intrabar.FormingBar
}

// OrderPayload accompanies order-submitted and order-cancelled. Reason is set
// on cancellations ("expired", "ioc", "fok", "cancel").
type OrderPayload struct {
	Order  order.Order
	Reason string
}

// FillPayload accompanies order-filled with the order as of the fill.
type FillPayload struct {
	Order order.Order
	Fill  order.Fill
}

// BracketPayload accompanies every bracket lifecycle event.
type BracketPayload struct {
	Bracket bracket.Bracket
}

// RunPayload accompanies backtest lifecycle events.
type RunPayload struct {
	Status  RunStatus
	Balance float64
}

func (BarPayload) eventPayload()     {}
func (TickPayload) eventPayload()    {}
func (OrderPayload) eventPayload()   {}
func (FillPayload) eventPayload()    {}
func (BracketPayload) eventPayload() {}
func (RunPayload) eventPayload()     {}

// Event is one published notification. Delivery order matches the order the
// underlying transitions occurred within a step.
type Event struct {
	Type    EventType
	Time    time.Time
	Payload Payload
}

// Handler receives published events synchronously in the publishing call's
// context. A slow handler blocks the step.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Bus is a synchronous publish/subscribe registry. Not safe for concurrent
// use; it lives inside a single-writer engine.
type Bus struct {
	nextID int
	byType map[EventType][]subscriber
	all    []subscriber
}

func NewBus() *Bus {
	return &Bus{byType: make(map[EventType][]subscriber)}
}

// Subscribe registers fn for one event type and returns a disposer that
// removes the subscription.
func (b *Bus) Subscribe(t EventType, fn Handler) func() {
	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscriber{id: id, fn: fn})
	return func() {
		b.byType[t] = drop(b.byType[t], id)
	}
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Handler) func() {
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscriber{id: id, fn: fn})
	return func() {
		b.all = drop(b.all, id)
	}
}

// Publish delivers ev to type subscribers first, then catch-all subscribers,
// each in subscription order.
func (b *Bus) Publish(ev Event) {
	for _, s := range b.byType[ev.Type] {
		s.fn(ev)
	}
	for _, s := range b.all {
		s.fn(ev)
	}
}

func drop(subs []subscriber, id int) []subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
