// Package match implements the deterministic order matching engine. It keeps
// a book of pending orders and evaluates them against bars or single ticks,
// returning fills and cancellations. It never touches account state; applying
// results is the orchestrator's job (single-writer discipline).
package match

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/simex/internal/logging"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/order"
)

// Config controls execution realism.
type Config struct {
	// SlippageBps is applied against the taker on market-style executions:
	// buys pay more, sells receive less.
	SlippageBps float64

	// AllowPartial enables partial fills. MaxFillPerTick caps how much of a
	// resting (non-market) order fills per bar/tick evaluation; 0 means no
	// cap. Market orders always fill fully.
	AllowPartial   bool
	MaxFillPerTick float64
}

// Cancellation pairs a cancelled order with the reason it left the book.
type Cancellation struct {
	Order  order.Order
	Reason string // "expired", "ioc", "fok", "cancel"
}

// Result is everything one bar/tick evaluation produced.
type Result struct {
	Fills     []order.Fill
	Cancelled []Cancellation
}

// Engine holds pending orders in submission order. Not safe for concurrent
// use; callers serialize access (one engine per simulation run).
type Engine struct {
	cfg  Config
	log  *zap.Logger
	book []*order.Order
	byID map[string]*order.Order
}

func NewEngine(cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		cfg:  cfg,
		log:  logging.Or(log),
		byID: make(map[string]*order.Order),
	}
}

// Submit validates o and adds it to the book. The order must carry an ID;
// validation errors mean the order never reaches matching.
func (e *Engine) Submit(o order.Order) error {
	if o.ID == "" {
		return fmt.Errorf("match: order has no id")
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if _, dup := e.byID[o.ID]; dup {
		return fmt.Errorf("match: duplicate order id %s", o.ID)
	}
	o.Status = order.Pending
	cp := o
	e.book = append(e.book, &cp)
	e.byID[o.ID] = &cp
	return nil
}

// Cancel removes a pending order from the book. Cancelling an unknown or
// already terminal id is a no-op: logged, reported false, never fatal.
func (e *Engine) Cancel(id string) (order.Order, bool) {
	o, ok := e.byID[id]
	if !ok {
		e.log.Debug("cancel on unknown order", zap.String("order_id", id))
		return order.Order{}, false
	}
	o.Status = order.Cancelled
	e.remove(id)
	return *o, true
}

// remove drops an order from the book and the id index.
func (e *Engine) remove(id string) {
	delete(e.byID, id)
	for i, o := range e.book {
		if o.ID == id {
			e.book = append(e.book[:i], e.book[i+1:]...)
			return
		}
	}
}

// Order returns a copy of a pending order.
func (e *Engine) Order(id string) (order.Order, bool) {
	o, ok := e.byID[id]
	if !ok {
		return order.Order{}, false
	}
	return *o, true
}

// Pending returns copies of all resting orders in submission order.
func (e *Engine) Pending() []order.Order {
	out := make([]order.Order, 0, len(e.book))
	for _, o := range e.book {
		out = append(out, *o)
	}
	return out
}

// Reset clears the book.
func (e *Engine) Reset() {
	e.book = nil
	e.byID = make(map[string]*order.Order)
}

// ProcessBar evaluates every pending order against a whole bar. Market
// orders execute at the bar open; limit and stop orders use the bar's range
// with gap-through-open pricing.
func (e *Engine) ProcessBar(bar market.Bar) Result {
	return e.process(bar.Time, func(o *order.Order) (float64, bool) {
		return e.evalBar(o, bar)
	})
}

// ProcessTick evaluates every pending order against a single tick price.
func (e *Engine) ProcessTick(t market.Tick) Result {
	return e.process(t.Time, func(o *order.Order) (float64, bool) {
		return e.evalTick(o, t.Price)
	})
}

// process runs one evaluation pass in submission order, applying expiry,
// time-in-force and partial-fill policy around the per-kind price logic.
func (e *Engine) process(now time.Time, eval func(*order.Order) (float64, bool)) Result {
	var res Result
	var done []string

	for _, o := range e.book {
		if !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
			o.Status = order.Cancelled
			res.Cancelled = append(res.Cancelled, Cancellation{Order: *o, Reason: "expired"})
			done = append(done, o.ID)
			continue
		}

		px, ok := eval(o)
		if !ok {
			// IOC/FOK orders never rest: unsatisfiable means cancelled.
			if o.TIF == order.IOC || o.TIF == order.FOK {
				reason := "ioc"
				if o.TIF == order.FOK {
					reason = "fok"
				}
				o.Status = order.Cancelled
				res.Cancelled = append(res.Cancelled, Cancellation{Order: *o, Reason: reason})
				done = append(done, o.ID)
			}
			continue
		}

		qty := e.fillableQty(o)
		if o.TIF == order.FOK && qty < o.Remaining() {
			o.Status = order.Cancelled
			res.Cancelled = append(res.Cancelled, Cancellation{Order: *o, Reason: "fok"})
			done = append(done, o.ID)
			continue
		}

		fill := applyFill(o, px, qty, now)
		res.Fills = append(res.Fills, fill)

		switch {
		case fill.Complete:
			done = append(done, o.ID)
		case o.TIF == order.IOC:
			// Partial immediate fill; the remainder does not rest.
			o.Status = order.Cancelled
			res.Cancelled = append(res.Cancelled, Cancellation{Order: *o, Reason: "ioc"})
			done = append(done, o.ID)
		}
	}

	for _, id := range done {
		e.remove(id)
	}
	return res
}

// fillableQty applies the partial-fill cap. Market orders fill fully by
// contract.
func (e *Engine) fillableQty(o *order.Order) float64 {
	rem := o.Remaining()
	if !e.cfg.AllowPartial || e.cfg.MaxFillPerTick <= 0 || o.Kind == order.Market {
		return rem
	}
	if e.cfg.MaxFillPerTick < rem {
		return e.cfg.MaxFillPerTick
	}
	return rem
}

func applyFill(o *order.Order, px, qty float64, now time.Time) order.Fill {
	prev := o.FilledQty
	o.FilledQty += qty
	// volume-weighted average fill price
	o.FillPrice = (o.FillPrice*prev + px*qty) / o.FilledQty
	if o.Remaining() <= 0 {
		o.Status = order.Filled
	} else {
		o.Status = order.PartiallyFilled
	}
	return order.Fill{
		OrderID:   o.ID,
		Price:     px,
		Quantity:  qty,
		Time:      now,
		Remaining: o.Remaining(),
		Complete:  o.Status == order.Filled,
	}
}

// evalTick decides whether an order executes against a single tick price and
// at what price.
func (e *Engine) evalTick(o *order.Order, price float64) (float64, bool) {
	switch o.Kind {
	case order.Market:
		return e.slip(o.Side, price), true

	case order.Limit:
		if crossesLimit(o.Side, o.Limit, price) {
			// better of (limit, reference): the reference is already at
			// or better than the limit when it crosses
			return price, true
		}

	case order.Stop:
		if o.Triggered || crossesStop(o.Side, o.Stop, price) {
			o.Triggered = true
			return e.slip(o.Side, price), true
		}

	case order.StopLimit:
		if !o.Triggered && crossesStop(o.Side, o.Stop, price) {
			o.Triggered = true
		}
		if o.Triggered && crossesLimit(o.Side, o.Limit, price) {
			return price, true
		}
	}
	return 0, false
}

// evalBar decides execution against a whole bar. Gap handling follows the
// usual convention: when the bar opens through the level, the open is the
// first tradable price.
func (e *Engine) evalBar(o *order.Order, bar market.Bar) (float64, bool) {
	switch o.Kind {
	case order.Market:
		return e.slip(o.Side, bar.Open), true

	case order.Limit:
		if px, ok := limitBarPrice(o.Side, o.Limit, bar); ok {
			return px, true
		}

	case order.Stop:
		if o.Triggered {
			return e.slip(o.Side, bar.Open), true
		}
		if px, ok := stopBarPrice(o.Side, o.Stop, bar); ok {
			o.Triggered = true
			return e.slip(o.Side, px), true
		}

	case order.StopLimit:
		if o.Triggered {
			if px, ok := limitBarPrice(o.Side, o.Limit, bar); ok {
				return px, true
			}
			return 0, false
		}
		if px, ok := stopBarPrice(o.Side, o.Stop, bar); ok {
			o.Triggered = true
			// fill in the same bar only if the trigger price satisfies
			// the limit; otherwise rest as a triggered limit
			if crossesLimit(o.Side, o.Limit, px) {
				return px, true
			}
		}
	}
	return 0, false
}

func crossesLimit(side order.Side, limit, price float64) bool {
	if side == order.Buy {
		return price <= limit
	}
	return price >= limit
}

func crossesStop(side order.Side, stop, price float64) bool {
	if side == order.Buy {
		return price >= stop
	}
	return price <= stop
}

// limitBarPrice: a limit fills when the bar range reaches the level; the fill
// price is the open when the bar gapped through, else the limit itself.
func limitBarPrice(side order.Side, limit float64, bar market.Bar) (float64, bool) {
	if side == order.Buy {
		if bar.Low <= limit {
			if bar.Open <= limit {
				return bar.Open, true
			}
			return limit, true
		}
		return 0, false
	}
	if bar.High >= limit {
		if bar.Open >= limit {
			return bar.Open, true
		}
		return limit, true
	}
	return 0, false
}

// stopBarPrice: a stop triggers when the bar range reaches the level; the
// trigger price is the open when the bar gapped over, else the stop itself.
func stopBarPrice(side order.Side, stop float64, bar market.Bar) (float64, bool) {
	if side == order.Buy {
		if bar.High >= stop {
			if bar.Open >= stop {
				return bar.Open, true
			}
			return stop, true
		}
		return 0, false
	}
	if bar.Low <= stop {
		if bar.Open <= stop {
			return bar.Open, true
		}
		return stop, true
	}
	return 0, false
}

// slip moves a market-style execution price against the taker: buys pay
// more, sells receive less. Limit fills bypass this; they are bounded by the
// limit price instead.
func (e *Engine) slip(side order.Side, price float64) float64 {
	if e.cfg.SlippageBps == 0 {
		return price
	}
	adj := price * e.cfg.SlippageBps / 10_000
	if side == order.Buy {
		return price + adj
	}
	return price - adj
}
