// Package strategy defines the hook the engine invokes once per bar. A
// strategy consumes a read-only snapshot and returns intents; it never
// mutates engine state directly.
package strategy

import (
	"time"

	"github.com/rustyeddy/simex/bracket"
	"github.com/rustyeddy/simex/indicators"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/order"
)

// Position is the strategy's read-only view of one open trade.
type Position struct {
	ID         string
	BracketID  string
	Side       order.Side
	Size       float64
	EntryPrice float64
	EntryTime  time.Time
}

// Context is the per-bar snapshot handed to Execute. History ends with the
// current bar; both slices are read-only.
type Context struct {
	Bar        market.Bar
	History    []market.Bar
	Balance    float64
	Positions  []Position
	Indicators *indicators.Provider
}

// Actions are the intents a strategy returns: brackets and plain orders to
// submit, order ids to cancel. The engine applies them; a strategy never
// touches the matching engine.
type Actions struct {
	Brackets []bracket.Config
	Orders   []order.Order
	Cancels  []string
}

func (a Actions) Empty() bool {
	return len(a.Brackets) == 0 && len(a.Orders) == 0 && len(a.Cancels) == 0
}

// Strategy is invoked once per completed bar.
type Strategy interface {
	Name() string
	Execute(ctx Context) (Actions, error)
}

// Factory builds a strategy from one parameter combination; the optimizer
// calls it once per combination.
type Factory func(params map[string]any) (Strategy, error)

// Noop does nothing. Useful for exercising the engine without signals.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Execute(Context) (Actions, error) { return Actions{}, nil }
