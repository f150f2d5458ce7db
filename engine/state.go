package engine

import (
	"fmt"
	"time"

	"github.com/rustyeddy/simex/intrabar"
	"github.com/rustyeddy/simex/market"
	"github.com/rustyeddy/simex/order"
)

// RunStatus is the orchestrator lifecycle state.
type RunStatus int

const (
	Idle RunStatus = iota
	Running
	Paused
	Stopped
)

func (s RunStatus) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("RunStatus(%d)", int(s))
}

// Trade is one round trip opened by a bracket's entry fill and frozen by its
// exit fill. Open is false once the exit side is recorded.
type Trade struct {
	ID         string
	BracketID  string
	Side       order.Side
	Size       float64
	EntryPrice float64
	EntryTime  time.Time
	ExitPrice  float64
	ExitTime   time.Time
	PnL        float64
	Open       bool
}

// State is the single root owning every engine collection. It is replaced
// wholesale on each transition, never mutated in place, so observers only
// ever see complete states. Bars is read-only and shared across snapshots;
// all other collections are copied before mutation.
type State struct {
	Status         RunStatus
	InitialBalance float64
	Balance        float64

	Bars   []market.Bar
	Cursor int

	Orders   map[string]order.Order
	OrderIDs []string // submission order

	Trades    map[string]Trade
	TradeIDs  []string
	Positions map[string]Trade // open trades by trade id

	Forming *intrabar.FormingBar
}

func newState(initialBalance float64) *State {
	return &State{
		Status:         Idle,
		InitialBalance: initialBalance,
		Balance:        initialBalance,
		Orders:         make(map[string]order.Order),
		Trades:         make(map[string]Trade),
		Positions:      make(map[string]Trade),
	}
}

// clone produces the next-generation state. Maps and id slices are copied;
// the bar series is structurally shared since it is immutable once loaded.
func (s *State) clone() *State {
	next := *s
	next.Orders = copyOrders(s.Orders)
	next.OrderIDs = append([]string(nil), s.OrderIDs...)
	next.Trades = copyTrades(s.Trades)
	next.TradeIDs = append([]string(nil), s.TradeIDs...)
	next.Positions = copyTrades(s.Positions)
	if s.Forming != nil {
		fb := *s.Forming
		next.Forming = &fb
	}
	return &next
}

// CurrentBar returns the bar under the cursor, false when the data is
// exhausted.
func (s *State) CurrentBar() (market.Bar, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Bars) {
		return market.Bar{}, false
	}
	return s.Bars[s.Cursor], true
}

// History returns the bars processed so far, ending at (and including) the
// bar at index end-1. The slice aliases the loaded series; treat it as
// read-only.
func (s *State) History() []market.Bar {
	if s.Cursor > len(s.Bars) {
		return s.Bars
	}
	return s.Bars[:s.Cursor]
}

// OpenPositions returns open trades in entry order.
func (s *State) OpenPositions() []Trade {
	out := make([]Trade, 0, len(s.Positions))
	for _, id := range s.TradeIDs {
		if t, ok := s.Positions[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Equity values open positions at the given reference price on top of cash:
// long positions add size times ref, shorts subtract it.
func (s *State) Equity(ref float64) float64 {
	eq := s.Balance
	for _, t := range s.Positions {
		if t.Side == order.Buy {
			eq += t.Size * ref
		} else {
			eq -= t.Size * ref
		}
	}
	return eq
}

// ClosedTrades returns completed round trips in entry order.
func (s *State) ClosedTrades() []Trade {
	out := make([]Trade, 0, len(s.Trades))
	for _, id := range s.TradeIDs {
		if t := s.Trades[id]; !t.Open {
			out = append(out, t)
		}
	}
	return out
}

// recordOrder inserts or updates an order, tracking first-seen order.
func (s *State) recordOrder(o order.Order) {
	if _, seen := s.Orders[o.ID]; !seen {
		s.OrderIDs = append(s.OrderIDs, o.ID)
	}
	s.Orders[o.ID] = o
}

func copyOrders(in map[string]order.Order) map[string]order.Order {
	out := make(map[string]order.Order, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyTrades(in map[string]Trade) map[string]Trade {
	out := make(map[string]Trade, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
