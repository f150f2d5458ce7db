// Package order defines the order model shared by the matching engine, the
// bracket manager and the orchestrator. Orders are passed by value; the
// matching engine keeps its own book and reports results through fills.
package order

import (
	"fmt"
	"time"
)

// Side: +1 buy, -1 sell.
type Side int8

const (
	Buy  Side = +1
	Sell Side = -1
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side { return -s }

// Kind is the closed set of order variants. Each constructor below sets only
// the fields its variant carries; Validate enforces the shape.
type Kind int

const (
	Market Kind = iota
	Limit
	Stop
	StopLimit
)

func (k Kind) String() string {
	switch k {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Status transitions are monotonic: once terminal, an order never goes back.
type Status int

const (
	Pending Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// TimeInForce controls how long an order rests on the book.
type TimeInForce int

const (
	GTC TimeInForce = iota // good till cancelled
	IOC                    // immediate or cancel: unfilled remainder is cancelled
	FOK                    // fill or kill: cancelled unless fully fillable at once
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	}
	return "GTC"
}

// Role tags an order's place in a bracket. Standalone orders carry no bracket
// linkage at all.
type Role int

const (
	Standalone Role = iota
	Entry
	StopLoss
	TakeProfit
)

func (r Role) String() string {
	switch r {
	case Entry:
		return "ENTRY"
	case StopLoss:
		return "STOP_LOSS"
	case TakeProfit:
		return "TAKE_PROFIT"
	}
	return "STANDALONE"
}

// Order is a single instruction to trade. Limit is the limit price (Limit and
// StopLimit only), Stop the trigger price (Stop and StopLimit only).
type Order struct {
	ID       string
	Side     Side
	Kind     Kind
	Quantity float64
	Limit    float64
	Stop     float64

	TIF       TimeInForce
	ExpiresAt time.Time // zero means never

	Status      Status
	FilledQty   float64
	FillPrice   float64 // volume-weighted average across fills
	SubmittedAt time.Time

	// Triggered marks a stop whose trigger price has been crossed; it then
	// rests as a market (Stop) or limit (StopLimit) order.
	Triggered bool

	Role      Role
	BracketID string
	OCOGroup  string
}

// NewMarket builds a market order.
func NewMarket(side Side, qty float64) Order {
	return Order{Side: side, Kind: Market, Quantity: qty}
}

// NewLimit builds a limit order at the given limit price.
func NewLimit(side Side, qty, limit float64) Order {
	return Order{Side: side, Kind: Limit, Quantity: qty, Limit: limit}
}

// NewStop builds a stop-market order triggered at the given stop price.
func NewStop(side Side, qty, stop float64) Order {
	return Order{Side: side, Kind: Stop, Quantity: qty, Stop: stop}
}

// NewStopLimit builds a stop order that rests as a limit once triggered.
func NewStopLimit(side Side, qty, stop, limit float64) Order {
	return Order{Side: side, Kind: StopLimit, Quantity: qty, Stop: stop, Limit: limit}
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 { return o.Quantity - o.FilledQty }

// Validate rejects malformed orders before they can reach matching.
func (o Order) Validate() error {
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("order: invalid side %d", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order: quantity must be positive, got %v", o.Quantity)
	}
	switch o.Kind {
	case Market:
		if o.Limit != 0 || o.Stop != 0 {
			return fmt.Errorf("order: market order carries no prices")
		}
	case Limit:
		if o.Limit <= 0 {
			return fmt.Errorf("order: limit order needs a positive limit price")
		}
		if o.Stop != 0 {
			return fmt.Errorf("order: limit order carries no stop price")
		}
	case Stop:
		if o.Stop <= 0 {
			return fmt.Errorf("order: stop order needs a positive stop price")
		}
		if o.Limit != 0 {
			return fmt.Errorf("order: stop order carries no limit price")
		}
	case StopLimit:
		if o.Stop <= 0 || o.Limit <= 0 {
			return fmt.Errorf("order: stop-limit order needs positive stop and limit prices")
		}
	default:
		return fmt.Errorf("order: unknown kind %d", o.Kind)
	}
	return nil
}
