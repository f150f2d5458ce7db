package order

import "time"

// Fill reports an execution against a single order. Fills are produced only
// by the matching engine and never mutated afterwards.
type Fill struct {
	OrderID   string
	Price     float64
	Quantity  float64
	Time      time.Time
	Remaining float64
	Complete  bool
}
