package market

import "time"

// Tick is a single sub-bar price observation, either taken from real
// lower-timeframe data or synthesized from a bar's OHLC shape. Ticks drive
// fine-grained order matching.
type Tick struct {
	Time   time.Time
	Price  float64
	Volume float64
}
