// Package journal persists backtest runs: completed trades, per-bar equity
// snapshots and run-level summaries, to SQLite or CSV.
package journal

import "time"

// TradeRecord is one completed round trip.
type TradeRecord struct {
	RunID      string
	TradeID    string
	BracketID  string
	Side       string
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

// EquitySnapshot is the account value at one bar boundary.
type EquitySnapshot struct {
	RunID   string
	Time    time.Time
	Balance float64
	Equity  float64
}

// RunRecord summarizes one finished backtest.
type RunRecord struct {
	RunID          string
	Strategy       string
	Params         string
	StartedAt      time.Time
	FinishedAt     time.Time
	InitialBalance float64
	FinalBalance   float64
	TotalReturn    float64
	MaxDrawdown    float64
	SharpeRatio    float64
	Trades         int
}

type Journal interface {
	RecordRun(RunRecord) error
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}
