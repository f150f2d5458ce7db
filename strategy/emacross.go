package strategy

import (
	"fmt"

	"github.com/rustyeddy/simex/bracket"
	"github.com/rustyeddy/simex/indicators"
	"github.com/rustyeddy/simex/order"
	"github.com/rustyeddy/simex/risk"
)

// EMACrossConfig tunes the fast/slow EMA crossover.
type EMACrossConfig struct {
	FastPeriod int     `json:"fast-period"` // 10
	SlowPeriod int     `json:"slow-period"` // 30
	Quantity   float64 `json:"quantity"`    // units per entry
	StopFrac   float64 `json:"stop-frac"`   // stop distance as a fraction of entry, e.g. 0.02
	RR         float64 `json:"risk-reward"` // take-profit multiple of the stop distance

	// RiskPct, when set, sizes each entry to risk this fraction of the
	// account balance instead of the fixed Quantity.
	RiskPct float64 `json:"risk-pct"`
}

func (c EMACrossConfig) withDefaults() EMACrossConfig {
	if c.FastPeriod <= 0 {
		c.FastPeriod = 10
	}
	if c.SlowPeriod <= 0 {
		c.SlowPeriod = 30
	}
	if c.Quantity <= 0 {
		c.Quantity = 1
	}
	if c.StopFrac <= 0 {
		c.StopFrac = 0.02
	}
	if c.RR <= 0 {
		c.RR = 2
	}
	return c
}

// EMACross trades a fast/slow EMA crossover: enters long when the fast EMA
// crosses above the slow, short on the opposite cross, one bracket at a time.
type EMACross struct {
	cfg EMACrossConfig

	fast *indicators.EMA
	slow *indicators.EMA

	lastDiff     float64
	haveLastDiff bool
}

func NewEMACross(cfg EMACrossConfig) (*EMACross, error) {
	cfg = cfg.withDefaults()
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("strategy: fast period %d must be below slow %d",
			cfg.FastPeriod, cfg.SlowPeriod)
	}
	return &EMACross{
		cfg:  cfg,
		fast: indicators.NewEMA(cfg.FastPeriod),
		slow: indicators.NewEMA(cfg.SlowPeriod),
	}, nil
}

func (s *EMACross) Name() string {
	return fmt.Sprintf("ema-cross(%d/%d)", s.cfg.FastPeriod, s.cfg.SlowPeriod)
}

func (s *EMACross) Execute(ctx Context) (Actions, error) {
	s.fast.Update(ctx.Bar)
	s.slow.Update(ctx.Bar)
	if !s.slow.Ready() {
		return Actions{}, nil
	}

	diff := s.fast.Value() - s.slow.Value()
	defer func() {
		s.lastDiff = diff
		s.haveLastDiff = true
	}()

	if !s.haveLastDiff || sign(diff) == sign(s.lastDiff) || sign(diff) == 0 {
		return Actions{}, nil
	}
	// one position at a time; reversal waits for the current bracket to exit
	if len(ctx.Positions) > 0 {
		return Actions{}, nil
	}

	side := order.Buy
	if diff < 0 {
		side = order.Sell
	}

	px := ctx.Bar.Close
	stopDist := px * s.cfg.StopFrac
	cfg := bracket.Config{
		Side:      side,
		Quantity:  s.cfg.Quantity,
		EntryKind: order.Market,
	}
	if side == order.Buy {
		cfg.StopLoss = px - stopDist
		cfg.TakeProfit = px + stopDist*s.cfg.RR
	} else {
		cfg.StopLoss = px + stopDist
		cfg.TakeProfit = px - stopDist*s.cfg.RR
	}
	if s.cfg.RiskPct > 0 {
		if qty := risk.Size(ctx.Balance, s.cfg.RiskPct, px, cfg.StopLoss); qty > 0 {
			cfg.Quantity = qty
		}
	}
	return Actions{Brackets: []bracket.Config{cfg}}, nil
}

// NewEMACrossFromParams is the Factory used by parameter sweeps. Recognized
// keys: fastPeriod, slowPeriod, quantity, stopFrac, riskReward, riskPct.
func NewEMACrossFromParams(params map[string]any) (Strategy, error) {
	cfg := EMACrossConfig{
		FastPeriod: paramInt(params, "fastPeriod", 0),
		SlowPeriod: paramInt(params, "slowPeriod", 0),
		Quantity:   paramFloat(params, "quantity", 0),
		StopFrac:   paramFloat(params, "stopFrac", 0),
		RR:         paramFloat(params, "riskReward", 0),
		RiskPct:    paramFloat(params, "riskPct", 0),
	}
	return NewEMACross(cfg)
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
