// Package risk provides position sizing and pre-trade checks for strategies.
package risk

import "math"

// Size returns the quantity that risks riskFrac of balance if the stop is
// hit. Zero when the inputs cannot produce a sensible size.
func Size(balance, riskFrac, entry, stop float64) float64 {
	dist := math.Abs(entry - stop)
	if balance <= 0 || riskFrac <= 0 || dist == 0 {
		return 0
	}
	return balance * riskFrac / dist
}

// RR is the reward-to-risk ratio of a planned bracket.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

// Violation is one failed pre-trade check.
type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of evaluating a planned bracket against policy.
type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRisk    float64 // absolute loss if the stop fills
	PlannedRiskPct float64
	PlannedRR      float64
}

func (d *Decision) add(code, msg string) {
	d.Allowed = false
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
}

// Policy bounds what a strategy may risk per trade. Zero values disable the
// corresponding check.
type Policy struct {
	MaxRiskPct float64 // e.g. 0.02 caps risk at 2% of balance
	MinRR      float64 // e.g. 1.5 requires reward at least 1.5x risk
}

// Evaluate checks a planned bracket: quantity qty entering at entry with the
// given stop and take-profit, on an account holding balance.
func (p Policy) Evaluate(balance, qty, entry, stop, takeProfit float64) Decision {
	d := Decision{Allowed: true}
	d.PlannedRisk = qty * math.Abs(entry-stop)
	if balance > 0 {
		d.PlannedRiskPct = d.PlannedRisk / balance
	} else {
		d.PlannedRiskPct = math.Inf(1)
	}
	d.PlannedRR = RR(entry, stop, takeProfit)

	if p.MaxRiskPct > 0 && d.PlannedRiskPct > p.MaxRiskPct {
		d.add("max-risk", "planned risk exceeds the per-trade cap")
	}
	if p.MinRR > 0 && d.PlannedRR < p.MinRR {
		d.add("min-rr", "reward too small for the planned risk")
	}
	return d
}
