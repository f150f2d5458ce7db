package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSize(t *testing.T) {
	t.Parallel()

	// risking 1% of 10k with a 2-point stop distance
	assert.InDelta(t, 50.0, Size(10_000, 0.01, 100, 98), 1e-9)
	assert.Zero(t, Size(10_000, 0.01, 100, 100), "zero stop distance")
	assert.Zero(t, Size(0, 0.01, 100, 98))
	assert.Zero(t, Size(10_000, 0, 100, 98))
}

func TestRR(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.0, RR(100, 95, 110), 1e-9)
	assert.InDelta(t, 2.0, RR(100, 105, 90), 1e-9, "short side symmetric")
	assert.Zero(t, RR(100, 100, 110))
}

func TestPolicyEvaluate(t *testing.T) {
	t.Parallel()

	p := Policy{MaxRiskPct: 0.02, MinRR: 1.5}

	d := p.Evaluate(10_000, 10, 100, 95, 110)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 50.0, d.PlannedRisk, 1e-9)
	assert.InDelta(t, 0.005, d.PlannedRiskPct, 1e-9)
	assert.InDelta(t, 2.0, d.PlannedRR, 1e-9)

	d = p.Evaluate(10_000, 100, 100, 95, 110)
	assert.False(t, d.Allowed, "5% planned risk over the 2% cap")
	assert.Len(t, d.Violations, 1)
	assert.Equal(t, "max-risk", d.Violations[0].Code)

	d = p.Evaluate(10_000, 10, 100, 95, 101)
	assert.False(t, d.Allowed, "0.2 RR under the floor")

	d = Policy{}.Evaluate(10_000, 100, 100, 95, 101)
	assert.True(t, d.Allowed, "zero policy disables all checks")
}
