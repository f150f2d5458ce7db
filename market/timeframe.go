package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe describes a bar aggregation period.
type Timeframe struct {
	Key      string
	Duration time.Duration
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
}

// ParseTimeframe returns the normalized timeframe for keys like "5m" or "1h".
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q (supported: %s)",
			input, strings.Join(SupportedTimeframes(), ", "))
	}
	return tf, nil
}

// SupportedTimeframes returns all supported keys sorted by duration.
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return supportedTimeframes[keys[i]].Duration < supportedTimeframes[keys[j]].Duration
	})
	return keys
}

// Align truncates t down to the timeframe grid.
func (tf Timeframe) Align(t time.Time) time.Time {
	return t.Truncate(tf.Duration)
}

// FinerThan returns every supported timeframe strictly shorter than tf,
// ordered coarsest first. This is the default fallback order when looking for
// real sub-bar data: prefer the coarsest resolution that still subdivides the
// target, degrading toward 1m before giving up.
func FinerThan(tf Timeframe) []Timeframe {
	var out []Timeframe
	for _, k := range SupportedTimeframes() {
		cand := supportedTimeframes[k]
		if cand.Duration < tf.Duration && tf.Duration%cand.Duration == 0 {
			out = append(out, cand)
		}
	}
	// coarsest first
	sort.Slice(out, func(i, j int) bool { return out[i].Duration > out[j].Duration })
	return out
}
