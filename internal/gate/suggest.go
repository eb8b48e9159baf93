package gate

import "github.com/fxlab/oanda-stream/internal/metrics"

// Suggestion bounds keep generated thresholds in a sane operating range
// even when the profiled link is unusually fast or unusually slow.
const (
	minWarnMs  = 800
	maxWarnMs  = 2500
	minBlockMs = 250
	maxBlockMs = 750
)

// SuggestThresholds derives gate thresholds from a profiling run. The warn
// threshold tracks 1.5x the observed p95 of clamped latency and the block
// threshold tracks half of it, both clamped to fixed bounds. All other
// fields keep their defaults. Returns the defaults unchanged when no
// samples were collected.
func SuggestThresholds(clampedMs []float64) Thresholds {
	t := DefaultThresholds()

	p95, ok := metrics.P95(clampedMs)
	if !ok {
		return t
	}

	t.BacklogWarnMs = clamp(1.5*p95, minWarnMs, maxWarnMs)
	t.BacklogBlockMs = clamp(0.5*p95, minBlockMs, maxBlockMs)
	return t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
