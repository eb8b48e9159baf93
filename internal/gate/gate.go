package gate

import (
	"fmt"
	"sync"

	"github.com/fxlab/oanda-stream/internal/metrics"
	"github.com/fxlab/oanda-stream/internal/model"
)

// Decision is the admission state reported to the trading loop.
type Decision int

const (
	// OK admits trades.
	OK Decision = iota
	// Warn admits trades but flags elevated latency.
	Warn
	// Blocked disables execution until latency recovers.
	Blocked
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case OK:
		return "OK"
	case Warn:
		return "WARN"
	case Blocked:
		return "BLOCKED"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Code returns the numeric encoding exported to metrics: 0 OK, 1 WARN,
// 2 BLOCKED.
func (d Decision) Code() int { return int(d) }

// Thresholds configures one Gate. Immutable after construction.
type Thresholds struct {
	// SkewOutlierMs excludes samples whose clock skew exceeds it from the
	// percentile window; they are clock artifacts, not latency.
	SkewOutlierMs float64 `yaml:"skew_outlier_ms"`

	// BacklogWarnMs triggers the advisory warn flags, instantaneous
	// (last sample) or sustained (windowed p95).
	BacklogWarnMs float64 `yaml:"backlog_warn_ms"`

	// BacklogBlockMs is the per-sample threshold counted toward blocking.
	BacklogBlockMs float64 `yaml:"backlog_block_ms"`

	// ConsecutiveBacklogToBlock is the streak of samples at or above
	// BacklogBlockMs that flips the gate to BLOCKED.
	ConsecutiveBacklogToBlock int `yaml:"consecutive_backlog_to_block"`

	// ConsecutiveGoodToUnblock is the streak of samples below
	// BacklogWarnMs that flips BLOCKED back to OK.
	ConsecutiveGoodToUnblock int `yaml:"consecutive_good_to_unblock"`

	// OutlierHighMs excludes a sample from windowed statistics.
	OutlierHighMs float64 `yaml:"outlier_high_ms"`

	// MinSamples is the warm-up length. Until this many samples have been
	// observed the decision is forced to OK.
	MinSamples int `yaml:"min_samples"`

	// WindowSize caps the gate's own effective-latency window used for
	// the p95 warn flag.
	WindowSize int `yaml:"window_size"`
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SkewOutlierMs:             1000,
		BacklogWarnMs:             1500,
		BacklogBlockMs:            500,
		ConsecutiveBacklogToBlock: 3,
		ConsecutiveGoodToUnblock:  10,
		OutlierHighMs:             10000,
		MinSamples:                60,
		WindowSize:                120,
	}
}

// Validate rejects non-monotonic thresholds and non-positive counters.
func (t Thresholds) Validate() error {
	if t.BacklogBlockMs <= 0 {
		return fmt.Errorf("backlog_block_ms must be positive, got %v", t.BacklogBlockMs)
	}
	if t.BacklogWarnMs < t.BacklogBlockMs {
		return fmt.Errorf("backlog_warn_ms (%v) must be >= backlog_block_ms (%v)", t.BacklogWarnMs, t.BacklogBlockMs)
	}
	if t.OutlierHighMs < t.BacklogWarnMs {
		return fmt.Errorf("outlier_high_ms (%v) must be >= backlog_warn_ms (%v)", t.OutlierHighMs, t.BacklogWarnMs)
	}
	if t.SkewOutlierMs <= 0 {
		return fmt.Errorf("skew_outlier_ms must be positive, got %v", t.SkewOutlierMs)
	}
	if t.ConsecutiveBacklogToBlock < 1 {
		return fmt.Errorf("consecutive_backlog_to_block must be >= 1, got %d", t.ConsecutiveBacklogToBlock)
	}
	if t.ConsecutiveGoodToUnblock < 1 {
		return fmt.Errorf("consecutive_good_to_unblock must be >= 1, got %d", t.ConsecutiveGoodToUnblock)
	}
	if t.MinSamples < 0 {
		return fmt.Errorf("min_samples must be >= 0, got %d", t.MinSamples)
	}
	if t.WindowSize < 1 {
		return fmt.Errorf("window_size must be >= 1, got %d", t.WindowSize)
	}
	return nil
}

// Report is the gate's externally visible state after one evaluation.
// The trading loop reads it; the gate itself never acts on it.
type Report struct {
	Decision           Decision
	Warn               bool
	WarnLast           bool
	WarnP95            bool
	LastEffectiveMs    float64
	EffectiveP95Ms     float64
	ConsecutiveBacklog int
	ConsecutiveGood    int
	TotalSamples       int64
}

// Gate is the admission state machine for one (mode, instrument) stream.
// Safe for concurrent use; each evaluation runs in its own critical
// section, so no two evaluations of the same instance overlap.
type Gate struct {
	thresholds Thresholds

	mu            sync.Mutex
	decision      Decision
	window        []float64 // effective ms, non-outlier, oldest first
	consecBacklog int
	consecGood    int
	totalSamples  int64
	lastReport    Report
}

// New constructs a Gate, failing fast on invalid thresholds.
func New(thresholds Thresholds) (*Gate, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("gate thresholds: %w", err)
	}
	return &Gate{thresholds: thresholds}, nil
}

// Thresholds returns the immutable configuration of this gate.
func (g *Gate) Thresholds() Thresholds { return g.thresholds }

// Observe evaluates one latency sample and returns the updated report.
func (g *Gate) Observe(sample model.LatencySample) Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.thresholds
	effective := sample.EffectiveMs

	g.totalSamples++

	// Outliers and skew artifacts stay out of the percentile window but
	// still drive the streak counters below.
	if effective < t.OutlierHighMs && sample.SkewMs < t.SkewOutlierMs {
		g.window = append(g.window, effective)
		if len(g.window) > t.WindowSize {
			g.window = g.window[len(g.window)-t.WindowSize:]
		}
	}

	if effective >= t.BacklogBlockMs {
		g.consecBacklog++
	} else {
		g.consecBacklog = 0
	}
	if g.decision == Blocked {
		if effective < t.BacklogWarnMs {
			g.consecGood++
		} else {
			g.consecGood = 0
		}
	}

	warmingUp := g.totalSamples < int64(t.MinSamples)

	if !warmingUp {
		switch g.decision {
		case OK, Warn:
			if g.consecBacklog >= t.ConsecutiveBacklogToBlock {
				g.decision = Blocked
				g.consecGood = 0
			}
		case Blocked:
			if g.consecGood >= t.ConsecutiveGoodToUnblock {
				g.decision = OK
				g.consecBacklog = 0
				g.consecGood = 0
			}
		}
	}

	p95, p95OK := metrics.P95(g.window)

	report := Report{
		LastEffectiveMs:    effective,
		EffectiveP95Ms:     p95,
		ConsecutiveBacklog: g.consecBacklog,
		ConsecutiveGood:    g.consecGood,
		TotalSamples:       g.totalSamples,
	}

	if !warmingUp {
		report.WarnLast = effective >= t.BacklogWarnMs
		report.WarnP95 = p95OK && p95 >= t.BacklogWarnMs
		report.Warn = report.WarnLast || report.WarnP95
	}

	switch {
	case warmingUp:
		report.Decision = OK
	case g.decision == Blocked:
		report.Decision = Blocked
	case report.Warn:
		report.Decision = Warn
	default:
		report.Decision = OK
	}

	g.lastReport = report
	return report
}

// Report returns the result of the most recent evaluation. Before any
// sample has been observed it reports OK with zero counters.
func (g *Gate) Report() Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReport
}
