package gate

import (
	"strings"
	"testing"
	"time"

	"github.com/fxlab/oanda-stream/internal/model"
)

func testThresholds() Thresholds {
	t := DefaultThresholds()
	t.MinSamples = 0
	return t
}

func observeEffective(t *testing.T, g *Gate, effectiveMs float64) Report {
	t.Helper()
	return g.Observe(model.LatencySample{
		Mode:        "pricing",
		Instrument:  "EUR_USD",
		ReceivedAt:  time.Now(),
		EffectiveMs: effectiveMs,
	})
}

func TestWarmupForcesOK(t *testing.T) {
	th := testThresholds()
	th.MinSamples = 5
	g, err := New(th)
	if err != nil {
		t.Fatal(err)
	}

	// Absurd latencies during warm-up must not warn or block.
	for i := 0; i < 4; i++ {
		r := observeEffective(t, g, 9000)
		if r.Decision != OK {
			t.Fatalf("sample %d: decision = %v, want OK during warm-up", i+1, r.Decision)
		}
		if r.Warn || r.WarnLast || r.WarnP95 {
			t.Fatalf("sample %d: warn flags set during warm-up", i+1)
		}
	}
}

func TestBlocksOnExactStreak(t *testing.T) {
	g, err := New(testThresholds())
	if err != nil {
		t.Fatal(err)
	}

	// Two samples at or above the block threshold are not enough.
	for i := 0; i < 2; i++ {
		if r := observeEffective(t, g, 500); r.Decision == Blocked {
			t.Fatalf("blocked after %d samples, want 3", i+1)
		}
	}
	if r := observeEffective(t, g, 500); r.Decision != Blocked {
		t.Fatalf("decision = %v after 3rd backlog sample, want BLOCKED", r.Decision)
	}
}

func TestStreakResetsOnGoodSample(t *testing.T) {
	g, err := New(testThresholds())
	if err != nil {
		t.Fatal(err)
	}

	observeEffective(t, g, 600)
	observeEffective(t, g, 600)
	if r := observeEffective(t, g, 100); r.ConsecutiveBacklog != 0 {
		t.Fatalf("ConsecutiveBacklog = %d after good sample, want 0", r.ConsecutiveBacklog)
	}
	observeEffective(t, g, 600)
	if r := observeEffective(t, g, 600); r.Decision == Blocked {
		t.Fatal("blocked after interrupted streak")
	}
}

func TestGoodCountResetsWhileBlocked(t *testing.T) {
	g, err := New(testThresholds())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		observeEffective(t, g, 600)
	}
	if g.Report().Decision != Blocked {
		t.Fatal("setup: gate not blocked")
	}

	observeEffective(t, g, 50)
	observeEffective(t, g, 50)
	// A single sample at or above warn resets the recovery streak.
	if r := observeEffective(t, g, 1500); r.ConsecutiveGood != 0 {
		t.Fatalf("ConsecutiveGood = %d after warn-level sample, want 0", r.ConsecutiveGood)
	}
	if g.Report().Decision != Blocked {
		t.Fatal("gate unblocked despite reset recovery streak")
	}
}

func TestEndToEndBlockAndRecover(t *testing.T) {
	th := DefaultThresholds()
	// warn 1500, block 500, 3 to block, 10 to unblock, 60 warm-up
	g, err := New(th)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 60; i++ {
		if r := observeEffective(t, g, 80); r.Decision != OK {
			t.Fatalf("warm-up sample %d: decision = %v, want OK", i+1, r.Decision)
		}
	}

	var r Report
	for i := 0; i < 3; i++ {
		r = observeEffective(t, g, 600)
	}
	if r.Decision != Blocked {
		t.Fatalf("decision = %v after 3x600ms, want BLOCKED", r.Decision)
	}

	for i := 0; i < 9; i++ {
		if r = observeEffective(t, g, 50); r.Decision != Blocked {
			t.Fatalf("unblocked after %d good samples, want 10", i+1)
		}
	}
	if r = observeEffective(t, g, 50); r.Decision != OK {
		t.Fatalf("decision = %v after 10 good samples, want OK", r.Decision)
	}
	if r.ConsecutiveBacklog != 0 {
		t.Errorf("ConsecutiveBacklog = %d after unblock, want 0", r.ConsecutiveBacklog)
	}
}

func TestWarnFlags(t *testing.T) {
	g, err := New(testThresholds())
	if err != nil {
		t.Fatal(err)
	}

	r := observeEffective(t, g, 2000)
	if !r.WarnLast {
		t.Error("WarnLast = false for 2000ms sample")
	}
	if !r.Warn {
		t.Error("Warn = false for 2000ms sample")
	}
	if r.Decision != Warn {
		t.Errorf("decision = %v, want WARN", r.Decision)
	}

	// One fast sample clears the instantaneous flag; p95 over two samples
	// (rank 2) still sits at 2000.
	r = observeEffective(t, g, 10)
	if r.WarnLast {
		t.Error("WarnLast = true for 10ms sample")
	}
	if !r.WarnP95 {
		t.Error("WarnP95 = false with 2000ms in window")
	}
}

func TestWarnReportedWhileBlocked(t *testing.T) {
	g, err := New(testThresholds())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		observeEffective(t, g, 600)
	}

	r := observeEffective(t, g, 2000)
	if r.Decision != Blocked {
		t.Fatalf("decision = %v, want BLOCKED", r.Decision)
	}
	if !r.WarnLast || !r.Warn {
		t.Error("warn flags not reported while blocked")
	}
}

func TestValidate(t *testing.T) {
	break1 := func(mutate func(*Thresholds)) Thresholds {
		th := DefaultThresholds()
		mutate(&th)
		return th
	}

	tests := []struct {
		name    string
		th      Thresholds
		wantSub string
	}{
		{"warnBelowBlock", break1(func(t *Thresholds) { t.BacklogWarnMs = 100 }), "backlog_warn_ms"},
		{"outlierBelowWarn", break1(func(t *Thresholds) { t.OutlierHighMs = 1000 }), "outlier_high_ms"},
		{"zeroBlock", break1(func(t *Thresholds) { t.BacklogBlockMs = 0 }), "backlog_block_ms"},
		{"zeroBlockStreak", break1(func(t *Thresholds) { t.ConsecutiveBacklogToBlock = 0 }), "consecutive_backlog_to_block"},
		{"zeroGoodStreak", break1(func(t *Thresholds) { t.ConsecutiveGoodToUnblock = 0 }), "consecutive_good_to_unblock"},
		{"negativeMinSamples", break1(func(t *Thresholds) { t.MinSamples = -1 }), "min_samples"},
		{"zeroWindow", break1(func(t *Thresholds) { t.WindowSize = 0 }), "window_size"},
		{"zeroSkew", break1(func(t *Thresholds) { t.SkewOutlierMs = 0 }), "skew_outlier_ms"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.th)
			if err == nil {
				t.Fatal("New accepted invalid thresholds")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}

	if _, err := New(DefaultThresholds()); err != nil {
		t.Errorf("New rejected defaults: %v", err)
	}
}

func TestSuggestThresholds(t *testing.T) {
	if got := SuggestThresholds(nil); got != DefaultThresholds() {
		t.Errorf("SuggestThresholds(nil) = %+v, want defaults", got)
	}

	// Fast link: both thresholds clamp to their lower bounds.
	fast := SuggestThresholds([]float64{10, 12, 15, 20, 25})
	if fast.BacklogWarnMs != 800 {
		t.Errorf("fast warn = %v, want 800", fast.BacklogWarnMs)
	}
	if fast.BacklogBlockMs != 250 {
		t.Errorf("fast block = %v, want 250", fast.BacklogBlockMs)
	}

	// Slow link: both clamp to their upper bounds.
	slow := SuggestThresholds([]float64{4000, 5000, 6000})
	if slow.BacklogWarnMs != 2500 {
		t.Errorf("slow warn = %v, want 2500", slow.BacklogWarnMs)
	}
	if slow.BacklogBlockMs != 750 {
		t.Errorf("slow block = %v, want 750", slow.BacklogBlockMs)
	}

	// Mid-range link: p95 of a single value is itself.
	mid := SuggestThresholds([]float64{1000})
	if mid.BacklogWarnMs != 1500 {
		t.Errorf("mid warn = %v, want 1500", mid.BacklogWarnMs)
	}
	if mid.BacklogBlockMs != 500 {
		t.Errorf("mid block = %v, want 500", mid.BacklogBlockMs)
	}

	if err := fast.Validate(); err != nil {
		t.Errorf("suggested thresholds invalid: %v", err)
	}
}
