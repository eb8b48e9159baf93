package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/fxlab/oanda-stream/internal/model"
	"github.com/fxlab/oanda-stream/internal/router"
)

func TestSnapshotterPublishes(t *testing.T) {
	r := newTestRegistry(t)
	out := router.NewGrowableBuffer[model.StreamMetricsSnapshot](16)

	now := time.Now()
	r.RecordMessage("pricing", "EUR_USD", now)
	r.RecordLatency("pricing", "EUR_USD", now, now.Add(8*time.Millisecond))

	s := NewSnapshotter(SnapshotterConfig{Interval: 20 * time.Millisecond}, r, nil, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}

	snap, ok := out.TryReceive()
	if !ok {
		t.Fatal("no snapshot published")
	}
	if snap.Mode != "pricing" || snap.Instrument != "EUR_USD" {
		t.Errorf("snapshot key = %s/%s", snap.Mode, snap.Instrument)
	}
	if snap.MessagesTotal != 1 {
		t.Errorf("MessagesTotal = %d, want 1", snap.MessagesTotal)
	}
	if !snap.Effective.Valid {
		t.Error("Effective stats invalid")
	}
}

func TestSnapshotterStopIsBounded(t *testing.T) {
	r := newTestRegistry(t)
	s := NewSnapshotter(SnapshotterConfig{Interval: time.Hour}, r, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop returned %v", err)
	}
}
