package writer

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fxlab/oanda-stream/internal/model"
	"github.com/fxlab/oanda-stream/internal/router"
)

func TestSampleWriter_Transform(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := router.NewGrowableBuffer[model.LatencySample](10)
	w := NewSampleWriter(cfg, input, nil, nil)

	id := uuid.New()
	serverTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	receivedAt := serverTime.Add(42 * time.Millisecond)
	sample := model.LatencySample{
		ID:            id,
		Mode:          "pricing",
		Instrument:    "EUR_USD",
		ReceivedAt:    receivedAt,
		ServerTime:    serverTime,
		RawMs:         42,
		ClampedMs:     42,
		EffectiveMs:   30,
		ClockOffsetMs: 12,
		SkewMs:        0,
		Backlog:       false,
		Outlier:       false,
	}

	row := w.transform(sample)

	if row.ID != id {
		t.Errorf("ID = %v, want %v", row.ID, id)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
	if row.ServerTime != serverTime.UnixMicro() {
		t.Errorf("ServerTime = %d, want %d", row.ServerTime, serverTime.UnixMicro())
	}
	if row.Mode != "pricing" || row.Instrument != "EUR_USD" {
		t.Errorf("key = %s/%s, want pricing/EUR_USD", row.Mode, row.Instrument)
	}
	if row.RawMs != 42 || row.EffectiveMs != 30 || row.ClockOffsetMs != 12 {
		t.Errorf("latency fields = %v/%v/%v, want 42/30/12", row.RawMs, row.EffectiveMs, row.ClockOffsetMs)
	}
	if row.Backlog || row.Outlier {
		t.Errorf("flags = %v/%v, want false/false", row.Backlog, row.Outlier)
	}
}

func TestSampleWriter_Lifecycle(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}
	input := router.NewGrowableBuffer[model.LatencySample](10)

	// Note: We can't test actual DB writes without a database
	// This tests the goroutine lifecycle
	w := NewSampleWriter(cfg, input, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give goroutines time to start
	time.Sleep(20 * time.Millisecond)

	// Stop should complete without hanging
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSampleWriter_StopFlushesPendingOnLiveContext(t *testing.T) {
	// Lazy pool: no connection is made until the flush, and nothing
	// listens on the target port, so the insert fails fast with a dial
	// error. The final flush must run on the stop context — on the
	// already-canceled run context it would fail before ever dialing,
	// silently dropping the pending batch.
	pool, err := pgxpool.New(context.Background(), "postgres://monitor:x@127.0.0.1:1/latencydb")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	cfg := WriterConfig{
		BatchSize:     100, // Large batch so only the final flush fires
		FlushInterval: time.Hour,
	}
	input := router.NewGrowableBuffer[model.LatencySample](10)
	w := NewSampleWriter(cfg, input, pool, logger)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	input.Send(model.LatencySample{ID: uuid.New(), Mode: "pricing", ReceivedAt: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for {
		w.batchMu.Lock()
		pending := len(w.batch)
		w.batchMu.Unlock()
		if pending == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sample never reached the batch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if got := w.Stats().Errors; got != 1 {
		t.Errorf("flush errors = %d, want 1 (final flush must reach the database)", got)
	}
	if strings.Contains(logBuf.String(), "context canceled") {
		t.Errorf("final flush ran on a canceled context:\n%s", logBuf.String())
	}
}

func TestSampleWriter_StopDrainsBufferedInput(t *testing.T) {
	pool, err := pgxpool.New(context.Background(), "postgres://monitor:x@127.0.0.1:1/latencydb")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	cfg := WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}
	input := router.NewGrowableBuffer[model.LatencySample](10)
	w := NewSampleWriter(cfg, input, pool, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Whatever the consume loop misses before Stop, Stop must drain.
	for range 5 {
		input.Send(model.LatencySample{ID: uuid.New(), Mode: "pricing", ReceivedAt: time.Now()})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if depth := input.Len(); depth != 0 {
		t.Errorf("buffer depth after Stop = %d, want 0", depth)
	}
	if got := w.Stats().Errors; got != 1 {
		t.Errorf("flush errors = %d, want 1 (drained rows must reach the final flush)", got)
	}
}

func TestSampleWriter_HandleSample_AddsToBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
	}
	input := router.NewGrowableBuffer[model.LatencySample](10)
	w := NewSampleWriter(cfg, input, nil, nil)

	w.handleSample(model.LatencySample{
		ID:         uuid.New(),
		Mode:       "pricing",
		ReceivedAt: time.Now(),
	})

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestSampleWriter_Stats(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := router.NewGrowableBuffer[model.LatencySample](10)
	w := NewSampleWriter(cfg, input, nil, nil)

	stats := w.Stats()

	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
}
