package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fxlab/oanda-stream/internal/model"
	"github.com/fxlab/oanda-stream/internal/router"
)

// SampleWriter consumes LatencySample values from the router buffer and
// writes them to the stream_latency_samples table.
type SampleWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the router
	input *router.GrowableBuffer[model.LatencySample]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []sampleRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewSampleWriter creates a new SampleWriter.
func NewSampleWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[model.LatencySample],
	db *pgxpool.Pool,
	logger *slog.Logger,
) *SampleWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]sampleRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming samples and writing to the database.
func (w *SampleWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("sample writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *SampleWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping sample writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("sample writer stopped")
	case <-ctx.Done():
		w.logger.Warn("sample writer stop timed out")
	}

	// The consume loop is down; anything still buffered joins the batch.
	for {
		sample, ok := w.input.TryReceive()
		if !ok {
			break
		}
		row := w.transform(sample)
		w.batchMu.Lock()
		w.batch = append(w.batch, row)
		w.batchMu.Unlock()
	}

	// Final flush on the stop context; the run context is canceled by now.
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *SampleWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *SampleWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			sample, ok := w.input.TryReceive()
			if !ok {
				// Buffer empty, wait a bit before trying again
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			w.handleSample(sample)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *SampleWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleSample transforms and adds a sample to the batch.
func (w *SampleWriter) handleSample(sample model.LatencySample) {
	row := w.transform(sample)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a LatencySample to a sampleRow.
func (w *SampleWriter) transform(sample model.LatencySample) sampleRow {
	return sampleRow{
		ID:            sample.ID,
		ReceivedAt:    sample.ReceivedAt.UnixMicro(),
		ServerTime:    sample.ServerTime.UnixMicro(),
		Mode:          sample.Mode,
		Instrument:    sample.Instrument,
		RawMs:         sample.RawMs,
		ClampedMs:     sample.ClampedMs,
		EffectiveMs:   sample.EffectiveMs,
		ClockOffsetMs: sample.ClockOffsetMs,
		SkewMs:        sample.SkewMs,
		Backlog:       sample.Backlog,
		Outlier:       sample.Outlier,
	}
}

// flush writes the current batch to the database.
func (w *SampleWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]sampleRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed samples",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *SampleWriter) batchInsert(ctx context.Context, rows []sampleRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO stream_latency_samples
				(id, received_at, server_time, mode, instrument,
				 raw_ms, clamped_ms, effective_ms, clock_offset_ms, skew_ms,
				 is_backlog, is_outlier)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.ReceivedAt, r.ServerTime, r.Mode, r.Instrument,
			r.RawMs, r.ClampedMs, r.EffectiveMs, r.ClockOffsetMs, r.SkewMs,
			r.Backlog, r.Outlier)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
