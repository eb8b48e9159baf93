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

// SnapshotWriter consumes StreamMetricsSnapshot values from the snapshotter
// and writes them to the stream_metrics_snapshots table.
type SnapshotWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *router.GrowableBuffer[model.StreamMetricsSnapshot]
	db    *pgxpool.Pool

	batch       []snapshotRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewSnapshotWriter creates a new SnapshotWriter.
func NewSnapshotWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[model.StreamMetricsSnapshot],
	db *pgxpool.Pool,
	logger *slog.Logger,
) *SnapshotWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]snapshotRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming snapshots and writing to the database.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("snapshot writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *SnapshotWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping snapshot writer")

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
		w.logger.Info("snapshot writer stopped")
	case <-ctx.Done():
		w.logger.Warn("snapshot writer stop timed out")
	}

	// The consume loop is down; anything still buffered joins the batch.
	for {
		snap, ok := w.input.TryReceive()
		if !ok {
			break
		}
		row := w.transform(snap)
		w.batchMu.Lock()
		w.batch = append(w.batch, row)
		w.batchMu.Unlock()
	}

	// Final flush on the stop context; the run context is canceled by now.
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *SnapshotWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *SnapshotWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			snap, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			w.handleSnapshot(snap)
		}
	}
}

func (w *SnapshotWriter) flushLoop() {
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

func (w *SnapshotWriter) handleSnapshot(snap model.StreamMetricsSnapshot) {
	row := w.transform(snap)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a StreamMetricsSnapshot to a snapshotRow.
func (w *SnapshotWriter) transform(snap model.StreamMetricsSnapshot) snapshotRow {
	return snapshotRow{
		TakenAt:        snap.TakenAt.UnixMicro(),
		Mode:           snap.Mode,
		Instrument:     snap.Instrument,
		MessagesTotal:  snap.MessagesTotal,
		MessagesPerSec: snap.MessagesPerSec,
		Errors:         snap.Errors,
		ReconnectWaits: snap.ReconnectWaits,
		BacklogTotal:   snap.BacklogTotal,
		OutlierTotal:   snap.OutlierTotal,
		ClockOffsetMs:  snap.ClockOffsetMs,
		RawLastMs:      snap.Raw.LastMs,
		RawP95Ms:       snap.Raw.P95Ms,
		RawMeanMs:      snap.Raw.MeanMs,
		EffLastMs:      snap.Effective.LastMs,
		EffP95Ms:       snap.Effective.P95Ms,
		EffMeanMs:      snap.Effective.MeanMs,
		LastError:      snap.LastError,
	}
}

func (w *SnapshotWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]snapshotRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed snapshots",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch. Snapshots have no natural key;
// the table is pure append-only.
func (w *SnapshotWriter) batchInsert(ctx context.Context, rows []snapshotRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO stream_metrics_snapshots
				(taken_at, mode, instrument, messages_total, messages_per_sec,
				 errors, reconnect_waits, backlog_total, outlier_total,
				 clock_offset_ms, raw_last_ms, raw_p95_ms, raw_mean_ms,
				 eff_last_ms, eff_p95_ms, eff_mean_ms, last_error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, r.TakenAt, r.Mode, r.Instrument, r.MessagesTotal, r.MessagesPerSec,
			r.Errors, r.ReconnectWaits, r.BacklogTotal, r.OutlierTotal,
			r.ClockOffsetMs, r.RawLastMs, r.RawP95Ms, r.RawMeanMs,
			r.EffLastMs, r.EffP95Ms, r.EffMeanMs, r.LastError)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
