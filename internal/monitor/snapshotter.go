package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fxlab/oanda-stream/internal/metrics"
	"github.com/fxlab/oanda-stream/internal/model"
	"github.com/fxlab/oanda-stream/internal/router"
)

// SnapshotterConfig holds snapshotter configuration.
type SnapshotterConfig struct {
	// Interval between snapshot passes (default: 10s).
	Interval time.Duration
}

// DefaultSnapshotterConfig returns sensible defaults.
func DefaultSnapshotterConfig() SnapshotterConfig {
	return SnapshotterConfig{Interval: 10 * time.Second}
}

// Snapshotter periodically captures a snapshot of every tracked stream,
// refreshes the exported gauges, and queues the snapshots for persistence.
type Snapshotter struct {
	cfg      SnapshotterConfig
	registry *Registry
	prom     *metrics.PromMetrics
	out      *router.GrowableBuffer[model.StreamMetricsSnapshot]
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshotter creates a Snapshotter. out and prom may each be nil when
// persistence or the exporter is disabled.
func NewSnapshotter(cfg SnapshotterConfig, registry *Registry, prom *metrics.PromMetrics, out *router.GrowableBuffer[model.StreamMetricsSnapshot], logger *slog.Logger) *Snapshotter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSnapshotterConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		cfg:      cfg,
		registry: registry,
		prom:     prom,
		out:      out,
		logger:   logger,
	}
}

// Start begins the snapshot loop.
func (s *Snapshotter) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("snapshotter started", "interval", s.cfg.Interval)
	return nil
}

// Stop shuts down the snapshot loop, bounded by ctx.
func (s *Snapshotter) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("snapshotter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Snapshotter) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.snapshotAll()
		}
	}
}

// snapshotAll captures one pass over every tracked stream.
func (s *Snapshotter) snapshotAll() {
	for key, e := range s.registry.Entries() {
		snap := e.Metrics.Snapshot()
		report := e.Gate.Report()

		if s.prom != nil {
			s.prom.ObserveSnapshot(snap)
			s.prom.ObserveGate(snap.Mode, snap.Instrument, report.Decision.Code())
		}
		if s.out != nil {
			s.out.Send(snap)
		}

		s.logger.Debug("stream snapshot",
			"stream", key,
			"messages", snap.MessagesTotal,
			"mps", snap.MessagesPerSec,
			"effective_last_ms", snap.Effective.LastMs,
			"effective_p95_ms", snap.Effective.P95Ms,
			"decision", report.Decision.String(),
		)
	}
}
