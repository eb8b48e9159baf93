package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fxlab/oanda-stream/internal/gate"
	"github.com/fxlab/oanda-stream/internal/metrics"
	"github.com/fxlab/oanda-stream/internal/model"
)

// Entry is the per-(mode, instrument) observability state.
type Entry struct {
	Metrics *metrics.StreamMetrics
	Gate    *gate.Gate
}

type streamKey struct {
	mode       string
	instrument string
}

// Registry owns every StreamMetrics/Gate pair in the process. Entries are
// created lazily on first observation and live until shutdown. Implements
// the router's MetricsSink.
type Registry struct {
	metricsCfg metrics.Config
	thresholds gate.Thresholds
	prom       *metrics.PromMetrics
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[streamKey]*Entry
}

// NewRegistry creates a Registry, failing fast on invalid gate thresholds.
// prom may be nil when no exporter is attached.
func NewRegistry(metricsCfg metrics.Config, thresholds gate.Thresholds, prom *metrics.PromMetrics, logger *slog.Logger) (*Registry, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		metricsCfg: metricsCfg,
		thresholds: thresholds,
		prom:       prom,
		logger:     logger,
		entries:    make(map[streamKey]*Entry),
	}, nil
}

// Entry returns the state for one (mode, instrument) key, creating it on
// first use.
func (r *Registry) Entry(mode, instrument string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(mode, instrument)
}

// entry is Entry without locking. Caller holds r.mu.
func (r *Registry) entry(mode, instrument string) *Entry {
	k := streamKey{mode: mode, instrument: instrument}
	if e, ok := r.entries[k]; ok {
		return e
	}

	g, err := gate.New(r.thresholds)
	if err != nil {
		// Thresholds were validated at construction; fall back so the
		// stream keeps a working gate no matter what.
		r.logger.Error("gate construction failed, using defaults", "error", err)
		g, _ = gate.New(gate.DefaultThresholds())
	}

	e := &Entry{
		Metrics: metrics.New(mode, instrument, r.metricsCfg),
		Gate:    g,
	}
	r.entries[k] = e
	r.logger.Info("tracking stream", "mode", mode, "instrument", instrument)
	return e
}

// Entries returns all current entries keyed by (mode, instrument).
func (r *Registry) Entries() map[string]*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*Entry, len(r.entries))
	for k, e := range r.entries {
		out[k.mode+"/"+k.instrument] = e
	}
	return out
}

// RecordMessage counts one classified message.
func (r *Registry) RecordMessage(mode, instrument string, receivedAt time.Time) {
	r.Entry(mode, instrument).Metrics.RecordMessage(receivedAt)
	if r.prom != nil {
		r.prom.MessagesTotal.WithLabelValues(mode, instrument).Inc()
	}
}

// RecordLatency derives a latency sample, feeds the gate, and returns the
// sample for persistence.
func (r *Registry) RecordLatency(mode, instrument string, serverTime, receivedAt time.Time) model.LatencySample {
	e := r.Entry(mode, instrument)
	sample := e.Metrics.RecordLatency(serverTime, receivedAt)
	report := e.Gate.Observe(sample)
	if r.prom != nil {
		r.prom.ObserveGate(mode, instrument, report.Decision.Code())
	}
	return sample
}

// RecordReconnectWait counts one backoff sleep for a mode-level stream.
func (r *Registry) RecordReconnectWait(mode string) {
	r.Entry(mode, "").Metrics.RecordReconnectWait()
	if r.prom != nil {
		r.prom.ReconnectWaitsTotal.WithLabelValues(mode).Inc()
	}
}

// RecordStreamError counts one transport failure for a mode-level stream.
func (r *Registry) RecordStreamError(mode string, cause error) {
	r.Entry(mode, "").Metrics.RecordError(cause)
	if r.prom != nil {
		r.prom.StreamErrorsTotal.WithLabelValues(mode).Inc()
	}
}

// RecordMalformedLine counts one skipped undecodable line.
func (r *Registry) RecordMalformedLine(mode string) {
	if r.prom != nil {
		r.prom.MalformedTotal.WithLabelValues(mode).Inc()
	}
}

// GateReport returns the latest admission report for one stream. ok is
// false when the stream has never been observed.
func (r *Registry) GateReport(mode, instrument string) (gate.Report, bool) {
	r.mu.Lock()
	e, found := r.entries[streamKey{mode: mode, instrument: instrument}]
	r.mu.Unlock()
	if !found {
		return gate.Report{}, false
	}
	return e.Gate.Report(), true
}
