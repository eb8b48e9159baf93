package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fxlab/oanda-stream/internal/model"
)

// PromMetrics holds the Prometheus collectors exported by the monitor.
type PromMetrics struct {
	MessagesTotal       *prometheus.CounterVec
	StreamErrorsTotal   *prometheus.CounterVec
	MalformedTotal      *prometheus.CounterVec
	ReconnectWaitsTotal *prometheus.CounterVec
	ObserverPanicsTotal prometheus.Counter

	EffectiveLastMs *prometheus.GaugeVec
	EffectiveP95Ms  *prometheus.GaugeVec
	ClockOffsetMs   *prometheus.GaugeVec
	MessagesPerSec  *prometheus.GaugeVec
	BacklogTotal    *prometheus.GaugeVec
	OutlierTotal    *prometheus.GaugeVec

	// GateDecision encodes the admission decision: 0 OK, 1 WARN, 2 BLOCKED.
	GateDecision *prometheus.GaugeVec
}

// NewPromMetrics registers all collectors on the given registerer.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)

	streamLabels := []string{"mode", "instrument"}
	modeLabels := []string{"mode"}

	return &PromMetrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_messages_total",
			Help: "Classified stream messages received.",
		}, streamLabels),
		StreamErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_errors_total",
			Help: "Transport failures that ended a connection.",
		}, modeLabels),
		MalformedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_malformed_lines_total",
			Help: "Undecodable lines skipped by the classifier.",
		}, modeLabels),
		ReconnectWaitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_reconnect_waits_total",
			Help: "Backoff sleeps before reconnect attempts.",
		}, modeLabels),
		ObserverPanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stream_observer_panics_total",
			Help: "Panics recovered on the observability path.",
		}),
		EffectiveLastMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_latency_effective_last_ms",
			Help: "Most recent non-outlier effective latency.",
		}, streamLabels),
		EffectiveP95Ms: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_latency_effective_p95_ms",
			Help: "Windowed p95 of non-outlier effective latency.",
		}, streamLabels),
		ClockOffsetMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_clock_offset_ms",
			Help: "Estimated clock skew (window minimum of raw latency).",
		}, streamLabels),
		MessagesPerSec: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_messages_per_second",
			Help: "Message throughput over the elapsed-time window.",
		}, streamLabels),
		BacklogTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_backlog_samples_total",
			Help: "Samples at or above the backlog threshold.",
		}, streamLabels),
		OutlierTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_outlier_samples_total",
			Help: "Samples at or above the outlier threshold.",
		}, streamLabels),
		GateDecision: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trade_gate_decision",
			Help: "Admission decision: 0 OK, 1 WARN, 2 BLOCKED.",
		}, streamLabels),
	}
}

// ObserveSnapshot publishes one metrics snapshot to the gauges.
func (p *PromMetrics) ObserveSnapshot(snap model.StreamMetricsSnapshot) {
	labels := prometheus.Labels{"mode": snap.Mode, "instrument": snap.Instrument}

	p.MessagesPerSec.With(labels).Set(snap.MessagesPerSec)
	p.ClockOffsetMs.With(labels).Set(snap.ClockOffsetMs)
	p.BacklogTotal.With(labels).Set(float64(snap.BacklogTotal))
	p.OutlierTotal.With(labels).Set(float64(snap.OutlierTotal))
	if snap.Effective.Valid {
		p.EffectiveLastMs.With(labels).Set(snap.Effective.LastMs)
		p.EffectiveP95Ms.With(labels).Set(snap.Effective.P95Ms)
	}
}

// ObserveGate publishes the numeric admission decision for one stream.
func (p *PromMetrics) ObserveGate(mode, instrument string, decision int) {
	p.GateDecision.With(prometheus.Labels{"mode": mode, "instrument": instrument}).Set(float64(decision))
}
