package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fxlab/oanda-stream/internal/model"
)

// Config bounds the rolling windows of one StreamMetrics instance.
type Config struct {
	// WindowSize caps the latency sample window. Count-bounded so that a
	// fixed sample sequence always yields the same statistics.
	WindowSize int

	// ThroughputWindow is the elapsed-time window for messages/sec.
	ThroughputWindow time.Duration

	// BacklogThresholdMs marks a sample as backlog.
	BacklogThresholdMs float64

	// OutlierHighMs marks a sample as an outlier, excluding it from
	// windowed statistics.
	OutlierHighMs float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:         256,
		ThroughputWindow:   10 * time.Second,
		BacklogThresholdMs: 2000,
		OutlierHighMs:      10000,
	}
}

// StreamMetrics aggregates latency and health statistics for one
// (mode, instrument) stream. Safe for concurrent use: writers record from
// stream goroutines while readers take snapshots.
type StreamMetrics struct {
	mode       string
	instrument string
	cfg        Config

	mu sync.Mutex

	// Latency window, oldest first.
	samples []model.LatencySample

	// Message receive times for throughput, oldest first.
	messageTimes []time.Time

	messagesTotal  int64
	errorsTotal    int64
	reconnectWaits int64
	backlogTotal   int64
	outlierTotal   int64
	lastError      string
}

// New creates a StreamMetrics for one (mode, instrument) pair.
func New(mode, instrument string, cfg Config) *StreamMetrics {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.ThroughputWindow <= 0 {
		cfg.ThroughputWindow = DefaultConfig().ThroughputWindow
	}
	return &StreamMetrics{
		mode:       mode,
		instrument: instrument,
		cfg:        cfg,
	}
}

// Mode returns the stream mode this instance tracks.
func (m *StreamMetrics) Mode() string { return m.mode }

// Instrument returns the instrument this instance tracks.
func (m *StreamMetrics) Instrument() string { return m.instrument }

// RecordMessage counts one received message for throughput.
func (m *StreamMetrics) RecordMessage(receivedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesTotal++
	m.messageTimes = append(m.messageTimes, receivedAt)
	m.trimMessageTimes(receivedAt)
}

// RecordError counts one stream error (transport failure or malformed line).
func (m *StreamMetrics) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorsTotal++
	if err != nil {
		m.lastError = err.Error()
	}
}

// RecordReconnectWait counts one supervisor backoff sleep.
func (m *StreamMetrics) RecordReconnectWait() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectWaits++
}

// RecordLatency ingests one timestamped message and returns the immutable
// sample. The clock offset is the minimum raw latency across the window
// including this sample, so the effective latency of the window minimum is
// always zero.
func (m *StreamMetrics) RecordLatency(serverTime, receivedAt time.Time) model.LatencySample {
	rawMs := float64(receivedAt.Sub(serverTime)) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	offsetMs := rawMs
	for i := range m.samples {
		if m.samples[i].RawMs < offsetMs {
			offsetMs = m.samples[i].RawMs
		}
	}

	effectiveMs := math.Max(0, rawMs-offsetMs)
	sample := model.LatencySample{
		ID:            uuid.New(),
		Mode:          m.mode,
		Instrument:    m.instrument,
		ReceivedAt:    receivedAt,
		ServerTime:    serverTime,
		RawMs:         rawMs,
		ClampedMs:     math.Max(0, rawMs),
		EffectiveMs:   effectiveMs,
		ClockOffsetMs: offsetMs,
		SkewMs:        math.Max(0, -rawMs),
		Backlog:       effectiveMs >= m.cfg.BacklogThresholdMs,
		Outlier:       effectiveMs >= m.cfg.OutlierHighMs,
	}

	if sample.Backlog {
		m.backlogTotal++
	}
	if sample.Outlier {
		m.outlierTotal++
	}

	m.samples = append(m.samples, sample)
	if len(m.samples) > m.cfg.WindowSize {
		m.samples = m.samples[len(m.samples)-m.cfg.WindowSize:]
	}

	return sample
}

// Snapshot returns one consistent point-in-time aggregate. Readers never
// observe a partially updated window.
func (m *StreamMetrics) Snapshot() model.StreamMetricsSnapshot {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.trimMessageTimes(now)

	snap := model.StreamMetricsSnapshot{
		Mode:           m.mode,
		Instrument:     m.instrument,
		TakenAt:        now,
		MessagesTotal:  m.messagesTotal,
		MessagesPerSec: float64(len(m.messageTimes)) / m.cfg.ThroughputWindow.Seconds(),
		Errors:         m.errorsTotal,
		ReconnectWaits: m.reconnectWaits,
		BacklogTotal:   m.backlogTotal,
		OutlierTotal:   m.outlierTotal,
		LastError:      m.lastError,
	}
	if n := len(m.samples); n > 0 {
		snap.ClockOffsetMs = m.samples[n-1].ClockOffsetMs
	}

	raws := make([]float64, 0, len(m.samples))
	clamped := make([]float64, 0, len(m.samples))
	effective := make([]float64, 0, len(m.samples))
	for i := range m.samples {
		if m.samples[i].Outlier {
			continue
		}
		raws = append(raws, m.samples[i].RawMs)
		clamped = append(clamped, m.samples[i].ClampedMs)
		effective = append(effective, m.samples[i].EffectiveMs)
	}
	snap.Raw = stats(raws)
	snap.Clamped = stats(clamped)
	snap.Effective = stats(effective)

	return snap
}

// trimMessageTimes drops receive times outside the throughput window.
// Caller holds the lock.
func (m *StreamMetrics) trimMessageTimes(now time.Time) {
	cutoff := now.Add(-m.cfg.ThroughputWindow)
	drop := 0
	for drop < len(m.messageTimes) && m.messageTimes[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		m.messageTimes = append(m.messageTimes[:0], m.messageTimes[drop:]...)
	}
}

// stats computes last/p95/mean over the values in window order.
func stats(values []float64) model.LatencyStats {
	if len(values) == 0 {
		return model.LatencyStats{}
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	p95, _ := P95(values)
	return model.LatencyStats{
		LastMs: values[len(values)-1],
		P95Ms:  p95,
		MeanMs: sum / float64(len(values)),
		Valid:  true,
	}
}

// P95 returns the 95th percentile by nearest-rank selection: the
// ceil(0.95*n)-th smallest value. ok is false for an empty input.
func P95(values []float64) (p95 float64, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(0.95 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1], true
}
