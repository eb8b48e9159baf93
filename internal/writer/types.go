package writer

import (
	"time"

	"github.com/google/uuid"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
	}
}

// sampleRow represents a row for the stream_latency_samples table.
type sampleRow struct {
	ID            uuid.UUID
	ReceivedAt    int64 // Microseconds
	ServerTime    int64 // Microseconds
	Mode          string
	Instrument    string
	RawMs         float64
	ClampedMs     float64
	EffectiveMs   float64
	ClockOffsetMs float64
	SkewMs        float64
	Backlog       bool
	Outlier       bool
}

// snapshotRow represents a row for the stream_metrics_snapshots table.
type snapshotRow struct {
	TakenAt        int64 // Microseconds
	Mode           string
	Instrument     string
	MessagesTotal  int64
	MessagesPerSec float64
	Errors         int64
	ReconnectWaits int64
	BacklogTotal   int64
	OutlierTotal   int64
	ClockOffsetMs  float64
	RawLastMs      float64
	RawP95Ms       float64
	RawMeanMs      float64
	EffLastMs      float64
	EffP95Ms       float64
	EffMeanMs      float64
	LastError      string
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
