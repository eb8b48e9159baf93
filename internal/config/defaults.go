package config

import (
	"time"

	"github.com/fxlab/oanda-stream/internal/gate"
)

// Default values for optional configuration fields.
const (
	DefaultStreamURL          = "https://stream-fxpractice.oanda.com"
	DefaultEnvironment        = "practice"
	DefaultMaxRetries         = -1 // unlimited
	DefaultBackoffBase        = 500 * time.Millisecond
	DefaultBackoffMax         = 15 * time.Second
	DefaultIdleTimeout        = 30 * time.Second
	DefaultStreamBufferSize   = 1024
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultWriterBufferSize   = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultWindowSize         = 256
	DefaultThroughputWindow   = 10 * time.Second
	DefaultBacklogThresholdMs = 2000
	DefaultOutlierHighMs      = 10000
	DefaultSnapshotInterval   = 10 * time.Second
)

func (c *MonitorConfig) applyDefaults() {
	if c.Instance.Environment == "" {
		c.Instance.Environment = DefaultEnvironment
	}

	// Broker defaults
	if c.Broker.StreamURL == "" {
		c.Broker.StreamURL = DefaultStreamURL
	}

	// Stream supervisor defaults
	if c.Streams.MaxRetries == 0 {
		c.Streams.MaxRetries = DefaultMaxRetries
	}
	if c.Streams.BackoffBase == 0 {
		c.Streams.BackoffBase = DefaultBackoffBase
	}
	if c.Streams.BackoffMax == 0 {
		c.Streams.BackoffMax = DefaultBackoffMax
	}
	if c.Streams.IdleTimeout == 0 {
		c.Streams.IdleTimeout = DefaultIdleTimeout
	}
	if c.Streams.BufferSize == 0 {
		c.Streams.BufferSize = DefaultStreamBufferSize
	}

	// Gate defaults: a zero value means "use the production default".
	defaults := gate.DefaultThresholds()
	if c.Gate.SkewOutlierMs == 0 {
		c.Gate.SkewOutlierMs = defaults.SkewOutlierMs
	}
	if c.Gate.BacklogWarnMs == 0 {
		c.Gate.BacklogWarnMs = defaults.BacklogWarnMs
	}
	if c.Gate.BacklogBlockMs == 0 {
		c.Gate.BacklogBlockMs = defaults.BacklogBlockMs
	}
	if c.Gate.ConsecutiveBacklogToBlock == 0 {
		c.Gate.ConsecutiveBacklogToBlock = defaults.ConsecutiveBacklogToBlock
	}
	if c.Gate.ConsecutiveGoodToUnblock == 0 {
		c.Gate.ConsecutiveGoodToUnblock = defaults.ConsecutiveGoodToUnblock
	}
	if c.Gate.OutlierHighMs == 0 {
		c.Gate.OutlierHighMs = defaults.OutlierHighMs
	}
	if c.Gate.MinSamples == 0 {
		c.Gate.MinSamples = defaults.MinSamples
	}
	if c.Gate.WindowSize == 0 {
		c.Gate.WindowSize = defaults.WindowSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.WindowSize == 0 {
		c.Metrics.WindowSize = DefaultWindowSize
	}
	if c.Metrics.ThroughputWindow == 0 {
		c.Metrics.ThroughputWindow = DefaultThroughputWindow
	}
	if c.Metrics.BacklogThresholdMs == 0 {
		c.Metrics.BacklogThresholdMs = DefaultBacklogThresholdMs
	}
	if c.Metrics.OutlierHighMs == 0 {
		c.Metrics.OutlierHighMs = DefaultOutlierHighMs
	}
	if c.Metrics.SnapshotInterval == 0 {
		c.Metrics.SnapshotInterval = DefaultSnapshotInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultWriterBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
