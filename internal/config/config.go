package config

import (
	"time"

	"github.com/fxlab/oanda-stream/internal/gate"
)

// MonitorConfig is the root configuration for a monitor instance.
type MonitorConfig struct {
	Instance InstanceConfig  `yaml:"instance"`
	Broker   BrokerConfig    `yaml:"broker"`
	Streams  StreamsConfig   `yaml:"streams"`
	Gate     gate.Thresholds `yaml:"gate"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Database DatabaseConfig  `yaml:"database"`
	Writers  WritersConfig   `yaml:"writers"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID          string `yaml:"id"`
	Environment string `yaml:"environment"` // "practice" or "live"
}

// BrokerConfig holds the streaming endpoint and credentials.
type BrokerConfig struct {
	StreamURL   string   `yaml:"stream_url"`
	Token       string   `yaml:"token"`
	AccountID   string   `yaml:"account_id"`
	Instruments []string `yaml:"instruments"`
}

// StreamsConfig holds per-stream supervisor settings. Pricing and
// transaction streams run independently; these knobs apply to both.
type StreamsConfig struct {
	Pricing      bool `yaml:"pricing"`
	Transactions bool `yaml:"transactions"`

	Reconnect bool `yaml:"reconnect"`

	// MaxRetries bounds reconnect attempts; -1 (or unset) means unlimited.
	MaxRetries int `yaml:"max_retries"`

	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// SessionTimeout caps the whole session; 0 disables it.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// IdleTimeout aborts a connection with no data.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	BufferSize int `yaml:"buffer_size"`
}

// MetricsConfig holds the latency window and Prometheus exporter settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`

	WindowSize         int           `yaml:"window_size"`
	ThroughputWindow   time.Duration `yaml:"throughput_window"`
	BacklogThresholdMs float64       `yaml:"backlog_threshold_ms"`
	OutlierHighMs      float64       `yaml:"outlier_high_ms"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
}

// DatabaseConfig holds the TimescaleDB connection for sample and snapshot
// persistence. Persistence is optional; the monitor runs without it.
type DatabaseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}
