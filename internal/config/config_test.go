package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxlab/oanda-stream/internal/gate"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-monitor
  environment: practice
broker:
  stream_url: https://stream-fxpractice.oanda.com
  token: test-token
  account_id: 101-004-1234567-001
  instruments: [EUR_USD, USD_JPY]
streams:
  pricing: true
  reconnect: true
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-monitor" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-monitor")
	}
	if cfg.Broker.AccountID != "101-004-1234567-001" {
		t.Errorf("Broker.AccountID = %q", cfg.Broker.AccountID)
	}
	if len(cfg.Broker.Instruments) != 2 || cfg.Broker.Instruments[0] != "EUR_USD" {
		t.Errorf("Broker.Instruments = %v", cfg.Broker.Instruments)
	}
	if !cfg.Streams.Pricing || !cfg.Streams.Reconnect {
		t.Errorf("Streams = %+v, want pricing and reconnect enabled", cfg.Streams)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BROKER_TOKEN", "secret123")

	yaml := `
instance:
  id: test-monitor
broker:
  token: ${TEST_BROKER_TOKEN}
  account_id: 101-004-1234567-001
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Broker.Token != "secret123" {
		t.Errorf("Broker.Token = %q, want %q", cfg.Broker.Token, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-monitor
broker:
  token: test-token
  account_id: 101-004-1234567-001
streams:
  pricing: true
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Broker.StreamURL != DefaultStreamURL {
		t.Errorf("Broker.StreamURL = %q, want default %q", cfg.Broker.StreamURL, DefaultStreamURL)
	}
	if cfg.Instance.Environment != DefaultEnvironment {
		t.Errorf("Instance.Environment = %q, want default %q", cfg.Instance.Environment, DefaultEnvironment)
	}
	if cfg.Streams.MaxRetries != DefaultMaxRetries {
		t.Errorf("Streams.MaxRetries = %d, want default %d", cfg.Streams.MaxRetries, DefaultMaxRetries)
	}
	if cfg.Streams.BackoffBase != DefaultBackoffBase {
		t.Errorf("Streams.BackoffBase = %v, want default %v", cfg.Streams.BackoffBase, DefaultBackoffBase)
	}
	if cfg.Gate != gate.DefaultThresholds() {
		t.Errorf("Gate = %+v, want defaults", cfg.Gate)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Metrics.WindowSize != DefaultWindowSize {
		t.Errorf("Metrics.WindowSize = %d, want default %d", cfg.Metrics.WindowSize, DefaultWindowSize)
	}
	if cfg.Database.Timescale.Port != DefaultDBPort {
		t.Errorf("Database.Timescale.Port = %d, want default %d", cfg.Database.Timescale.Port, DefaultDBPort)
	}
}

func TestGateOverridesSurvive(t *testing.T) {
	yaml := `
instance:
  id: test-monitor
broker:
  token: test-token
  account_id: 101-004-1234567-001
streams:
  pricing: true
gate:
  backlog_warn_ms: 2000
  consecutive_backlog_to_block: 5
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Gate.BacklogWarnMs != 2000 {
		t.Errorf("Gate.BacklogWarnMs = %v, want 2000", cfg.Gate.BacklogWarnMs)
	}
	if cfg.Gate.ConsecutiveBacklogToBlock != 5 {
		t.Errorf("Gate.ConsecutiveBacklogToBlock = %d, want 5", cfg.Gate.ConsecutiveBacklogToBlock)
	}
	// Untouched fields still get defaults.
	if cfg.Gate.BacklogBlockMs != gate.DefaultThresholds().BacklogBlockMs {
		t.Errorf("Gate.BacklogBlockMs = %v, want default", cfg.Gate.BacklogBlockMs)
	}
}

func validConfig() MonitorConfig {
	cfg := MonitorConfig{
		Instance: InstanceConfig{ID: "test", Environment: "practice"},
		Broker: BrokerConfig{
			StreamURL:   DefaultStreamURL,
			Token:       "tok",
			AccountID:   "101-004-1234567-001",
			Instruments: []string{"EUR_USD"},
		},
		Streams: StreamsConfig{
			Pricing:     true,
			Reconnect:   true,
			MaxRetries:  -1,
			BackoffBase: 500 * time.Millisecond,
			BackoffMax:  15 * time.Second,
			IdleTimeout: 30 * time.Second,
			BufferSize:  1024,
		},
		Gate: gate.DefaultThresholds(),
		Metrics: MetricsConfig{
			Port:             9090,
			Path:             "/metrics",
			WindowSize:       256,
			SnapshotInterval: 10 * time.Second,
		},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MonitorConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*MonitorConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *MonitorConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad environment",
			mutate:  func(c *MonitorConfig) { c.Instance.Environment = "staging" },
			wantErr: "instance.environment",
		},
		{
			name:    "missing token",
			mutate:  func(c *MonitorConfig) { c.Broker.Token = "" },
			wantErr: "broker.token is required",
		},
		{
			name: "no streams enabled",
			mutate: func(c *MonitorConfig) {
				c.Streams.Pricing = false
				c.Streams.Transactions = false
			},
			wantErr: "at least one of pricing or transactions",
		},
		{
			name:    "pricing without instruments",
			mutate:  func(c *MonitorConfig) { c.Broker.Instruments = nil },
			wantErr: "broker.instruments is required",
		},
		{
			name:    "backoff max below base",
			mutate:  func(c *MonitorConfig) { c.Streams.BackoffMax = 100 * time.Millisecond },
			wantErr: "streams.backoff_max",
		},
		{
			name:    "invalid retry bound",
			mutate:  func(c *MonitorConfig) { c.Streams.MaxRetries = -2 },
			wantErr: "streams.max_retries",
		},
		{
			name:    "invalid gate thresholds",
			mutate:  func(c *MonitorConfig) { c.Gate.BacklogWarnMs = 1 },
			wantErr: "gate:",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *MonitorConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port",
		},
		{
			name: "database enabled without host",
			mutate: func(c *MonitorConfig) {
				c.Database.Enabled = true
				c.Database.Timescale = DBConfig{Name: "db", User: "u", Password: "p", MaxConns: 10}
			},
			wantErr: "database.timescale.host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
