package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *MonitorConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Instance.Environment != "practice" && c.Instance.Environment != "live" {
		return fmt.Errorf("instance.environment must be practice or live, got %q", c.Instance.Environment)
	}

	if c.Broker.Token == "" {
		return errors.New("broker.token is required")
	}
	if c.Broker.AccountID == "" {
		return errors.New("broker.account_id is required")
	}

	if !c.Streams.Pricing && !c.Streams.Transactions {
		return errors.New("streams: at least one of pricing or transactions must be enabled")
	}
	if c.Streams.Pricing && len(c.Broker.Instruments) == 0 {
		return errors.New("broker.instruments is required when the pricing stream is enabled")
	}
	if c.Streams.MaxRetries < -1 {
		return fmt.Errorf("streams.max_retries must be -1 (unlimited) or >= 0, got %d", c.Streams.MaxRetries)
	}
	if c.Streams.BackoffBase <= 0 {
		return errors.New("streams.backoff_base must be positive")
	}
	if c.Streams.BackoffMax < c.Streams.BackoffBase {
		return errors.New("streams.backoff_max must be >= streams.backoff_base")
	}
	if c.Streams.SessionTimeout < 0 {
		return errors.New("streams.session_timeout must be >= 0 (0 disables)")
	}
	if c.Streams.IdleTimeout <= 0 {
		return errors.New("streams.idle_timeout must be positive")
	}

	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.WindowSize < 1 {
		return errors.New("metrics.window_size must be >= 1")
	}
	if c.Metrics.SnapshotInterval <= 0 {
		return errors.New("metrics.snapshot_interval must be positive")
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
		if c.Writers.BufferSize < 1 {
			return errors.New("writers.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
