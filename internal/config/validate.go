package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.SendBuffer < 1 {
		return errors.New("server.send_buffer must be >= 1")
	}

	if c.Provider.RestURL == "" {
		return errors.New("provider.rest_url is required")
	}
	if c.Provider.RequestsPerSecond < 0 {
		return errors.New("provider.requests_per_second must be >= 0")
	}

	// A zero delay would hot-loop against a failing endpoint.
	if c.Upstream.ReconnectDelay <= 0 {
		return errors.New("upstream.reconnect_delay must be > 0")
	}
	if c.Upstream.BufferSize < 1 {
		return errors.New("upstream.buffer_size must be >= 1")
	}

	if !c.Auth.Disabled {
		if c.Auth.IssuerURL == "" && c.Auth.PublicKeyPath == "" {
			return errors.New("auth.issuer_url or auth.public_key_path is required")
		}
		if c.Auth.IssuerURL != "" && c.Auth.Audience == "" {
			return errors.New("auth.audience is required when auth.issuer_url is set")
		}
	}

	if c.Registry.ReconcileInterval <= 0 {
		return errors.New("registry.reconcile_interval must be > 0")
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if c.Poller.SkipIfTickWithin < 0 {
		return errors.New("poller.skip_if_tick_within must be >= 0")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	switch c.Alerts.Store {
	case "memory":
	case "postgres":
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("alerts.store must be \"postgres\" or \"memory\", got %q", c.Alerts.Store)
	}
	if c.Alerts.Workers < 1 {
		return errors.New("alerts.workers must be >= 1")
	}
	if c.Alerts.QueueSize < 1 {
		return errors.New("alerts.queue_size must be >= 1")
	}

	if k := c.Notifications.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return errors.New("notifications.kafka.brokers is required when kafka is enabled")
		}
		if k.Topic == "" {
			return errors.New("notifications.kafka.topic is required")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.URL == "" {
		if db.Host == "" {
			return fmt.Errorf("%s.host is required", prefix)
		}
		if db.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if db.User == "" {
			return fmt.Errorf("%s.user is required", prefix)
		}
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
