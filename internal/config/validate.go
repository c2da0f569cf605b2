package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Provider.RestURL == "" {
		return errors.New("provider.rest_url is required")
	}

	switch c.Upstream.Mode {
	case "ltpc", "full":
	default:
		return fmt.Errorf("upstream.mode must be ltpc or full, got %q", c.Upstream.Mode)
	}
	if c.Upstream.ReconnectBaseDelay > c.Upstream.ReconnectMaxDelay {
		return fmt.Errorf("upstream.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Upstream.ReconnectBaseDelay, c.Upstream.ReconnectMaxDelay)
	}
	if c.Upstream.BufferSize < 1 {
		return errors.New("upstream.buffer_size must be >= 1")
	}

	if c.Clients.OutboxSize < 1 {
		return errors.New("clients.outbox_size must be >= 1")
	}

	// The instrument store is optional; validate only when configured.
	if c.Database.Postgres.Host != "" {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Cache.Redis.Addr != "" && c.Cache.Redis.TTL <= 0 {
		return errors.New("cache.redis.ttl must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
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
