package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://api.upstox.com"
	DefaultAPITimeout         = 10 * time.Second
	DefaultMaxRetries         = 3
	DefaultMode               = "ltpc"
	DefaultReconnectBaseDelay = 3 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultCredentialPoll     = 1 * time.Second
	DefaultIdleGrace          = 30 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultUpstreamWriteWait  = 5 * time.Second
	DefaultBufferSize         = 1024
	DefaultOutboxSize         = 64
	DefaultClientWriteWait    = 5 * time.Second
	DefaultClientPingInterval = 30 * time.Second
	DefaultClientPongTimeout  = 75 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultCacheTTL           = 5 * time.Minute
	DefaultServerPort         = 8080
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultLogLevel           = "info"
)

func (c *RelayConfig) applyDefaults() {
	// Provider defaults
	if c.Provider.RestURL == "" {
		c.Provider.RestURL = DefaultRestURL
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = DefaultAPITimeout
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = DefaultMaxRetries
	}

	// Upstream defaults
	if c.Upstream.Mode == "" {
		c.Upstream.Mode = DefaultMode
	}
	if c.Upstream.ReconnectBaseDelay == 0 {
		c.Upstream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Upstream.ReconnectMaxDelay == 0 {
		c.Upstream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Upstream.CredentialPoll == 0 {
		c.Upstream.CredentialPoll = DefaultCredentialPoll
	}
	if c.Upstream.IdleGrace == 0 {
		c.Upstream.IdleGrace = DefaultIdleGrace
	}
	if c.Upstream.PingTimeout == 0 {
		c.Upstream.PingTimeout = DefaultPingTimeout
	}
	if c.Upstream.WriteTimeout == 0 {
		c.Upstream.WriteTimeout = DefaultUpstreamWriteWait
	}
	if c.Upstream.BufferSize == 0 {
		c.Upstream.BufferSize = DefaultBufferSize
	}

	// Clients defaults
	if c.Clients.OutboxSize == 0 {
		c.Clients.OutboxSize = DefaultOutboxSize
	}
	if c.Clients.WriteTimeout == 0 {
		c.Clients.WriteTimeout = DefaultClientWriteWait
	}
	if c.Clients.PingInterval == 0 {
		c.Clients.PingInterval = DefaultClientPingInterval
	}
	if c.Clients.PongTimeout == 0 {
		c.Clients.PongTimeout = DefaultClientPongTimeout
	}

	// Database defaults (only meaningful when a host is configured)
	if c.Database.Postgres.Host != "" {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Cache defaults
	if c.Cache.Redis.Addr != "" && c.Cache.Redis.TTL == 0 {
		c.Cache.Redis.TTL = DefaultCacheTTL
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
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
