// Package config loads and validates the relay's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Provider ProviderConfig `yaml:"provider"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Clients  ClientsConfig  `yaml:"clients"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this relay instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ProviderConfig covers the provider's REST API and OAuth app.
type ProviderConfig struct {
	RestURL      string        `yaml:"rest_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
}

// UpstreamConfig tunes the single provider streaming connection.
type UpstreamConfig struct {
	Mode               string        `yaml:"mode"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	CredentialPoll     time.Duration `yaml:"credential_poll"`
	IdleGrace          time.Duration `yaml:"idle_grace"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// ClientsConfig tunes downstream websocket sessions.
type ClientsConfig struct {
	OutboxSize   int           `yaml:"outbox_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
}

// DatabaseConfig holds the optional instrument store connection.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig is one PostgreSQL connection. An empty host disables the store.
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

// CacheConfig holds the optional latest-quote cache.
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig is the Redis connection. An empty addr disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg RelayConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*RelayConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*RelayConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
