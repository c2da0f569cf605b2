package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-relay
provider:
  rest_url: https://api.sandbox.example.com
upstream:
  idle_grace: 45s
database:
  postgres:
    host: localhost
    port: 5432
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-relay" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-relay")
	}
	if cfg.Provider.RestURL != "https://api.sandbox.example.com" {
		t.Errorf("Provider.RestURL = %q, want %q", cfg.Provider.RestURL, "https://api.sandbox.example.com")
	}
	if cfg.Upstream.IdleGrace != 45*time.Second {
		t.Errorf("Upstream.IdleGrace = %v, want 45s", cfg.Upstream.IdleGrace)
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-relay
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-relay
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Provider.RestURL != DefaultRestURL {
		t.Errorf("Provider.RestURL = %q, want default %q", cfg.Provider.RestURL, DefaultRestURL)
	}
	if cfg.Upstream.Mode != DefaultMode {
		t.Errorf("Upstream.Mode = %q, want default %q", cfg.Upstream.Mode, DefaultMode)
	}
	if cfg.Upstream.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Upstream.ReconnectBaseDelay = %v, want default %v", cfg.Upstream.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Clients.OutboxSize != DefaultOutboxSize {
		t.Errorf("Clients.OutboxSize = %d, want default %d", cfg.Clients.OutboxSize, DefaultOutboxSize)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Database.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Postgres.MaxConns = %d, want default %d", cfg.Database.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestLoadWithDefaultsOptionalSections(t *testing.T) {
	yaml := `
instance:
  id: test-relay
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Database.Postgres.Host != "" {
		t.Errorf("Database.Postgres.Host = %q, want empty (store disabled)", cfg.Database.Postgres.Host)
	}
	if cfg.Database.Postgres.Port != 0 {
		t.Errorf("Database.Postgres.Port = %d, want 0 when store disabled", cfg.Database.Postgres.Port)
	}
	if cfg.Cache.Redis.TTL != 0 {
		t.Errorf("Cache.Redis.TTL = %v, want 0 when cache disabled", cfg.Cache.Redis.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() without database/cache: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() RelayConfig {
		return RelayConfig{
			Instance: InstanceConfig{ID: "test"},
			Provider: ProviderConfig{RestURL: DefaultRestURL},
			Upstream: UpstreamConfig{
				Mode:               "ltpc",
				ReconnectBaseDelay: 3 * time.Second,
				ReconnectMaxDelay:  60 * time.Second,
				BufferSize:         1024,
			},
			Clients: ClientsConfig{OutboxSize: 64},
			Server:  ServerConfig{Port: 8080},
			Log:     LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RelayConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *RelayConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *RelayConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad mode",
			mutate:  func(c *RelayConfig) { c.Upstream.Mode = "turbo" },
			wantErr: `upstream.mode must be ltpc or full, got "turbo"`,
		},
		{
			name: "base delay exceeds max delay",
			mutate: func(c *RelayConfig) {
				c.Upstream.ReconnectBaseDelay = 2 * time.Minute
			},
			wantErr: "upstream.reconnect_base_delay (2m0s) cannot exceed reconnect_max_delay (1m0s)",
		},
		{
			name:    "zero outbox",
			mutate:  func(c *RelayConfig) { c.Clients.OutboxSize = 0 },
			wantErr: "clients.outbox_size must be >= 1",
		},
		{
			name: "configured database missing password",
			mutate: func(c *RelayConfig) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 10}
			},
			wantErr: "database.postgres.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *RelayConfig) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad port",
			mutate:  func(c *RelayConfig) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log level",
			mutate:  func(c *RelayConfig) { c.Log.Level = "verbose" },
			wantErr: `log.level must be debug, info, warn or error, got "verbose"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
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
