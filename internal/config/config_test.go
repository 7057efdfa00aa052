package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
relays:
  general:
    - wss://relay.one.example
    - wss://relay.two.example
  isolated: wss://wallet.example
  mode: wallet-only
connection:
  connect_timeout: 3s
queue:
  overrides:
    metadata:
      concurrency: 1
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Relays.General) != 2 {
		t.Fatalf("Relays.General = %v, want 2 entries", cfg.Relays.General)
	}
	if cfg.Relays.Isolated != "wss://wallet.example" {
		t.Errorf("Relays.Isolated = %q, want %q", cfg.Relays.Isolated, "wss://wallet.example")
	}
	if cfg.Relays.Mode != "wallet-only" {
		t.Errorf("Relays.Mode = %q, want %q", cfg.Relays.Mode, "wallet-only")
	}
	if cfg.Connection.ConnectTimeout != 3*time.Second {
		t.Errorf("Connection.ConnectTimeout = %v, want 3s", cfg.Connection.ConnectTimeout)
	}
	if cfg.Queue.Overrides["metadata"].Concurrency != 1 {
		t.Errorf("Queue.Overrides[metadata].Concurrency = %d, want 1", cfg.Queue.Overrides["metadata"].Concurrency)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_WALLET_RELAY", "wss://mint.example")

	yaml := `
relays:
  isolated: ${TEST_WALLET_RELAY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Relays.Isolated != "wss://mint.example" {
		t.Errorf("Relays.Isolated = %q, want %q", cfg.Relays.Isolated, "wss://mint.example")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
relays:
  isolated: wss://wallet.example
query:
  fanout:
    feed: 5
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Relays.Mode != DefaultMode {
		t.Errorf("Relays.Mode = %q, want default %q", cfg.Relays.Mode, DefaultMode)
	}
	if cfg.Health.Alpha != DefaultAlpha {
		t.Errorf("Health.Alpha = %v, want default %v", cfg.Health.Alpha, DefaultAlpha)
	}
	if cfg.Queue.HighBurst != DefaultQueueHighBurst {
		t.Errorf("Queue.HighBurst = %d, want default %d", cfg.Queue.HighBurst, DefaultQueueHighBurst)
	}
	if cfg.Query.Fanout["feed"] != 5 {
		t.Errorf("Query.Fanout[feed] = %d, want configured 5", cfg.Query.Fanout["feed"])
	}
	if cfg.Query.Fanout["metadata"] != DefaultFanout["metadata"] {
		t.Errorf("Query.Fanout[metadata] = %d, want default %d", cfg.Query.Fanout["metadata"], DefaultFanout["metadata"])
	}
	if cfg.Database.Port != 0 {
		t.Errorf("Database.Port = %d, want 0 when database is disabled", cfg.Database.Port)
	}
	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("HTTP.Port = %d, want default %d", cfg.HTTP.Port, DefaultHTTPPort)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Relays: RelaysConfig{
				General:  []string{"wss://a.example", "wss://b.example"},
				Isolated: "wss://wallet.example",
			},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing isolated relay",
			mutate:  func(c *Config) { c.Relays.Isolated = "" },
			wantErr: "relays.isolated is required",
		},
		{
			name:    "isolated relay uses https",
			mutate:  func(c *Config) { c.Relays.Isolated = "https://wallet.example" },
			wantErr: `relays.isolated must use ws or wss, got "https://wallet.example"`,
		},
		{
			name:    "isolated relay listed as general",
			mutate:  func(c *Config) { c.Relays.General = append(c.Relays.General, "wss://wallet.example") },
			wantErr: "relays.general[2] must not repeat the isolated relay wss://wallet.example",
		},
		{
			name:    "isolated relay listed as general with different case",
			mutate:  func(c *Config) { c.Relays.General = append(c.Relays.General, "wss://Wallet.example/") },
			wantErr: "relays.general[2] must not repeat the isolated relay wss://Wallet.example/",
		},
		{
			name:    "isolated relay listed as search",
			mutate:  func(c *Config) { c.Relays.Search = []string{"WSS://wallet.EXAMPLE"} },
			wantErr: "relays.search[0] must not repeat the isolated relay WSS://wallet.EXAMPLE",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Relays.Mode = "profile" },
			wantErr: `relays.mode "profile" is not a known mode`,
		},
		{
			name:    "inverted thresholds",
			mutate:  func(c *Config) { c.Health.DegradedThreshold = 0.8 },
			wantErr: "health.degraded_threshold (0.8) must be below health.healthy_threshold (0.7)",
		},
		{
			name:    "zero fanout",
			mutate:  func(c *Config) { c.Query.Fanout["search"] = 0 },
			wantErr: "query.fanout.search must be >= 1",
		},
		{
			name: "database min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "database.min_conns (5) cannot exceed max_conns (2)",
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
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadAndValidate_Invalid(t *testing.T) {
	path := writeTempFile(t, "relays:\n  general: [wss://a.example]\n")

	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("expected validation error for missing isolated relay")
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
