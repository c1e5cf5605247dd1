package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/sfcalls/internal/model"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-tracker
api:
  base_url: https://calls.example.com/api/v1
stream:
  ping_interval: 10s
subscription:
  viewport:
    min_lat: 37.70
    max_lat: 37.82
    min_lng: -122.52
    max_lng: -122.35
  priorities: [A, B]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-tracker" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-tracker")
	}
	if cfg.API.BaseURL != "https://calls.example.com/api/v1" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Stream.PingInterval != 10*time.Second {
		t.Errorf("Stream.PingInterval = %v, want 10s", cfg.Stream.PingInterval)
	}
	if cfg.Stream.URL != "" {
		t.Errorf("Load should not apply defaults, Stream.URL = %q", cfg.Stream.URL)
	}

	sub := cfg.Subscription.Subscription()
	if sub.Viewport == nil || sub.Viewport.MinLng != -122.52 {
		t.Errorf("Viewport = %+v", sub.Viewport)
	}
	if len(sub.Priorities) != 2 || sub.Priorities[0] != model.PriorityA || sub.Priorities[1] != model.PriorityB {
		t.Errorf("Priorities = %v, want [A B]", sub.Priorities)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_API_KEY", "key-abc")

	yaml := `
instance:
  id: test-tracker
api:
  api_key: ${TEST_API_KEY}
archive:
  enabled: true
  database:
    host: localhost
    name: calls
    user: tracker
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Archive.Database.Password != "secret123" {
		t.Errorf("Archive.Database.Password = %q, want %q", cfg.Archive.Database.Password, "secret123")
	}
	if cfg.API.APIKey != "key-abc" {
		t.Errorf("API.APIKey = %q, want %q", cfg.API.APIKey, "key-abc")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: test-tracker\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("API.BaseURL = %q, want default %q", cfg.API.BaseURL, DefaultBaseURL)
	}
	if cfg.Stream.URL != "ws://localhost:8000/ws/calls" {
		t.Errorf("Stream.URL = %q, want derived ws://localhost:8000/ws/calls", cfg.Stream.URL)
	}
	if cfg.Stream.ReconnectBaseDelay != DefaultReconnectBaseDelay || cfg.Stream.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("reconnect delays = %v/%v", cfg.Stream.ReconnectBaseDelay, cfg.Stream.ReconnectMaxDelay)
	}
	if cfg.Stream.PongTimeout != 0 {
		t.Errorf("Stream.PongTimeout = %v, want disabled", cfg.Stream.PongTimeout)
	}
	if cfg.Cluster.Divisions != DefaultClusterDivisions || cfg.Cluster.MinCellSize != DefaultMinCellSize {
		t.Errorf("Cluster = %+v", cfg.Cluster)
	}
	if cfg.Archive.Database.Port != DefaultDBPort {
		t.Errorf("Archive.Database.Port = %d, want default %d", cfg.Archive.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, `
instance:
  id: test-tracker
subscription:
  priorities: [A, Z]
`)

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), `unknown priority "Z"`) {
		t.Errorf("error = %v", err)
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"https://calls.example.com/api/v1", "wss://calls.example.com/ws/calls", false},
		{"http://localhost:8000/api/v1", "ws://localhost:8000/ws/calls", false},
		{"http://localhost:8000/api/v1/?x=1#frag", "ws://localhost:8000/ws/calls", false},
		{"wss://calls.example.com", "wss://calls.example.com/ws/calls", false},
		{"ftp://calls.example.com", "", true},
		{"localhost:8000", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := DeriveWSURL(tt.base)
			if tt.wantErr {
				if err == nil {
					t.Errorf("DeriveWSURL(%q) = %q, want error", tt.base, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveWSURL(%q) failed: %v", tt.base, err)
			}
			if got != tt.want {
				t.Errorf("DeriveWSURL(%q) = %q, want %q", tt.base, got, tt.want)
			}
		})
	}
}

func validConfig() Config {
	cfg := Config{Instance: InstanceConfig{ID: "test"}}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "stream url not websocket",
			mutate:  func(c *Config) { c.Stream.URL = "https://calls.example.com/ws/calls" },
			wantErr: `stream.url must be a ws:// or wss:// URL, got "https://calls.example.com/ws/calls"`,
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Stream.ReconnectMaxDelay = 500 * time.Millisecond },
			wantErr: "stream.reconnect_max_delay (500ms) cannot be less than reconnect_base_delay (1s)",
		},
		{
			name: "inverted viewport",
			mutate: func(c *Config) {
				c.Subscription.Viewport = &model.Viewport{MinLat: 38, MaxLat: 37, MinLng: -123, MaxLng: -122}
			},
			wantErr: "subscription.viewport: min_lat (38) exceeds max_lat (37)",
		},
		{
			name:    "zero divisions",
			mutate:  func(c *Config) { c.Cluster.Divisions = 0 },
			wantErr: "cluster.divisions must be >= 1",
		},
		{
			name:    "archive disabled ignores database",
			mutate:  func(c *Config) { c.Archive.Database = DBConfig{} },
			wantErr: "",
		},
		{
			name: "archive missing password",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Database.Host = "localhost"
				c.Archive.Database.Name = "calls"
				c.Archive.Database.User = "tracker"
			},
			wantErr: "archive.database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "archive.database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: `log.level must be one of debug, info, warn, error, got "verbose"`,
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
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
