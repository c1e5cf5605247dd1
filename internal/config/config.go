// Package config loads calltracker configuration from YAML.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rickgao/sfcalls/internal/model"
)

// Config is the top-level calltracker configuration.
type Config struct {
	Instance     InstanceConfig     `yaml:"instance"`
	API          APIConfig          `yaml:"api"`
	Stream       StreamConfig       `yaml:"stream"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Cluster      ClusterConfig      `yaml:"cluster"`
	Seed         SeedConfig         `yaml:"seed"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// InstanceConfig identifies this process in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"` // Includes the /api/v1 prefix
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig configures the live call stream.
type StreamConfig struct {
	URL                string        `yaml:"url"` // Derived from api.base_url when empty
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PongTimeout        time.Duration `yaml:"pong_timeout"` // 0 = disabled
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	SendBufferSize     int           `yaml:"send_buffer_size"`
}

// SubscriptionConfig is the initial subscription sent on connect.
type SubscriptionConfig struct {
	Viewport   *model.Viewport  `yaml:"viewport"`
	Priorities []model.Priority `yaml:"priorities"`
}

// Subscription converts the config to a model.Subscription.
func (s SubscriptionConfig) Subscription() model.Subscription {
	return model.Subscription{Viewport: s.Viewport, Priorities: s.Priorities}.Clone()
}

// ClusterConfig configures the periodic cluster summary.
type ClusterConfig struct {
	Divisions   int           `yaml:"divisions"`
	MinCellSize float64       `yaml:"min_cell_size"`
	LogInterval time.Duration `yaml:"log_interval"`
}

// SeedConfig configures REST seeding.
type SeedConfig struct {
	Disabled    bool          `yaml:"disabled"`
	Interval    time.Duration `yaml:"interval"` // 0 = seed once on start
	Tiles       int           `yaml:"tiles"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures the optional Postgres archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	MaxBufferSize int           `yaml:"max_buffer_size"`
}

// DBConfig holds PostgreSQL connection settings.
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

// MetricsConfig configures the health and metrics HTTP server.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the config file at path, expanding ${VAR}
// references from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads the config and fills in defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndValidate loads the config, fills in defaults and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DeriveWSURL returns the call stream endpoint served next to the REST API:
// same host, ws(s) scheme, path /ws/calls.
func DeriveWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api.base_url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("api.base_url has unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api.base_url has no host: %q", baseURL)
	}

	u.Path = StreamPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
