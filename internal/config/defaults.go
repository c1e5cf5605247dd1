package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL            = "http://localhost:8000/api/v1"
	StreamPath                = "/ws/calls"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultDialTimeout        = 15 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultSendBufferSize     = 64
	DefaultClusterDivisions   = 8
	DefaultMinCellSize        = 0.001
	DefaultClusterLogInterval = 1 * time.Minute
	DefaultSeedTiles          = 1
	DefaultSeedConcurrency    = 4
	DefaultSeedTimeout        = 10 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 5 * time.Second
	DefaultBufferSize         = 1024
	DefaultMaxBufferSize      = 100_000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *Config) applyDefaults() error {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Stream defaults
	if c.Stream.URL == "" {
		ws, err := DeriveWSURL(c.API.BaseURL)
		if err != nil {
			return err
		}
		c.Stream.URL = ws
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.DialTimeout == 0 {
		c.Stream.DialTimeout = DefaultDialTimeout
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.SendBufferSize == 0 {
		c.Stream.SendBufferSize = DefaultSendBufferSize
	}

	// Cluster defaults
	if c.Cluster.Divisions == 0 {
		c.Cluster.Divisions = DefaultClusterDivisions
	}
	if c.Cluster.MinCellSize == 0 {
		c.Cluster.MinCellSize = DefaultMinCellSize
	}
	if c.Cluster.LogInterval == 0 {
		c.Cluster.LogInterval = DefaultClusterLogInterval
	}

	// Seed defaults
	if c.Seed.Tiles == 0 {
		c.Seed.Tiles = DefaultSeedTiles
	}
	if c.Seed.Concurrency == 0 {
		c.Seed.Concurrency = DefaultSeedConcurrency
	}
	if c.Seed.Timeout == 0 {
		c.Seed.Timeout = DefaultSeedTimeout
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
	if c.Archive.MaxBufferSize == 0 {
		c.Archive.MaxBufferSize = DefaultMaxBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	return nil
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
