// calltracker follows the live dispatch call stream for one subscription,
// keeps the visible call set current, and serves it over HTTP.
//
// Usage: go run ./cmd/calltracker --config configs/calltracker.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sfcalls/internal/api"
	"github.com/rickgao/sfcalls/internal/archive"
	"github.com/rickgao/sfcalls/internal/cluster"
	"github.com/rickgao/sfcalls/internal/codec"
	"github.com/rickgao/sfcalls/internal/config"
	"github.com/rickgao/sfcalls/internal/connection"
	"github.com/rickgao/sfcalls/internal/database"
	"github.com/rickgao/sfcalls/internal/metrics"
	"github.com/rickgao/sfcalls/internal/seed"
	"github.com/rickgao/sfcalls/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/calltracker.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting calltracker",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("calltracker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("calltracker stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(
		metrics.WithRegistry(registry),
		metrics.WithConstLabels(prometheus.Labels{"instance": cfg.Instance.ID}),
	)

	// REST client
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Stream
	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = cfg.Stream.URL
	clientCfg.HandshakeTimeout = cfg.Stream.HandshakeTimeout
	clientCfg.WriteTimeout = cfg.Stream.WriteTimeout
	if cfg.API.APIKey != "" {
		clientCfg.Header = http.Header{"Authorization": {"Bearer " + cfg.API.APIKey}}
	}

	mgr := connection.NewManager(connection.ManagerConfig{
		ReconnectBaseWait: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Stream.ReconnectMaxDelay,
		PingInterval:      cfg.Stream.PingInterval,
		PongTimeout:       cfg.Stream.PongTimeout,
		DialTimeout:       cfg.Stream.DialTimeout,
		SendBufferSize:    cfg.Stream.SendBufferSize,
	}, connection.NewDialer(clientCfg, logger), logger, connection.WithRecorder(m))

	sub := cfg.Subscription.Subscription()
	v := newView(sub.Viewport, cluster.Options{
		Divisions:   cfg.Cluster.Divisions,
		MinCellSize: cfg.Cluster.MinCellSize,
	})
	mgr.AddListener(v.listener())
	mgr.AddListener(connection.ListenerFuncs{
		ServerError: func(msg string) {
			logger.Warn("server reported error", "message", msg)
		},
	})

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	if err := mgr.Subscribe(ctx, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Archive
	var writer *archive.Writer
	var dbPing func(context.Context) error
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()
		dbPing = pool.Ping

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
			MaxBufferSize: cfg.Archive.MaxBufferSize,
		}, pool, logger, archive.WithRecorder(m))
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}

		mgr.AddListener(connection.ListenerFuncs{
			CallUpdate: func(u codec.CallUpdate) {
				writer.Enqueue(u.Calls)
			},
		})
	}

	// Seed before connecting so the first frame merges into a populated set.
	var seeder *seed.Seeder
	if !cfg.Seed.Disabled {
		seeder = seed.New(seed.Config{
			Interval:    cfg.Seed.Interval,
			Tiles:       cfg.Seed.Tiles,
			Concurrency: cfg.Seed.Concurrency,
			Timeout:     cfg.Seed.Timeout,
		}, apiClient, mgr, logger, seed.WithRecorder(m))
		if _, err := seeder.Seed(ctx); err != nil {
			logger.Warn("initial seed failed, continuing with the stream only", "error", err)
		}
	}

	if err := mgr.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(cfg, v, mgr, dbPing, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Cluster.LogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				v.logSummary(logger)
			}
		}
	})

	if seeder != nil && cfg.Seed.Interval > 0 {
		g.Go(func() error {
			// The initial seed already ran; wait one interval before the first reconcile.
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(cfg.Seed.Interval):
			}
			return seeder.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if seeder != nil {
			seeder.Stop(shutdownCtx)
		}
		if err := mgr.Stop(shutdownCtx); err != nil {
			logger.Warn("connection manager stop", "error", err)
		}
		if writer != nil {
			if err := writer.Stop(shutdownCtx); err != nil {
				logger.Warn("archive writer stop", "error", err)
			}
			s := writer.Stats()
			logger.Info("archive totals",
				"upserts", s.Upserts,
				"stale", s.Stale,
				"errors", s.Errors,
				"dropped", s.Dropped,
			)
		}
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("calltracker running",
		"stream_url", cfg.Stream.URL,
		"api_url", cfg.API.BaseURL,
		"archive", cfg.Archive.Enabled,
	)

	return g.Wait()
}

// newHandler serves health, the visible calls, clusters and metrics.
func newHandler(cfg *config.Config, v *view, mgr *connection.Manager, dbPing func(context.Context) error, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		stats, err := mgr.Stats(ctx)
		if err != nil {
			health.Status = "unhealthy"
			health.Components["stream"] = map[string]string{"status": "stopped", "error": err.Error()}
		} else {
			health.Components["stream"] = map[string]any{
				"state":         stats.State.String(),
				"attempt":       stats.Attempt,
				"session_id":    stats.SessionID,
				"visible_calls": stats.VisibleCalls,
			}
			if stats.State != connection.StateConnected {
				health.Status = "degraded"
			}
		}

		if dbPing != nil {
			if err := dbPing(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["archive"] = map[string]string{"status": "disconnected", "error": err.Error()}
			} else {
				health.Components["archive"] = "connected"
			}
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})

	mux.HandleFunc("GET /calls", v.handleCalls)
	mux.HandleFunc("GET /clusters", v.handleClusters)
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return mux
}
