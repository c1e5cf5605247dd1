// streamtest connects to the live call stream and prints decoded messages to
// the console.
// Usage: go run ./cmd/streamtest --url ws://localhost:8000/ws/calls --priorities A,B
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/sfcalls/internal/codec"
	"github.com/rickgao/sfcalls/internal/config"
	"github.com/rickgao/sfcalls/internal/connection"
	"github.com/rickgao/sfcalls/internal/merge"
	"github.com/rickgao/sfcalls/internal/model"
)

func main() {
	configPath := flag.String("config", "", "optional config file; its stream url and subscription are used")
	wsURL := flag.String("url", "ws://localhost:8000/ws/calls", "stream url (ignored with --config)")
	bbox := flag.String("bbox", "", "viewport as min_lat,min_lng,max_lat,max_lng")
	priorities := flag.String("priorities", "", "comma separated priorities, e.g. A,B")
	verbose := flag.Bool("verbose", false, "print full call JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	url := *wsURL
	var sub model.Subscription
	if *configPath != "" {
		cfg, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		url = cfg.Stream.URL
		sub = cfg.Subscription.Subscription()
	} else {
		var err error
		sub, err = parseSubscription(*bbox, *priorities)
		if err != nil {
			logger.Error("invalid subscription", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = url
	mgr := connection.NewManager(connection.DefaultManagerConfig(), connection.NewDialer(clientCfg, logger), logger)

	mgr.AddListener(connection.ListenerFuncs{
		StateChange: func(s connection.State) {
			fmt.Printf("[STATE] %s\n", s)
		},
		CallUpdate: func(u codec.CallUpdate) {
			printUpdate(u, *verbose)
		},
		Snapshot: func(s merge.Snapshot) {
			fmt.Printf("[VISIBLE] %d calls (%d located)\n", s.Len(), len(s.Located()))
		},
		ServerError: func(msg string) {
			fmt.Printf("[ERROR] %s\n", msg)
		},
	})

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	if err := mgr.Subscribe(ctx, sub); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}
	if err := mgr.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	logger.Info("streaming started - press Ctrl+C to stop", "url", url)

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	mgr.Stop(shutdownCtx)
	logger.Info("shutdown complete")
}

func printUpdate(u codec.CallUpdate, verbose bool) {
	fmt.Printf("[UPDATE] %s %d calls\n", u.Timestamp.Format(time.RFC3339), len(u.Calls))
	for _, c := range u.Calls {
		if verbose {
			data, _ := json.MarshalIndent(c, "", "  ")
			fmt.Printf("  %s\n", data)
			continue
		}
		where := "no coordinates"
		if c.Coordinates != nil {
			where = fmt.Sprintf("%.5f,%.5f", c.Coordinates.Latitude, c.Coordinates.Longitude)
		}
		fmt.Printf("  %s priority=%s type=%s %s\n", c.CADNumber, c.Priority, c.CallTypeCode, where)
	}
}

func parseSubscription(bbox, priorities string) (model.Subscription, error) {
	var sub model.Subscription

	if bbox != "" {
		parts := strings.Split(bbox, ",")
		if len(parts) != 4 {
			return sub, fmt.Errorf("bbox needs 4 values, got %d", len(parts))
		}
		vals := make([]float64, 4)
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return sub, fmt.Errorf("bbox value %q: %w", p, err)
			}
			vals[i] = f
		}
		sub.Viewport = &model.Viewport{MinLat: vals[0], MinLng: vals[1], MaxLat: vals[2], MaxLng: vals[3]}
	}

	if priorities != "" {
		for _, p := range strings.Split(priorities, ",") {
			sub.Priorities = append(sub.Priorities, model.Priority(strings.ToUpper(strings.TrimSpace(p))))
		}
	}

	return sub, nil
}
