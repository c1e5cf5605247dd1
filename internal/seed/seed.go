package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sfcalls/internal/api"
	"github.com/rickgao/sfcalls/internal/model"
)

// Source fetches calls over REST. Implemented by *api.Client.
type Source interface {
	ListCalls(ctx context.Context, opts api.ListCallsOptions) (*api.CallsPage, error)
	CallsInBBox(ctx context.Context, vp model.Viewport, limit int) ([]model.Call, error)
}

// Sink receives seeded calls. Implemented by *connection.Manager.
type Sink interface {
	Subscription(ctx context.Context) (model.Subscription, bool, error)
	Seed(ctx context.Context, calls []model.Call) error
}

// Config holds seeder configuration.
type Config struct {
	Interval    time.Duration // Re-seed interval (0 = seed once on start)
	Tiles       int           // Viewport split per axis (default: 1)
	Concurrency int           // Max concurrent tile requests (default: 4)
	Timeout     time.Duration // Per-seed timeout (default: 10s)
	BBoxLimit   int           // Calls per tile request (default: 500)
	ListLimit   int           // Calls when no viewport is set (default: 200)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tiles:       1,
		Concurrency: 4,
		Timeout:     10 * time.Second,
		BBoxLimit:   api.MaxBBoxLimit,
		ListLimit:   api.MaxListLimit,
	}
}

// Recorder receives seed metrics. See internal/metrics.
type Recorder interface {
	SeedCompleted(calls int, d time.Duration)
	SeedFailed()
}

type nopRecorder struct{}

func (nopRecorder) SeedCompleted(int, time.Duration) {}
func (nopRecorder) SeedFailed()                      {}

// Option configures a Seeder.
type Option func(*Seeder)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Seeder) {
		if r != nil {
			s.metrics = r
		}
	}
}

// Stats holds seeder counters.
type Stats struct {
	Runs      int64
	Errors    int64
	LastCount int
	LastSeed  time.Time
}

// Seeder loads the current calls for the active subscription and hands them
// to a Sink.
type Seeder struct {
	cfg     Config
	source  Source
	sink    Sink
	logger  *slog.Logger
	metrics Recorder

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Seeder.
func New(cfg Config, source Source, sink Sink, logger *slog.Logger, opts ...Option) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.Tiles <= 0 {
		cfg.Tiles = defaults.Tiles
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.BBoxLimit <= 0 {
		cfg.BBoxLimit = defaults.BBoxLimit
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = defaults.ListLimit
	}

	s := &Seeder{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		logger:  logger.With("component", "seed"),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start seeds once immediately and then every Interval, if set.
func (s *Seeder) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("seeder started",
		"interval", s.cfg.Interval,
		"tiles", s.cfg.Tiles,
	)
	return nil
}

// Stop shuts down the re-seed loop.
func (s *Seeder) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("seeder stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (s *Seeder) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Seeder) run() {
	defer s.wg.Done()

	s.seedLogged()
	if s.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.seedLogged()
		}
	}
}

func (s *Seeder) seedLogged() {
	if _, err := s.Seed(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("seed failed", "error", err)
	}
}

// Seed fetches calls for the sink's current subscription and replaces the
// sink's visible set with them. Returns the number of calls fetched.
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	n, err := s.seed(ctx)

	s.mu.Lock()
	s.stats.Runs++
	if err != nil {
		s.stats.Errors++
	} else {
		s.stats.LastCount = n
		s.stats.LastSeed = start
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.SeedFailed()
		return 0, err
	}

	elapsed := time.Since(start)
	s.metrics.SeedCompleted(n, elapsed)
	s.logger.Info("seed complete", "calls", n, "duration", elapsed)
	return n, nil
}

func (s *Seeder) seed(ctx context.Context) (int, error) {
	sub, _, err := s.sink.Subscription(ctx)
	if err != nil {
		return 0, fmt.Errorf("read subscription: %w", err)
	}

	var calls []model.Call
	if sub.Viewport != nil {
		calls, err = s.fetchViewport(ctx, *sub.Viewport)
	} else {
		calls, err = s.fetchRecent(ctx, sub.Priorities)
	}
	if err != nil {
		return 0, err
	}

	if err := s.sink.Seed(ctx, calls); err != nil {
		return 0, fmt.Errorf("apply seed: %w", err)
	}
	return len(calls), nil
}

func (s *Seeder) fetchRecent(ctx context.Context, priorities []model.Priority) ([]model.Call, error) {
	page, err := s.source.ListCalls(ctx, api.ListCallsOptions{
		Limit:      s.cfg.ListLimit,
		Priorities: priorities,
	})
	if err != nil {
		return nil, err
	}
	return page.Calls, nil
}

// fetchViewport queries each tile concurrently and concatenates the results
// in tile order, keeping the first copy of calls on a shared edge.
func (s *Seeder) fetchViewport(ctx context.Context, vp model.Viewport) ([]model.Call, error) {
	tiles := Tiles(vp, s.cfg.Tiles)
	results := make([][]model.Call, len(tiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, tile := range tiles {
		g.Go(func() error {
			calls, err := s.source.CallsInBBox(gctx, tile, s.cfg.BBoxLimit)
			if err != nil {
				return err
			}
			if len(calls) >= s.cfg.BBoxLimit {
				s.logger.Debug("tile hit request limit, consider more tiles",
					"tile", i,
					"limit", s.cfg.BBoxLimit,
				)
			}
			results[i] = calls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var calls []model.Call
	for _, batch := range results {
		for _, c := range batch {
			if _, ok := seen[c.Key()]; ok {
				continue
			}
			seen[c.Key()] = struct{}{}
			calls = append(calls, c)
		}
	}
	return calls, nil
}

// Tiles splits vp into an n x n grid, row-major from the south-west corner.
// Adjacent tiles share their edge.
func Tiles(vp model.Viewport, n int) []model.Viewport {
	if n <= 1 {
		return []model.Viewport{vp}
	}

	latStep := (vp.MaxLat - vp.MinLat) / float64(n)
	lngStep := (vp.MaxLng - vp.MinLng) / float64(n)

	tiles := make([]model.Viewport, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			t := model.Viewport{
				MinLat: vp.MinLat + float64(row)*latStep,
				MaxLat: vp.MinLat + float64(row+1)*latStep,
				MinLng: vp.MinLng + float64(col)*lngStep,
				MaxLng: vp.MinLng + float64(col+1)*lngStep,
			}
			// Pin the outer edges so rounding never shrinks the viewport.
			if row == n-1 {
				t.MaxLat = vp.MaxLat
			}
			if col == n-1 {
				t.MaxLng = vp.MaxLng
			}
			tiles = append(tiles, t)
		}
	}
	return tiles
}
