package seed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/sfcalls/internal/api"
	"github.com/rickgao/sfcalls/internal/model"
)

// fakeSink records seeded batches.
type fakeSink struct {
	mu     sync.Mutex
	sub    model.Subscription
	seeded [][]model.Call
	err    error
	ch     chan []model.Call
}

func newFakeSink(sub model.Subscription) *fakeSink {
	return &fakeSink{sub: sub, ch: make(chan []model.Call, 16)}
}

func (f *fakeSink) Subscription(ctx context.Context) (model.Subscription, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub, true, nil
}

func (f *fakeSink) Seed(ctx context.Context, calls []model.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.seeded = append(f.seeded, calls)
	select {
	case f.ch <- calls:
	default:
	}
	return nil
}

type wireCall struct {
	ID          int64              `json:"id"`
	CADNumber   string             `json:"cad_number"`
	Priority    string             `json:"priority"`
	ReceivedAt  string             `json:"received_at"`
	Coordinates map[string]float64 `json:"coordinates"`
}

func wire(cad, priority string, lat, lng float64) wireCall {
	return wireCall{
		ID:          1,
		CADNumber:   cad,
		Priority:    priority,
		ReceivedAt:  "2024-01-18T10:30:00Z",
		Coordinates: map[string]float64{"latitude": lat, "longitude": lng},
	}
}

// mockCallsAPI serves /calls/bbox by filtering a fixed call list and /calls
// from the same list.
func mockCallsAPI(t *testing.T, calls []wireCall) (*httptest.Server, *atomic.Int32) {
	var bboxRequests atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/calls/bbox", func(w http.ResponseWriter, r *http.Request) {
		bboxRequests.Add(1)
		q := r.URL.Query()
		parse := func(k string) float64 {
			v, err := strconv.ParseFloat(q.Get(k), 64)
			if err != nil {
				t.Errorf("bad %s: %q", k, q.Get(k))
			}
			return v
		}
		vp := model.Viewport{
			MinLat: parse("min_lat"), MaxLat: parse("max_lat"),
			MinLng: parse("min_lng"), MaxLng: parse("max_lng"),
		}
		out := []wireCall{}
		for _, c := range calls {
			if vp.Contains(c.Coordinates["latitude"], c.Coordinates["longitude"]) {
				out = append(out, c)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/calls", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["priority"]; len(got) != 1 || got[0] != "A" {
			t.Errorf("priority params = %v, want [A]", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"calls": calls, "next_cursor": nil})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &bboxRequests
}

func TestTiles(t *testing.T) {
	vp := model.Viewport{MinLat: 37.70, MaxLat: 37.82, MinLng: -122.52, MaxLng: -122.35}

	if got := Tiles(vp, 1); len(got) != 1 || got[0] != vp {
		t.Errorf("Tiles(vp, 1) = %v", got)
	}

	tiles := Tiles(vp, 3)
	if len(tiles) != 9 {
		t.Fatalf("len = %d, want 9", len(tiles))
	}
	if tiles[0].MinLat != vp.MinLat || tiles[0].MinLng != vp.MinLng {
		t.Errorf("first tile = %+v, want south-west corner", tiles[0])
	}
	if last := tiles[8]; last.MaxLat != vp.MaxLat || last.MaxLng != vp.MaxLng {
		t.Errorf("last tile = %+v, want north-east corner", last)
	}
	for i, tile := range tiles {
		if err := tile.Validate(); err != nil {
			t.Errorf("tile %d invalid: %v", i, err)
		}
	}
	if tiles[0].MaxLng != tiles[1].MinLng {
		t.Errorf("adjacent tiles do not share an edge: %v vs %v", tiles[0].MaxLng, tiles[1].MinLng)
	}
}

func TestSeeder_SeedViewport(t *testing.T) {
	server, requests := mockCallsAPI(t, []wireCall{
		wire("sw", "A", 37.71, -122.51),
		wire("ne", "B", 37.81, -122.36),
		wire("edge", "C", 37.76, -122.435), // on the shared tile edge
		wire("outside", "A", 38.50, -122.00),
	})

	vp := &model.Viewport{MinLat: 37.70, MaxLat: 37.82, MinLng: -122.52, MaxLng: -122.35}
	sink := newFakeSink(model.Subscription{Viewport: vp})

	cfg := DefaultConfig()
	cfg.Tiles = 2
	s := New(cfg, api.NewClient(server.URL, ""), sink, nil)

	n, err := s.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Seed() = %d, want 3", n)
	}
	if got := requests.Load(); got != 4 {
		t.Errorf("bbox requests = %d, want 4", got)
	}

	seen := map[string]int{}
	for _, c := range sink.seeded[0] {
		seen[c.Key()]++
	}
	for _, key := range []string{"sw", "ne", "edge"} {
		if seen[key] != 1 {
			t.Errorf("%s seeded %d times, want 1", key, seen[key])
		}
	}
	if seen["outside"] != 0 {
		t.Error("call outside the viewport was seeded")
	}

	stats := s.Stats()
	if stats.Runs != 1 || stats.Errors != 0 || stats.LastCount != 3 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSeeder_SeedWithoutViewportListsRecent(t *testing.T) {
	server, requests := mockCallsAPI(t, []wireCall{
		wire("a", "A", 37.71, -122.51),
		wire("b", "A", 0, 0),
	})

	sink := newFakeSink(model.Subscription{Priorities: []model.Priority{model.PriorityA}})
	s := New(DefaultConfig(), api.NewClient(server.URL, ""), sink, nil)

	n, err := s.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Seed() = %d, want 2", n)
	}
	if requests.Load() != 0 {
		t.Error("bbox endpoint should not be used without a viewport")
	}
}

func TestSeeder_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"bad bbox"}`))
	}))
	defer server.Close()

	vp := &model.Viewport{MinLat: 37.70, MaxLat: 37.82, MinLng: -122.52, MaxLng: -122.35}

	t.Run("fetch failure leaves sink untouched", func(t *testing.T) {
		sink := newFakeSink(model.Subscription{Viewport: vp})
		s := New(DefaultConfig(), api.NewClient(server.URL, ""), sink, nil)

		if _, err := s.Seed(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if len(sink.seeded) != 0 {
			t.Error("sink should not be seeded on fetch failure")
		}
		if s.Stats().Errors != 1 {
			t.Errorf("Errors = %d, want 1", s.Stats().Errors)
		}
	})

	t.Run("sink failure", func(t *testing.T) {
		ok, _ := mockCallsAPI(t, nil)
		sink := newFakeSink(model.Subscription{Viewport: vp})
		sink.err = errors.New("manager stopped")
		s := New(DefaultConfig(), api.NewClient(ok.URL, ""), sink, nil)

		if _, err := s.Seed(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSeeder_StartStop(t *testing.T) {
	server, _ := mockCallsAPI(t, []wireCall{wire("a", "A", 37.75, -122.44)})

	vp := &model.Viewport{MinLat: 37.70, MaxLat: 37.82, MinLng: -122.52, MaxLng: -122.35}
	sink := newFakeSink(model.Subscription{Viewport: vp})

	cfg := DefaultConfig()
	cfg.Interval = 20 * time.Millisecond
	s := New(cfg, api.NewClient(server.URL, ""), sink, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Initial seed plus at least one re-seed.
	for i := 0; i < 2; i++ {
		select {
		case calls := <-sink.ch:
			if len(calls) != 1 {
				t.Errorf("seed %d = %d calls, want 1", i, len(calls))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for seed %d", i)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
