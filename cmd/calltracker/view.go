package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/rickgao/sfcalls/internal/cluster"
	"github.com/rickgao/sfcalls/internal/connection"
	"github.com/rickgao/sfcalls/internal/merge"
	"github.com/rickgao/sfcalls/internal/model"
)

// view keeps the latest snapshot and state published by the manager so the
// HTTP handlers and the cluster summary never touch the manager's loop.
type view struct {
	opts cluster.Options

	mu       sync.RWMutex
	state    connection.State
	snapshot merge.Snapshot
	viewport *model.Viewport
}

func newView(viewport *model.Viewport, opts cluster.Options) *view {
	v := &view{opts: opts}
	v.setViewport(viewport)
	return v
}

func (v *view) listener() connection.Listener {
	return connection.ListenerFuncs{
		StateChange: func(s connection.State) {
			v.mu.Lock()
			v.state = s
			v.mu.Unlock()
		},
		Snapshot: func(s merge.Snapshot) {
			v.mu.Lock()
			v.snapshot = s
			v.mu.Unlock()
		},
	}
}

func (v *view) setViewport(vp *model.Viewport) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if vp == nil {
		v.viewport = nil
		return
	}
	cp := *vp
	v.viewport = &cp
}

func (v *view) current() (connection.State, merge.Snapshot) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state, v.snapshot
}

// clusters groups the located visible calls. Without a subscribed viewport
// the grid spans the calls themselves.
func (v *view) clusters() []cluster.Cluster {
	v.mu.RLock()
	snap, vp := v.snapshot, v.viewport
	v.mu.RUnlock()

	located := snap.Located()
	if len(located) == 0 {
		return nil
	}
	return cluster.Build(located, frame(vp, located), v.opts)
}

func frame(vp *model.Viewport, located []model.Call) model.Viewport {
	if vp != nil {
		return *vp
	}
	points := make(orb.MultiPoint, len(located))
	for i, c := range located {
		points[i] = c.Coordinates.Point()
	}
	return model.ViewportFromBound(points.Bound())
}

// logSummary writes one line describing the current clusters.
func (v *view) logSummary(logger *slog.Logger) {
	state, snap := v.current()
	clusters := v.clusters()

	singles, largest := 0, 0
	dominant := map[model.Priority]int{}
	for _, c := range clusters {
		if c.IsSingle() {
			singles++
		}
		largest = max(largest, c.Size())
		dominant[c.Dominant]++
	}

	logger.Info("cluster summary",
		"state", state.String(),
		"visible", snap.Len(),
		"located", len(snap.Located()),
		"clusters", len(clusters),
		"singles", singles,
		"largest", largest,
		"dominant_a", dominant[model.PriorityA],
		"dominant_b", dominant[model.PriorityB],
		"dominant_c", dominant[model.PriorityC],
	)
}

type callsResponse struct {
	State       string       `json:"state"`
	Count       int          `json:"count"`
	LastUpdated *time.Time   `json:"last_updated"`
	Calls       []model.Call `json:"calls"`
}

type clusterResponse struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Count     int      `json:"count"`
	Priority  string   `json:"priority,omitempty"`
	Members   []string `json:"members"`
}

func (v *view) handleCalls(w http.ResponseWriter, r *http.Request) {
	state, snap := v.current()

	resp := callsResponse{
		State: state.String(),
		Count: snap.Len(),
		Calls: snap.Calls,
	}
	if !snap.LastUpdated.IsZero() {
		ts := snap.LastUpdated
		resp.LastUpdated = &ts
	}
	if resp.Calls == nil {
		resp.Calls = []model.Call{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (v *view) handleClusters(w http.ResponseWriter, r *http.Request) {
	clusters := v.clusters()

	resp := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		members := make([]string, len(c.Members))
		for i, m := range c.Members {
			members[i] = m.Key()
		}
		resp = append(resp, clusterResponse{
			Latitude:  c.Centroid.Lat(),
			Longitude: c.Centroid.Lon(),
			Count:     c.Size(),
			Priority:  string(c.Dominant),
			Members:   members,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
