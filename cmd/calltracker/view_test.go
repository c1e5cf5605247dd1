package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/sfcalls/internal/cluster"
	"github.com/rickgao/sfcalls/internal/connection"
	"github.com/rickgao/sfcalls/internal/merge"
	"github.com/rickgao/sfcalls/internal/model"
)

func located(key string, p model.Priority, lat, lng float64) model.Call {
	return model.Call{
		CADNumber:   key,
		Priority:    p,
		ReceivedAt:  time.Date(2024, 1, 18, 10, 0, 0, 0, time.UTC),
		Coordinates: &model.Coordinates{Latitude: lat, Longitude: lng},
	}
}

func publish(v *view, calls ...model.Call) {
	visible := make(map[string]model.Call, len(calls))
	for _, c := range calls {
		visible[c.Key()] = c
	}
	l := v.listener()
	l.OnStateChange(connection.StateConnected)
	l.OnSnapshot(merge.NewSnapshot(visible, time.Date(2024, 1, 18, 10, 5, 0, 0, time.UTC)))
}

func TestFrame(t *testing.T) {
	calls := []model.Call{
		located("a", model.PriorityA, 37.71, -122.50),
		located("b", model.PriorityB, 37.80, -122.40),
	}

	got := frame(nil, calls)
	assert.Equal(t, model.Viewport{MinLat: 37.71, MaxLat: 37.80, MinLng: -122.50, MaxLng: -122.40}, got)

	vp := &model.Viewport{MinLat: 37, MaxLat: 38, MinLng: -123, MaxLng: -122}
	assert.Equal(t, *vp, frame(vp, calls))
}

func TestView_Clusters(t *testing.T) {
	vp := &model.Viewport{MinLat: 37.70, MaxLat: 37.82, MinLng: -122.52, MaxLng: -122.35}
	v := newView(vp, cluster.DefaultOptions())

	assert.Empty(t, v.clusters())

	publish(v,
		located("a", model.PriorityA, 37.7501, -122.4401),
		located("b", model.PriorityA, 37.7502, -122.4402),
		located("far", model.PriorityC, 37.80, -122.37),
		model.Call{CADNumber: "nowhere", Priority: model.PriorityB},
	)

	clusters := v.clusters()
	require.Len(t, clusters, 2)

	sizes := map[int]model.Priority{}
	for _, c := range clusters {
		sizes[c.Size()] = c.Dominant
	}
	assert.Equal(t, model.PriorityA, sizes[2])
	assert.Equal(t, model.PriorityC, sizes[1])
}

func TestView_ViewportIsCopied(t *testing.T) {
	vp := &model.Viewport{MinLat: 37.70, MaxLat: 37.82, MinLng: -122.52, MaxLng: -122.35}
	v := newView(vp, cluster.DefaultOptions())
	vp.MinLat = 0

	assert.Equal(t, 37.70, v.viewport.MinLat)
}

func TestView_HandleCalls(t *testing.T) {
	v := newView(nil, cluster.DefaultOptions())

	rec := httptest.NewRecorder()
	v.handleCalls(rec, httptest.NewRequest(http.MethodGet, "/calls", nil))

	var empty callsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&empty))
	assert.Equal(t, "disconnected", empty.State)
	assert.Equal(t, 0, empty.Count)
	assert.Nil(t, empty.LastUpdated)
	assert.NotNil(t, empty.Calls)

	publish(v, located("a", model.PriorityA, 37.75, -122.44))

	rec = httptest.NewRecorder()
	v.handleCalls(rec, httptest.NewRequest(http.MethodGet, "/calls", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp callsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "connected", resp.State)
	assert.Equal(t, 1, resp.Count)
	require.NotNil(t, resp.LastUpdated)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "a", resp.Calls[0].Key())
}

func TestView_HandleClusters(t *testing.T) {
	v := newView(nil, cluster.DefaultOptions())
	publish(v,
		located("a", model.PriorityB, 37.75, -122.44),
		located("b", model.PriorityB, 37.75, -122.44),
	)

	rec := httptest.NewRecorder()
	v.handleClusters(rec, httptest.NewRequest(http.MethodGet, "/clusters", nil))

	var resp []clusterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, 2, resp[0].Count)
	assert.Equal(t, "B", resp[0].Priority)
	assert.Equal(t, []string{"a", "b"}, resp[0].Members)
	assert.InDelta(t, 37.75, resp[0].Latitude, 1e-9)
}
