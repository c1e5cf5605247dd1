package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCallUnmarshal(t *testing.T) {
	t.Run("full item", func(t *testing.T) {
		data := `{
			"id": 42,
			"cad_number": "240180123",
			"call_type_code": "418",
			"call_type_description": "FIGHT OR DISPUTE",
			"priority": "B",
			"received_at": "2024-01-18T10:30:00Z",
			"dispatch_at": "2024-01-18T10:32:15.250000+00:00",
			"on_scene_at": null,
			"closed_at": null,
			"coordinates": {"latitude": 37.7749, "longitude": -122.4194},
			"location_text": "MARKET ST / 5TH ST",
			"district": "SOUTHERN",
			"disposition": null
		}`

		var c Call
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}

		if c.Key() != "240180123" {
			t.Errorf("Key() = %q, want %q", c.Key(), "240180123")
		}
		if c.Priority != PriorityB {
			t.Errorf("Priority = %q, want %q", c.Priority, PriorityB)
		}
		want := time.Date(2024, 1, 18, 10, 30, 0, 0, time.UTC)
		if !c.ReceivedAt.Equal(want) {
			t.Errorf("ReceivedAt = %v, want %v", c.ReceivedAt, want)
		}
		if c.DispatchAt == nil {
			t.Fatal("DispatchAt should be set")
		}
		if c.DispatchAt.Nanosecond() != 250000000 {
			t.Errorf("DispatchAt nanos = %d, want 250000000", c.DispatchAt.Nanosecond())
		}
		if c.OnSceneAt != nil || c.ClosedAt != nil {
			t.Error("null lifecycle timestamps should stay nil")
		}
		if !c.HasCoordinates() || c.Coordinates.Latitude != 37.7749 {
			t.Errorf("Coordinates = %+v, want lat 37.7749", c.Coordinates)
		}
		if c.Disposition != "" {
			t.Errorf("Disposition = %q, want empty", c.Disposition)
		}
	})

	t.Run("minimal item", func(t *testing.T) {
		var c Call
		if err := json.Unmarshal([]byte(`{"id":1,"cad_number":"X1","received_at":"2024-01-18T10:30:00"}`), &c); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if c.Priority != PriorityNone {
			t.Errorf("Priority = %q, want none", c.Priority)
		}
		if c.HasCoordinates() {
			t.Error("expected no coordinates")
		}
		if c.ReceivedAt.Location() != time.UTC {
			t.Errorf("naive timestamp should be UTC, got %v", c.ReceivedAt.Location())
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			data string
		}{
			{"missing cad_number", `{"id":1,"received_at":"2024-01-18T10:30:00Z"}`},
			{"missing received_at", `{"id":1,"cad_number":"X"}`},
			{"bad received_at", `{"id":1,"cad_number":"X","received_at":"yesterday"}`},
			{"bad closed_at", `{"id":1,"cad_number":"X","received_at":"2024-01-18T10:30:00Z","closed_at":"soon"}`},
			{"wrong type", `{"id":"one","cad_number":"X","received_at":"2024-01-18T10:30:00Z"}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var c Call
				if err := json.Unmarshal([]byte(tt.data), &c); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}

func TestPriorityRank(t *testing.T) {
	tests := []struct {
		p    Priority
		want int
	}{
		{PriorityA, 0},
		{PriorityB, 1},
		{PriorityC, 2},
		{PriorityNone, 3},
		{"E", 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.p), func(t *testing.T) {
			if got := tt.p.Rank(); got != tt.want {
				t.Errorf("Rank(%q) = %d, want %d", tt.p, got, tt.want)
			}
		})
	}
}

func TestViewport(t *testing.T) {
	vp := Viewport{MinLat: 37.0, MaxLat: 38.0, MinLng: -123.0, MaxLng: -122.0}

	t.Run("contains is inclusive", func(t *testing.T) {
		points := [][2]float64{
			{37.0, -123.0},
			{38.0, -122.0},
			{37.0, -122.0},
			{38.0, -123.0},
			{37.5, -122.5},
		}
		for _, p := range points {
			if !vp.Contains(p[0], p[1]) {
				t.Errorf("Contains(%v, %v) = false, want true", p[0], p[1])
			}
		}
	})

	t.Run("outside", func(t *testing.T) {
		points := [][2]float64{
			{36.9999, -122.5},
			{38.0001, -122.5},
			{37.5, -123.0001},
			{37.5, -121.9999},
		}
		for _, p := range points {
			if vp.Contains(p[0], p[1]) {
				t.Errorf("Contains(%v, %v) = true, want false", p[0], p[1])
			}
		}
	})

	t.Run("bound round trip", func(t *testing.T) {
		if got := ViewportFromBound(vp.Bound()); got != vp {
			t.Errorf("ViewportFromBound() = %+v, want %+v", got, vp)
		}
	})

	t.Run("validate", func(t *testing.T) {
		tests := []struct {
			name    string
			vp      Viewport
			wantErr bool
		}{
			{"valid", vp, false},
			{"degenerate point", Viewport{MinLat: 1, MaxLat: 1, MinLng: 2, MaxLng: 2}, false},
			{"inverted lat", Viewport{MinLat: 38, MaxLat: 37, MinLng: -123, MaxLng: -122}, true},
			{"inverted lng", Viewport{MinLat: 37, MaxLat: 38, MinLng: -122, MaxLng: -123}, true},
			{"lat out of range", Viewport{MinLat: -91, MaxLat: 0, MinLng: 0, MaxLng: 1}, true},
			{"lng out of range", Viewport{MinLat: 0, MaxLat: 1, MinLng: 0, MaxLng: 181}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.vp.Validate()
				if (err != nil) != tt.wantErr {
					t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				}
			})
		}
	})
}

func TestSubscriptionMatches(t *testing.T) {
	vp := &Viewport{MinLat: 37.0, MaxLat: 38.0, MinLng: -123.0, MaxLng: -122.0}
	inside := &Coordinates{Latitude: 37.5, Longitude: -122.5}
	outside := &Coordinates{Latitude: 40.0, Longitude: -122.5}

	tests := []struct {
		name string
		sub  Subscription
		call Call
		want bool
	}{
		{"no filters", Subscription{}, Call{CADNumber: "1"}, true},
		{"priority allowed", Subscription{Priorities: []Priority{PriorityA}}, Call{Priority: PriorityA}, true},
		{"priority rejected", Subscription{Priorities: []Priority{PriorityA}}, Call{Priority: PriorityC}, false},
		{"missing priority rejected by filter", Subscription{Priorities: []Priority{PriorityA}}, Call{}, false},
		{"inside viewport", Subscription{Viewport: vp}, Call{Coordinates: inside}, true},
		{"outside viewport", Subscription{Viewport: vp}, Call{Coordinates: outside}, false},
		{"no coordinates passes viewport", Subscription{Viewport: vp}, Call{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(tt.call); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionClone(t *testing.T) {
	orig := Subscription{
		Viewport:   &Viewport{MinLat: 1, MaxLat: 2, MinLng: 3, MaxLng: 4},
		Priorities: []Priority{PriorityA},
	}
	clone := orig.Clone()
	clone.Viewport.MinLat = 0
	clone.Priorities[0] = PriorityC

	if orig.Viewport.MinLat != 1 {
		t.Error("Clone shares viewport with original")
	}
	if orig.Priorities[0] != PriorityA {
		t.Error("Clone shares priorities with original")
	}
}
