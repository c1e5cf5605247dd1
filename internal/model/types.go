package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Priority is the dispatch priority of a call. It doubles as the category
// used for subscription filtering.
type Priority string

const (
	PriorityA Priority = "A" // Emergency
	PriorityB Priority = "B" // Urgent
	PriorityC Priority = "C" // Routine
)

// PriorityNone marks a call without a priority.
const PriorityNone Priority = ""

// Rank orders priorities for deterministic tie-breaks: A < B < C < anything else.
func (p Priority) Rank() int {
	switch p {
	case PriorityA:
		return 0
	case PriorityB:
		return 1
	case PriorityC:
		return 2
	default:
		return 3
	}
}

// Valid reports whether p is one of A, B or C.
func (p Priority) Valid() bool {
	return p == PriorityA || p == PriorityB || p == PriorityC
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point returns the position as an orb.Point ({lng, lat}).
func (c Coordinates) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// Call is a single live dispatch call.
type Call struct {
	ID                  int64        `json:"id"`
	CADNumber           string       `json:"cad_number"` // Stable key
	CallTypeCode        string       `json:"call_type_code,omitempty"`
	CallTypeDescription string       `json:"call_type_description,omitempty"`
	Priority            Priority     `json:"priority,omitempty"`
	ReceivedAt          time.Time    `json:"received_at"`
	DispatchAt          *time.Time   `json:"dispatch_at,omitempty"`
	OnSceneAt           *time.Time   `json:"on_scene_at,omitempty"`
	ClosedAt            *time.Time   `json:"closed_at,omitempty"`
	Coordinates         *Coordinates `json:"coordinates,omitempty"`
	LocationText        string       `json:"location_text,omitempty"`
	District            string       `json:"district,omitempty"`
	Disposition         string       `json:"disposition,omitempty"`
}

// Key returns the stable identity of the call.
func (c Call) Key() string {
	return c.CADNumber
}

// HasCoordinates reports whether the call carries a position.
func (c Call) HasCoordinates() bool {
	return c.Coordinates != nil
}

// callWire is the JSON shape of a call. Text fields are nullable on the wire
// and timestamps come in several ISO 8601 flavours.
type callWire struct {
	ID                  int64        `json:"id"`
	CADNumber           string       `json:"cad_number"`
	CallTypeCode        *string      `json:"call_type_code"`
	CallTypeDescription *string      `json:"call_type_description"`
	Priority            *string      `json:"priority"`
	ReceivedAt          string       `json:"received_at"`
	DispatchAt          *string      `json:"dispatch_at"`
	OnSceneAt           *string      `json:"on_scene_at"`
	ClosedAt            *string      `json:"closed_at"`
	Coordinates         *Coordinates `json:"coordinates"`
	LocationText        *string      `json:"location_text"`
	District            *string      `json:"district"`
	Disposition         *string      `json:"disposition"`
}

// UnmarshalJSON decodes a call from the REST/stream item schema.
func (c *Call) UnmarshalJSON(data []byte) error {
	var w callWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.CADNumber == "" {
		return fmt.Errorf("call %d: missing cad_number", w.ID)
	}

	received, err := ParseTimestamp(w.ReceivedAt)
	if err != nil {
		return fmt.Errorf("call %s: received_at: %w", w.CADNumber, err)
	}

	out := Call{
		ID:                  w.ID,
		CADNumber:           w.CADNumber,
		CallTypeCode:        deref(w.CallTypeCode),
		CallTypeDescription: deref(w.CallTypeDescription),
		Priority:            Priority(deref(w.Priority)),
		ReceivedAt:          received,
		Coordinates:         w.Coordinates,
		LocationText:        deref(w.LocationText),
		District:            deref(w.District),
		Disposition:         deref(w.Disposition),
	}

	for _, f := range []struct {
		name string
		src  *string
		dst  **time.Time
	}{
		{"dispatch_at", w.DispatchAt, &out.DispatchAt},
		{"on_scene_at", w.OnSceneAt, &out.OnSceneAt},
		{"closed_at", w.ClosedAt, &out.ClosedAt},
	} {
		if f.src == nil || *f.src == "" {
			continue
		}
		ts, err := ParseTimestamp(*f.src)
		if err != nil {
			return fmt.Errorf("call %s: %s: %w", w.CADNumber, f.name, err)
		}
		*f.dst = &ts
	}

	*c = out
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
