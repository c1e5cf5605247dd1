package model

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Viewport is a rectangular geographic bounding box.
type Viewport struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLng float64 `json:"min_lng" yaml:"min_lng"`
	MaxLng float64 `json:"max_lng" yaml:"max_lng"`
}

// Validate checks min <= max on both axes and that bounds are on the globe.
func (v Viewport) Validate() error {
	if v.MinLat < -90 || v.MaxLat > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]: %v..%v", v.MinLat, v.MaxLat)
	}
	if v.MinLng < -180 || v.MaxLng > 180 {
		return fmt.Errorf("longitude out of range [-180, 180]: %v..%v", v.MinLng, v.MaxLng)
	}
	if v.MinLat > v.MaxLat {
		return fmt.Errorf("min_lat (%v) exceeds max_lat (%v)", v.MinLat, v.MaxLat)
	}
	if v.MinLng > v.MaxLng {
		return fmt.Errorf("min_lng (%v) exceeds max_lng (%v)", v.MinLng, v.MaxLng)
	}
	return nil
}

// Bound returns the viewport as an orb.Bound.
func (v Viewport) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{v.MinLng, v.MinLat},
		Max: orb.Point{v.MaxLng, v.MaxLat},
	}
}

// Contains reports whether the position lies inside the viewport.
// All four bounds are inclusive.
func (v Viewport) Contains(lat, lng float64) bool {
	return v.Bound().Contains(orb.Point{lng, lat})
}

// LatSpan returns the latitude extent in degrees.
func (v Viewport) LatSpan() float64 {
	return v.MaxLat - v.MinLat
}

// ViewportFromBound converts an orb.Bound back to a Viewport.
func ViewportFromBound(b orb.Bound) Viewport {
	return Viewport{
		MinLat: b.Min.Lat(),
		MaxLat: b.Max.Lat(),
		MinLng: b.Min.Lon(),
		MaxLng: b.Max.Lon(),
	}
}
