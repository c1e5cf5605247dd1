package cluster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/rickgao/sfcalls/internal/model"
)

// Default grid parameters.
const (
	DefaultDivisions   = 8
	DefaultMinCellSize = 0.001 // degrees, roughly 110m of latitude
)

// Options configures the grid.
type Options struct {
	Divisions   int     // Cells across the viewport's latitude span
	MinCellSize float64 // Lower bound on cell size in degrees
}

// DefaultOptions returns the reference grid parameters.
func DefaultOptions() Options {
	return Options{
		Divisions:   DefaultDivisions,
		MinCellSize: DefaultMinCellSize,
	}
}

// CellKey identifies a grid cell.
type CellKey struct {
	Row int64 // floor(lat / cellSize)
	Col int64 // floor(lng / cellSize)
}

// Cluster is a transient grouping of calls that share a grid cell.
type Cluster struct {
	Key      CellKey
	Members  []model.Call // Ordered by key
	Centroid orb.Point    // Mean of member positions ({lng, lat})
	Bound    orb.Bound    // Extent of member positions
	Dominant model.Priority
}

// Size returns the number of members.
func (c Cluster) Size() int {
	return len(c.Members)
}

// IsSingle reports whether the cluster renders as an individual marker.
func (c Cluster) IsSingle() bool {
	return len(c.Members) == 1
}

// CellSize returns the grid cell size for a viewport.
func CellSize(vp model.Viewport, opts Options) float64 {
	divisions := opts.Divisions
	if divisions < 1 {
		divisions = DefaultDivisions
	}
	return math.Max(vp.LatSpan()/float64(divisions), opts.MinCellSize)
}

// Build partitions the located calls into clusters. Calls without
// coordinates are skipped. The result is ordered by cell key.
func Build(calls []model.Call, vp model.Viewport, opts Options) []Cluster {
	cell := CellSize(vp, opts)
	if cell <= 0 || math.IsNaN(cell) || math.IsInf(cell, 0) {
		cell = DefaultMinCellSize
	}

	groups := make(map[CellKey][]model.Call)
	for _, c := range calls {
		if c.Coordinates == nil {
			continue
		}
		key := CellKey{
			Row: int64(math.Floor(c.Coordinates.Latitude / cell)),
			Col: int64(math.Floor(c.Coordinates.Longitude / cell)),
		}
		groups[key] = append(groups[key], c)
	}

	clusters := make([]Cluster, 0, len(groups))
	for key, members := range groups {
		clusters = append(clusters, newCluster(key, members))
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Key.Row != clusters[j].Key.Row {
			return clusters[i].Key.Row < clusters[j].Key.Row
		}
		return clusters[i].Key.Col < clusters[j].Key.Col
	})

	return clusters
}

func newCluster(key CellKey, members []model.Call) Cluster {
	sort.Slice(members, func(i, j int) bool {
		return members[i].Key() < members[j].Key()
	})

	var sumLat, sumLng float64
	points := make(orb.MultiPoint, 0, len(members))
	for _, m := range members {
		sumLat += m.Coordinates.Latitude
		sumLng += m.Coordinates.Longitude
		points = append(points, m.Coordinates.Point())
	}
	n := float64(len(members))

	return Cluster{
		Key:      key,
		Members:  members,
		Centroid: orb.Point{sumLng / n, sumLat / n},
		Bound:    points.Bound(),
		Dominant: dominant(members),
	}
}

// dominant returns the most frequent priority. Ties go to the higher
// priority (A before B before C before none).
func dominant(members []model.Call) model.Priority {
	counts := make(map[model.Priority]int)
	for _, m := range members {
		counts[m.Priority]++
	}

	best := model.PriorityNone
	bestCount := -1
	for p, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount = p, n
		case n == bestCount && less(p, best):
			best = p
		}
	}
	return best
}

// less orders priorities by rank, then lexically for unranked values.
func less(a, b model.Priority) bool {
	if a.Rank() != b.Rank() {
		return a.Rank() < b.Rank()
	}
	return a < b
}
