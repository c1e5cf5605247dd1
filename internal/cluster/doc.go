// Package cluster groups located calls into grid cells for map rendering.
//
// The grid cell size follows the viewport: cellSize = max(latSpan/Divisions,
// MinCellSize). Calls sharing floor(lat/cellSize), floor(lng/cellSize) form
// one Cluster. Build is a pure function of (calls, viewport, options).
package cluster
