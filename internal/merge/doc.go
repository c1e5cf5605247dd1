// Package merge implements the Update Merger.
//
// A batch of calls from the stream (or a REST seed) is folded into the
// current visible set, keyed by CAD number, under the active filter:
//   - calls failing the priority filter are removed
//   - calls with coordinates are kept only inside the viewport (inclusive)
//   - calls without coordinates never remove an entry that is already visible
//
// Apply is pure: it never mutates its input map.
package merge
