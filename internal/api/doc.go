// Package api provides the REST client for the dispatch calls backend.
//
// Endpoints (relative to the base URL, e.g. https://calls.example.org/api/v1):
//   - GET /calls              paginated list, newest first
//   - GET /calls/bbox         calls inside a bounding box
//   - GET /calls/{cad_number} a single call
//
// The live feed lives at /ws/calls on the same host; see internal/connection.
package api
