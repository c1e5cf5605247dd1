// Package seed fills the visible call set from the REST API.
//
// The Seeder:
//   - Queries /calls/bbox for the subscribed viewport, split into tiles
//     fetched concurrently so large viewports are not cut off by the
//     server's per-request limit
//   - Falls back to the first page of /calls when no viewport is set
//   - Optionally re-seeds on an interval to reconcile updates missed while
//     the stream was down
package seed
