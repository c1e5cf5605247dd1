// Package archive persists every call seen on the live feed into Postgres.
//
// Batches pushed by the connection manager are queued in a growable buffer
// and upserted into live_dispatch_calls keyed by CAD number. The newest
// observation of a call wins; older rows are never overwritten by a late
// flush. Archiving is best-effort: failures are logged and counted but
// never stop the feed.
package archive
