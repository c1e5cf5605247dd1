// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Stream connection state, connects and scheduled reconnects
//   - Inbound messages by type, decode failures and server errors
//   - Visible call count after each merge
//   - REST seed runs and archive batch sizes and latencies
//
// A *Metrics satisfies the Recorder interfaces of the connection, seed and
// archive packages.
package metrics
