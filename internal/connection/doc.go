// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one WebSocket connection to /ws/calls
//   - Handles reconnection with exponential backoff (1s, 2s, 4s ... capped at 30s)
//   - Sends a keep-alive ping every 30s while connected
//   - Retransmits the stored subscription after every successful connect
//   - Decodes inbound frames and merges call updates into the visible set
//   - Notifies any number of listeners with immutable snapshots
//
// All mutable state is owned by a single event-loop goroutine. Public
// methods, timer callbacks, and the per-connection reader and writer
// goroutines only post closures onto that loop.
package connection
