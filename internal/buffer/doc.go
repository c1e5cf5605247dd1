// Package buffer provides a growable ring buffer that decouples the
// connection manager's event loop from slower consumers such as the
// archive writer. Producers never block: when the buffer reaches its
// maximum capacity the oldest item is dropped and counted.
package buffer
