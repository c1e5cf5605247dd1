package connection

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/sfcalls/internal/codec"
	"github.com/rickgao/sfcalls/internal/merge"
)

// Errors
var (
	ErrNotStarted     = errors.New("manager not started")
	ErrStopped        = errors.New("manager stopped")
	ErrNotConnected   = errors.New("not connected")
	ErrPongTimeout    = errors.New("no pong received")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrAlreadyClosed  = errors.New("already closed")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "invalid"
	}
}

// Conn is a single message-oriented stream.
type Conn interface {
	// ReadMessage blocks until the next text frame arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame.
	WriteMessage(data []byte) error

	// Close closes the stream. Safe to call more than once.
	Close() error
}

// Dialer opens Conns.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc is a function adapter for Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Listener receives manager notifications. Callbacks run on the manager's
// event loop: they must return quickly and must not call back into the
// Manager synchronously.
type Listener interface {
	OnStateChange(state State)
	OnSnapshot(snapshot merge.Snapshot)
	OnCallUpdate(update codec.CallUpdate)
	OnServerError(message string)
}

// ListenerFuncs adapts optional callbacks to Listener.
type ListenerFuncs struct {
	StateChange func(State)
	Snapshot    func(merge.Snapshot)
	CallUpdate  func(codec.CallUpdate)
	ServerError func(string)
}

func (l ListenerFuncs) OnStateChange(s State) {
	if l.StateChange != nil {
		l.StateChange(s)
	}
}

func (l ListenerFuncs) OnSnapshot(s merge.Snapshot) {
	if l.Snapshot != nil {
		l.Snapshot(s)
	}
}

func (l ListenerFuncs) OnCallUpdate(u codec.CallUpdate) {
	if l.CallUpdate != nil {
		l.CallUpdate(u)
	}
}

func (l ListenerFuncs) OnServerError(msg string) {
	if l.ServerError != nil {
		l.ServerError(msg)
	}
}

// Recorder receives operational metrics. See internal/metrics.
type Recorder interface {
	ConnectionState(state string)
	Connected()
	ReconnectScheduled(delay time.Duration)
	MessageReceived(msgType string)
	DecodeFailed()
	ServerError()
	VisibleCalls(n int)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionState(string)           {}
func (nopRecorder) Connected()                       {}
func (nopRecorder) ReconnectScheduled(time.Duration) {}
func (nopRecorder) MessageReceived(string)           {}
func (nopRecorder) DecodeFailed()                    {}
func (nopRecorder) ServerError()                     {}
func (nopRecorder) VisibleCalls(int)                 {}

// ClientConfig configures the WebSocket dialer.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://calls.example.org/ws/calls)
	HandshakeTimeout time.Duration // Opening handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
	Header           http.Header   // Extra handshake headers
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        8 << 20,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection
	PingInterval      time.Duration // Keep-alive ping interval
	PongTimeout       time.Duration // Max wait for a pong after a ping (0 = not enforced)
	DialTimeout       time.Duration // Deadline for a single connect attempt
	SendBufferSize    int           // Outbound frames queued per connection
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       0,
		DialTimeout:       15 * time.Second,
		SendBufferSize:    64,
	}
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	State         State
	Attempt       int    // Reconnect attempts since the last successful connect
	SessionID     string // Empty unless connected
	VisibleCalls  int
	PendingTimers int
	Subscribed    bool
}
