package codec

import (
	"time"

	"github.com/rickgao/sfcalls/internal/model"
)

// Message type discriminators.
const (
	TypeSubscribe  = "subscribe"
	TypePing       = "ping"
	TypeCallUpdate = "call_update"
	TypePong       = "pong"
	TypeError      = "error"
	TypeUnknown    = "unknown"
)

// Message is a decoded inbound message: CallUpdate, Pong, ServerError or Unknown.
type Message interface {
	messageType() string
}

// CallUpdate carries a batch of calls pushed by the server.
type CallUpdate struct {
	Calls     []model.Call
	Timestamp time.Time
}

// Pong answers a ping.
type Pong struct{}

// ServerError is an advisory error string sent by the server.
type ServerError struct {
	Message string
}

// Unknown is anything that could not be decoded. Type holds an unmatched
// discriminator; Raw holds the payload when a recognized type (or the
// envelope itself) failed to parse.
type Unknown struct {
	Type string
	Raw  []byte
}

func (CallUpdate) messageType() string  { return TypeCallUpdate }
func (Pong) messageType() string        { return TypePong }
func (ServerError) messageType() string { return TypeError }
func (Unknown) messageType() string     { return TypeUnknown }

// Type returns the discriminator of a decoded message, for logs and metrics.
func Type(m Message) string {
	if m == nil {
		return TypeUnknown
	}
	return m.messageType()
}

// Wire types for JSON encoding/decoding

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type string `json:"type"`
}

// subscribeWire is the wire format for subscribe requests. Nil fields
// encode as JSON null.
type subscribeWire struct {
	Type       string          `json:"type"`
	Viewport   *model.Viewport `json:"viewport"`
	Priorities []string        `json:"priorities"`
}

// pingWire is the wire format for ping requests.
type pingWire struct {
	Type string `json:"type"`
}

// callUpdateWire is the wire format for call_update messages.
type callUpdateWire struct {
	Type      string        `json:"type"`
	Data      *[]model.Call `json:"data"`
	Timestamp string        `json:"timestamp"`
}

// errorWire is the wire format for error messages.
type errorWire struct {
	Type    string  `json:"type"`
	Message *string `json:"message"`
}
