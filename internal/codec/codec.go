package codec

import (
	"encoding/json"
	"errors"

	"github.com/rickgao/sfcalls/internal/model"
)

var (
	errMissingTimestamp = errors.New("call_update without timestamp")
	errMissingData      = errors.New("call_update without data")
)

// EncodeSubscribe serializes a subscribe request.
func EncodeSubscribe(sub model.Subscription) ([]byte, error) {
	wire := subscribeWire{
		Type:     TypeSubscribe,
		Viewport: sub.Viewport,
	}
	if sub.Priorities != nil {
		wire.Priorities = make([]string, len(sub.Priorities))
		for i, p := range sub.Priorities {
			wire.Priorities[i] = string(p)
		}
	}
	return json.Marshal(wire)
}

// EncodePing serializes a ping request.
func EncodePing() []byte {
	data, _ := json.Marshal(pingWire{Type: TypePing})
	return data
}

// Decode parses an inbound frame. It never returns nil.
func Decode(data []byte) Message {
	msgType, err := extractType(data)
	if err != nil {
		return Unknown{Raw: data}
	}

	switch msgType {
	case TypeCallUpdate:
		update, err := parseCallUpdate(data)
		if err != nil {
			return Unknown{Raw: data}
		}
		return update

	case TypePong:
		return Pong{}

	case TypeError:
		var wire errorWire
		if err := json.Unmarshal(data, &wire); err != nil || wire.Message == nil {
			return Unknown{Raw: data}
		}
		return ServerError{Message: *wire.Message}

	default:
		return Unknown{Type: msgType}
	}
}

// extractType reads only the discriminator.
func extractType(data []byte) (string, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", err
	}
	return envelope.Type, nil
}

// parseCallUpdate parses a call_update message.
func parseCallUpdate(data []byte) (CallUpdate, error) {
	var wire callUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return CallUpdate{}, err
	}
	if wire.Data == nil {
		return CallUpdate{}, errMissingData
	}
	if wire.Timestamp == "" {
		return CallUpdate{}, errMissingTimestamp
	}

	ts, err := model.ParseTimestamp(wire.Timestamp)
	if err != nil {
		return CallUpdate{}, err
	}

	return CallUpdate{
		Calls:     *wire.Data,
		Timestamp: ts,
	}, nil
}
