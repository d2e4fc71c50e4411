package lucets

import (
	"encoding/json"
	"errors"

	"github.com/coder/websocket"
)

// MessageType is the frame type of a WebSocket message.
type MessageType = websocket.MessageType

const (
	MessageText   MessageType = websocket.MessageText
	MessageBinary MessageType = websocket.MessageBinary
)

// SocketMessage is a single message read from or written to a
// SocketConnection.
type SocketMessage struct {
	Type MessageType
	Data []byte
}

// Message is an inbound message after decoding. It is the payload of the
// message hook chain.
type Message struct {
	// Type is the frame type the message arrived in.
	Type MessageType

	// RawData is the undecoded payload.
	RawData []byte

	// Data is the decoded payload, as produced by the application codec. For
	// the JSON codec this is a map[string]any or a []any.
	Data any

	codec Codec
}

// Unmarshal decodes the raw payload into the given value using the
// application codec.
func (m *Message) Unmarshal(into any) error {
	if m.codec == nil {
		return errors.New("message has no codec")
	}
	return m.codec.Unmarshal(m.RawData, into)
}

// Codec converts between message payloads and Go values. Decode must reject
// payloads that are not structured values.
type Codec interface {
	// Decode parses a payload into a generic structured value.
	Decode(data []byte) (any, error)

	// Unmarshal parses a payload into the given value.
	Unmarshal(data []byte, into any) error

	// Marshal serializes a value for sending.
	Marshal(from any) ([]byte, error)

	// MessageType is the frame type used for outbound messages.
	MessageType() MessageType
}

// JSONCodec is the default codec. Messages must be JSON objects or arrays.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// Decode parses a JSON object or array.
func (JSONCodec) Decode(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	switch value.(type) {
	case map[string]any, []any:
		return value, nil
	}
	return nil, ErrUnstructuredMessage
}

// Unmarshal parses JSON into the given value.
func (JSONCodec) Unmarshal(data []byte, into any) error {
	return json.Unmarshal(data, into)
}

// Marshal encodes a value as JSON.
func (JSONCodec) Marshal(from any) ([]byte, error) {
	return json.Marshal(from)
}

// MessageType returns MessageText.
func (JSONCodec) MessageType() MessageType {
	return MessageText
}
