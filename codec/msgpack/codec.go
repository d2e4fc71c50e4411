// Package msgpack provides a MessagePack codec for lucets applications.
//
//	app := lucets.NewApplication()
//	app.SetCodec(msgpack.Codec{})
//	app.SetSubprotocols([]string{msgpack.Subprotocol})
//
// Inbound messages must be MessagePack maps or arrays. Outbound messages
// are sent as binary frames.
package msgpack

import (
	"fmt"

	"github.com/lucets/lucets"
	"github.com/vmihailenco/msgpack/v5"
)

// Subprotocol is the Sec-WebSocket-Protocol value clients use to ask for
// MessagePack framing.
const Subprotocol = "lucets-msgpack"

// Codec encodes messages with MessagePack.
type Codec struct{}

var _ lucets.Codec = Codec{}

// Decode parses a MessagePack map or array.
func (Codec) Decode(data []byte) (any, error) {
	var value any
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case map[string]any, []any:
		return v, nil
	case map[any]any:
		return stringKeys(v), nil
	}
	return nil, lucets.ErrUnstructuredMessage
}

// Unmarshal parses MessagePack into the given value.
func (Codec) Unmarshal(data []byte, into any) error {
	return msgpack.Unmarshal(data, into)
}

// Marshal encodes a value as MessagePack.
func (Codec) Marshal(from any) ([]byte, error) {
	return msgpack.Marshal(from)
}

// MessageType returns MessageBinary.
func (Codec) MessageType() lucets.MessageType {
	return lucets.MessageBinary
}

// stringKeys converts a map decoded with non-string keys so hooks see the
// same shape as the JSON codec produces. Keys that are not strings are kept
// in their printed form.
func stringKeys(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if s, ok := key.(string); ok {
			out[s] = value
			continue
		}
		out[fmt.Sprint(key)] = value
	}
	return out
}
