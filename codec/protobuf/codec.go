// Package protobuf provides a Protocol Buffers codec for lucets
// applications.
//
// The zero Codec accepts google.protobuf.Value messages holding a Struct or
// a ListValue, so hooks can read Message.Data the same way they would with
// the JSON codec:
//
//	app.SetCodec(protobuf.Codec{})
//
// Applications that exchange a generated message type set New instead.
// Each payload is then decoded into a fresh message, which becomes
// Message.Data, and Message.Unmarshal decodes into any generated type:
//
//	app.SetCodec(protobuf.Codec{
//	    New: func() proto.Message { return &userpb.GetUserRequest{} },
//	})
//
//	app.UseMessage(func(msg *lucets.Message, ctx *lucets.Context, next hooks.Next) error {
//	    req := msg.Data.(*userpb.GetUserRequest)
//	    return ctx.Send(&userpb.GetUserResponse{Name: lookup(req.UserId)})
//	})
//
// Sending a proto.Message marshals it directly. Any other value is
// converted with structpb.NewValue first.
package protobuf

import (
	"errors"

	"github.com/lucets/lucets"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Subprotocol is the Sec-WebSocket-Protocol value clients use to ask for
// Protocol Buffers framing.
const Subprotocol = "lucets-protobuf"

// ErrNotProtoMessage is returned by Unmarshal when the target is not a
// generated protobuf message.
var ErrNotProtoMessage = errors.New("value must implement proto.Message (generated protobuf struct)")

// Codec encodes messages with Protocol Buffers.
type Codec struct {
	// New returns an empty message that inbound payloads are decoded into.
	// When nil, payloads must be google.protobuf.Value structs or lists.
	New func() proto.Message
}

var _ lucets.Codec = Codec{}

// Decode parses a payload into a message created by New, or into a
// structpb Struct or List when New is nil.
func (c Codec) Decode(data []byte) (any, error) {
	if c.New != nil {
		message := c.New()
		if err := proto.Unmarshal(data, message); err != nil {
			return nil, err
		}
		return message, nil
	}

	var value structpb.Value
	if err := proto.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	switch value.GetKind().(type) {
	case *structpb.Value_StructValue, *structpb.Value_ListValue:
		return value.AsInterface(), nil
	}
	return nil, lucets.ErrUnstructuredMessage
}

// Unmarshal parses a payload into a generated message.
func (Codec) Unmarshal(data []byte, into any) error {
	protoMsg, ok := into.(proto.Message)
	if !ok {
		return ErrNotProtoMessage
	}
	return proto.Unmarshal(data, protoMsg)
}

// Marshal encodes a proto.Message, or any value structpb.NewValue accepts.
func (Codec) Marshal(from any) ([]byte, error) {
	if protoMsg, ok := from.(proto.Message); ok {
		return proto.Marshal(protoMsg)
	}
	value, err := structpb.NewValue(from)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(value)
}

// MessageType returns MessageBinary.
func (Codec) MessageType() lucets.MessageType {
	return lucets.MessageBinary
}
