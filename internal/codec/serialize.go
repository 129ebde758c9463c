package codec

import (
	"fmt"

	"github.com/hanpama/grpcwire/internal/frame"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Message is anything that can produce the payload of a single gRPC frame.
// Foreign types are wrapped with one of the adapters below, or resolved with
// Adapt.
type Message interface {
	MarshalFrame() ([]byte, error)
}

// Encoder is implemented by types with a custom wire encoding.
type Encoder interface {
	Encode() ([]byte, error)
}

// Serializer is implemented by types exposing a generic serialize operation.
type Serializer interface {
	Serialize() ([]byte, error)
}

// Encoded adapts an Encoder.
type Encoded struct{ Encoder }

func (m Encoded) MarshalFrame() ([]byte, error) { return m.Encode() }

// Proto adapts a protobuf message.
type Proto struct{ proto.Message }

func (m Proto) MarshalFrame() ([]byte, error) { return proto.Marshal(m.Message) }

// Serialized adapts a Serializer.
type Serialized struct{ Serializer }

func (m Serialized) MarshalFrame() ([]byte, error) { return m.Serialize() }

// Raw is an already encoded payload.
type Raw []byte

func (m Raw) MarshalFrame() ([]byte, error) { return []byte(m), nil }

// Empty returns the message sent when the caller has none.
func Empty() Message { return Proto{&emptypb.Empty{}} }

// Adapt picks the adapter for v. When v satisfies several capabilities the
// first one in this order wins: Encoder, proto.Message, Serializer, raw
// bytes or string. A nil v maps to Empty.
func Adapt(v any) (Message, error) {
	switch m := v.(type) {
	case nil:
		return Empty(), nil
	case Message:
		return m, nil
	case Encoder:
		return Encoded{m}, nil
	case proto.Message:
		return Proto{m}, nil
	case Serializer:
		return Serialized{m}, nil
	case []byte:
		return Raw(m), nil
	case string:
		return Raw(m), nil
	}
	return nil, &SerializationError{Type: fmt.Sprintf("%T", v)}
}

// SerializeMessage encodes m and wraps it in a frame. A nil m is sent as the
// empty message.
func SerializeMessage(m Message) ([]byte, error) {
	if m == nil {
		m = Empty()
	}
	b, err := m.MarshalFrame()
	if err != nil {
		return nil, &SerializationError{Type: typeName(m), Err: err}
	}
	return frame.Pack(b), nil
}

// SerializeValue is Adapt followed by SerializeMessage.
func SerializeValue(v any) ([]byte, error) {
	m, err := Adapt(v)
	if err != nil {
		return nil, err
	}
	return SerializeMessage(m)
}
