package codec

import (
	"errors"
	"reflect"

	"github.com/hanpama/grpcwire/internal/frame"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

var errNilStrategy = errors.New("codec: nil strategy")

// Strategy decides how a frame payload becomes a value. It is either ByType
// or ByFunc.
type Strategy interface {
	decode(payload []byte) (any, error)
}

// ByType decodes into a fresh message built by New.
//
// If Method names a method of the new message with signature
// func([]byte) error, that method receives the payload. Otherwise the payload
// is merged into the message with proto.UnmarshalOptions{Merge: true}.
type ByType struct {
	New    func() proto.Message
	Method string
}

func (s ByType) decode(payload []byte) (any, error) {
	if s.New == nil {
		return nil, &DeserializationError{Err: ErrNoMessageType}
	}
	msg := s.New()
	if msg == nil {
		return nil, &DeserializationError{Err: ErrNoMessageType}
	}
	target := string(msg.ProtoReflect().Descriptor().FullName())

	if fn, ok := lookupMethod(msg, s.Method); ok {
		if err := fn(payload); err != nil {
			return nil, &DeserializationError{Target: target, Err: err}
		}
		return msg, nil
	}
	if err := (proto.UnmarshalOptions{Merge: true}).Unmarshal(payload, msg); err != nil {
		return nil, &DeserializationError{Target: target, Err: err}
	}
	return msg, nil
}

func lookupMethod(v any, name string) (func([]byte) error, bool) {
	if name == "" {
		return nil, false
	}
	m := reflect.ValueOf(v).MethodByName(name)
	if !m.IsValid() {
		return nil, false
	}
	fn, ok := m.Interface().(func([]byte) error)
	return fn, ok
}

// For returns a ByType strategy for the generated message type T.
// *dynamicpb.Message has no type without a descriptor: it yields a strategy
// that fails with ErrNoMessageType, use ForDescriptor instead.
func For[T proto.Message]() ByType {
	var zero T
	if _, ok := any(zero).(*dynamicpb.Message); ok {
		return ByType{}
	}
	mt := zero.ProtoReflect().Type()
	return ByType{New: func() proto.Message { return mt.New().Interface() }}
}

// ForDescriptor returns a ByType strategy producing dynamic messages of md.
func ForDescriptor(md protoreflect.MessageDescriptor) ByType {
	return ByType{New: func() proto.Message { return dynamicpb.NewMessage(md) }}
}

// ByFunc decodes with an arbitrary function.
type ByFunc func(payload []byte) (any, error)

func (s ByFunc) decode(payload []byte) (any, error) {
	if s == nil {
		return nil, &DeserializationError{Err: ErrNoDecodeFunc}
	}
	v, err := s(payload)
	if err != nil {
		return nil, &DeserializationError{Err: err}
	}
	return v, nil
}

// Func adapts a typed decode function to ByFunc.
func Func[T any](fn func([]byte) (T, error)) ByFunc {
	return func(payload []byte) (any, error) { return fn(payload) }
}

// DeserializeMessage decodes a single frame with s. An empty value means no
// message was sent and yields (nil, nil).
func DeserializeMessage(s Strategy, value []byte) (any, error) {
	return DeserializeFrame(frame.Framer{}, s, value)
}

// DeserializeFrame is DeserializeMessage with an explicit Framer, e.g. one in
// strict mode.
func DeserializeFrame(f frame.Framer, s Strategy, value []byte) (any, error) {
	if len(value) == 0 {
		return nil, nil
	}
	if s == nil {
		return nil, &DeserializationError{Err: errNilStrategy}
	}
	payload, err := f.Unpack(value)
	if err != nil {
		return nil, &DeserializationError{Err: err}
	}
	return s.decode(payload)
}
