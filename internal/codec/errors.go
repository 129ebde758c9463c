package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMessageType indicates a ByType strategy without a message type.
	ErrNoMessageType = errors.New("codec: strategy has no message type")
	// ErrNoDecodeFunc indicates a ByFunc strategy wrapping a nil function.
	ErrNoDecodeFunc = errors.New("codec: strategy has no decode function")
)

// SerializationError reports a value that could not be turned into a frame
// payload. Err is nil when the type is simply unsupported.
type SerializationError struct {
	Type string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec: cannot serialize value of type %s", e.Type)
	}
	return fmt.Sprintf("codec: serialize %s: %v", e.Type, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError reports a payload that could not be decoded with the
// chosen strategy.
type DeserializationError struct {
	Target string
	Err    error
}

func (e *DeserializationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("codec: deserialize: %v", e.Err)
	}
	return fmt.Sprintf("codec: deserialize %s: %v", e.Target, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func typeName(m Message) string {
	switch a := m.(type) {
	case Encoded:
		return fmt.Sprintf("%T", a.Encoder)
	case Proto:
		return fmt.Sprintf("%T", a.Message)
	case Serialized:
		return fmt.Sprintf("%T", a.Serializer)
	}
	return fmt.Sprintf("%T", m)
}
