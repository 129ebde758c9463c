// Package frame implements the gRPC length-prefixed message framing.
//
// Frame format:
//   - 1 byte: compressed flag (always 0 on output, never inspected on input)
//   - 4 bytes: big-endian payload length
//   - N bytes: payload
package frame

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the size of the frame prefix (1 byte flag + 4 bytes length).
	HeaderSize = 5
	// FlagUncompressed is the only flag value this package writes.
	FlagUncompressed byte = 0x00
)

var (
	// ErrMalformedFrame indicates a buffer too short to hold a frame header.
	ErrMalformedFrame = errors.New("frame: buffer shorter than frame header")
	// ErrLengthMismatch indicates the declared length disagrees with the payload
	// size. Only reported in strict mode.
	ErrLengthMismatch = errors.New("frame: declared length does not match payload")
)

// Header is the decoded 5-byte frame prefix.
type Header struct {
	Compressed byte
	Length     uint32
}

// Framer packs and unpacks single frames.
// The zero value is lenient: Unpack trusts the buffer and ignores the length
// field. With Strict set, Unpack rejects frames whose length field does not
// match the number of payload bytes.
type Framer struct {
	Strict bool
}

// Pack prefixes payload with an uncompressed frame header.
func (Framer) Pack(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = FlagUncompressed
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Unpack drops the frame header and returns the payload.
func (f Framer) Unpack(frame []byte) ([]byte, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return nil, err
	}
	payload := frame[HeaderSize:]
	if f.Strict && int(h.Length) != len(payload) {
		return nil, ErrLengthMismatch
	}
	return payload, nil
}

// Pack is Framer{}.Pack.
func Pack(payload []byte) []byte { return Framer{}.Pack(payload) }

// Unpack is the lenient Framer{}.Unpack.
func Unpack(frame []byte) ([]byte, error) { return Framer{}.Unpack(frame) }

// ParseHeader decodes the prefix of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrMalformedFrame
	}
	return Header{
		Compressed: b[0],
		Length:     binary.BigEndian.Uint32(b[1:HeaderSize]),
	}, nil
}

// Split cuts buf into complete frames. Bytes that do not yet form a complete
// frame are returned as rest so the caller can prepend them to the next read.
// Returned frames alias buf.
func Split(buf []byte) (frames [][]byte, rest []byte) {
	offset := 0
	for offset < len(buf) {
		h, err := ParseHeader(buf[offset:])
		if err != nil {
			break
		}
		end := offset + HeaderSize + int(h.Length)
		if end > len(buf) {
			break
		}
		frames = append(frames, buf[offset:end])
		offset = end
	}
	return frames, buf[offset:]
}
