// Package protocol defines the payload frame carried over a link and the
// JSON messages exchanged with the rendezvous hub.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame kind constants. They match nearby.PayloadKind values.
const (
	KindBytes  uint8 = 0x01 // raw bytes, body inline
	KindFile   uint8 = 0x02 // file descriptor, body not carried
	KindStream uint8 = 0x03 // stream descriptor, body not carried
)

// HeaderSize is the fixed header size: Kind(1) + PayloadID(8).
const HeaderSize = 9

// Frame is one payload as it travels over a link.
type Frame struct {
	Kind      uint8
	PayloadID int64
	Body      []byte // Bytes: the payload; File/Stream: 8-byte big-endian size
}

// Encode serializes a Frame for transmission.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Body))
	buf[0] = f.Kind
	binary.BigEndian.PutUint64(buf[1:9], uint64(f.PayloadID))
	copy(buf[HeaderSize:], f.Body)
	return buf
}

// Decode deserializes a Frame. The body is copied out of data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	f := &Frame{
		Kind:      data[0],
		PayloadID: int64(binary.BigEndian.Uint64(data[1:9])),
	}
	if f.Kind < KindBytes || f.Kind > KindStream {
		return nil, fmt.Errorf("unknown frame kind 0x%02x", f.Kind)
	}
	if len(data) > HeaderSize {
		f.Body = make([]byte, len(data)-HeaderSize)
		copy(f.Body, data[HeaderSize:])
	}
	return f, nil
}

// SizeBody encodes a File/Stream size descriptor.
func SizeBody(size int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(size))
	return b
}

// BodySize decodes a File/Stream size descriptor, returning 0 when absent.
func BodySize(body []byte) int64 {
	if len(body) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(body[:8]))
}
