package schema

import (
	"encoding/binary"
	"errors"
)

// MagicByte prefixes every framed message.
const MagicByte byte = 0

const headerLen = 5

var ErrNotFramed = errors.New("schema: payload is not in wire format")

// Frame prepends the wire-format header for schema id to an Avro payload.
func Frame(id int32, payload []byte) []byte {
	b := make([]byte, headerLen+len(payload))
	b[0] = MagicByte
	binary.BigEndian.PutUint32(b[1:headerLen], uint32(id))
	copy(b[headerLen:], payload)
	return b
}

// Unframe splits a wire-format message into schema id and Avro payload.
func Unframe(b []byte) (int32, []byte, error) {
	if !IsFramed(b) {
		return 0, nil, ErrNotFramed
	}
	return int32(binary.BigEndian.Uint32(b[1:headerLen])), b[headerLen:], nil
}

// IsFramed reports whether b carries a wire-format header.
func IsFramed(b []byte) bool {
	return len(b) >= headerLen && b[0] == MagicByte
}
