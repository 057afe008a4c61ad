package wire

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MaxVarInt is the largest value a QUIC variable-length integer can
// encode: 2^62 - 1 (RFC 9000 §16).
const MaxVarInt = uint64(1)<<62 - 1

// AppendVarInt appends the canonical (shortest) varint encoding of v to
// buf. It panics if v exceeds MaxVarInt: no field this package encodes
// (request ids, aliases, group/object indices, payload lengths) can
// legitimately reach 2^62, so an overflow here means a caller bug, not a
// recoverable wire condition. Callers that build a field from untrusted
// input of unbounded width must check v <= MaxVarInt themselves first.
func AppendVarInt(buf []byte, v uint64) []byte {
	if v > MaxVarInt {
		panic("wire: varint value out of range")
	}
	return quicvarint.Append(buf, v)
}

// VarIntLen returns the number of bytes AppendVarInt would use to encode v.
func VarIntLen(v uint64) int {
	return quicvarint.Len(v)
}

// ParseVarInt decodes a varint from the front of data, returning the
// value and the number of bytes consumed. It returns ErrIncomplete if
// data doesn't hold enough bytes for the length its first byte declares.
func ParseVarInt(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrIncomplete
	}
	v, n, err := quicvarint.Parse(data)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return 0, 0, ErrIncomplete
		}
		return 0, 0, err
	}
	return v, n, nil
}

// byteReader sequentially consumes varints, bytes, and length-prefixed
// byte strings from a fixed buffer. It is the shared cursor used by every
// control-message and data-stream decoder in this package.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (b *byteReader) remaining() []byte {
	return b.data[b.pos:]
}

func (b *byteReader) atEnd() bool {
	return b.pos >= len(b.data)
}

func (b *byteReader) readVarInt() (uint64, error) {
	v, n, err := ParseVarInt(b.remaining())
	if err != nil {
		return 0, err
	}
	b.pos += n
	return v, nil
}

func (b *byteReader) readByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, ErrIncomplete
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *byteReader) readN(n int) ([]byte, error) {
	end := b.pos + n
	if n < 0 || end > len(b.data) {
		return nil, ErrIncomplete
	}
	v := b.data[b.pos:end]
	b.pos = end
	return v, nil
}

// readVarIntBytes reads a varint length prefix followed by that many
// raw bytes: the encoding shared by byte-string parameters, track names,
// and namespace tuple elements.
func (b *byteReader) readVarIntBytes() ([]byte, error) {
	length, err := b.readVarInt()
	if err != nil {
		return nil, err
	}
	return b.readN(int(length))
}

// appendVarIntBytes appends a varint length prefix followed by data.
func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = AppendVarInt(buf, uint64(len(data)))
	buf = append(buf, data...)
	return buf
}
