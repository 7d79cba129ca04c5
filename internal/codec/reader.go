// Package codec implements the little-endian buffered encoding every wire
// channel reads and writes (§4.B). There is no self-delimiting length on
// the wire — the caller must know the message schema and pull fields off
// in order, the same "Reader walks a byte slice with a cursor" shape as
// the teacher's gameserver/packet package, generalized with configurable
// max lengths so an oversized string or blob turns into a typed Protocol
// error instead of an unbounded allocation.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/wireerr"
)

// DefaultStringCapacity pre-sizes the UTF-16 decode buffer for typical
// KI/account-name length strings, trading a fixed small over-allocation
// for fewer reallocations on the common case.
const DefaultStringCapacity = 16

// Reader decodes little-endian primitives in one of two modes:
//
//   - slice mode (NewReader): the whole buffer is already in memory. Used
//     by tests and anywhere a complete body is naturally at hand.
//   - stream mode (NewStreamReader): every field is pulled directly off a
//     live source (the decrypting connection) as it is decoded. Several
//     fields have no length known ahead of time — null-terminated UTF-16
//     strings, §4.D's "variable-buffer with count-from-previous-field" —
//     and the wire has no outer frame length to pre-read a body into, so
//     dispatch reads each message straight off the socket field by field.
//
// Both modes share the same field-level decode logic through readN.
type Reader struct {
	data []byte
	pos  int

	src io.Reader

	maxStrLen  int
	maxBlobLen int
}

// NewReader creates a Reader over an in-memory buffer with default length
// limits.
func NewReader(data []byte) *Reader {
	return &Reader{
		data:       data,
		maxStrLen:  constants.DefaultMaxStringLen,
		maxBlobLen: constants.DefaultMaxBlobLen,
	}
}

// NewStreamReader creates a Reader that decodes directly off src, with no
// pre-read body buffer. src is ordinarily a transport.Conn's per-message
// body reader, which decrypts in place as bytes are pulled.
func NewStreamReader(src io.Reader) *Reader {
	return &Reader{
		src:        src,
		maxStrLen:  constants.DefaultMaxStringLen,
		maxBlobLen: constants.DefaultMaxBlobLen,
	}
}

// SetLimits overrides the string/blob length ceilings (§6.1 config knobs).
func (r *Reader) SetLimits(maxStrLen, maxBlobLen int) {
	r.maxStrLen = maxStrLen
	r.maxBlobLen = maxBlobLen
}

func (r *Reader) protoErr(op string, format string, args ...any) error {
	return wireerr.New(wireerr.KindProtocol, op, fmt.Errorf(format, args...))
}

// readN returns the next n bytes, pulling from the live source in stream
// mode or slicing the backing buffer in slice mode. A short read in
// stream mode means the connection died mid-message (§7 KindIO, fatal);
// running off the end of a supplied buffer in slice mode means the
// declared length didn't match the data actually present (§7 KindProtocol).
func (r *Reader) readN(op string, n int) ([]byte, error) {
	if n < 0 {
		return nil, r.protoErr(op, "negative count %d", n)
	}
	if r.src != nil {
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r.src, buf); err != nil {
				return nil, wireerr.New(wireerr.KindIO, op, err)
			}
		}
		return buf, nil
	}
	if r.pos+n > len(r.data) {
		return nil, r.protoErr(op, "not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.readN("ReadUint8", 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a uint16 (2 bytes, LE).
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.readN("ReadUint16", 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.readN("ReadUint32", 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a uint64 (8 bytes, LE).
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.readN("ReadUint64", 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadInt32 reads an int32 (4 bytes, LE).
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadFloat reads a float32 (4 bytes, LE).
func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadDouble reads a float64 (8 bytes, LE).
func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBytes reads n raw bytes. In slice mode this is a zero-copy subslice
// of the Reader's backing array — callers that retain the result past the
// next read must copy it. In stream mode it is always a fresh allocation.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.readN("ReadBytes", n)
}

// ReadUUID reads a 16-byte UUID in RFC-4122 byte order.
func (r *Reader) ReadUUID() ([16]byte, error) {
	var u [16]byte
	b, err := r.readN("ReadUUID", 16)
	if err != nil {
		return u, err
	}
	copy(u[:], b)
	return u, nil
}

// ReadSafeString reads a length-prefixed string obfuscated the way the gate
// and auth handshakes encode account/age names on the wire: a uint16 byte
// count with the high bit set (stripped before use), followed by that many
// bytes each XORed with 0xFF.
func (r *Reader) ReadSafeString() (string, error) {
	raw, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	n := int(raw &^ 0x8000)
	if n > r.maxStrLen {
		return "", r.protoErr("ReadSafeString", "length %d exceeds max %d", n, r.maxStrLen)
	}
	b, err := r.readN("ReadSafeString", n)
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, c := range b {
		out[i] = c ^ 0xFF
	}
	return string(out), nil
}

// ReadString16 reads a UTF-16LE string, optionally null-terminated.
// When nullTerminated is false, count is the number of uint16 code units
// to consume (no terminator is expected or consumed).
func (r *Reader) ReadString16(nullTerminated bool, count int) (string, error) {
	if nullTerminated {
		units := make([]uint16, 0, DefaultStringCapacity)
		for {
			u, err := r.ReadUint16()
			if err != nil {
				return "", err
			}
			if u == 0 {
				break
			}
			if len(units) >= r.maxStrLen {
				return "", r.protoErr("ReadString16", "string exceeds max %d code units", r.maxStrLen)
			}
			units = append(units, u)
		}
		return string(utf16.Decode(units)), nil
	}

	if count < 0 || count > r.maxStrLen {
		return "", r.protoErr("ReadString16", "count %d out of range (max %d)", count, r.maxStrLen)
	}
	units := make([]uint16, count)
	for i := range units {
		u, err := r.ReadUint16()
		if err != nil {
			return "", err
		}
		units[i] = u
	}
	return string(utf16.Decode(units)), nil
}

// ReadBlob reads a uint32-length-prefixed byte blob, rejecting lengths past
// the configured max (§4.B: "overrun is a Protocol error, not a crash").
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.maxBlobLen {
		return nil, r.protoErr("ReadBlob", "length %d exceeds max %d", n, r.maxBlobLen)
	}
	b, err := r.readN("ReadBlob", int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Remaining returns the number of unread bytes. Only meaningful in slice
// mode; stream mode has no known end and always reports 0.
func (r *Reader) Remaining() int {
	if r.src != nil {
		return 0
	}
	return len(r.data) - r.pos
}

// Position returns the current read cursor.
func (r *Reader) Position() int { return r.pos }
