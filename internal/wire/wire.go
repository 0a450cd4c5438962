// Package wire implements the length-prefixed binary encoding spoken on
// every client connection. Both sides encode into flat byte slices;
// every message starts with a 2-byte opcode followed by opcode-specific
// fields. Byte order is configurable and defaults to little-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrShortBuffer is returned when a read runs past the end of the
// payload. The gateway treats it as a protocol violation.
var ErrShortBuffer = errors.New("wire: read past end of payload")

// longStringEscape introduces a 4-byte length for strings that do not
// fit the 1-byte prefix.
const longStringEscape = 0xFF

// Writer serializes values into a growing byte slice.
type Writer struct {
	buf   []byte
	order binary.ByteOrder
}

// NewWriter returns a little-endian writer.
func NewWriter() *Writer {
	return NewWriterOrder(binary.LittleEndian)
}

// NewWriterOrder returns a writer with an explicit byte order.
func NewWriterOrder(order binary.ByteOrder) *Writer {
	return &Writer{order: order}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// U8 writes one byte.
func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

// U16 writes a fixed-width 16-bit integer.
func (w *Writer) U16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// U32 writes a fixed-width 32-bit integer.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// U64 writes a fixed-width 64-bit integer.
func (w *Writer) U64(v uint64) {
	var b [8]byte
	w.order.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// F32 writes an IEEE-754 single.
func (w *Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

// F64 writes an IEEE-754 double.
func (w *Writer) F64(v float64) {
	w.U64(math.Float64bits(v))
}

// Bool writes a single 0/1 byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// String writes a length-prefixed UTF-8 string: a 1-byte length, or the
// 0xFF escape followed by a 4-byte length for long strings.
func (w *Writer) String(s string) {
	if len(s) < longStringEscape {
		w.U8(uint8(len(s)))
	} else {
		w.U8(longStringEscape)
		w.U32(uint32(len(s)))
	}
	w.buf = append(w.buf, s...)
}

// UUID writes the 16 raw bytes of a UUID.
func (w *Writer) UUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

// Date writes a timestamp as 8-byte milliseconds since the epoch.
func (w *Writer) Date(t time.Time) {
	w.U64(uint64(t.UnixMilli()))
}

// ArrayLen writes the element count that prefixes a homogeneous array.
// The caller writes the elements afterwards.
func (w *Writer) ArrayLen(n int) {
	w.U16(uint16(n))
}

// Optional writes a boolean-prefixed optional: the presence flag, then
// the value via fn when present. Fields that prefer a sentinel "null"
// value (an empty string, the zero UUID) write it directly instead.
func (w *Writer) Optional(present bool, fn func(*Writer)) {
	w.Bool(present)
	if present {
		fn(w)
	}
}

// Opcode writes the 2-byte opcode that starts every message.
func (w *Writer) Opcode(op Opcode) {
	w.U16(uint16(op))
}

// Reader deserializes values from a byte slice.
type Reader struct {
	buf   []byte
	off   int
	order binary.ByteOrder
}

// NewReader returns a little-endian reader over payload.
func NewReader(payload []byte) *Reader {
	return NewReaderOrder(payload, binary.LittleEndian)
}

// NewReaderOrder returns a reader with an explicit byte order.
func NewReaderOrder(payload []byte, order binary.ByteOrder) *Reader {
	return &Reader{buf: payload, order: order}
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a fixed-width 16-bit integer.
func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

// U32 reads a fixed-width 32-bit integer.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

// U64 reads a fixed-width 64-bit integer.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

// F32 reads an IEEE-754 single.
func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// F64 reads an IEEE-754 double.
func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// Bool reads a 0/1 byte. Any nonzero value is true.
func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	n, err := r.U8()
	if err != nil {
		return "", err
	}
	length := int(n)
	if n == longStringEscape {
		long, err := r.U32()
		if err != nil {
			return "", err
		}
		length = int(long)
	}
	b, err := r.take(length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UUID reads 16 raw bytes.
func (r *Reader) UUID() (uuid.UUID, error) {
	b, err := r.take(16)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// Date reads an 8-byte millisecond timestamp.
func (r *Reader) Date() (time.Time, error) {
	ms, err := r.U64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)), nil
}

// ArrayLen reads the element count prefixing a homogeneous array.
func (r *Reader) ArrayLen() (int, error) {
	n, err := r.U16()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Optional reads a boolean-prefixed optional, invoking fn only when the
// presence flag is set. It reports whether the value was present.
func (r *Reader) Optional(fn func(*Reader) error) (bool, error) {
	present, err := r.Bool()
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	return true, fn(r)
}

// Opcode reads the leading 2-byte opcode.
func (r *Reader) Opcode() (Opcode, error) {
	v, err := r.U16()
	if err != nil {
		return 0, err
	}
	return Opcode(v), nil
}
