package wire

import (
	"encoding/binary"
	"math"
	"time"
)

// Binary encoding primitives. All integers are little-endian; variable
// length fields carry a 16-bit length prefix; timestamps travel as Unix
// milliseconds in an int64 (zero time encodes as 0).

type writer struct {
	buf []byte
	err error
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) f64(v float64) {
	w.u64(math.Float64bits(v))
}

func (w *writer) timestamp(t time.Time) {
	if t.IsZero() {
		w.u64(0)
		return
	}
	w.u64(uint64(t.UnixMilli()))
}

func (w *writer) bytes(b []byte) {
	if len(b) > math.MaxUint16 {
		w.err = ErrFieldTooLong
		return
	}
	w.u16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.bytes([]byte(s))
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.remaining() < n {
		r.err = ErrMessageTooShort
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) timestamp() time.Time {
	v := r.u64()
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(v)).UTC()
}

func (r *reader) bytes() []byte {
	n := int(r.u16())
	b := r.take(n)
	if b == nil {
		return nil
	}
	cp := make([]byte, n)
	copy(cp, b)
	return cp
}

func (r *reader) str() string {
	return string(r.bytes())
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.remaining() != 0 {
		return ErrTrailingData
	}
	return nil
}
