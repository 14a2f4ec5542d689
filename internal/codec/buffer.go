package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

// Buffer is an append-only little-endian encoder
type Buffer struct {
	buf []byte
}

// NewBuffer creates a buffer with the given initial capacity
func NewBuffer(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes
func (b *Buffer) Bytes() []byte { return b.buf }

func (b *Buffer) PutUint8(v uint8) { b.buf = append(b.buf, v) }

func (b *Buffer) PutUint16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }

func (b *Buffer) PutUint32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }

func (b *Buffer) PutUint64(v uint64) { b.buf = binary.LittleEndian.AppendUint64(b.buf, v) }

func (b *Buffer) PutInt32(v int32) { b.PutUint32(uint32(v)) }

func (b *Buffer) PutFloat32(v float32) { b.PutUint32(math.Float32bits(v)) }

func (b *Buffer) PutFloat64(v float64) { b.PutUint64(math.Float64bits(v)) }

func (b *Buffer) PutBool(v bool) {
	if v {
		b.PutUint8(1)
	} else {
		b.PutUint8(0)
	}
}

// PutString writes a u16 length followed by the bytes
func (b *Buffer) PutString(s string) {
	b.PutUint16(uint16(len(s)))
	b.buf = append(b.buf, s...)
}

// PutFloat32s writes a u32 length followed by the values
func (b *Buffer) PutFloat32s(vs []float32) {
	b.PutUint32(uint32(len(vs)))
	for _, v := range vs {
		b.PutFloat32(v)
	}
}

// PutInt32s writes a u32 length followed by the values
func (b *Buffer) PutInt32s(vs []int32) {
	b.PutUint32(uint32(len(vs)))
	for _, v := range vs {
		b.PutInt32(v)
	}
}

// PutUint32s writes a u32 length followed by the values
func (b *Buffer) PutUint32s(vs []uint32) {
	b.PutUint32(uint32(len(vs)))
	for _, v := range vs {
		b.PutUint32(v)
	}
}

// ErrShortBuffer is reported when a Reader runs past the end of its data
var ErrShortBuffer = errors.New("unexpected end of payload")

// Reader decodes what Buffer encodes. The first failure is sticky: later
// reads return zero values and Err reports the failure.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps data
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err returns the first decoding error
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) Uint8() uint8 {
	p := r.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) Uint16() uint16 {
	p := r.next(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *Reader) Uint32() uint32 {
	p := r.next(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) Uint64() uint64 {
	p := r.next(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

func (r *Reader) Float64() float64 { return math.Float64frombits(r.Uint64()) }

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) String() string {
	n := int(r.Uint16())
	p := r.next(n)
	if p == nil {
		return ""
	}
	return string(p)
}

// length reads a u32 element count and checks that size bytes per element
// are available
func (r *Reader) length(size int) int {
	n := int(r.Uint32())
	if r.err == nil && n*size > r.Remaining() {
		r.err = ErrShortBuffer
		return 0
	}
	return n
}

func (r *Reader) Float32s() []float32 {
	n := r.length(4)
	out := make([]float32, n)
	for i := range out {
		out[i] = r.Float32()
	}
	return out
}

func (r *Reader) Int32s() []int32 {
	n := r.length(4)
	out := make([]int32, n)
	for i := range out {
		out[i] = r.Int32()
	}
	return out
}

func (r *Reader) Uint32s() []uint32 {
	n := r.length(4)
	out := make([]uint32, n)
	for i := range out {
		out[i] = r.Uint32()
	}
	return out
}
