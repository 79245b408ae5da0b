// Package buffer implements a growable, position-addressed byte buffer
// used to serialise and parse every wire structure in the tunnel.
//
// It is the Go analogue of the original client's buffer.c: a single type
// that every other layer marshals through, so the "position <= length"
// and "read past length fails loudly" invariants only need enforcing
// once.
package buffer

import (
	"encoding/binary"
	"errors"
)

// ErrShortRead is returned when a read would run past the end of the buffer.
var ErrShortRead = errors.New("buffer: short read")

// Buffer is a growable byte vector with a read cursor. All multi-byte
// accessors use network (big-endian) byte order, the only order used
// on the wire.
type Buffer struct {
	data     []byte
	position int
}

// New returns an empty, writable buffer.
func New() *Buffer {
	return &Buffer{data: make([]byte, 0, 64)}
}

// Wrap returns a buffer for reading the given bytes. The slice is used
// directly, not copied; callers that need isolation should copy first.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the full contents written so far.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the total number of bytes in the buffer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.position
}

// Position returns the current read cursor.
func (b *Buffer) Position() int {
	return b.position
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) {
	b.data = append(b.data, v)
}

// WriteUint16 appends a big-endian uint16.
func (b *Buffer) WriteUint16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

// WriteBytes appends raw bytes.
func (b *Buffer) WriteBytes(v []byte) {
	b.data = append(b.data, v...)
}

// WriteCString appends a string followed by a NUL terminator.
func (b *Buffer) WriteCString(s string) {
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
}

// ReadByte reads a single byte, advancing the cursor.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Remaining() < 1 {
		return 0, ErrShortRead
	}
	v := b.data[b.position]
	b.position++
	return v, nil
}

// ReadUint16 reads a big-endian uint16, advancing the cursor.
func (b *Buffer) ReadUint16() (uint16, error) {
	if b.Remaining() < 2 {
		return 0, ErrShortRead
	}
	v := binary.BigEndian.Uint16(b.data[b.position:])
	b.position += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32, advancing the cursor.
func (b *Buffer) ReadUint32() (uint32, error) {
	if b.Remaining() < 4 {
		return 0, ErrShortRead
	}
	v := binary.BigEndian.Uint32(b.data[b.position:])
	b.position += 4
	return v, nil
}

// ReadBytes reads exactly n bytes, advancing the cursor. The returned
// slice is a copy, safe to retain after the buffer is reused.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, ErrShortRead
	}
	out := make([]byte, n)
	copy(out, b.data[b.position:b.position+n])
	b.position += n
	return out, nil
}

// ReadRest reads all remaining bytes without requiring an exact count.
func (b *Buffer) ReadRest() []byte {
	out := make([]byte, b.Remaining())
	copy(out, b.data[b.position:])
	b.position = len(b.data)
	return out
}

// ReadCString reads bytes up to and including a NUL terminator and
// returns the string without the terminator. Fails if no NUL is found
// before the buffer is exhausted.
func (b *Buffer) ReadCString() (string, error) {
	start := b.position
	for b.position < len(b.data) {
		if b.data[b.position] == 0 {
			s := string(b.data[start:b.position])
			b.position++
			return s, nil
		}
		b.position++
	}
	b.position = start
	return "", ErrShortRead
}
