// Package binreader provides bounds-checked big-endian reads over a byte
// buffer, the building block every container parser in this module uses to
// walk fixed-width binary structures without panicking on truncated input.
package binreader

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// ErrTruncated is wrapped into every error raised when a declared length or
// fixed offset runs past the end of the buffer.
type ErrTruncated struct {
	Want, Have int
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("truncated: need %d bytes, have %d", e.Want, e.Have)
}

// R wraps a byte slice with a cursor, offering the handful of big-endian
// fixed-width reads the container formats in this module need. Every method
// panics with *ErrTruncated on out-of-bounds access; callers at a reader's
// construction boundary recover() this into a normal error (see the Kind
// taxonomy in package containererr), matching the way internal/hfs in the
// teacher corpus lets a single recover() at New() guard an entire recursive
// parse.
type R struct {
	buf []byte
	off int
}

// New wraps buf for sequential reading starting at offset 0.
func New(buf []byte) *R { return &R{buf: buf} }

// Len returns the number of unread bytes remaining.
func (r *R) Len() int { return len(r.buf) - r.off }

// Offset returns the current read cursor.
func (r *R) Offset() int { return r.off }

// Seek repositions the cursor to an absolute offset. It does not validate
// that the offset is in range; the next read will panic if it is not.
func (r *R) Seek(off int) { r.off = off }

func (r *R) need(n int) []byte {
	if n < 0 || r.off+n > len(r.buf) || r.off+n < r.off {
		panic(&ErrTruncated{Want: r.off + n, Have: len(r.buf)})
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Bytes reads n raw bytes.
func (r *R) Bytes(n int) []byte { return r.need(n) }

// U8 reads a single byte.
func (r *R) U8() uint8 { return r.need(1)[0] }

// U16 reads a big-endian uint16.
func (r *R) U16() uint16 { return binary.BigEndian.Uint16(r.need(2)) }

// U32 reads a big-endian uint32.
func (r *R) U32() uint32 { return binary.BigEndian.Uint32(r.need(4)) }

// U64 reads a big-endian uint64.
func (r *R) U64() uint64 { return binary.BigEndian.Uint64(r.need(8)) }

// Skip discards n bytes.
func (r *R) Skip(n int) { r.need(n) }

// FixedASCII reads n bytes and trims trailing NUL padding, returning an
// ASCII/UTF-8 string (used for RPM Lead name-version-release, XAR header
// constants, and similar fixed-width C-string fields).
func (r *R) FixedASCII(n int) string {
	b := r.need(n)
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// UTF16BE reads n bytes (n must be even) as big-endian UTF-16 and decodes it
// to a Go string, used for HFS+ catalog key names.
func (r *R) UTF16BE(n int) (string, error) {
	b := r.need(n)
	if len(b)%2 != 0 {
		return "", fmt.Errorf("odd UTF-16BE byte length %d", len(b))
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(units)), nil
}

// AtU32 reads a big-endian uint32 at an absolute offset without moving the
// cursor, useful for the fixed-layout header fields (Volume Header, koly
// trailer) that containers describe by absolute byte offset rather than by
// sequential walk.
func (r *R) AtU32(off int) uint32 {
	if off < 0 || off+4 > len(r.buf) {
		panic(&ErrTruncated{Want: off + 4, Have: len(r.buf)})
	}
	return binary.BigEndian.Uint32(r.buf[off : off+4])
}

// AtU16 is the uint16 analogue of AtU32.
func (r *R) AtU16(off int) uint16 {
	if off < 0 || off+2 > len(r.buf) {
		panic(&ErrTruncated{Want: off + 2, Have: len(r.buf)})
	}
	return binary.BigEndian.Uint16(r.buf[off : off+2])
}

// AtU64 is the uint64 analogue of AtU32.
func (r *R) AtU64(off int) uint64 {
	if off < 0 || off+8 > len(r.buf) {
		panic(&ErrTruncated{Want: off + 8, Have: len(r.buf)})
	}
	return binary.BigEndian.Uint64(r.buf[off : off+8])
}

// Slice returns n bytes starting at an absolute offset without moving the
// cursor.
func (r *R) Slice(off, n int) []byte {
	if off < 0 || n < 0 || off+n > len(r.buf) {
		panic(&ErrTruncated{Want: off + n, Have: len(r.buf)})
	}
	return r.buf[off : off+n]
}
