// Package binread provides bounds-checked little-endian decoding of untrusted
// archive bytes.
//
// Both archive formats store relative pointers: signed deltas resolved against
// the absolute offset of the structure holding them, never a global base.
// Every accessor here takes an explicit absolute offset and validates it
// against the buffer before touching memory, so malformed input surfaces as a
// typed error rather than a panic. No parsed structure ever relies on slice
// pointer arithmetic for its position.
package binread

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bwtools/bwfs/internal/sizing"
)

// DataTooShortError reports a resolved offset+length exceeding the buffer.
type DataTooShortError struct {
	Offset uint64
	Need   uint64
	Have   uint64
}

func (e *DataTooShortError) Error() string {
	return fmt.Sprintf("data too short at 0x%X: need 0x%X bytes, have 0x%X", e.Offset, e.Need, e.Have)
}

// ParseError reports a structural decode failure at an absolute offset.
type ParseError struct {
	Offset uint64
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at 0x%X: %s", e.Offset, e.Detail)
}

// Errorf creates a ParseError at the given offset.
func Errorf(offset uint64, format string, args ...any) error {
	return &ParseError{Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// Buf wraps one contiguous archive buffer. All parsed structures are borrowed
// views into it; the methods never copy except where documented.
type Buf struct {
	data []byte
}

// New wraps data in a Buf. The Buf aliases data; callers must not modify it.
func New(data []byte) Buf {
	return Buf{data: data}
}

// Len returns the buffer length.
func (b Buf) Len() uint64 {
	return uint64(len(b.data))
}

// Slice returns a zero-copy view of n bytes starting at off.
func (b Buf) Slice(off, n uint64) ([]byte, error) {
	end, ok := sizing.AddUint64(off, n)
	if !ok || end > b.Len() {
		return nil, &DataTooShortError{Offset: off, Need: n, Have: b.Len() - min(off, b.Len())}
	}
	return b.data[off:end], nil
}

// U16 reads a little-endian uint16 at off.
func (b Buf) U16(off uint64) (uint16, error) {
	s, err := b.Slice(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(s), nil
}

// U32 reads a little-endian uint32 at off.
func (b Buf) U32(off uint64) (uint32, error) {
	s, err := b.Slice(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

// U64 reads a little-endian uint64 at off.
func (b Buf) U64(off uint64) (uint64, error) {
	s, err := b.Slice(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(s), nil
}

// I64 reads a little-endian int64 at off.
func (b Buf) I64(off uint64) (int64, error) {
	u, err := b.U64(off)
	return int64(u), err
}

// Rel resolves a relative pointer: base + rel as an absolute offset.
// The result must land inside the buffer.
func (b Buf) Rel(base uint64, rel int64) (uint64, error) {
	target := int64(base) + rel
	if target < 0 || uint64(target) > b.Len() {
		return 0, Errorf(base, "relative pointer %d escapes buffer (len 0x%X)", rel, b.Len())
	}
	return uint64(target), nil
}

// RelAt reads an i64 relative pointer stored at base+fieldOff and resolves it
// against base.
func (b Buf) RelAt(base, fieldOff uint64) (uint64, error) {
	field, ok := sizing.AddUint64(base, fieldOff)
	if !ok {
		return 0, Errorf(base, "relative pointer field offset overflows")
	}
	rel, err := b.I64(field)
	if err != nil {
		return 0, err
	}
	return b.Rel(base, rel)
}

// CString reads a null-terminated string starting at off. The terminator may
// be absent at end of buffer. The bytes are copied out.
func (b Buf) CString(off uint64) (string, error) {
	if off > b.Len() {
		return "", &DataTooShortError{Offset: off, Need: 1, Have: 0}
	}
	rest := b.data[off:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	return string(rest), nil
}

// PackedString reads the packed string structure the prototype database uses:
// char_count (u32), padding (u32), text_relptr (i64), with the text resolved
// against the structure's own base offset. A trailing NUL inside the counted
// bytes is stripped.
func (b Buf) PackedString(base uint64) (string, error) {
	charCount, err := b.U32(base)
	if err != nil {
		return "", err
	}
	if charCount == 0 {
		return "", nil
	}
	text, err := b.RelAt(base, 8)
	if err != nil {
		return "", err
	}
	raw, err := b.Slice(text, uint64(charCount))
	if err != nil {
		return "", err
	}
	raw = bytes.TrimSuffix(raw, []byte{0})
	return string(raw), nil
}
