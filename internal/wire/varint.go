// Package wire implements the Bitcoin wire subset the reconciliation codec
// touches: canonical varints and the transaction encoding used to compute
// txids and linearize slices. It never validates scripts or signatures.
package wire

import (
	"encoding/binary"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
)

// PutVarInt appends the canonical Bitcoin varint encoding of v to dst and
// returns the extended slice.
func PutVarInt(dst []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(dst, byte(v))
	case v <= 0xffff:
		b := [3]byte{0xfd}
		binary.LittleEndian.PutUint16(b[1:], uint16(v))
		return append(dst, b[:]...)
	case v <= 0xffffffff:
		b := [5]byte{0xfe}
		binary.LittleEndian.PutUint32(b[1:], uint32(v))
		return append(dst, b[:]...)
	default:
		b := [9]byte{0xff}
		binary.LittleEndian.PutUint64(b[1:], v)
		return append(dst, b[:]...)
	}
}

// VarIntLen returns the number of bytes PutVarInt would emit for v.
func VarIntLen(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// Cursor is a read-only view over a byte span that tracks how much has
// been consumed, mirroring the original's pull()-with-shrinking-max pattern.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor wraps data for sequential pulls.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Remaining returns the number of unconsumed bytes.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Pull consumes and returns the next n bytes, or fails with ParseTruncated.
func (c *Cursor) Pull(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, codecerr.New(codecerr.ParseTruncated, "need %d bytes, have %d", n, c.Remaining())
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// PullVarInt reads one canonical varint, failing with ParseTruncated on a
// short span.
func (c *Cursor) PullVarInt() (uint64, error) {
	b, err := c.Pull(1)
	if err != nil {
		return 0, err
	}
	switch b[0] {
	case 0xfd:
		b, err := c.Pull(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 0xfe:
		b, err := c.Pull(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 0xff:
		b, err := c.Pull(8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b), nil
	default:
		return uint64(b[0]), nil
	}
}

// PullLE32 reads a 4-byte little-endian uint32.
func (c *Cursor) PullLE32() (uint32, error) {
	b, err := c.Pull(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PullLE64 reads an 8-byte little-endian uint64.
func (c *Cursor) PullLE64() (uint64, error) {
	b, err := c.Pull(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
