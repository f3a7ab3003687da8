// Package txid48 implements the seeded 48-bit transaction identifier
// (spec §3, §4.2): a per-message pseudo-random projection of a full txid,
// derived from SHA-256(txid || LE64(seed)).
package txid48

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// Tid48 is a 48-bit seeded transaction id, stored in a uint64 with the top
// 16 bits always zero.
type Tid48 uint64

const mask48 = (uint64(1) << 48) - 1

// New derives the Tid48 of txid under seed. Seed must be non-zero; callers
// are expected to enforce that invariant before calling (see reconcile).
func New(seed uint64, txid wire.TxID) Tid48 {
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], seed)

	h := sha256.New()
	h.Write(txid[:])
	h.Write(seedBuf[:])
	sum := h.Sum(nil)

	id := uint64(0)
	for i := 5; i >= 0; i-- {
		id = (id << 8) | uint64(sum[i])
	}
	return Tid48(id & mask48)
}

// FromRaw reinterprets a raw 48-bit value pulled off the wire (e.g. from
// inside a slice's txidbits field) as a Tid48.
func FromRaw(raw uint64) Tid48 {
	return Tid48(raw & mask48)
}

// ID returns the 48-bit numeric id.
func (t Tid48) ID() uint64 {
	return uint64(t) & mask48
}

// FragBase returns the 16-bit fragment-id offset: the low 16 bits of
// SHA-256 of the 6-byte little-endian id.
func (t Tid48) FragBase() uint16 {
	var idBuf [6]byte
	id := t.ID()
	for i := 0; i < 6; i++ {
		idBuf[i] = byte(id >> (8 * i))
	}
	sum := sha256.Sum256(idBuf[:])
	return uint16(sum[0]) | uint16(sum[1])<<8
}

// Matches reports whether bit i of t.ID() equals bitvec[i] for every i,
// i.e. whether t is consistent with the given bit-prefix.
func (t Tid48) Matches(bitvec []bool) bool {
	id := t.ID()
	for i, want := range bitvec {
		bit := (id >> uint(i)) & 1
		if (bit == 1) != want {
			return false
		}
	}
	return true
}

// Bit returns bit i (0 = least significant) of t.ID().
func (t Tid48) Bit(i int) bool {
	return (t.ID()>>uint(i))&1 == 1
}
