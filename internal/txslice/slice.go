// Package txslice splits a linearized transaction into fixed-size records
// (spec §4.3) that an IBLT can XOR-aggregate, and rebuilds a transaction
// from a complete set of such records.
package txslice

import (
	"encoding/binary"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// DefaultSize is the slice payload size (S) used when a deployment does
// not configure its own; it must agree end-to-end between encoder and
// decoder, exactly like the original's compile-time constant.
const DefaultSize = 64

// HeaderLen is the fixed 6-byte txidbits + 2-byte fragid prefix every
// slice carries ahead of its payload.
const HeaderLen = 8

// MaxSlices is the largest slice count a single transaction may need;
// fragid wraps mod 2^16 so counts beyond this can masquerade as earlier
// fragments (spec §9 open question 3).
const MaxSlices = 0xffff

// Slice is a fixed-size fragment of a transaction, laid out as a flat
// byte image for XOR aggregation: 6 bytes txidbits LE, 2 bytes fragid LE,
// then Size bytes of payload. No padding is introduced anywhere.
type Slice struct {
	TxIDBits uint64 // low 48 bits significant
	FragID   uint16
	Contents []byte
}

// Size returns the configured slice payload size.
func (s *Slice) Size() int {
	return len(s.Contents)
}

// Bytes returns the flat on-wire image of the slice: HeaderLen + Size
// bytes, suitable for XOR-aggregation and hashing.
func (s *Slice) Bytes() []byte {
	buf := make([]byte, HeaderLen+len(s.Contents))
	putHeader(buf, s.TxIDBits, s.FragID)
	copy(buf[HeaderLen:], s.Contents)
	return buf
}

func putHeader(buf []byte, txidbits uint64, fragid uint16) {
	bits := txidbits & ((1 << 48) - 1)
	for i := 0; i < 6; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	binary.LittleEndian.PutUint16(buf[6:8], fragid)
}

// FromBytes reinterprets a flat slice image (HeaderLen+size bytes) as a
// Slice, copying the payload so the result owns its memory.
func FromBytes(b []byte) Slice {
	bits := uint64(0)
	for i := 5; i >= 0; i-- {
		bits = (bits << 8) | uint64(b[i])
	}
	fragid := binary.LittleEndian.Uint16(b[6:8])
	contents := append([]byte(nil), b[HeaderLen:]...)
	return Slice{TxIDBits: bits, FragID: fragid, Contents: contents}
}

// XOR returns the bytewise XOR of two same-sized slice records, including
// the header, as used by raw-IBLT insertion, removal, and subtraction.
func XOR(a, b Slice) Slice {
	out := Slice{
		TxIDBits: a.TxIDBits ^ b.TxIDBits,
		FragID:   a.FragID ^ b.FragID,
		Contents: make([]byte, len(a.Contents)),
	}
	for i := range out.Contents {
		out.Contents[i] = a.Contents[i] ^ b.Contents[i]
	}
	return out
}

// Zero returns an all-zero slice record of the given payload size.
func Zero(size int) Slice {
	return Slice{Contents: make([]byte, size)}
}

// Empty reports whether every byte of the slice image is zero.
func (s *Slice) Empty() bool {
	if s.TxIDBits != 0 || s.FragID != 0 {
		return false
	}
	for _, b := range s.Contents {
		if b != 0 {
			return false
		}
	}
	return true
}

// Less orders slices by (txidbits, fragid) ascending, matching spec §3.
func Less(a, b Slice) bool {
	if a.TxIDBits != b.TxIDBits {
		return a.TxIDBits < b.TxIDBits
	}
	return a.FragID < b.FragID
}

// SliceTx splits tx into fixed-size Slices tagged with tid's id and
// frag-base-biased fragids, per spec §4.3.
func SliceTx(tx *wire.Tx, tid txid48.Tid48, sliceSize int) ([]Slice, error) {
	linear := tx.Linearize()
	total := 1 + len(linear) // provisional leading-varint length assumption
	n := ceilDiv(total, sliceSize)
	if wire.VarIntLen(uint64(n)) > 1 {
		// Recompute using the varint's actual encoded length, per spec.
		total = wire.VarIntLen(uint64(n)) + len(linear)
		n = ceilDiv(total, sliceSize)
	}
	if n == 0 {
		n = 1
	}
	if n > MaxSlices {
		return nil, codecerr.New(codecerr.InvariantViolation, "transaction needs %d slices, max is %d", n, MaxSlices)
	}

	payload := wire.PutVarInt(nil, uint64(n))
	payload = append(payload, linear...)

	slices := make([]Slice, n)
	fragBase := tid.FragBase()
	for k := 0; k < n; k++ {
		start := k * sliceSize
		end := start + sliceSize
		contents := make([]byte, sliceSize)
		if start < len(payload) {
			stop := end
			if stop > len(payload) {
				stop = len(payload)
			}
			copy(contents, payload[start:stop])
		}
		slices[k] = Slice{
			TxIDBits: tid.ID(),
			FragID:   uint16(uint32(fragBase) + uint32(k)), // wraps mod 2^16
			Contents: contents,
		}
	}
	return slices, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// SlicesExpected re-reads the leading varint out of a first slice's
// contents, reporting how many total slices the sender claims.
func SlicesExpected(first Slice) (uint64, error) {
	cur := wire.NewCursor(first.Contents)
	return cur.PullVarInt()
}

// RebuildTx reassembles a complete, correctly-ordered run of slices (all
// sharing TxIDBits, sorted by FragID starting at frag_base) into a
// transaction. Callers are responsible for validating fragment contiguity
// before calling this (see reconcile); this function only parses the
// concatenated payload.
func RebuildTx(slices []Slice) (*wire.Tx, error) {
	if len(slices) == 0 {
		return nil, codecerr.New(codecerr.BadFragment, "no slices to rebuild")
	}

	var payload []byte
	for _, s := range slices {
		payload = append(payload, s.Contents...)
	}

	cur := wire.NewCursor(payload)
	n, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	if n != uint64(len(slices)) {
		return nil, codecerr.New(codecerr.ParseInvalid, "leading varint %d does not match slice count %d", n, len(slices))
	}

	tx, err := wire.ParseTx(cur)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
