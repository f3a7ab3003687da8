// Package bitset implements the BitPrefixSet wire codec of spec §4.7/§6:
// a set of bit-vectors grouped by length, used as the sender's "added" and
// "removed" hints.
package bitset

import (
	"sort"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// MaxLength is the widest bit-vector a set may hold (spec §3: lengths in
// [0, 48]).
const MaxLength = 48

// Set groups bit-vectors by length; empty length bins are allowed.
type Set struct {
	byLength map[int][][]bool
}

// New returns an empty set.
func New() *Set {
	return &Set{byLength: make(map[int][][]bool)}
}

// Add inserts a bit-vector (its length determines its bin).
func (s *Set) Add(bits []bool) {
	L := len(bits)
	cp := append([]bool(nil), bits...)
	s.byLength[L] = append(s.byLength[L], cp)
}

// ForEachLength iterates lengths in ascending order, calling fn with the
// vectors at that length (not yet deduplicated or sorted).
func (s *Set) ForEachLength(fn func(length int, vecs [][]bool)) {
	lengths := make([]int, 0, len(s.byLength))
	for L := range s.byLength {
		lengths = append(lengths, L)
	}
	sort.Ints(lengths)
	for _, L := range lengths {
		fn(L, s.byLength[L])
	}
}

// Vectors returns every bit-vector in the set at the given length.
func (s *Set) Vectors(length int) [][]bool {
	return s.byLength[length]
}

func lexLess(a, b []bool) bool {
	for i := range a {
		if a[i] != b[i] {
			return !a[i] && b[i]
		}
	}
	return false
}

// bitWriter packs bits LSB-first within each byte, across a continuous
// stream (not reset per vector).
type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) writeBit(b bool) {
	byteIdx := w.nbit / 8
	for byteIdx >= len(w.buf) {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[byteIdx] |= 1 << uint(w.nbit%8)
	}
	w.nbit++
}

func (w *bitWriter) writeBits(bits []bool) {
	for _, b := range bits {
		w.writeBit(b)
	}
}

// Encode serializes s per spec §6: varint(min_length), varint(run_length),
// then a count per length in range, then the concatenated bit-vectors in
// deterministic lexicographic order within each length bin.
func (s *Set) Encode() []byte {
	var lengths []int
	for L, vecs := range s.byLength {
		if len(vecs) > 0 {
			lengths = append(lengths, L)
		}
	}
	sort.Ints(lengths)

	out := []byte{}
	if len(lengths) == 0 {
		out = wire.PutVarInt(out, 0)
		out = wire.PutVarInt(out, 0)
		return out
	}

	minL := lengths[0]
	maxL := lengths[len(lengths)-1]
	runLen := maxL - minL + 1

	out = wire.PutVarInt(out, uint64(minL))
	out = wire.PutVarInt(out, uint64(runLen))

	for L := minL; L < minL+runLen; L++ {
		out = wire.PutVarInt(out, uint64(len(s.byLength[L])))
	}

	bw := &bitWriter{}
	for L := minL; L < minL+runLen; L++ {
		vecs := append([][]bool(nil), s.byLength[L]...)
		sort.Slice(vecs, func(i, j int) bool { return lexLess(vecs[i], vecs[j]) })
		for _, v := range vecs {
			bw.writeBits(v)
		}
	}
	return append(out, bw.buf...)
}

type bitReader struct {
	data []byte
	nbit int
}

func (r *bitReader) readBit() (bool, error) {
	byteIdx := r.nbit / 8
	if byteIdx >= len(r.data) {
		return false, codecerr.New(codecerr.ParseTruncated, "bitset stream exhausted")
	}
	b := (r.data[byteIdx]>>uint(r.nbit%8))&1 == 1
	r.nbit++
	return b, nil
}

func (r *bitReader) readBits(n int) ([]bool, error) {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		b, err := r.readBit()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// trailingZero verifies the unused high bits of the final byte are zero.
func (r *bitReader) trailingZero() bool {
	if r.nbit%8 == 0 {
		return true
	}
	byteIdx := r.nbit / 8
	if byteIdx >= len(r.data) {
		return true
	}
	mask := byte(0xff << uint(r.nbit%8))
	return r.data[byteIdx]&mask == 0
}

// Decode parses a Set from cur, per the inverse of Encode.
func Decode(cur *wire.Cursor) (*Set, error) {
	minL, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	runLen, err := cur.PullVarInt()
	if err != nil {
		return nil, err
	}
	s := New()
	if runLen == 0 {
		return s, nil
	}
	if minL > MaxLength || minL+runLen-1 > MaxLength {
		return nil, codecerr.New(codecerr.ParseInvalid, "bitset length range [%d,%d) exceeds max %d", minL, minL+runLen, MaxLength)
	}

	counts := make([]uint64, runLen)
	for i := range counts {
		c, err := cur.PullVarInt()
		if err != nil {
			return nil, err
		}
		counts[i] = c
	}

	totalBits := 0
	for i, c := range counts {
		L := int(minL) + i
		totalBits += L * int(c)
	}
	totalBytes := (totalBits + 7) / 8

	rest, err := cur.Pull(totalBytes)
	if err != nil {
		return nil, err
	}
	br := &bitReader{data: rest}

	for i, c := range counts {
		L := int(minL) + i
		for v := uint64(0); v < c; v++ {
			bits, err := br.readBits(L)
			if err != nil {
				return nil, err
			}
			s.Add(bits)
		}
	}
	if !br.trailingZero() {
		return nil, codecerr.New(codecerr.ParseInvalid, "bitset trailing padding bits are non-zero")
	}
	return s, nil
}
