// Package iblt implements the raw and peeling Invertible Bloom Lookup
// Tables of spec §4.4-§4.5: a count-and-XOR sketch over fixed-size
// transaction slices, and the priority-ordered peel loop built on top.
package iblt

import (
	"github.com/spaolacci/murmur3"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
)

// NumHashes is fixed by design (Eppstein et al.); changing it changes the
// wire format.
const NumHashes = 3

// RawIBLT is an array of N buckets, each an XOR-accumulator slice plus a
// signed count. It is built once from a transaction set, then read-only
// apart from Subtract producing a new RawIBLT.
type RawIBLT struct {
	sliceSize int
	buckets   []txslice.Slice
	counts    []int16
}

// NewRawIBLT allocates a zeroed table of n buckets for slices of the given
// payload size.
func NewRawIBLT(n, sliceSize int) *RawIBLT {
	buckets := make([]txslice.Slice, n)
	for i := range buckets {
		buckets[i] = txslice.Zero(sliceSize)
	}
	return &RawIBLT{
		sliceSize: sliceSize,
		buckets:   buckets,
		counts:    make([]int16, n),
	}
}

// N returns the bucket count.
func (r *RawIBLT) N() int {
	return len(r.buckets)
}

// SliceSize returns the configured slice payload size.
func (r *RawIBLT) SliceSize() int {
	return r.sliceSize
}

// selectBuckets returns the NumHashes bucket indexes a slice maps to,
// per spec §4.4: h_i = MurmurHash3(i, slice_bytes) mod N.
func (r *RawIBLT) selectBuckets(s txslice.Slice) [NumHashes]int {
	raw := s.Bytes()
	var idx [NumHashes]int
	for i := 0; i < NumHashes; i++ {
		h := murmur3.Sum32WithSeed(raw, uint32(i))
		idx[i] = int(h % uint32(len(r.buckets)))
	}
	return idx
}

func (r *RawIBLT) frob(s txslice.Slice, delta int16) {
	for _, k := range r.selectBuckets(s) {
		r.buckets[k] = txslice.XOR(r.buckets[k], s)
		r.counts[k] += delta
	}
}

// Insert XORs s into its three buckets and increments their counts.
func (r *RawIBLT) Insert(s txslice.Slice) {
	r.frob(s, 1)
}

// Remove XORs s into its three buckets and decrements their counts.
func (r *RawIBLT) Remove(s txslice.Slice) {
	r.frob(s, -1)
}

// Bucket returns the slice and count currently held at index k.
func (r *RawIBLT) Bucket(k int) (txslice.Slice, int16) {
	return r.buckets[k], r.counts[k]
}

// Subtract returns a new RawIBLT whose bucket slices are a XOR b and whose
// counts are a.counts - b.counts. Both operands must have equal size.
func Subtract(a, b *RawIBLT) (*RawIBLT, error) {
	if a.N() != b.N() || a.sliceSize != b.sliceSize {
		return nil, codecerr.New(codecerr.ParseInvalid, "size mismatch: %d/%d vs %d/%d", a.N(), a.sliceSize, b.N(), b.sliceSize)
	}
	out := NewRawIBLT(a.N(), a.sliceSize)
	for i := range out.buckets {
		out.buckets[i] = txslice.XOR(a.buckets[i], b.buckets[i])
		out.counts[i] = a.counts[i] - b.counts[i]
	}
	return out, nil
}

// Write serializes the table: counts first (N*2 bytes, LE signed), then
// each bucket's full flat record as returned by Bytes() (N*(HeaderLen+
// sliceSize) bytes: 6-byte txidbits, 2-byte fragid, then the payload).
func (r *RawIBLT) Write() []byte {
	out := make([]byte, 0, len(r.counts)*2+len(r.buckets)*(txslice.HeaderLen+r.sliceSize))
	for _, c := range r.counts {
		out = append(out, byte(uint16(c)), byte(uint16(c)>>8))
	}
	for _, b := range r.buckets {
		out = append(out, b.Bytes()...)
	}
	return out
}

// Read parses a RawIBLT serialized by Write, given the expected bucket
// count and slice payload size. The input length must equal exactly
// n*(2+HeaderLen+sliceSize).
func Read(data []byte, n, sliceSize int) (*RawIBLT, error) {
	recLen := txslice.HeaderLen + sliceSize
	want := n*2 + n*recLen
	if len(data) != want {
		return nil, codecerr.New(codecerr.ParseTruncated, "raw IBLT payload is %d bytes, want %d", len(data), want)
	}

	r := NewRawIBLT(n, sliceSize)
	for i := 0; i < n; i++ {
		lo := data[i*2]
		hi := data[i*2+1]
		r.counts[i] = int16(uint16(lo) | uint16(hi)<<8)
	}
	base := n * 2
	for i := 0; i < n; i++ {
		rec := data[base+i*recLen : base+(i+1)*recLen]
		r.buckets[i] = txslice.FromBytes(rec)
	}
	return r, nil
}
