package iblt

import (
	"math/bits"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// Polarity distinguishes which side of a subtraction a recovered slice
// belongs to.
type Polarity int

const (
	// Ours means the slice was present in the receiver's candidate set
	// but absent from the sender's block (count == -1).
	Ours Polarity = iota
	// Theirs means the slice was present in the sender's block but
	// absent from the receiver's candidates (count == +1).
	Theirs
	// Neither means no singleton bucket remains.
	Neither
)

// soonLog2/soon/numBins mirror the compile-time todo-bin shape of spec §6:
// SOON individual bins for the smallest offsets, then 16 log-sized bins.
const (
	soonLog2 = 3
	soon     = 1 << soonLog2 // 8
	numBins  = soon + 16
)

func binFor(offset uint16) int {
	if offset < soon {
		return int(offset)
	}
	d := int(offset) - soon + 1
	return soon + bits.Len(uint(d)) - 1
}

// todoIndex is a priority-binned set of bucket indexes, postman-sorted by
// fragment offset so the lowest (most plausible leading-fragment) bin is
// tried first.
type todoIndex struct {
	bins [numBins]map[int]struct{}
}

func newTodoIndex() *todoIndex {
	t := &todoIndex{}
	for i := range t.bins {
		t.bins[i] = make(map[int]struct{})
	}
	return t
}

func (t *todoIndex) add(offset uint16, bucket int) {
	t.bins[binFor(offset)][bucket] = struct{}{}
}

func (t *todoIndex) del(offset uint16, bucket int) {
	delete(t.bins[binFor(offset)], bucket)
}

// lowestNonEmpty returns the lowest-priority bin index with a member, and
// one of its members, or (-1, 0, false) if every bin is empty.
func (t *todoIndex) lowestNonEmpty() (bin, bucket int, ok bool) {
	for i, set := range t.bins {
		for k := range set {
			return i, k, true
		}
	}
	return -1, 0, false
}

// IBLT is the peeling layer over a subtracted RawIBLT: a priority-ordered
// todo set of theirs-singletons (count +1) and ours-singletons (count -1).
type IBLT struct {
	raw    *RawIBLT
	theirs *todoIndex
	ours   *todoIndex
}

// New constructs the peeling IBLT from theirs - ours, populating the todo
// indexes from every singleton bucket in the result.
func New(theirs, ours *RawIBLT) (*IBLT, error) {
	diff, err := Subtract(theirs, ours)
	if err != nil {
		return nil, err
	}
	ib := &IBLT{raw: diff, theirs: newTodoIndex(), ours: newTodoIndex()}
	for i := range ib.raw.buckets {
		ib.addTodoIfSingleton(i)
	}
	return ib, nil
}

func fragOffset(s txslice.Slice) uint16 {
	tid := txid48.FromRaw(s.TxIDBits)
	return s.FragID - tid.FragBase()
}

func (ib *IBLT) addTodoIfSingleton(n int) {
	switch ib.raw.counts[n] {
	case 1:
		ib.theirs.add(fragOffset(ib.raw.buckets[n]), n)
	case -1:
		ib.ours.add(fragOffset(ib.raw.buckets[n]), n)
	}
}

func (ib *IBLT) removeTodoIfSingleton(n int) {
	switch ib.raw.counts[n] {
	case 1:
		ib.theirs.del(fragOffset(ib.raw.buckets[n]), n)
	case -1:
		ib.ours.del(fragOffset(ib.raw.buckets[n]), n)
	}
}

func (ib *IBLT) frobBuckets(s txslice.Slice, dir int16) {
	for _, n := range ib.raw.selectBuckets(s) {
		ib.removeTodoIfSingleton(n)
		ib.raw.buckets[n] = txslice.XOR(ib.raw.buckets[n], s)
		ib.raw.counts[n] += dir
		ib.addTodoIfSingleton(n)
	}
}

// Next returns a copy of the lowest-priority singleton bucket's slice and
// its polarity, or Neither if both todo sets are empty. It does not
// itself modify the IBLT; callers decide whether to act and then call
// RemoveTheirSlice or RemoveOurTx (or RemoveOurSlice directly).
func (ib *IBLT) Next() (txslice.Slice, Polarity) {
	oursBin, oursBucket, oursOK := ib.ours.lowestNonEmpty()
	theirsBin, theirsBucket, theirsOK := ib.theirs.lowestNonEmpty()

	// Prefer OURS on priority ties, matching the original's draw rule.
	useOurs := oursOK && (!theirsOK || oursBin <= theirsBin)

	if useOurs {
		return ib.raw.buckets[oursBucket], Ours
	}
	if theirsOK {
		return ib.raw.buckets[theirsBucket], Theirs
	}
	return txslice.Slice{}, Neither
}

// RemoveTheirSlice cancels a theirs slice the caller has accepted as
// genuine: XORs it out of its three buckets and decrements their counts.
func (ib *IBLT) RemoveTheirSlice(s txslice.Slice) {
	ib.frobBuckets(s, -1)
}

// RemoveOurSlice cancels one ours slice by XOR-ing it back in (dir +1),
// the building block RemoveOurTx uses for every slice of a whole tx.
func (ib *IBLT) RemoveOurSlice(s txslice.Slice) {
	ib.frobBuckets(s, 1)
}

// RemoveOurTx slices tx under tid and cancels every resulting slice with
// RemoveOurSlice, returning the number of slices removed.
func (ib *IBLT) RemoveOurTx(tx *wire.Tx, tid txid48.Tid48) (int, error) {
	slices, err := txslice.SliceTx(tx, tid, ib.raw.sliceSize)
	if err != nil {
		return 0, err
	}
	for _, s := range slices {
		ib.RemoveOurSlice(s)
	}
	return len(slices), nil
}

// Empty reports whether every bucket has count 0 and an all-zero slice;
// only then is a decode considered clean (spec §4.5, §8 invariant 8).
func (ib *IBLT) Empty() bool {
	for i := range ib.raw.buckets {
		if ib.raw.counts[i] != 0 {
			return false
		}
		if !ib.raw.buckets[i].Empty() {
			return false
		}
	}
	return true
}

// ErrResidual returns a residual-at-termination failure for driver use.
func ErrResidual() error {
	return codecerr.New(codecerr.Residual, "peel terminated with no singleton but IBLT is non-empty")
}
