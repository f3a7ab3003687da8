package iblt

import (
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

func fixtureSlice(seed byte, sliceSize int) txslice.Slice {
	tx := &wire.Tx{
		Version: 1,
		Inputs:  []wire.TxInput{{PrevTxID: [32]byte{seed}, Index: uint32(seed), Sequence: 0xffffffff}},
		Outputs: []wire.TxOutput{{Amount: uint64(seed) + 1, Script: []byte{seed}}},
	}
	tid := txid48.New(1, wire.TxIDOf(tx))
	slices, err := txslice.SliceTx(tx, tid, sliceSize)
	if err != nil {
		panic(err)
	}
	return slices[0]
}

func TestRawIBLTWriteReadRoundTrip(t *testing.T) {
	raw := NewRawIBLT(11, 32)
	raw.Insert(fixtureSlice(1, 32))
	raw.Insert(fixtureSlice(2, 32))

	data := raw.Write()
	back, err := Read(data, 11, 32)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := 0; i < 11; i++ {
		wantSlice, wantCount := raw.Bucket(i)
		gotSlice, gotCount := back.Bucket(i)
		if wantCount != gotCount {
			t.Errorf("bucket %d count mismatch: %d vs %d", i, wantCount, gotCount)
		}
		if wantSlice.TxIDBits != gotSlice.TxIDBits || wantSlice.FragID != gotSlice.FragID {
			t.Errorf("bucket %d header mismatch", i)
		}
	}
}

func TestRawIBLTInsertRemoveCancels(t *testing.T) {
	raw := NewRawIBLT(17, 32)
	s := fixtureSlice(3, 32)
	raw.Insert(s)
	raw.Remove(s)
	for i := 0; i < 17; i++ {
		slice, count := raw.Bucket(i)
		if count != 0 || !slice.Empty() {
			t.Fatalf("bucket %d not empty after insert+remove: count=%d", i, count)
		}
	}
}

func TestSubtractSizeMismatch(t *testing.T) {
	a := NewRawIBLT(10, 32)
	b := NewRawIBLT(20, 32)
	if _, err := Subtract(a, b); err == nil {
		t.Error("expected size-mismatch error")
	}
}
