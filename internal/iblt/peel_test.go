package iblt

import (
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

func buildTx(seed byte) *wire.Tx {
	return &wire.Tx{
		Version: 1,
		Inputs:  []wire.TxInput{{PrevTxID: [32]byte{seed, seed + 1}, Index: uint32(seed), Sequence: 0xffffffff}},
		Outputs: []wire.TxOutput{{Amount: uint64(seed) + 100, Script: []byte{seed, seed}}},
	}
}

// TestPeelRecoversPureAdditions builds a sender table containing three
// transactions the receiver doesn't have, and checks every one peels out
// as Theirs, leaving an empty residual.
func TestPeelRecoversPureAdditions(t *testing.T) {
	const sliceSize = 32
	receiver := NewRawIBLT(61, sliceSize)
	sender := NewRawIBLT(61, sliceSize)

	var allSlices [][]txslice.Slice
	for _, seed := range []byte{1, 2, 3} {
		tx := buildTx(seed)
		tid := txid48.New(1, wire.TxIDOf(tx))
		slices, err := txslice.SliceTx(tx, tid, sliceSize)
		if err != nil {
			t.Fatal(err)
		}
		for _, s := range slices {
			sender.Insert(s)
		}
		allSlices = append(allSlices, slices)
	}

	peeling, err := New(sender, receiver)
	if err != nil {
		t.Fatal(err)
	}

	recovered := 0
	for {
		s, pol := peeling.Next()
		if pol == Neither {
			break
		}
		if pol != Theirs {
			t.Fatalf("expected Theirs, got %v", pol)
		}
		peeling.RemoveTheirSlice(s)
		recovered++
	}

	total := 0
	for _, s := range allSlices {
		total += len(s)
	}
	if recovered != total {
		t.Errorf("recovered %d slices, want %d", recovered, total)
	}
	if !peeling.Empty() {
		t.Error("expected peeling IBLT to be empty after full recovery")
	}
}

// TestPeelRecoversOursCancellation builds a receiver table carrying one
// transaction the sender's table lacks entirely: the subtraction leaves a
// -1 singleton that peels as Ours and must zero out cleanly rather than
// ever surfacing as Theirs.
func TestPeelRecoversOursCancellation(t *testing.T) {
	const sliceSize = 32
	sender := NewRawIBLT(61, sliceSize)
	receiver := NewRawIBLT(61, sliceSize)

	shared := buildTx(1)
	sharedTid := txid48.New(1, wire.TxIDOf(shared))
	sharedSlices, err := txslice.SliceTx(shared, sharedTid, sliceSize)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sharedSlices {
		sender.Insert(s)
		receiver.Insert(s)
	}

	stale := buildTx(9)
	staleTid := txid48.New(1, wire.TxIDOf(stale))
	staleSlices, err := txslice.SliceTx(stale, staleTid, sliceSize)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range staleSlices {
		receiver.Insert(s)
	}

	peeling, err := New(sender, receiver)
	if err != nil {
		t.Fatal(err)
	}

	sawOurs := false
	recovered := 0
	for {
		s, pol := peeling.Next()
		if pol == Neither {
			break
		}
		switch pol {
		case Ours:
			sawOurs = true
			peeling.RemoveOurSlice(s)
		case Theirs:
			t.Fatal("unexpected Theirs slice: receiver-only tx should only cancel as Ours")
		}
		recovered++
	}

	if !sawOurs {
		t.Error("expected at least one Ours polarity slice")
	}
	if recovered != len(staleSlices) {
		t.Errorf("recovered %d slices, want %d", recovered, len(staleSlices))
	}
	if !peeling.Empty() {
		t.Error("expected peeling IBLT to be empty after cancelling the stale tx")
	}
}

func TestPeelNeitherOnEmptyTables(t *testing.T) {
	a := NewRawIBLT(9, 32)
	b := NewRawIBLT(9, 32)
	peeling, err := New(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if _, pol := peeling.Next(); pol != Neither {
		t.Error("expected Neither for two empty tables")
	}
	if !peeling.Empty() {
		t.Error("expected empty")
	}
}

func TestBinForMatchesSpecBounds(t *testing.T) {
	if binFor(0) != 0 {
		t.Errorf("binFor(0) = %d, want 0", binFor(0))
	}
	if binFor(7) != 7 {
		t.Errorf("binFor(7) = %d, want 7", binFor(7))
	}
	if got := binFor(65535); got != numBins-1 {
		t.Errorf("binFor(65535) = %d, want %d", got, numBins-1)
	}
}
