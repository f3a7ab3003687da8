package txslice

import (
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

func bigTx() *wire.Tx {
	tx := &wire.Tx{Version: 1, LockTime: 0}
	for i := 0; i < 20; i++ {
		tx.Inputs = append(tx.Inputs, wire.TxInput{
			PrevTxID: [32]byte{byte(i)},
			Index:    uint32(i),
			Script:   make([]byte, 20),
			Sequence: 0xffffffff,
		})
	}
	tx.Outputs = append(tx.Outputs, wire.TxOutput{Amount: 1000, Script: make([]byte, 30)})
	return tx
}

func TestSliceTxAndRebuildRoundTrip(t *testing.T) {
	tx := bigTx()
	tid := txid48.New(1, wire.TxIDOf(tx))

	slices, err := SliceTx(tx, tid, 32)
	if err != nil {
		t.Fatalf("SliceTx: %v", err)
	}
	if len(slices) < 2 {
		t.Fatalf("expected tx to need multiple slices, got %d", len(slices))
	}

	n, err := SlicesExpected(slices[0])
	if err != nil {
		t.Fatalf("SlicesExpected: %v", err)
	}
	if n != uint64(len(slices)) {
		t.Fatalf("SlicesExpected = %d, want %d", n, len(slices))
	}

	rebuilt, err := RebuildTx(slices)
	if err != nil {
		t.Fatalf("RebuildTx: %v", err)
	}
	if wire.TxIDOf(rebuilt) != wire.TxIDOf(tx) {
		t.Error("rebuilt transaction has a different txid")
	}
}

func TestSliceFragIDsStartAtFragBase(t *testing.T) {
	tx := bigTx()
	tid := txid48.New(1, wire.TxIDOf(tx))
	slices, err := SliceTx(tx, tid, 32)
	if err != nil {
		t.Fatal(err)
	}
	base := tid.FragBase()
	if slices[0].FragID != base {
		t.Errorf("first fragid = %d, want frag_base %d", slices[0].FragID, base)
	}
	for i := 1; i < len(slices); i++ {
		want := uint16(uint32(base) + uint32(i))
		if slices[i].FragID != want {
			t.Errorf("slice %d fragid = %d, want %d", i, slices[i].FragID, want)
		}
	}
}

func TestXORIsSelfInverse(t *testing.T) {
	a := Slice{TxIDBits: 5, FragID: 9, Contents: []byte{1, 2, 3}}
	b := Slice{TxIDBits: 7, FragID: 2, Contents: []byte{4, 5, 6}}
	x := XOR(a, b)
	back := XOR(x, b)
	if back.TxIDBits != a.TxIDBits || back.FragID != a.FragID {
		t.Error("XOR not self-inverse on header")
	}
	for i := range back.Contents {
		if back.Contents[i] != a.Contents[i] {
			t.Error("XOR not self-inverse on payload")
		}
	}
}

func TestBytesFromBytesRoundTrip(t *testing.T) {
	s := Slice{TxIDBits: 0xaabbccddeeff & ((1 << 48) - 1), FragID: 42, Contents: []byte{9, 9, 9}}
	b := s.Bytes()
	got := FromBytes(b)
	if got.TxIDBits != s.TxIDBits || got.FragID != s.FragID {
		t.Error("header mismatch after Bytes/FromBytes round trip")
	}
}
