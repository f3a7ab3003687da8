package mempool

import (
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

func sampleRecord(seed byte, fee uint64) (wire.TxID, *TxRecord) {
	tx := &wire.Tx{
		Version: 1,
		Inputs:  []wire.TxInput{{PrevTxID: wire.TxID{seed}, Index: uint32(seed), Sequence: 0xffffffff}},
		Outputs: []wire.TxOutput{{Amount: uint64(seed) + 1, Script: []byte{seed}}},
	}
	return wire.TxIDOf(tx), &TxRecord{Body: tx, Fee: fee}
}

func TestMemPoolAddGetDel(t *testing.T) {
	pool := New()
	id, rec := sampleRecord(1, 1000)
	pool.Add(id, rec)

	got, ok := pool.Get(id)
	if !ok || got != rec {
		t.Fatal("expected to get back the added record")
	}
	if pool.Size() != 1 {
		t.Errorf("Size() = %d, want 1", pool.Size())
	}

	pool.Del(id)
	if _, ok := pool.Get(id); ok {
		t.Error("expected record gone after Del")
	}
	if pool.Size() != 0 {
		t.Errorf("Size() = %d, want 0", pool.Size())
	}
}

func TestMemPoolEachVisitsAll(t *testing.T) {
	pool := New()
	want := map[wire.TxID]bool{}
	for i := byte(1); i <= 5; i++ {
		id, rec := sampleRecord(i, 1000)
		pool.Add(id, rec)
		want[id] = true
	}

	seen := map[wire.TxID]bool{}
	pool.Each(func(id wire.TxID, rec *TxRecord) {
		seen[id] = true
	})
	if len(seen) != len(want) {
		t.Fatalf("visited %d records, want %d", len(seen), len(want))
	}
	for id := range want {
		if !seen[id] {
			t.Errorf("Each missed %x", id[:8])
		}
	}
}

func TestFeePerByte(t *testing.T) {
	_, rec := sampleRecord(1, 1000)
	fpb := rec.FeePerByte()
	if fpb == 0 {
		t.Error("expected non-zero fee-per-byte for a non-empty tx with non-zero fee")
	}
	// Scales linearly with fee for fixed length.
	_, rec2 := sampleRecord(1, 2000)
	if rec2.FeePerByte() != fpb*2 {
		t.Errorf("FeePerByte did not scale linearly: %d vs %d", rec2.FeePerByte(), fpb)
	}
}
