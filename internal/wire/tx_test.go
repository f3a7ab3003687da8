package wire

import "testing"

func sampleTx() *Tx {
	return &Tx{
		Version: 2,
		Inputs: []TxInput{
			{PrevTxID: [32]byte{1, 2, 3}, Index: 0, Script: []byte{0xaa, 0xbb}, Sequence: 0xffffffff},
			{PrevTxID: [32]byte{4, 5, 6}, Index: 1, Script: nil, Sequence: 0},
		},
		Outputs: []TxOutput{
			{Amount: 5000, Script: []byte{0x76, 0xa9}},
		},
		LockTime: 600000,
	}
}

func TestTxLinearizeParseRoundTrip(t *testing.T) {
	tx := sampleTx()
	b := tx.Linearize()
	if len(b) != tx.Length() {
		t.Fatalf("Length() = %d, Linearize() = %d bytes", tx.Length(), len(b))
	}

	got, err := ParseTxExact(b)
	if err != nil {
		t.Fatalf("ParseTxExact: %v", err)
	}
	if got.Version != tx.Version || got.LockTime != tx.LockTime {
		t.Error("version/locktime mismatch")
	}
	if len(got.Inputs) != len(tx.Inputs) || len(got.Outputs) != len(tx.Outputs) {
		t.Fatal("input/output count mismatch")
	}
	if got.Inputs[0].PrevTxID != tx.Inputs[0].PrevTxID {
		t.Error("prev txid mismatch")
	}
}

func TestParseTxExactRejectsTrailingBytes(t *testing.T) {
	tx := sampleTx()
	b := append(tx.Linearize(), 0x00)
	if _, err := ParseTxExact(b); err == nil {
		t.Error("expected error on trailing byte")
	}
}

func TestTxIDOfDeterministic(t *testing.T) {
	tx := sampleTx()
	id1 := TxIDOf(tx)
	id2 := TxIDOf(sampleTx())
	if id1 != id2 {
		t.Error("TxIDOf not deterministic for identical transactions")
	}
}
