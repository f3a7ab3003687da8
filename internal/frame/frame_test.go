package frame

import (
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/bitset"
	"github.com/rustyrussell/bitcoin-iblt/internal/iblt"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

func sampleCoinbase() *wire.Tx {
	return &wire.Tx{
		Version: 1,
		Inputs:  []wire.TxInput{{Script: []byte{0x03, 0x01, 0x02, 0x03}, Sequence: 0xffffffff}},
		Outputs: []wire.TxOutput{{Amount: 5000000000, Script: []byte{0x76, 0xa9}}},
	}
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	const sliceSize = 32
	added := bitset.New()
	added.Add([]bool{true, false})
	removed := bitset.New()
	removed.Add([]bool{false, true, true})

	raw := iblt.NewRawIBLT(5, sliceSize)

	f := &Frame{
		Seed:          1,
		MinFeePerByte: 42,
		BucketCount:   5,
		Coinbase:      sampleCoinbase(),
		Added:         added,
		Removed:       removed,
		IBLT:          raw,
	}

	data := Encode(f, sliceSize)
	got, err := Decode(data, sliceSize)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Seed != f.Seed || got.MinFeePerByte != f.MinFeePerByte || got.BucketCount != f.BucketCount {
		t.Error("scalar field mismatch")
	}
	if wire.TxIDOf(got.Coinbase) != wire.TxIDOf(f.Coinbase) {
		t.Error("coinbase mismatch")
	}
}

func TestDecodeRejectsZeroSeed(t *testing.T) {
	f := &Frame{Seed: 0, Coinbase: sampleCoinbase(), Added: bitset.New(), Removed: bitset.New(), IBLT: iblt.NewRawIBLT(1, 32)}
	data := Encode(f, 32)
	if _, err := Decode(data, 32); err == nil {
		t.Error("expected error decoding zero-seed frame")
	}
}

func TestDecodeRejectsOversizedBucketDeclaration(t *testing.T) {
	out := wire.PutVarInt(nil, 1)         // seed
	out = wire.PutVarInt(out, 0)          // minFee
	out = wire.PutVarInt(out, 1<<40)      // absurd bucket count
	if _, err := Decode(out, 64); err == nil {
		t.Error("expected sanity-cap rejection for huge declared bucket count")
	}
}
