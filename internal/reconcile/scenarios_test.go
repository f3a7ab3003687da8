package reconcile

import (
	"errors"
	"testing"

	"github.com/rustyrussell/bitcoin-iblt/internal/bitset"
	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/frame"
	"github.com/rustyrussell/bitcoin-iblt/internal/iblt"
	"github.com/rustyrussell/bitcoin-iblt/internal/mempool"
	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// TestEncodeDecodeMixedOursAndTheirs covers a block with both a transaction
// only the sender knows (recovered via Theirs peeling) and a stale
// candidate only the receiver's mempool carries (cancelled via Ours
// peeling rather than leaking into the reconstructed block).
func TestEncodeDecodeMixedOursAndTheirs(t *testing.T) {
	senderPool := mempool.New()
	receiverPool := mempool.New()

	var shared []*mempool.TxRecord
	for i := byte(31); i <= 33; i++ {
		rec := &mempool.TxRecord{Body: tx(i), Fee: 10000}
		senderPool.Add(wire.TxIDOf(rec.Body), rec)
		receiverPool.Add(wire.TxIDOf(rec.Body), rec)
		shared = append(shared, rec)
	}

	theirsOnly := &mempool.TxRecord{Body: tx(34), Fee: 10000}
	senderPool.Add(wire.TxIDOf(theirsOnly.Body), theirsOnly)

	oursOnly := &mempool.TxRecord{Body: tx(35), Fee: 10000}
	receiverPool.Add(wire.TxIDOf(oursOnly.Body), oursOnly)

	blockTxs := append(append([]*mempool.TxRecord{}, shared...), theirsOnly)
	block := &Block{Coinbase: tx(0), Txs: blockTxs}

	blob, err := Encode(block, senderPool, seed, 0, 32, sliceSize)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(blob, receiverPool, sliceSize, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Txs) != len(blockTxs) {
		t.Fatalf("decoded %d txs, want %d", len(got.Txs), len(blockTxs))
	}

	want := make(map[wire.TxID]bool, len(blockTxs))
	for _, rec := range blockTxs {
		want[wire.TxIDOf(rec.Body)] = true
	}
	for _, rec := range got.Txs {
		id := wire.TxIDOf(rec.Body)
		if !want[id] {
			t.Errorf("decoded unexpected tx %x", id[:8])
		}
		delete(want, id)
		if id == wire.TxIDOf(oursOnly.Body) {
			t.Error("stale receiver-only candidate leaked into decoded block")
		}
	}
	if len(want) != 0 {
		t.Errorf("%d expected txs missing from decode", len(want))
	}
}

// TestDecodeUndersizedBucketCountReturnsResidual shrinks the bucket count
// far below what the block's transaction count needs: every slice piles
// into bucket zero, no bucket ever reaches a singleton count, and Decode
// must report Residual rather than silently returning a partial block.
func TestDecodeUndersizedBucketCountReturnsResidual(t *testing.T) {
	senderPool := mempool.New()
	receiverPool := mempool.New()

	var blockTxs []*mempool.TxRecord
	for i := byte(41); i <= 45; i++ {
		rec := &mempool.TxRecord{Body: tx(i), Fee: 10000}
		senderPool.Add(wire.TxIDOf(rec.Body), rec)
		blockTxs = append(blockTxs, rec)
	}
	block := &Block{Coinbase: tx(0), Txs: blockTxs}

	blob, err := Encode(block, senderPool, seed, 0, 1, sliceSize)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = Decode(blob, receiverPool, sliceSize, nil)
	var ce *codecerr.Error
	if !errors.As(err, &ce) || ce.Kind != codecerr.Residual {
		t.Fatalf("Decode error = %v, want codecerr.Residual", err)
	}
}

// TestDecodeCorruptOursSliceReturnsCorrupt hand-assembles a frame whose raw
// IBLT contains a fabricated ours-polarity singleton for a Tid48 that
// cannot appear in any receiver's candidate set, simulating a corrupted or
// malicious wire image rather than an honest reconciliation mismatch.
// Decode must surface Corrupt instead of mis-attributing the slice.
func TestDecodeCorruptOursSliceReturnsCorrupt(t *testing.T) {
	const n = 101
	receiverPool := mempool.New()

	raw := iblt.NewRawIBLT(n, sliceSize)
	bogusTid := txid48.FromRaw(0x0000dead_beefcafe)
	bogus := txslice.Slice{
		TxIDBits: bogusTid.ID(),
		FragID:   bogusTid.FragBase(),
		Contents: make([]byte, sliceSize),
	}
	raw.Remove(bogus)

	f := &frame.Frame{
		Seed:          seed,
		MinFeePerByte: 0,
		BucketCount:   n,
		Coinbase:      tx(0),
		Added:         bitset.New(),
		Removed:       bitset.New(),
		IBLT:          raw,
	}
	blob := frame.Encode(f, sliceSize)

	_, err := Decode(blob, receiverPool, sliceSize, nil)
	var ce *codecerr.Error
	if !errors.As(err, &ce) || ce.Kind != codecerr.Corrupt {
		t.Fatalf("Decode error = %v, want codecerr.Corrupt", err)
	}
}
