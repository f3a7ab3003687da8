package reconcile

import (
	"github.com/rustyrussell/bitcoin-iblt/internal/bitset"
	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/frame"
	"github.com/rustyrussell/bitcoin-iblt/internal/iblt"
	"github.com/rustyrussell/bitcoin-iblt/internal/mempool"
	"github.com/rustyrussell/bitcoin-iblt/internal/prefixtree"
	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// mempoolEntry is a (Tid48, txid, record) triple kept alongside the
// prefix tree so both id-keyed and txid-keyed lookups stay cheap.
type mempoolEntry struct {
	txid txid48.Tid48
	id   wire.TxID
	rec  *mempool.TxRecord
}

// Encode builds the composite wire message for block against the given
// mempool Source, per spec §4.8. seed must be non-zero. sliceSize is the
// deployment-wide slice payload size (txslice.DefaultSize if unsure).
func Encode(block *Block, src Source, seed, feeThreshold uint64, bucketCount uint64, sliceSize int) ([]byte, error) {
	if seed == 0 {
		return nil, codecerr.New(codecerr.InvariantViolation, "seed must be non-zero")
	}

	tree := prefixtree.New[mempoolEntry]()
	var entries []mempoolEntry
	inBlock := make(map[wire.TxID]bool, len(block.Txs))
	for _, rec := range block.Txs {
		inBlock[wire.TxIDOf(rec.Body)] = true
	}

	src.Each(func(txid wire.TxID, rec *mempool.TxRecord) {
		tid := txid48.New(seed, txid)
		e := mempoolEntry{txid: tid, id: txid, rec: rec}
		entries = append(entries, e)
		tree.Insert(tid, e)
	})

	added := bitset.New()
	removed := bitset.New()

	// Added: block txs below threshold, keyed by their unique prefix in
	// the sender's own mempool view.
	for _, rec := range block.Txs {
		if rec.FeePerByte() >= feeThreshold {
			continue
		}
		txid := wire.TxIDOf(rec.Body)
		tid := txid48.New(seed, txid)
		prefix, err := tree.GetUniquePrefix(tid)
		if err != nil {
			return nil, codecerr.New(codecerr.InvariantViolation, "below-threshold block tx %x not in mempool: %v", txid[:8], err)
		}
		added.Add(prefix)
	}

	// Removed: mempool txs at/above threshold that are not in the block.
	for _, e := range entries {
		if e.rec.FeePerByte() < feeThreshold {
			continue
		}
		if inBlock[e.id] {
			continue
		}
		prefix, err := tree.GetUniquePrefix(e.txid)
		if err != nil {
			return nil, codecerr.New(codecerr.InvariantViolation, "mempool tx %x missing from its own tree: %v", e.id[:8], err)
		}
		removed.Add(prefix)
	}

	raw := iblt.NewRawIBLT(int(bucketCount), sliceSize)
	for _, rec := range block.Txs {
		txid := wire.TxIDOf(rec.Body)
		tid := txid48.New(seed, txid)
		slices, err := txslice.SliceTx(rec.Body, tid, sliceSize)
		if err != nil {
			return nil, err
		}
		for _, s := range slices {
			raw.Insert(s)
		}
	}

	f := &frame.Frame{
		Seed:          seed,
		MinFeePerByte: feeThreshold,
		BucketCount:   bucketCount,
		Coinbase:      block.Coinbase,
		Added:         added,
		Removed:       removed,
		IBLT:          raw,
	}
	return frame.Encode(f, sliceSize), nil
}
