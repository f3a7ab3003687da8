package reconcile

import (
	"sort"

	"go.uber.org/zap"

	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/frame"
	"github.com/rustyrussell/bitcoin-iblt/internal/iblt"
	"github.com/rustyrussell/bitcoin-iblt/internal/mempool"
	"github.com/rustyrussell/bitcoin-iblt/internal/prefixtree"
	"github.com/rustyrussell/bitcoin-iblt/internal/txid48"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// Decode parses blob against the receiver's mempool src, reconstructing
// the block's transaction set or reporting a codecerr.Error describing
// why reconciliation failed (spec §4.8). log may be nil.
func Decode(blob []byte, src Source, sliceSize int, log *zap.Logger) (*Block, error) {
	if log == nil {
		log = zap.NewNop()
	}

	f, err := frame.Decode(blob, sliceSize)
	if err != nil {
		return nil, err
	}

	tree := prefixtree.New[mempoolEntry]()
	candidates := make(map[txid48.Tid48]mempoolEntry)

	src.Each(func(txid wire.TxID, rec *mempool.TxRecord) {
		tid := txid48.New(f.Seed, txid)
		e := mempoolEntry{txid: tid, id: txid, rec: rec}
		tree.Insert(tid, e)
		if rec.FeePerByte() >= f.MinFeePerByte {
			candidates[tid] = e
		}
	})

	f.Removed.ForEachLength(func(length int, vecs [][]bool) {
		for _, v := range vecs {
			for _, e := range tree.LookupPrefix(v) {
				delete(candidates, e.txid)
			}
		}
	})
	f.Added.ForEachLength(func(length int, vecs [][]bool) {
		for _, v := range vecs {
			for _, e := range tree.LookupPrefix(v) {
				if e.rec.FeePerByte() < f.MinFeePerByte {
					candidates[e.txid] = e
				}
			}
		}
	})

	receiverIblt, err := ibltFromCandidates(candidates, int(f.BucketCount), sliceSize)
	if err != nil {
		return nil, err
	}

	peeling, err := iblt.New(f.IBLT, receiverIblt)
	if err != nil {
		return nil, err
	}

	seenTheirs := make(map[uint64]bool)
	theirsSlices := make(map[uint64][]txslice.Slice)

	for {
		s, polarity := peeling.Next()
		if polarity == iblt.Neither {
			break
		}

		switch polarity {
		case iblt.Ours:
			tid := txid48.FromRaw(s.TxIDBits)
			cand, ok := candidates[tid]
			if !ok {
				return nil, codecerr.New(codecerr.Corrupt, "ours slice txid48=%d not in candidate set", tid.ID())
			}
			slices, err := txslice.SliceTx(cand.rec.Body, tid, sliceSize)
			if err != nil {
				return nil, err
			}
			for _, sl := range slices {
				peeling.RemoveOurSlice(sl)
			}
			delete(candidates, tid)

		case iblt.Theirs:
			key := s.TxIDBits<<16 | uint64(s.FragID)
			if seenTheirs[key] {
				return nil, codecerr.New(codecerr.DuplicateSlice, "slice txid48=%d fragid=%d seen twice", s.TxIDBits, s.FragID)
			}
			seenTheirs[key] = true
			theirsSlices[s.TxIDBits] = append(theirsSlices[s.TxIDBits], s)
			peeling.RemoveTheirSlice(s)
		}
	}

	if !peeling.Empty() {
		return nil, codecerr.New(codecerr.Residual, "peel exhausted with non-empty IBLT")
	}

	recovered, err := reassemble(theirsSlices)
	if err != nil {
		return nil, err
	}

	block := &Block{Coinbase: f.Coinbase}
	for _, e := range candidates {
		block.Txs = append(block.Txs, e.rec)
	}
	block.Txs = append(block.Txs, recovered...)

	return block, nil
}

func ibltFromCandidates(candidates map[txid48.Tid48]mempoolEntry, n, sliceSize int) (*iblt.RawIBLT, error) {
	raw := iblt.NewRawIBLT(n, sliceSize)
	for tid, e := range candidates {
		slices, err := txslice.SliceTx(e.rec.Body, tid, sliceSize)
		if err != nil {
			return nil, err
		}
		for _, s := range slices {
			raw.Insert(s)
		}
	}
	return raw, nil
}

// reassemble groups recovered theirs-slices by owning transaction and
// parses each complete run, failing per spec §7/§4.8 step 9 on any
// fragment-ordering or count mismatch.
func reassemble(byTx map[uint64][]txslice.Slice) ([]*mempool.TxRecord, error) {
	var out []*mempool.TxRecord

	for bits, slices := range byTx {
		sort.Slice(slices, func(i, j int) bool { return txslice.Less(slices[i], slices[j]) })

		tid := txid48.FromRaw(bits)
		fragBase := tid.FragBase()

		n, err := txslice.SlicesExpected(slices[0])
		if err != nil {
			return nil, err
		}
		if n == 0 || n > txslice.MaxSlices {
			return nil, codecerr.New(codecerr.BadFragment, "slices_expected=%d out of range for txid48=%d", n, bits)
		}
		if slices[0].FragID != fragBase {
			return nil, codecerr.New(codecerr.BadFragment, "leading fragment offset non-zero for txid48=%d", bits)
		}
		for k := 1; k < len(slices); k++ {
			want := fragBase + uint16(k)
			if slices[k].FragID != want {
				return nil, codecerr.New(codecerr.BadFragment, "non-monotonic fragid for txid48=%d at index %d", bits, k)
			}
		}
		if uint64(len(slices)) != n {
			return nil, codecerr.New(codecerr.Incomplete, "txid48=%d has %d of %d expected fragments", bits, len(slices), n)
		}

		tx, err := txslice.RebuildTx(slices)
		if err != nil {
			return nil, err
		}
		out = append(out, &mempool.TxRecord{Body: tx})
	}
	return out, nil
}
