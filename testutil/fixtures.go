package testutil

import (
	"github.com/rustyrussell/bitcoin-iblt/internal/mempool"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// SampleTx builds a deterministic, syntactically valid transaction whose
// content varies with seed, for use as mempool/block fixture material.
func SampleTx(seed byte) *wire.Tx {
	return &wire.Tx{
		Version: 2,
		Inputs: []wire.TxInput{
			{
				PrevTxID: [32]byte{seed, seed + 1, seed + 2},
				Index:    0,
				Script:   []byte{0x00, seed},
				Sequence: 0xffffffff,
			},
		},
		Outputs: []wire.TxOutput{
			{
				Amount: 50000 + uint64(seed),
				Script: []byte{0x76, 0xa9, 0x14, seed, seed, 0x88, 0xac},
			},
		},
		LockTime: 0,
	}
}

// SampleMempool returns a fresh mempool loaded with n distinct sample
// transactions at strictly increasing fees, seeded off base.
func SampleMempool(n int, base byte) *mempool.MemPool {
	pool := mempool.New()
	for i := 0; i < n; i++ {
		tx := SampleTx(base + byte(i))
		pool.Add(wire.TxIDOf(tx), &mempool.TxRecord{Body: tx, Fee: uint64(1000 * (i + 1))})
	}
	return pool
}

// Seed1 and Seed352792 are the pinned reconciliation seeds used across
// fixture-based tests, matching the values this codec's upstream corpus
// recordings were produced with.
const (
	Seed1      uint64 = 1
	Seed352792 uint64 = 352792
)
