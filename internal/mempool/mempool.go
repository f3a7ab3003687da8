// Package mempool provides the transaction collaborator the codec treats
// as external (spec §9: "Global tx cache... treat as external
// collaborator"): an in-memory set keyed by full txid, plus fee-per-byte
// accounting.
package mempool

import (
	"sync"

	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// TxRecord pairs a cached transaction body with the fee it pays. The
// codec is agnostic to how records are obtained (spec §3).
type TxRecord struct {
	Body *wire.Tx
	Fee  uint64
}

// Length returns the linearized byte length of the transaction.
func (r *TxRecord) Length() int {
	return r.Body.Length()
}

// FeePerByte computes (fee << 13) / length, preserving the source's
// satoshi-per-byte-times-2^13 unit end-to-end (spec §9 open question 4).
func (r *TxRecord) FeePerByte() uint64 {
	l := r.Length()
	if l == 0 {
		return 0
	}
	return (r.Fee << 13) / uint64(l)
}

// MemPool is a simple in-memory, concurrency-safe set of known
// transactions keyed by full txid, mirroring the original's tx_by_txid
// unordered_map.
type MemPool struct {
	mu  sync.RWMutex
	txs map[wire.TxID]*TxRecord
}

// New returns an empty mempool.
func New() *MemPool {
	return &MemPool{txs: make(map[wire.TxID]*TxRecord)}
}

// Add inserts or replaces the record for txid.
func (m *MemPool) Add(txid wire.TxID, rec *TxRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[txid] = rec
}

// Del removes txid from the pool.
func (m *MemPool) Del(txid wire.TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, txid)
}

// Get returns the record for txid, if present.
func (m *MemPool) Get(txid wire.TxID) (*TxRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.txs[txid]
	return r, ok
}

// Size returns the number of known transactions.
func (m *MemPool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// Each calls fn once per (txid, record) pair. fn must not mutate the pool.
func (m *MemPool) Each(fn func(txid wire.TxID, rec *TxRecord)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, r := range m.txs {
		fn(id, r)
	}
}
