package reconcile

import (
	"github.com/rustyrussell/bitcoin-iblt/internal/mempool"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// Block is the transaction set a sender wishes to transmit; it always
// contains the coinbase (spec GLOSSARY).
type Block struct {
	Coinbase *wire.Tx
	Txs      []*mempool.TxRecord
}

// Source is the mempool collaborator the driver takes as an external,
// read-only view (spec §9): anything that can enumerate its known
// transactions. Both mempool.MemPool and mempool.Cache satisfy it.
type Source interface {
	Each(fn func(txid wire.TxID, rec *mempool.TxRecord))
}
