package mempool

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

var txBucket = []byte("txs")

// hotCacheSize bounds the in-process LRU fronting the bbolt-backed store.
const hotCacheSize = 4096

// Cache is a persistent, disk-backed transaction cache fronted by an
// in-memory LRU, for deployments that want mempool contents to survive a
// restart instead of rebuilding from scratch. It satisfies the same
// lookup surface as MemPool for reconciliation purposes.
type Cache struct {
	db  *bbolt.DB
	hot *lru.Cache
	log *zap.Logger
}

// NewCache opens (or creates) a bbolt-backed transaction cache at path.
func NewCache(path string, log *zap.Logger) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open tx cache: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(txBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tx cache bucket: %w", err)
	}

	hot, err := lru.New(hotCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init hot cache: %w", err)
	}

	return &Cache{db: db, hot: hot, log: log}, nil
}

// Add persists a transaction record keyed by its full txid.
func (c *Cache) Add(txid wire.TxID, rec *TxRecord) error {
	payload := encodeRecord(rec)
	if err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(txBucket).Put(txid[:], payload)
	}); err != nil {
		return fmt.Errorf("add tx %x: %w", txid[:8], err)
	}
	c.hot.Add(txid, rec)
	return nil
}

// Get returns the record for txid, consulting the hot cache before
// falling back to disk.
func (c *Cache) Get(txid wire.TxID) (*TxRecord, bool) {
	if v, ok := c.hot.Get(txid); ok {
		return v.(*TxRecord), true
	}

	var rec *TxRecord
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(txBucket).Get(txid[:])
		if b == nil {
			return nil
		}
		r, err := decodeRecord(b)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		c.log.Warn("tx cache decode failed", zap.Error(err))
		return nil, false
	}
	if rec == nil {
		return nil, false
	}
	c.hot.Add(txid, rec)
	return rec, true
}

// Has reports whether txid is present without deserializing it.
func (c *Cache) Has(txid wire.TxID) bool {
	if c.hot.Contains(txid) {
		return true
	}
	found := false
	_ = c.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(txBucket).Get(txid[:]) != nil
		return nil
	})
	return found
}

// Count returns the number of persisted transactions.
func (c *Cache) Count() int {
	n := 0
	_ = c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(txBucket).Stats().KeyN
		return nil
	})
	return n
}

// Each calls fn once per persisted (txid, record) pair, logging and
// skipping any record that fails to decode rather than aborting the scan.
func (c *Cache) Each(fn func(txid wire.TxID, rec *TxRecord)) {
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(txBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				c.log.Warn("skipping undecodable cached tx", zap.Error(err))
				return nil
			}
			var id wire.TxID
			copy(id[:], k)
			fn(id, rec)
			return nil
		})
	})
	if err != nil {
		c.log.Warn("tx cache scan failed", zap.Error(err))
	}
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// encodeRecord flattens a TxRecord to bytes: 8-byte fee, then the
// linearized transaction body.
func encodeRecord(rec *TxRecord) []byte {
	body := rec.Body.Linearize()
	out := make([]byte, 8+len(body))
	for i := 0; i < 8; i++ {
		out[i] = byte(rec.Fee >> (8 * i))
	}
	copy(out[8:], body)
	return out
}

func decodeRecord(b []byte) (*TxRecord, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("tx cache record too short: %d bytes", len(b))
	}
	fee := uint64(0)
	for i := 7; i >= 0; i-- {
		fee = (fee << 8) | uint64(b[i])
	}
	tx, err := wire.ParseTxExact(b[8:])
	if err != nil {
		return nil, fmt.Errorf("decode cached tx: %w", err)
	}
	return &TxRecord{Body: tx, Fee: fee}, nil
}
