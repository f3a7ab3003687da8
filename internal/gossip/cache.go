package gossip

import (
	"sort"
	"sync"
)

// BlobCache retains a bounded window of recently broadcast reconciliation
// blobs keyed by block height, answering locator-based resync requests so
// a peer that missed a broadcast (or just connected) doesn't have to wait
// for the next block.
type BlobCache struct {
	mu       sync.Mutex
	capacity int
	byHeight map[int64]BlobMsg
	heights  []int64 // ascending
}

// NewBlobCache returns a cache retaining at most capacity blobs, evicting
// the lowest height first.
func NewBlobCache(capacity int) *BlobCache {
	return &BlobCache{capacity: capacity, byHeight: make(map[int64]BlobMsg)}
}

// Store records blob under its own Height, evicting the oldest entry if
// the cache is over capacity.
func (c *BlobCache) Store(blob BlobMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byHeight[blob.Height]; !ok {
		c.heights = append(c.heights, blob.Height)
		sort.Slice(c.heights, func(i, j int) bool { return c.heights[i] < c.heights[j] })
	}
	c.byHeight[blob.Height] = blob

	for len(c.heights) > c.capacity {
		oldest := c.heights[0]
		c.heights = c.heights[1:]
		delete(c.byHeight, oldest)
	}
}

// Heights returns the cached heights in ascending order, for building a
// RequestLocator call against a freshly-connected peer.
func (c *BlobCache) Heights() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.heights...)
}

// Locate answers a BlobLocatorReq: it finds the highest locator height this
// cache recognizes and returns every cached blob above it, oldest-first,
// capped at MaxCount (and at maxSyncBatchSize regardless of what the peer
// asked for).
func (c *BlobCache) Locate(req *BlobLocatorReq) *BlobLocatorResp {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := int64(-1)
	for _, loc := range req.Locators {
		if _, ok := c.byHeight[loc]; ok && loc > known {
			known = loc
		}
	}

	max := req.MaxCount
	if max <= 0 || max > maxSyncBatchSize {
		max = maxSyncBatchSize
	}

	resp := &BlobLocatorResp{Type: MsgTypeLocatorResp}
	for _, h := range c.heights {
		if h <= known {
			continue
		}
		if len(resp.Blobs) >= max {
			resp.More = true
			break
		}
		resp.Blobs = append(resp.Blobs, c.byHeight[h])
	}
	return resp
}
