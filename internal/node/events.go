// Package node defines the event types passed around a running
// reconciliation node's main loop.
package node

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/rustyrussell/bitcoin-iblt/internal/gossip"
	"github.com/rustyrussell/bitcoin-iblt/internal/reconcile"
)

// NewBlockEvent signals that the block source observed a new template,
// ready to be encoded and gossiped.
type NewBlockEvent struct {
	Block *reconcile.Block
}

// BlobReceivedEvent signals that a reconciliation blob arrived from a peer
// via gossip; From is the peer that sent it. Blobs from a locator-based
// resync response are decoded directly and do not produce this event.
type BlobReceivedEvent struct {
	Blob *gossip.BlobMsg
	From peer.ID
}

// DecodeResultEvent signals the outcome of attempting to reconstruct a
// block from a received blob. Hostile is set when the failure Kind
// indicates a malformed or adversarial wire image rather than an honest
// reconciliation mismatch (see gossip.Node.PenalizePeer).
type DecodeResultEvent struct {
	Block   *reconcile.Block
	Err     error
	Hostile bool
}
