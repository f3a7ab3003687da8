package gossip

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// maxBlobSize bounds a gossiped reconciliation blob accepted from peers.
	maxBlobSize = 4 * 1024 * 1024 // 4MB
)

const (
	// ProtocolVersion is the current gossip protocol version.
	ProtocolVersion = "1.0.0"

	// BlobTopicName is the GossipSub topic for reconciliation blob propagation.
	BlobTopicName = "/bitcoin-iblt/blobs/" + ProtocolVersion

	// SyncProtocolID is the protocol ID for locator-based resync.
	SyncProtocolID = "/bitcoin-iblt/sync/1.0.0"
)

// MessageType identifies the type of gossip message.
type MessageType uint8

const (
	MsgTypeBlob        MessageType = 1
	MsgTypeTipAnnounce MessageType = 2
	MsgTypeBlobReq     MessageType = 3
	MsgTypeBlobResp    MessageType = 4
	MsgTypeLocatorReq  MessageType = 5
	MsgTypeLocatorResp MessageType = 6
)

// BlobMsg carries one peer's encoded reconciliation frame for a block,
// zstd-compressed, broadcast via GossipSub as soon as it's built.
type BlobMsg struct {
	Type          MessageType `cbor:"1,keyasint"`
	Height        int64       `cbor:"2,keyasint"`
	PrevBlockHash [32]byte    `cbor:"3,keyasint"`
	CompressedBlob []byte     `cbor:"4,keyasint"`
}

// TipAnnounce announces a node's current chain tip, used to decide
// whether a freshly-connected peer needs a locator-based resync.
type TipAnnounce struct {
	Type    MessageType `cbor:"1,keyasint"`
	TipHash [32]byte    `cbor:"2,keyasint"`
	Height  int64       `cbor:"3,keyasint"`
}

// BlobLocatorReq sends exponentially-spaced heights from the client's
// known tip, asking the peer to fill in any blobs it's missing.
type BlobLocatorReq struct {
	Type     MessageType `cbor:"1,keyasint"`
	Locators []int64     `cbor:"2,keyasint"` // tip, tip-1, tip-2, tip-4, tip-8, ...
	MaxCount int         `cbor:"3,keyasint"`
}

// BlobLocatorResp returns blobs from the fork point forward.
type BlobLocatorResp struct {
	Type  MessageType `cbor:"1,keyasint"`
	Blobs []BlobMsg   `cbor:"2,keyasint"` // oldest-first (forward order)
	More  bool        `cbor:"3,keyasint"`
}

// Encode serializes a message to CBOR.
func Encode(msg interface{}) ([]byte, error) {
	return cbor.Marshal(msg)
}

// DecodeBlobMsg decodes a CBOR-encoded BlobMsg.
func DecodeBlobMsg(data []byte) (*BlobMsg, error) {
	var msg BlobMsg
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.CompressedBlob) > maxBlobSize {
		return nil, fmt.Errorf("blob too large: %d bytes", len(msg.CompressedBlob))
	}
	return &msg, nil
}

// DecodeTipAnnounce decodes a CBOR-encoded TipAnnounce.
func DecodeTipAnnounce(data []byte) (*TipAnnounce, error) {
	var msg TipAnnounce
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeBlobLocatorReq decodes a CBOR-encoded BlobLocatorReq.
func DecodeBlobLocatorReq(data []byte) (*BlobLocatorReq, error) {
	var msg BlobLocatorReq
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeBlobLocatorResp decodes a CBOR-encoded BlobLocatorResp.
func DecodeBlobLocatorResp(data []byte) (*BlobLocatorResp, error) {
	var msg BlobLocatorResp
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
