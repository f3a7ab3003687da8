package gossip

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PubSub manages GossipSub for reconciliation blob propagation.
type PubSub struct {
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	self   peer.ID
	logger *zap.Logger

	peerLimiters   map[peer.ID]*rate.Limiter
	peerFailures   map[peer.ID]int
	peerLimitersMu sync.Mutex
}

// wellBehavedRate/wellBehavedBurst govern a peer that has never sent a
// malformed blob. penalizedRate/penalizedBurst apply once PenalizePeer has
// been called at least once. A peer's failure count is kept until its
// limiter is dropped when the limiter table reaches 500 entries; after
// that the peer starts again on the generous limiter.
const (
	wellBehavedRate  = 10
	wellBehavedBurst = 20
	penalizedRate    = 1
	penalizedBurst   = 2
)

// NewPubSub creates a new GossipSub instance.
func NewPubSub(ctx context.Context, h host.Host, incomingBlobs chan *ReceivedBlob, logger *zap.Logger) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	topic, err := ps.Join(BlobTopicName)
	if err != nil {
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	p := &PubSub{
		ps:           ps,
		topic:        topic,
		sub:          sub,
		self:         h.ID(),
		logger:       logger,
		peerLimiters: make(map[peer.ID]*rate.Limiter),
		peerFailures: make(map[peer.ID]int),
	}

	go p.readLoop(ctx, incomingBlobs)

	return p, nil
}

// PublishBlob publishes a reconciliation blob to the gossipsub network.
func (p *PubSub) PublishBlob(blob *BlobMsg) error {
	blob.Type = MsgTypeBlob
	data, err := Encode(blob)
	if err != nil {
		return err
	}
	return p.topic.Publish(context.Background(), data)
}

func (p *PubSub) readLoop(ctx context.Context, incomingBlobs chan *ReceivedBlob) {
	for {
		msg, err := p.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("pubsub read error", zap.Error(err))
			continue
		}

		if msg.GetFrom() == p.self {
			continue
		}

		if !p.getPeerLimiter(msg.GetFrom()).Allow() {
			p.logger.Warn("peer rate limited", zap.String("peer", msg.GetFrom().String()))
			continue
		}

		blob, err := DecodeBlobMsg(msg.Data)
		if err != nil {
			p.logger.Debug("invalid blob message", zap.Error(err))
			continue
		}

		select {
		case incomingBlobs <- &ReceivedBlob{From: msg.GetFrom(), Msg: blob}:
		default:
			p.logger.Warn("incoming blobs channel full, dropping blob")
		}
	}
}

func (p *PubSub) getPeerLimiter(peerID peer.ID) *rate.Limiter {
	p.peerLimitersMu.Lock()
	defer p.peerLimitersMu.Unlock()

	if lim, ok := p.peerLimiters[peerID]; ok {
		return lim
	}

	if len(p.peerLimiters) >= 500 {
		for id := range p.peerLimiters {
			delete(p.peerLimiters, id)
			delete(p.peerFailures, id)
			break
		}
	}

	lim := newPeerLimiter(p.peerFailures[peerID])
	p.peerLimiters[peerID] = lim
	return lim
}

func newPeerLimiter(failures int) *rate.Limiter {
	if failures > 0 {
		return rate.NewLimiter(penalizedRate, penalizedBurst)
	}
	return rate.NewLimiter(wellBehavedRate, wellBehavedBurst)
}

// PenalizePeer records a reconciliation-level failure for peerID and
// immediately tightens its rate limit, rather than waiting for the limiter
// to naturally starve it out.
func (p *PubSub) PenalizePeer(peerID peer.ID) {
	p.peerLimitersMu.Lock()
	defer p.peerLimitersMu.Unlock()

	p.peerFailures[peerID]++
	p.peerLimiters[peerID] = newPeerLimiter(p.peerFailures[peerID])
}
