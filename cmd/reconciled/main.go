// Command reconciled runs a block-reconciliation gossip node: it polls
// bitcoind for block templates, encodes each new block against its local
// mempool view, gossips the result to peers, and reconstructs blocks
// announced by peers against the same mempool.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rustyrussell/bitcoin-iblt/internal/bitcoinrpc"
	"github.com/rustyrussell/bitcoin-iblt/internal/blocksource"
	"github.com/rustyrussell/bitcoin-iblt/internal/codecerr"
	"github.com/rustyrussell/bitcoin-iblt/internal/gossip"
	"github.com/rustyrussell/bitcoin-iblt/internal/mempool"
	"github.com/rustyrussell/bitcoin-iblt/internal/metrics"
	"github.com/rustyrussell/bitcoin-iblt/internal/node"
	"github.com/rustyrussell/bitcoin-iblt/internal/reconcile"
	"github.com/rustyrussell/bitcoin-iblt/internal/txslice"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
	"github.com/rustyrussell/bitcoin-iblt/pkg/util"
)

type config struct {
	rpcURL      string
	rpcUser     string
	rpcPassword string

	dataDir    string
	gossipPort int
	bootnodes  []string
	enableMDNS bool

	seed         uint64
	sliceSize    int
	bucketCount  uint64
	feeThreshold uint64

	metricsAddr string
	devLogging  bool
}

func parseFlags() *config {
	cfg := &config{}
	pflag.StringVar(&cfg.rpcURL, "rpc-url", "http://127.0.0.1:8332", "bitcoind JSON-RPC URL")
	pflag.StringVar(&cfg.rpcUser, "rpc-user", "", "bitcoind RPC username")
	pflag.StringVar(&cfg.rpcPassword, "rpc-password", "", "bitcoind RPC password")
	pflag.StringVar(&cfg.dataDir, "data-dir", "./data", "directory for persistent node state")
	pflag.IntVar(&cfg.gossipPort, "gossip-port", 4001, "libp2p listen port")
	pflag.StringSliceVar(&cfg.bootnodes, "bootnode", nil, "bootnode multiaddr (repeatable)")
	pflag.BoolVar(&cfg.enableMDNS, "mdns", true, "enable LAN peer discovery via mDNS")
	pflag.Uint64Var(&cfg.seed, "seed", 1, "reconciliation seed (must be non-zero)")
	pflag.IntVar(&cfg.sliceSize, "slice-size", txslice.DefaultSize, "transaction slice payload size in bytes")
	pflag.Uint64Var(&cfg.bucketCount, "bucket-count", 0, "IBLT bucket count (0 = derive from mempool size)")
	pflag.Uint64Var(&cfg.feeThreshold, "fee-threshold", 0, "fee-per-byte threshold (<<13 fixed point) separating added/removed hints")
	pflag.StringVar(&cfg.metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	pflag.BoolVar(&cfg.devLogging, "dev", false, "use human-readable development logging")
	pflag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()

	var log *zap.Logger
	var err error
	if cfg.devLogging {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.seed == 0 {
		log.Fatal("seed must be non-zero")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool := mempool.New()

	rpc := bitcoinrpc.NewRPCClient(cfg.rpcURL, cfg.rpcUser, cfg.rpcPassword)
	src := blocksource.NewSource(rpc, log)
	src.Start(ctx)

	gnode, err := gossip.NewNode(ctx, cfg.gossipPort, cfg.dataDir, log)
	if err != nil {
		log.Fatal("start gossip node", zap.Error(err))
	}
	defer gnode.Close()

	blobCache := gossip.NewBlobCache(256)
	gnode.InitSyncer(blobCache.Locate)

	if err := gnode.StartDiscovery(ctx, cfg.enableMDNS, cfg.bootnodes, cfg.dataDir); err != nil {
		log.Fatal("start discovery", zap.Error(err))
	}

	go serveMetrics(cfg.metricsAddr, log)
	go reportUptime(ctx)
	go trackPeerCount(ctx, gnode)

	go runEncodeLoop(ctx, src, pool, gnode, blobCache, cfg, log)
	go runDecodeLoop(ctx, gnode, pool, cfg, log)
	go runPeerSyncLoop(ctx, gnode, blobCache, pool, cfg, log)

	<-ctx.Done()
	log.Info("shutting down")
}

func runEncodeLoop(ctx context.Context, src *blocksource.Source, pool *mempool.MemPool, gnode *gossip.Node, cache *gossip.BlobCache, cfg *config, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case block := <-src.BlockChannel():
			evt := node.NewBlockEvent{Block: block}
			bucketCount := cfg.bucketCount
			if bucketCount == 0 {
				bucketCount = uint64(pool.Size())
				if bucketCount == 0 {
					bucketCount = 1
				}
			}

			feeThreshold := cfg.feeThreshold
			if feeThreshold == 0 {
				feeThreshold = src.FeeThreshold()
			}

			blob, err := reconcile.Encode(evt.Block, pool, cfg.seed, feeThreshold, bucketCount, cfg.sliceSize)
			if err != nil {
				log.Error("encode failed", zap.Error(err))
				continue
			}
			metrics.EncodeTotal.Inc()
			metrics.BucketCountConfigured.Set(float64(bucketCount))

			msg := &gossip.BlobMsg{
				CompressedBlob: gossip.CompressBlob(blob),
			}
			if tmpl := src.CurrentTemplate(); tmpl != nil {
				msg.Height = tmpl.Height
				if hash, err := util.HexToHash(tmpl.PreviousBlockHash); err == nil {
					msg.PrevBlockHash = hash
				}
			}
			cache.Store(*msg)

			if err := gnode.BroadcastBlob(msg); err != nil {
				log.Error("broadcast blob failed", zap.Error(err))
				continue
			}
			metrics.BlobsGossiped.Inc()
		}
	}
}

func runDecodeLoop(ctx context.Context, gnode *gossip.Node, pool *mempool.MemPool, cfg *config, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case recv := <-gnode.IncomingBlobs():
			evt := node.BlobReceivedEvent{Blob: recv.Msg, From: recv.From}
			metrics.BlobsReceived.Inc()
			if result := decodeAndMerge(evt.Blob, pool, cfg, log); result.Hostile {
				gnode.PenalizePeer(evt.From)
			}
		}
	}
}

// runPeerSyncLoop asks a freshly-connected peer to backfill any blobs this
// node missed, using an exponentially-spaced locator over the node's own
// cached heights (spec GLOSSARY "locator").
func runPeerSyncLoop(ctx context.Context, gnode *gossip.Node, cache *gossip.BlobCache, pool *mempool.MemPool, cfg *config, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case peerID := <-gnode.PeerConnected():
			locators := locatorHeights(cache.Heights())
			if len(locators) == 0 {
				continue
			}
			resp, err := gnode.Syncer().RequestLocator(ctx, peerID, locators, 100)
			if err != nil {
				log.Debug("locator sync failed", zap.String("peer", peerID.String()), zap.Error(err))
				continue
			}
			for i := range resp.Blobs {
				decodeAndMerge(&resp.Blobs[i], pool, cfg, log)
			}
			log.Info("locator resync complete", zap.String("peer", peerID.String()), zap.Int("blobs", len(resp.Blobs)))
		}
	}
}

// locatorHeights builds a tip, tip-1, tip-2, tip-4, tip-8, ... locator from
// ascending cached heights, per the gossip BlobLocatorReq convention.
func locatorHeights(ascending []int64) []int64 {
	if len(ascending) == 0 {
		return nil
	}
	tip := ascending[len(ascending)-1]
	var out []int64
	for step := int64(0); step <= tip; step = nextStep(step) {
		out = append(out, tip-step)
	}
	return out
}

func nextStep(step int64) int64 {
	if step == 0 {
		return 1
	}
	return step * 2
}

// decodeAndMerge decompresses and decodes one gossiped blob, merging any
// recovered transactions into pool.
func decodeAndMerge(msg *gossip.BlobMsg, pool *mempool.MemPool, cfg *config, log *zap.Logger) node.DecodeResultEvent {
	blob, err := gossip.DecompressBlob(msg.CompressedBlob)
	if err != nil {
		log.Warn("decompress blob failed", zap.Error(err))
		return node.DecodeResultEvent{Err: err, Hostile: true}
	}

	block, err := reconcile.Decode(blob, pool, cfg.sliceSize, log)
	result := node.DecodeResultEvent{Block: block, Err: err}
	if result.Err != nil {
		kind := "unknown"
		var ce *codecerr.Error
		if errors.As(result.Err, &ce) {
			kind = ce.Kind.String()
			switch ce.Kind {
			case codecerr.Corrupt, codecerr.DuplicateSlice, codecerr.BadFragment, codecerr.ParseInvalid, codecerr.ParseTruncated:
				result.Hostile = true
			}
		}
		metrics.DecodeResults.WithLabelValues(kind).Inc()
		log.Warn("decode failed", zap.Error(result.Err))
		return result
	}
	metrics.DecodeResults.WithLabelValues("ok").Inc()

	for _, rec := range result.Block.Txs {
		pool.Add(wire.TxIDOf(rec.Body), rec)
	}
	log.Info("reconstructed block", zap.Int("num_txs", len(result.Block.Txs)))
	return result
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func reportUptime(ctx context.Context) {
	start := time.Now()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UptimeSeconds.Set(time.Since(start).Seconds())
		}
	}
}

func trackPeerCount(ctx context.Context, gnode *gossip.Node) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.PeersConnected.Set(float64(gnode.PeerCount()))
		}
	}
}
