// Package blocksource polls bitcoind for block templates and turns each
// one into a reconcile.Block: the concrete "new block" event that drives
// a sender to run Encode against its mempool view.
package blocksource

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyrussell/bitcoin-iblt/internal/bitcoinrpc"
	"github.com/rustyrussell/bitcoin-iblt/internal/mempool"
	"github.com/rustyrussell/bitcoin-iblt/internal/reconcile"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

// PollInterval is how often to check bitcoind for a new block template.
const PollInterval = 5 * time.Second

// feeConfTarget is the confirmation target handed to estimatesmartfee when
// deriving an automatic fee-per-byte threshold.
const feeConfTarget = 6

// Source polls bitcoind for block templates and emits a reconcile.Block
// on BlockChannel whenever the chain tip changes.
type Source struct {
	rpc    bitcoinrpc.BitcoinRPC
	logger *zap.Logger

	templateMu      sync.RWMutex
	currentTemplate *bitcoinrpc.BlockTemplate

	feeMu            sync.RWMutex
	currentFeeThresh uint64

	blockCh chan *reconcile.Block
}

// NewSource creates a block source polling rpc.
func NewSource(rpc bitcoinrpc.BitcoinRPC, logger *zap.Logger) *Source {
	return &Source{
		rpc:     rpc,
		logger:  logger,
		blockCh: make(chan *reconcile.Block, 4),
	}
}

// Start begins polling for block templates until ctx is cancelled.
func (s *Source) Start(ctx context.Context) {
	go s.pollLoop(ctx)
}

// BlockChannel returns the channel of newly observed blocks.
func (s *Source) BlockChannel() <-chan *reconcile.Block {
	return s.blockCh
}

// CurrentTemplate returns the most recently polled template, or nil.
func (s *Source) CurrentTemplate() *bitcoinrpc.BlockTemplate {
	s.templateMu.RLock()
	defer s.templateMu.RUnlock()
	return s.currentTemplate
}

// FeeThreshold returns the most recently derived fee-per-byte threshold
// (fixed point, matching mempool.TxRecord.FeePerByte), or 0 if bitcoind has
// never returned an estimate. Callers that want an explicit, operator-set
// threshold should ignore this and use their own config value instead.
func (s *Source) FeeThreshold() uint64 {
	s.feeMu.RLock()
	defer s.feeMu.RUnlock()
	return s.currentFeeThresh
}

func (s *Source) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var consecutiveFailures int
	var lastFailureTime time.Time

	if err := s.poll(ctx); err != nil {
		consecutiveFailures++
		lastFailureTime = time.Now()
		s.logger.Warn("bitcoin RPC failed",
			zap.Error(err),
			zap.Int("consecutive_failures", consecutiveFailures),
			zap.Duration("next_retry", backoffDuration(consecutiveFailures)),
		)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if consecutiveFailures > 0 && time.Since(lastFailureTime) < backoffDuration(consecutiveFailures) {
				continue
			}

			if err := s.poll(ctx); err != nil {
				consecutiveFailures++
				lastFailureTime = time.Now()
				s.logger.Warn("bitcoin RPC failed",
					zap.Error(err),
					zap.Int("consecutive_failures", consecutiveFailures),
					zap.Duration("next_retry", backoffDuration(consecutiveFailures)),
				)
			} else if consecutiveFailures > 0 {
				s.logger.Info("bitcoin RPC recovered", zap.Int("after_failures", consecutiveFailures))
				consecutiveFailures = 0
			}
		}
	}
}

// backoffDuration computes exponential backoff capped at 60s.
func backoffDuration(failures int) time.Duration {
	if failures <= 0 {
		return PollInterval
	}
	d := PollInterval
	for i := 1; i < failures; i++ {
		d *= 2
		if d > 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}

func (s *Source) poll(ctx context.Context) error {
	tmpl, err := s.rpc.GetBlockTemplate(ctx)
	if err != nil {
		return err
	}

	s.refreshFeeThreshold(ctx)

	s.templateMu.Lock()
	old := s.currentTemplate
	s.currentTemplate = tmpl
	s.templateMu.Unlock()

	if old != nil && tmpl.PreviousBlockHash == old.PreviousBlockHash {
		return nil
	}

	block, err := templateToBlock(tmpl)
	if err != nil {
		s.logger.Error("failed to convert block template", zap.Error(err))
		return nil
	}

	s.logger.Info("new block template",
		zap.Int64("height", tmpl.Height),
		zap.Int("num_txs", len(block.Txs)),
	)

	select {
	case s.blockCh <- block:
	default:
		s.logger.Warn("block channel full, dropping template")
	}

	return nil
}

// refreshFeeThreshold asks bitcoind for a fresh feerate estimate and caches
// it as a fixed-point fee-per-byte threshold. A failed estimate (bitcoind
// not yet warmed up, insufficient history) just leaves the last known
// threshold in place rather than failing the whole poll.
func (s *Source) refreshFeeThreshold(ctx context.Context) {
	est, err := s.rpc.EstimateSmartFee(ctx, feeConfTarget)
	if err != nil {
		s.logger.Debug("estimatesmartfee failed", zap.Error(err))
		return
	}
	if est.FeeRate <= 0 {
		return
	}

	s.feeMu.Lock()
	s.currentFeeThresh = bitcoinrpc.FeePerByteThreshold(est.FeeRate)
	s.feeMu.Unlock()
}

// templateToBlock parses every transaction in tmpl into a wire.Tx and
// pairs it with its announced fee, in template order.
func templateToBlock(tmpl *bitcoinrpc.BlockTemplate) (*reconcile.Block, error) {
	// getblocktemplate doesn't hand back a built coinbase; callers that
	// actually assemble blocks fill block.Coinbase in before encoding.
	block := &reconcile.Block{}
	for i, ttx := range tmpl.Transactions {
		raw, err := hex.DecodeString(ttx.Data)
		if err != nil {
			return nil, fmt.Errorf("tx %d: decode hex: %w", i, err)
		}
		tx, err := wire.ParseTxExact(raw)
		if err != nil {
			return nil, fmt.Errorf("tx %d: parse: %w", i, err)
		}
		block.Txs = append(block.Txs, &mempool.TxRecord{
			Body: tx,
			Fee:  uint64(ttx.Fee),
		})
	}
	return block, nil
}
