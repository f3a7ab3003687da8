package blocksource

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rustyrussell/bitcoin-iblt/internal/bitcoinrpc"
	"github.com/rustyrussell/bitcoin-iblt/internal/wire"
)

var errNoEstimate = errors.New("no fee estimate available")

func sampleTxHex() string {
	tx := &wire.Tx{
		Version: 1,
		Inputs:  []wire.TxInput{{Sequence: 0xffffffff}},
		Outputs: []wire.TxOutput{{Amount: 5000, Script: []byte{0x51}}},
	}
	return hex.EncodeToString(tx.Linearize())
}

func TestTemplateToBlockParsesTransactions(t *testing.T) {
	tmpl := &bitcoinrpc.BlockTemplate{
		Transactions: []bitcoinrpc.TemplateTransaction{
			{Data: sampleTxHex(), Fee: 500},
			{Data: sampleTxHex(), Fee: 750},
		},
	}
	block, err := templateToBlock(tmpl)
	if err != nil {
		t.Fatalf("templateToBlock: %v", err)
	}
	if len(block.Txs) != 2 {
		t.Fatalf("got %d txs, want 2", len(block.Txs))
	}
	if block.Txs[0].Fee != 500 || block.Txs[1].Fee != 750 {
		t.Errorf("fees not preserved in order: %+v", block.Txs)
	}
	if block.Coinbase != nil {
		t.Error("expected Coinbase to be left nil by templateToBlock")
	}
}

func TestTemplateToBlockRejectsBadHex(t *testing.T) {
	tmpl := &bitcoinrpc.BlockTemplate{
		Transactions: []bitcoinrpc.TemplateTransaction{{Data: "not-hex", Fee: 1}},
	}
	if _, err := templateToBlock(tmpl); err == nil {
		t.Error("expected error for undecodable transaction hex")
	}
}

func TestSourceEmitsBlockOnNewTemplate(t *testing.T) {
	mock := bitcoinrpc.NewMockRPC()
	mock.BlockTemplate.Transactions = []bitcoinrpc.TemplateTransaction{{Data: sampleTxHex(), Fee: 100}}

	src := NewSource(mock, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	select {
	case block := <-src.BlockChannel():
		if len(block.Txs) != 1 {
			t.Errorf("got %d txs, want 1", len(block.Txs))
		}
	default:
		t.Fatal("expected a block on first poll")
	}

	if src.CurrentTemplate() != mock.BlockTemplate {
		t.Error("CurrentTemplate did not track the polled template")
	}
}

func TestSourceSkipsUnchangedTip(t *testing.T) {
	mock := bitcoinrpc.NewMockRPC()
	src := NewSource(mock, zap.NewNop())
	ctx := context.Background()

	if err := src.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	<-src.BlockChannel()

	if err := src.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	select {
	case <-src.BlockChannel():
		t.Error("expected no second block for an unchanged tip")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSourceDerivesFeeThresholdFromEstimate(t *testing.T) {
	mock := bitcoinrpc.NewMockRPC()
	mock.FeeEstimate = &bitcoinrpc.FeeEstimate{FeeRate: 0.00002000, Blocks: 6}

	src := NewSource(mock, zap.NewNop())
	ctx := context.Background()

	if err := src.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	want := bitcoinrpc.FeePerByteThreshold(0.00002000)
	if got := src.FeeThreshold(); got != want {
		t.Errorf("FeeThreshold() = %d, want %d", got, want)
	}
}

func TestSourceKeepsLastFeeThresholdOnEstimateError(t *testing.T) {
	mock := bitcoinrpc.NewMockRPC()
	src := NewSource(mock, zap.NewNop())
	ctx := context.Background()

	if err := src.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	first := src.FeeThreshold()
	if first == 0 {
		t.Fatal("expected a non-zero threshold from the default mock estimate")
	}

	mock.EstimateSmartFeeErr = errNoEstimate
	mock.BlockTemplate.PreviousBlockHash = "changed-tip"
	if err := src.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := src.FeeThreshold(); got != first {
		t.Errorf("FeeThreshold() = %d after estimate error, want unchanged %d", got, first)
	}
}

func TestBackoffDurationCapsAt60Seconds(t *testing.T) {
	if d := backoffDuration(0); d != PollInterval {
		t.Errorf("backoffDuration(0) = %v, want %v", d, PollInterval)
	}
	if d := backoffDuration(20); d != 60*time.Second {
		t.Errorf("backoffDuration(20) = %v, want 60s", d)
	}
}
