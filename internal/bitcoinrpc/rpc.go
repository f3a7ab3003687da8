package bitcoinrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// BitcoinRPC is the bitcoind surface the block source polls to learn what
// the next block looks like, and through which a reconstructed block can
// be resubmitted.
type BitcoinRPC interface {
	GetBlockTemplate(ctx context.Context) (*BlockTemplate, error)
	SubmitBlock(ctx context.Context, blockHex string) error
	GetBlockCount(ctx context.Context) (int64, error)
	GetBestBlockHash(ctx context.Context) (string, error)
	EstimateSmartFee(ctx context.Context, confTarget int) (*FeeEstimate, error)
}

// RPCClient implements BitcoinRPC using JSON-RPC 1.0 over HTTP.
type RPCClient struct {
	url      string
	user     string
	password string
	client   *http.Client
	idSeq    atomic.Int64
}

// NewRPCClient creates a new bitcoind JSON-RPC client.
func NewRPCClient(url, user, password string) *RPCClient {
	return &RPCClient{
		url:      url,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// call makes a JSON-RPC call and returns the raw result.
func (c *RPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	id := c.idSeq.Add(1)

	req := RPCRequest{
		JSONRPC: "1.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.password)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("RPC request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w (body: %s)", err, string(respBody))
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetBlockTemplate returns a new block template from bitcoind. The
// returned transactions are the raw material the encoder slices into
// the reconciliation IBLT.
func (c *RPCClient) GetBlockTemplate(ctx context.Context) (*BlockTemplate, error) {
	templateReq := map[string]interface{}{
		"rules": []string{"segwit"},
	}

	result, err := c.call(ctx, "getblocktemplate", templateReq)
	if err != nil {
		return nil, fmt.Errorf("getblocktemplate: %w", err)
	}

	var tmpl BlockTemplate
	if err := json.Unmarshal(result, &tmpl); err != nil {
		return nil, fmt.Errorf("unmarshal block template: %w", err)
	}

	return &tmpl, nil
}

// BlockRejectedError is returned when bitcoind explicitly rejects a block
// (as opposed to a transport/RPC error). Rejected blocks should not be retried.
type BlockRejectedError struct {
	Reason string
}

func (e *BlockRejectedError) Error() string {
	return "block rejected: " + e.Reason
}

// SubmitBlock submits a block (e.g. one reassembled from a peer's
// reconciliation blob) to bitcoind.
func (c *RPCClient) SubmitBlock(ctx context.Context, blockHex string) error {
	result, err := c.call(ctx, "submitblock", blockHex)
	if err != nil {
		return fmt.Errorf("submitblock: %w", err)
	}

	// submitblock returns null on success, or an error string
	var rejectReason string
	if err := json.Unmarshal(result, &rejectReason); err == nil && rejectReason != "" {
		return &BlockRejectedError{Reason: rejectReason}
	}

	return nil
}

// GetBlockCount returns the current block height.
func (c *RPCClient) GetBlockCount(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "getblockcount")
	if err != nil {
		return 0, fmt.Errorf("getblockcount: %w", err)
	}

	var height int64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, fmt.Errorf("unmarshal block count: %w", err)
	}

	return height, nil
}

// GetBestBlockHash returns the hash of the best (tip) block.
func (c *RPCClient) GetBestBlockHash(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getbestblockhash")
	if err != nil {
		return "", fmt.Errorf("getbestblockhash: %w", err)
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("unmarshal best block hash: %w", err)
	}

	return hash, nil
}

// EstimateSmartFee returns bitcoind's feerate estimate for confirmation
// within confTarget blocks. The result feeds FeePerByteThreshold to derive
// the reconciliation fee-per-byte threshold that separates a sender's
// added/removed bit-prefix hints.
func (c *RPCClient) EstimateSmartFee(ctx context.Context, confTarget int) (*FeeEstimate, error) {
	result, err := c.call(ctx, "estimatesmartfee", confTarget)
	if err != nil {
		return nil, fmt.Errorf("estimatesmartfee: %w", err)
	}

	var est FeeEstimate
	if err := json.Unmarshal(result, &est); err != nil {
		return nil, fmt.Errorf("unmarshal fee estimate: %w", err)
	}

	return &est, nil
}

// satsPerByteFixedPoint is the fixed-point shift mempool.TxRecord.FeePerByte
// uses: (fee << satsPerByteFixedPoint) / length.
const satsPerByteFixedPoint = 13

// FeePerByteThreshold converts a BTC-per-kilovirtualbyte feerate (as
// returned by EstimateSmartFee) into the same (satoshi<<13)/byte
// fixed-point scale reconcile.Encode and reconcile.Decode compare mempool
// entries against.
func FeePerByteThreshold(btcPerKvB float64) uint64 {
	if btcPerKvB <= 0 {
		return 0
	}
	satsPerByte := btcPerKvB * 1e8 / 1000
	return uint64(satsPerByte * float64(uint64(1)<<satsPerByteFixedPoint))
}
