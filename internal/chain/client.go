// Package chain provides ledger interaction for the settlement layer. The
// engine depends on exactly six JSON-RPC call shapes; this client exposes
// them and nothing else, so any network speaking that subset works.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client is a minimal Ethereum JSON-RPC client.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// NewClient creates a new ledger RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Call makes a raw JSON-RPC call to the ledger node.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// PendingNonce returns the signer's pending-inclusive transaction count.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	result, err := c.Call(ctx, "eth_getTransactionCount", []any{addr.Hex(), "pending"})
	if err != nil {
		return 0, err
	}

	var count hexutil.Uint64
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

// GasPrice returns the current network gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}

	var price hexutil.Big
	if err := json.Unmarshal(result, &price); err != nil {
		return nil, err
	}
	return price.ToInt(), nil
}

// EstimateGas dry-runs the call and returns the gas estimate.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	result, err := c.Call(ctx, "eth_estimateGas", []any{msg})
	if err != nil {
		return 0, err
	}

	var gas hexutil.Uint64
	if err := json.Unmarshal(result, &gas); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

// Code returns the deployed bytecode at an address.
func (c *Client) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	result, err := c.Call(ctx, "eth_getCode", []any{addr.Hex(), "latest"})
	if err != nil {
		return nil, err
	}

	var code hexutil.Bytes
	if err := json.Unmarshal(result, &code); err != nil {
		return nil, err
	}
	return code, nil
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	result, err := c.Call(ctx, "eth_call", []any{msg, "latest"})
	if err != nil {
		return nil, err
	}

	var out hexutil.Bytes
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendRawTransaction broadcasts a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []any{hexutil.Encode(raw)})
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// TransactionReceipt fetches the receipt for a transaction. A nil receipt
// with nil error means the transaction is not mined yet.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{hash.Hex()})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var receipt Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}
