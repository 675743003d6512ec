package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agrilink-dev/settlement_layer/internal/metrics"
)

// fakeNode is a scriptable JSON-RPC endpoint.
type fakeNode struct {
	mu       sync.Mutex
	nonce    uint64
	gasPrice *big.Int
	estimate uint64
	// estimateErr makes eth_estimateGas fail.
	estimateErr bool
	// sendErr makes eth_sendRawTransaction fail.
	sendErr bool
	// receipts maps tx hash -> status; absent hash returns null.
	receipts map[string]uint64

	lastTx *types.Transaction
	calls  map[string]int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		gasPrice: big.NewInt(2_000_000_000),
		estimate: 100_000,
		receipts: make(map[string]uint64),
		calls:    make(map[string]int),
	}
}

func (n *fakeNode) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}

		n.mu.Lock()
		defer n.mu.Unlock()
		n.calls[req.Method]++

		write := func(result any) {
			data, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("marshal result: %v", err)
			}
			_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", Result: data, ID: req.ID})
		}
		writeErr := func(msg string) {
			_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", Error: &RPCError{Code: -32000, Message: msg}, ID: req.ID})
		}

		switch req.Method {
		case "eth_getTransactionCount":
			write(hexutil.Uint64(n.nonce))
		case "eth_gasPrice":
			write((*hexutil.Big)(n.gasPrice))
		case "eth_estimateGas":
			if n.estimateErr {
				writeErr("execution reverted")
				return
			}
			write(hexutil.Uint64(n.estimate))
		case "eth_sendRawTransaction":
			if n.sendErr {
				writeErr("nonce too low")
				return
			}
			raw, err := hexutil.Decode(req.Params[0].(string))
			if err != nil {
				t.Fatalf("decode raw tx: %v", err)
			}
			var tx types.Transaction
			if err := tx.UnmarshalBinary(raw); err != nil {
				t.Fatalf("unmarshal raw tx: %v", err)
			}
			n.lastTx = &tx
			n.nonce++
			write(tx.Hash())
		case "eth_getTransactionReceipt":
			hash := req.Params[0].(string)
			status, ok := n.receipts[hash]
			if !ok {
				_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", Result: json.RawMessage("null"), ID: req.ID})
				return
			}
			write(receiptJSON{TxHash: common.HexToHash(hash), Status: hexutil.Uint64(status), BlockNumber: 10, GasUsed: 21_000})
		default:
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
	}
}

func newTestSender(t *testing.T, node *fakeNode) (*Sender, *Client) {
	t.Helper()

	server := httptest.NewServer(node.handler(t))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{RPCURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	sender, err := NewSender(SenderConfig{
		Client:          client,
		Key:             key,
		ChainID:         big.NewInt(1337),
		GasFloor:        90_000,
		GasFallback:     500_000,
		ConfirmAttempts: 3,
		PollInterval:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	return sender, client
}

func TestSubmitAppliesGasMargin(t *testing.T) {
	node := newFakeNode()
	node.estimate = 100_000
	sender, _ := newTestSender(t, node)

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if _, err := sender.Submit(context.Background(), to, []byte{0x01}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got := node.lastTx.Gas(); got != 120_000 {
		t.Fatalf("gas limit %d, want estimate+20%% = 120000", got)
	}
	if node.lastTx.Nonce() != 0 {
		t.Fatalf("nonce %d, want 0", node.lastTx.Nonce())
	}
	if node.lastTx.GasPrice().Cmp(node.gasPrice) != 0 {
		t.Fatalf("gas price %s, want %s", node.lastTx.GasPrice(), node.gasPrice)
	}
}

func TestSubmitFloorsGasLimit(t *testing.T) {
	node := newFakeNode()
	node.estimate = 30_000 // +20% still below the floor
	sender, _ := newTestSender(t, node)

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if _, err := sender.Submit(context.Background(), to, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := node.lastTx.Gas(); got != 90_000 {
		t.Fatalf("gas limit %d, want floor 90000", got)
	}
}

func TestSubmitFallsBackWhenEstimationFails(t *testing.T) {
	node := newFakeNode()
	node.estimateErr = true
	sender, _ := newTestSender(t, node)

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if _, err := sender.Submit(context.Background(), to, nil); err != nil {
		t.Fatalf("submit should survive estimation failure: %v", err)
	}
	if got := node.lastTx.Gas(); got != 500_000 {
		t.Fatalf("gas limit %d, want fallback 500000", got)
	}
}

func TestSubmitBroadcastErrorIsFatal(t *testing.T) {
	node := newFakeNode()
	node.sendErr = true
	sender, _ := newTestSender(t, node)

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	_, err := sender.Submit(context.Background(), to, nil)
	if !errors.Is(err, ErrTxSubmit) {
		t.Fatalf("want ErrTxSubmit, got %v", err)
	}
}

func TestSubmitFetchesFreshNonce(t *testing.T) {
	node := newFakeNode()
	sender, _ := newTestSender(t, node)

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	for i := uint64(0); i < 3; i++ {
		if _, err := sender.Submit(context.Background(), to, nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if node.lastTx.Nonce() != i {
			t.Fatalf("nonce %d, want %d", node.lastTx.Nonce(), i)
		}
	}
	if node.calls["eth_getTransactionCount"] != 3 {
		t.Fatalf("nonce fetched %d times, want one fetch per submission", node.calls["eth_getTransactionCount"])
	}
}

func TestConfirmOutcomes(t *testing.T) {
	node := newFakeNode()
	sender, _ := newTestSender(t, node)

	minedHash := common.HexToHash(fmt.Sprintf("0x%064d", 1))
	revertedHash := common.HexToHash(fmt.Sprintf("0x%064d", 2))
	missingHash := common.HexToHash(fmt.Sprintf("0x%064d", 3))
	node.receipts[minedHash.Hex()] = 1
	node.receipts[revertedHash.Hex()] = 0

	outcome, err := sender.Confirm(context.Background(), minedHash)
	if err != nil {
		t.Fatalf("confirm mined: %v", err)
	}
	if !outcome.Mined() || outcome.Receipt == nil {
		t.Fatalf("want mined outcome with receipt, got %+v", outcome)
	}

	outcome, err = sender.Confirm(context.Background(), revertedHash)
	if err != nil {
		t.Fatalf("confirm reverted: %v", err)
	}
	if outcome.Kind != OutcomeReverted || outcome.Status != 0 {
		t.Fatalf("want reverted outcome with status 0, got %+v", outcome)
	}

	outcome, err = sender.Confirm(context.Background(), missingHash)
	if err != nil {
		t.Fatalf("confirm missing: %v", err)
	}
	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("want timeout outcome for unmined tx, got %+v", outcome)
	}
}

// ledgerSubmissionCount reads the broadcast counter for one label pair out
// of the shared registry.
func ledgerSubmissionCount(t *testing.T, kind, success string) float64 {
	t.Helper()

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "settlement_layer_ledger_submissions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "kind":
					if lp.GetValue() != kind {
						match = false
					}
				case "success":
					if lp.GetValue() != success {
						match = false
					}
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestSubmitRecordsLedgerSubmissions(t *testing.T) {
	node := newFakeNode()
	sender, _ := newTestSender(t, node)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")

	okBefore := ledgerSubmissionCount(t, "broadcast", "true")
	if _, err := sender.Submit(context.Background(), to, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := ledgerSubmissionCount(t, "broadcast", "true"); got != okBefore+1 {
		t.Fatalf("broadcast success counter %v, want %v", got, okBefore+1)
	}

	node.sendErr = true
	failBefore := ledgerSubmissionCount(t, "broadcast", "false")
	if _, err := sender.Submit(context.Background(), to, nil); err == nil {
		t.Fatal("want broadcast error")
	}
	if got := ledgerSubmissionCount(t, "broadcast", "false"); got != failBefore+1 {
		t.Fatalf("broadcast failure counter %v, want %v", got, failBefore+1)
	}
}

func TestSubmitAndConfirmTimeoutKeepsHash(t *testing.T) {
	node := newFakeNode()
	sender, _ := newTestSender(t, node)

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hash, outcome, err := sender.SubmitAndConfirm(context.Background(), to, nil)
	if !errors.Is(err, ErrConfirmTimeout) {
		t.Fatalf("want ErrConfirmTimeout, got %v", err)
	}
	if hash == (common.Hash{}) {
		t.Fatalf("hash must be returned on timeout for reconciliation")
	}
	if outcome.Kind != OutcomeTimeout {
		t.Fatalf("want timeout outcome, got %+v", outcome)
	}
}
