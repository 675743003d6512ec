package chain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope. Result is left raw so
// each call site decodes its own shape.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is the error object of a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CallMsg is the message argument of eth_call and eth_estimateGas.
type CallMsg struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

// ReceiptStatusSuccess is the status of a successfully executed transaction.
const ReceiptStatusSuccess = uint64(1)

// Receipt is the confirmation record of a mined transaction.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	GasUsed         uint64
	Status          uint64
	ContractAddress *common.Address
}

// receiptJSON is the hex-encoded wire form of a receipt.
type receiptJSON struct {
	TxHash          common.Hash     `json:"transactionHash"`
	BlockNumber     hexutil.Uint64  `json:"blockNumber"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
	Status          hexutil.Uint64  `json:"status"`
	ContractAddress *common.Address `json:"contractAddress,omitempty"`
}

// UnmarshalJSON decodes the hex quantity fields of the wire form.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var wire receiptJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.TxHash = wire.TxHash
	r.BlockNumber = uint64(wire.BlockNumber)
	r.GasUsed = uint64(wire.GasUsed)
	r.Status = uint64(wire.Status)
	r.ContractAddress = wire.ContractAddress
	return nil
}

// MarshalJSON encodes the receipt back into its wire form.
func (r Receipt) MarshalJSON() ([]byte, error) {
	return json.Marshal(receiptJSON{
		TxHash:          r.TxHash,
		BlockNumber:     hexutil.Uint64(r.BlockNumber),
		GasUsed:         hexutil.Uint64(r.GasUsed),
		Status:          hexutil.Uint64(r.Status),
		ContractAddress: r.ContractAddress,
	})
}
