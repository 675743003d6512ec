// Package history defines the settlement attempt ledger. One row per
// redemption attempt; the evidence identifier is the idempotency boundary.
package history

import "time"

// Status is the terminal outcome of a settlement attempt.
type Status string

const (
	StatusReleased Status = "RELEASED"
	StatusFailed   Status = "FAILED"
)

// Record is an append-only settlement attempt. A RELEASED record is
// write-once and terminal; a FAILED record may be superseded by exactly one
// later attempt under the same evidence id, since no funds moved.
type Record struct {
	ID             string
	EvidenceID     string
	ApprovalNumber string
	FarmID         string
	FarmerWallet   string
	VaultAddress   string
	AmountWei      string // decimal string, minimal ledger units
	TxHash         string // empty until a broadcast happened
	Status         Status
	FailReason     string // truncated before persistence
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
