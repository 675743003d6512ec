// Package vault defines the per-farm escrow record.
package vault

import "time"

// Status is the lifecycle state of a vault record.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Record mirrors one on-chain escrow account. At most one ACTIVE record may
// exist per (member, farm key) pair; the address is immutable once set.
type Record struct {
	ID           string
	MemberID     string
	FarmKey      string // deterministic, fixed-width hex
	Address      string
	DeployTxHash string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
