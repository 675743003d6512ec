// Package storage declares the persistence contracts the settlement layer
// depends on: read-by-key, insert-with-uniqueness, and atomic
// read-modify-write for the counters. No schema beyond that is mandated.
package storage

import (
	"context"
	"errors"

	"github.com/agrilink-dev/settlement_layer/internal/domain/farm"
	"github.com/agrilink-dev/settlement_layer/internal/domain/history"
	"github.com/agrilink-dev/settlement_layer/internal/domain/member"
	"github.com/agrilink-dev/settlement_layer/internal/domain/receipt"
	"github.com/agrilink-dev/settlement_layer/internal/domain/vault"
	"github.com/agrilink-dev/settlement_layer/internal/domain/wallet"
)

// ErrNotFound is returned when a keyed read matches nothing.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
// For settlement history this is the authoritative exactly-once guard; the
// orchestrator's pre-read is only a fast-path rejection.
var ErrDuplicate = errors.New("storage: duplicate key")

// VaultStore persists escrow records.
type VaultStore interface {
	// UpsertVault writes the record keyed by member: a member has at most
	// one live vault, so a later record for the same member replaces the
	// earlier one.
	UpsertVault(ctx context.Context, rec vault.Record) (vault.Record, error)
	GetVaultByFarmKey(ctx context.Context, farmKey string) (vault.Record, error)
	GetActiveVaultByMember(ctx context.Context, memberID string) (vault.Record, error)
}

// SettlementStore persists settlement attempts.
type SettlementStore interface {
	// InsertHistory writes one attempt. The evidence id is unique: an
	// existing RELEASED row makes the insert fail with ErrDuplicate, while
	// an existing FAILED row is superseded (retries are safe because no
	// funds moved).
	InsertHistory(ctx context.Context, rec history.Record) (history.Record, error)
	GetByEvidenceID(ctx context.Context, evidenceID string) (history.Record, error)
	GetByApprovalNumber(ctx context.Context, approvalNumber string) (history.Record, error)
	ListByFarm(ctx context.Context, farmID string) ([]history.Record, error)
}

// ReceiptStore persists redemption evidence.
type ReceiptStore interface {
	// CreateReceipt writes the header and all line items atomically.
	CreateReceipt(ctx context.Context, rcpt receipt.Receipt) (receipt.Receipt, error)
	GetReceiptByEvidenceID(ctx context.Context, evidenceID string) (receipt.Receipt, error)
}

// WalletStore persists custodial wallet ciphertext.
type WalletStore interface {
	CreateWallet(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error)
	GetWalletByMember(ctx context.Context, memberID string) (wallet.Wallet, error)
}

// FarmStore persists farms and their cumulative used-amount counter.
type FarmStore interface {
	GetFarm(ctx context.Context, id string) (farm.Farm, error)
	GetFarmByOwner(ctx context.Context, memberID string) (farm.Farm, error)
	ListFarms(ctx context.Context) ([]farm.Farm, error)
	// AddUsedAmount increments the counter atomically with respect to
	// concurrent settlements on the same farm.
	AddUsedAmount(ctx context.Context, farmID string, delta int64) error
	UpdateTrustScore(ctx context.Context, farmID string, score float64) error
}

// MemberStore reads the identity projection.
type MemberStore interface {
	GetMember(ctx context.Context, id string) (member.Member, error)
	PutMember(ctx context.Context, m member.Member) (member.Member, error)
}
