// Package settlement implements the redemption pipeline: validate the
// request, persist the receipt evidence, release tokens from the farm's
// vault, record the attempt, then drive the fiat withdrawal and the
// compensating burn. Failures short-circuit to a durable failure record;
// earlier steps are never rolled back.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/agrilink-dev/settlement_layer/internal/domain/history"
	"github.com/agrilink-dev/settlement_layer/internal/domain/receipt"
	"github.com/agrilink-dev/settlement_layer/internal/metrics"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
	"github.com/agrilink-dev/settlement_layer/internal/units"
	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

// maxReasonLen bounds the failure reason persisted with a FAILED attempt.
const maxReasonLen = 255

// VaultService is the slice of the vault manager the orchestrator uses.
type VaultService interface {
	Release(ctx context.Context, vaultAddress string, amountWei *big.Int) (string, error)
	BurnFromFarmer(ctx context.Context, farmerAddress string, amountWei *big.Int) (string, error)
}

// Request is one redemption attempt. EvidenceID is the client-supplied
// idempotency key; ApprovalNumber is the optional payment-network reference.
type Request struct {
	EvidenceID     string
	ApprovalNumber string
	StoreName      string
	StoreAddress   string
	StorePhone     string
	Amount         int64
	CategoryID     string
	Reason         string
	Content        string
	PhotoRef       string
	Items          []receipt.Item
}

// Result is the structured success payload. BurnFailed marks a settlement
// whose compensating burn did not land; funds already moved, so this is a
// flag rather than an error.
type Result struct {
	Released       bool   `json:"released"`
	ReleasedAmount string `json:"releasedAmount"`
	TxHash         string `json:"txHash"`
	FarmerWallet   string `json:"farmerWallet"`
	VaultAddress   string `json:"vaultAddress"`
	WithdrawCode   string `json:"withdrawCode,omitempty"`
	BurnTxHash     string `json:"burnTxHash,omitempty"`
	BurnFailed     bool   `json:"burnFailed,omitempty"`
}

// Stores groups the persistence surfaces the orchestrator writes through.
type Stores struct {
	Settlements storage.SettlementStore
	Receipts    storage.ReceiptStore
	Vaults      storage.VaultStore
	Farms       storage.FarmStore
	Members     storage.MemberStore
}

// Orchestrator coordinates the store, the ledger and the banking provider
// for one settlement at a time per calling goroutine.
type Orchestrator struct {
	stores       Stores
	vaultSvc     VaultService
	banking      BankingClient
	guard        ApprovalGuard
	fiatPerToken int64
	log          *logger.Logger
}

// New builds an orchestrator. banking may be nil, in which case the
// withdrawal and burn steps are skipped and the pipeline terminates at
// RELEASED. guard may be nil; the store constraint still applies.
func New(stores Stores, vaultSvc VaultService, banking BankingClient, guard ApprovalGuard, fiatPerToken int64) *Orchestrator {
	if guard == nil {
		guard = NoopGuard{}
	}
	return &Orchestrator{
		stores:       stores,
		vaultSvc:     vaultSvc,
		banking:      banking,
		guard:        guard,
		fiatPerToken: fiatPerToken,
		log:          logger.NewDefault("settlement"),
	}
}

// Settle runs one redemption through the pipeline. The returned error, when
// non-nil, carries a stable Code; a non-nil Result is only returned on a
// released settlement.
func (o *Orchestrator) Settle(ctx context.Context, memberID string, req Request) (*Result, error) {
	started := time.Now()
	res, err := o.settle(ctx, memberID, req)
	switch {
	case err == nil:
		metrics.RecordSettlement("released", time.Since(started))
	case CodeOf(err) == CodeReleaseFailed:
		metrics.RecordSettlement("release_failed", time.Since(started))
	case CodeOf(err) == CodeWithdrawFailed:
		metrics.RecordSettlement("withdraw_failed", time.Since(started))
	default:
		metrics.RecordSettlement("rejected", time.Since(started))
	}
	return res, err
}

func (o *Orchestrator) settle(ctx context.Context, memberID string, req Request) (*Result, error) {
	// Validation. Nothing below this block has side effects.
	if memberID == "" {
		return nil, newError(CodeValidation, "member id is required")
	}
	if req.EvidenceID == "" {
		return nil, newError(CodeValidation, "evidence id is required")
	}
	if len(req.Items) == 0 {
		return nil, newError(CodeValidation, "at least one receipt item is required")
	}
	if req.Amount <= 0 {
		return nil, newError(CodeValidation, "amount must be positive")
	}
	var itemTotal int64
	for _, item := range req.Items {
		itemTotal += item.Quantity * item.UnitPrice
	}
	if itemTotal != req.Amount {
		return nil, newError(CodeValidation, "item total %d does not match amount %d", itemTotal, req.Amount)
	}

	tokens, err := units.FiatToTokens(req.Amount, o.fiatPerToken)
	if err != nil {
		return nil, wrapError(CodeInvalidAmount, err, "amount %d is not settleable at %d fiat per token", req.Amount, o.fiatPerToken)
	}
	amountWei, err := units.TokensToWei(tokens)
	if err != nil {
		return nil, wrapError(CodeInvalidAmount, err, "token count %d", tokens)
	}

	// Fast-path idempotency check. The unique constraint on the history
	// insert below is the authoritative guard; this read only saves work.
	if prior, err := o.stores.Settlements.GetByEvidenceID(ctx, req.EvidenceID); err == nil {
		if prior.Status == history.StatusReleased {
			return nil, newError(CodeAlreadyProcessed, "evidence %s already settled in tx %s", req.EvidenceID, prior.TxHash)
		}
		// A FAILED attempt is retryable: no funds moved.
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, wrapError(CodeValidation, err, "history lookup")
	}

	if req.ApprovalNumber != "" {
		if prior, err := o.stores.Settlements.GetByApprovalNumber(ctx, req.ApprovalNumber); err == nil && prior.Status == history.StatusReleased {
			return nil, newError(CodeAlreadyProcessed, "approval number %s already settled", req.ApprovalNumber)
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, wrapError(CodeValidation, err, "approval number lookup")
		}
		ok, err := o.guard.Reserve(ctx, req.ApprovalNumber)
		if err != nil {
			// The guard is advisory; fall through to the store constraint.
			o.log.WithError(err).Warn("approval guard unavailable, relying on store constraint")
		} else if !ok {
			return nil, newError(CodeAlreadyProcessed, "approval number %s already in flight", req.ApprovalNumber)
		}
	}

	// Resolve the member's vault, wallet and farm.
	vaultRec, err := o.stores.Vaults.GetActiveVaultByMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(CodeNoActiveVault, "member %s has no active vault", memberID)
		}
		return nil, wrapError(CodeNoActiveVault, err, "vault lookup")
	}
	mem, err := o.stores.Members.GetMember(ctx, memberID)
	if err != nil || mem.WalletAddress == "" {
		return nil, newError(CodeInvalidWalletAddress, "member %s has no wallet address", memberID)
	}
	farmRec, err := o.stores.Farms.GetFarmByOwner(ctx, memberID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(CodeFarmNotFound, "member %s owns no farm", memberID)
		}
		return nil, wrapError(CodeFarmNotFound, err, "farm lookup")
	}

	// Evidence persists before any ledger call so a failed release still
	// leaves something to reconcile against. A receipt already stored under
	// this evidence id came from an earlier failed attempt and stays as-is.
	_, err = o.stores.Receipts.CreateReceipt(ctx, receipt.Receipt{
		EvidenceID:   req.EvidenceID,
		FarmID:       farmRec.ID,
		StoreName:    req.StoreName,
		StoreAddress: req.StoreAddress,
		StorePhone:   req.StorePhone,
		TotalAmount:  req.Amount,
		CategoryID:   req.CategoryID,
		Reason:       req.Reason,
		Content:      req.Content,
		PhotoRef:     req.PhotoRef,
		Items:        req.Items,
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return nil, wrapError(CodeValidation, err, "persist receipt")
	}

	base := history.Record{
		EvidenceID:     req.EvidenceID,
		ApprovalNumber: req.ApprovalNumber,
		FarmID:         farmRec.ID,
		FarmerWallet:   mem.WalletAddress,
		VaultAddress:   vaultRec.Address,
		AmountWei:      amountWei.String(),
	}

	txHash, err := o.vaultSvc.Release(ctx, vaultRec.Address, amountWei)
	if err != nil {
		failed := base
		failed.TxHash = txHash
		failed.Status = history.StatusFailed
		failed.FailReason = truncateReason(err.Error())
		if _, insErr := o.stores.Settlements.InsertHistory(ctx, failed); insErr != nil {
			if errors.Is(insErr, storage.ErrDuplicate) {
				return nil, newError(CodeAlreadyProcessed, "evidence %s already settled", req.EvidenceID)
			}
			o.log.WithError(insErr).WithField("evidence_id", req.EvidenceID).Error("failed to record FAILED settlement")
		}
		return nil, wrapError(CodeReleaseFailed, err, "release from vault %s", vaultRec.Address)
	}

	released := base
	released.TxHash = txHash
	released.Status = history.StatusReleased
	if _, err := o.stores.Settlements.InsertHistory(ctx, released); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// A concurrent attempt won the constraint race after our
			// fast-path read. Funds for this broadcast need manual
			// reconciliation against the duplicate row.
			o.log.WithField("evidence_id", req.EvidenceID).WithField("tx", txHash).
				Error("duplicate settlement detected after release; manual reconciliation required")
			return nil, newError(CodeAlreadyProcessed, "evidence %s already settled", req.EvidenceID)
		}
		o.log.WithError(err).WithField("evidence_id", req.EvidenceID).Error("failed to record RELEASED settlement")
	}
	if err := o.stores.Farms.AddUsedAmount(ctx, farmRec.ID, req.Amount); err != nil {
		o.log.WithError(err).WithField("farm_id", farmRec.ID).Error("failed to accumulate used amount")
	}

	result := &Result{
		Released:       true,
		ReleasedAmount: strconv.FormatInt(tokens, 10),
		TxHash:         txHash,
		FarmerWallet:   mem.WalletAddress,
		VaultAddress:   vaultRec.Address,
	}

	if o.banking == nil {
		return result, nil
	}

	// Fiat withdrawal. The confirmed release is not rolled back on failure;
	// the RELEASED row stands and the case goes to manual reconciliation.
	withdraw, err := o.banking.Withdraw(ctx, memberID, req.Amount)
	if err != nil {
		return nil, wrapError(CodeWithdrawFailed, err, "withdraw %d for member %s", req.Amount, memberID)
	}
	if !withdraw.OK() {
		return nil, newError(CodeWithdrawFailed, "provider rejected withdrawal: %s %s", withdraw.Code, truncateReason(withdraw.Message))
	}
	result.WithdrawCode = withdraw.Code

	// Compensating burn, best effort. Fiat already left the system, so a
	// burn failure is reported as a flag rather than failing the response.
	burnHash, err := o.vaultSvc.BurnFromFarmer(ctx, mem.WalletAddress, amountWei)
	if err != nil {
		o.log.WithError(err).WithField("evidence_id", req.EvidenceID).
			WithField("farmer", mem.WalletAddress).Warn("compensating burn failed")
		metrics.RecordBurnFailure()
		result.BurnFailed = true
		return result, nil
	}
	result.BurnTxHash = burnHash
	return result, nil
}

func truncateReason(reason string) string {
	if len(reason) > maxReasonLen {
		return reason[:maxReasonLen]
	}
	return reason
}
