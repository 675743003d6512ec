// Package httpapi exposes the settlement layer's REST surface. Handlers are
// thin request/response mapping; all business rules live in the settlement
// and vaults packages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agrilink-dev/settlement_layer/internal/domain/receipt"
	"github.com/agrilink-dev/settlement_layer/internal/domain/vault"
	"github.com/agrilink-dev/settlement_layer/internal/domain/wallet"
	"github.com/agrilink-dev/settlement_layer/internal/metrics"
	"github.com/agrilink-dev/settlement_layer/internal/settlement"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
	"github.com/agrilink-dev/settlement_layer/internal/units"
	"github.com/agrilink-dev/settlement_layer/internal/vaults"
)

// Settler runs redemption requests. Implemented by settlement.Orchestrator.
type Settler interface {
	Settle(ctx context.Context, memberID string, req settlement.Request) (*settlement.Result, error)
}

// VaultManager is the slice of the vault lifecycle manager the API uses.
type VaultManager interface {
	Create(ctx context.Context, memberID, farmKey, ownerAddress string) (vault.Record, error)
	Farmer(ctx context.Context, vaultAddress string) (string, error)
	Balance(ctx context.Context, vaultAddress string) (*big.Int, error)
	MintForDonor(ctx context.Context, donorAddress, vaultAddress string, amountWei *big.Int) (string, error)
}

// WalletIssuer mints custodial wallets. Implemented by keyvault.Vault.
type WalletIssuer interface {
	CreateCustodialWallet() (string, string, error)
}

// Handler bundles the REST endpoints and their collaborators.
type Handler struct {
	settler      Settler
	vaultMgr     VaultManager
	walletIssuer WalletIssuer
	settlements  storage.SettlementStore
	vaultStore   storage.VaultStore
	wallets      storage.WalletStore
	members      storage.MemberStore
	farms        storage.FarmStore
	fiatPerToken int64
}

// Config carries the handler's collaborators and policy settings.
type Config struct {
	Settler      Settler
	VaultManager VaultManager
	WalletIssuer WalletIssuer
	Settlements  storage.SettlementStore
	Vaults       storage.VaultStore
	Wallets      storage.WalletStore
	Members      storage.MemberStore
	Farms        storage.FarmStore
	FiatPerToken int64
	JWTSecret    string
	RatePerMin   int
}

// NewRouter builds the full routed handler with auth, rate limiting and
// metrics instrumentation applied.
func NewRouter(cfg Config) http.Handler {
	h := &Handler{
		settler:      cfg.Settler,
		vaultMgr:     cfg.VaultManager,
		walletIssuer: cfg.WalletIssuer,
		settlements:  cfg.Settlements,
		vaultStore:   cfg.Vaults,
		wallets:      cfg.Wallets,
		members:      cfg.Members,
		farms:        cfg.Farms,
		fiatPerToken: cfg.FiatPerToken,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(authMiddleware(cfg.JWTSecret))
	api.Use(newMemberLimiter(cfg.RatePerMin).middleware)

	api.HandleFunc("/settlements", h.handleSettle).Methods(http.MethodPost)
	api.HandleFunc("/settlements", h.handleListSettlements).Methods(http.MethodGet)
	api.HandleFunc("/vaults", h.handleCreateVault).Methods(http.MethodPost)
	api.HandleFunc("/vaults/{member}", h.handleGetVault).Methods(http.MethodGet)
	api.HandleFunc("/vaults/{member}/balance", h.handleVaultBalance).Methods(http.MethodGet)
	api.HandleFunc("/vaults/{member}/farmer", h.handleVaultFarmer).Methods(http.MethodGet)
	api.HandleFunc("/wallets", h.handleCreateWallet).Methods(http.MethodPost)
	api.HandleFunc("/donations", h.handleDonate).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type settleRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	ApprovalNumber string `json:"approvalNumber,omitempty"`
	StoreInfo      struct {
		Name    string `json:"name"`
		Address string `json:"address"`
		Phone   string `json:"phone"`
	} `json:"storeInfo"`
	Items []struct {
		Name      string `json:"name"`
		Quantity  int64  `json:"quantity"`
		UnitPrice int64  `json:"unitPrice"`
	} `json:"items"`
	ReceiptAmount int64  `json:"receiptAmount"`
	CategoryID    string `json:"categoryId"`
	Reason        string `json:"reason"`
	Content       string `json:"content,omitempty"`
	PhotoRef      string `json:"photoRef,omitempty"`
}

type settleFailure struct {
	Released bool   `json:"released"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	var payload settleRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := settlement.Request{
		EvidenceID:     payload.IdempotencyKey,
		ApprovalNumber: payload.ApprovalNumber,
		StoreName:      payload.StoreInfo.Name,
		StoreAddress:   payload.StoreInfo.Address,
		StorePhone:     payload.StoreInfo.Phone,
		Amount:         payload.ReceiptAmount,
		CategoryID:     payload.CategoryID,
		Reason:         payload.Reason,
		Content:        payload.Content,
		PhotoRef:       payload.PhotoRef,
	}
	for _, item := range payload.Items {
		req.Items = append(req.Items, receipt.Item{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	result, err := h.settler.Settle(r.Context(), MemberID(r), req)
	if err != nil {
		writeJSON(w, settleStatus(err), settleFailure{Reason: string(settlement.CodeOf(err))})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func settleStatus(err error) int {
	switch settlement.CodeOf(err) {
	case settlement.CodeValidation, settlement.CodeInvalidAmount, settlement.CodeInvalidWalletAddress:
		return http.StatusBadRequest
	case settlement.CodeAlreadyProcessed:
		return http.StatusConflict
	case settlement.CodeNoActiveVault, settlement.CodeFarmNotFound:
		return http.StatusNotFound
	case settlement.CodeReleaseFailed, settlement.CodeWithdrawFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	farmID := r.URL.Query().Get("farm")
	if farmID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("farm query parameter is required"))
		return
	}
	records, err := h.settlements.ListByFarm(r.Context(), farmID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list settlements"))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type createVaultRequest struct {
	FarmID       string `json:"farmId"`
	OwnerAddress string `json:"ownerAddress"`
}

func (h *Handler) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var payload createVaultRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.FarmID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("farmId is required"))
		return
	}

	rec, err := h.vaultMgr.Create(r.Context(), MemberID(r), vaults.DeriveFarmKey(payload.FarmID), payload.OwnerAddress)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleGetVault(w http.ResponseWriter, r *http.Request) {
	memberID := mux.Vars(r)["member"]
	rec, err := h.vaultStore.GetActiveVaultByMember(r.Context(), memberID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no active vault for member %s", memberID))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Errorf("vault lookup"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.activeVault(w, r)
	if !ok {
		return
	}
	balance, err := h.vaultMgr.Balance(r.Context(), rec.Address)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("balance lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"vaultAddress": rec.Address,
		"balanceWei":   balance.String(),
	})
}

func (h *Handler) handleVaultFarmer(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.activeVault(w, r)
	if !ok {
		return
	}
	farmer, err := h.vaultMgr.Farmer(r.Context(), rec.Address)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("farmer lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"vaultAddress": rec.Address,
		"farmer":       farmer,
	})
}

func (h *Handler) activeVault(w http.ResponseWriter, r *http.Request) (vault.Record, bool) {
	memberID := mux.Vars(r)["member"]
	rec, err := h.vaultStore.GetActiveVaultByMember(r.Context(), memberID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no active vault for member %s", memberID))
		} else {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("vault lookup"))
		}
		return vault.Record{}, false
	}
	return rec, true
}

func (h *Handler) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	memberID := MemberID(r)

	if existing, err := h.wallets.GetWalletByMember(r.Context(), memberID); err == nil {
		writeJSON(w, http.StatusOK, map[string]string{"address": existing.Address})
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("wallet lookup"))
		return
	}

	address, sealed, err := h.walletIssuer.CreateCustodialWallet()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("wallet creation failed"))
		return
	}
	created, err := h.wallets.CreateWallet(r.Context(), wallet.Wallet{
		MemberID:          memberID,
		Address:           address,
		EncryptedKeystore: sealed,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("wallet persistence failed"))
		return
	}

	// Keep the identity projection in sync for settlement resolution.
	if mem, err := h.members.GetMember(r.Context(), memberID); err == nil {
		mem.WalletAddress = address
		if _, err := h.members.PutMember(r.Context(), mem); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("member update failed"))
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"address": created.Address})
}

type donateRequest struct {
	DonorAddress string `json:"donorAddress"`
	FarmID       string `json:"farmId"`
	Amount       int64  `json:"amount"`
}

// handleDonate mints donation tokens into a farm's vault. The fiat amount
// obeys the same conversion policy as redemptions.
func (h *Handler) handleDonate(w http.ResponseWriter, r *http.Request) {
	var payload donateRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	farmRec, err := h.farms.GetFarm(r.Context(), payload.FarmID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("farm %s not found", payload.FarmID))
		return
	}
	vaultRec, err := h.vaultStore.GetActiveVaultByMember(r.Context(), farmRec.OwnerMemberID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("farm %s has no active vault", payload.FarmID))
		return
	}

	amountWei, err := units.FiatToWei(payload.Amount, h.fiatPerToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	hash, err := h.vaultMgr.MintForDonor(r.Context(), payload.DonorAddress, vaultRec.Address, amountWei)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("donation mint failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"txHash":       hash,
		"vaultAddress": vaultRec.Address,
	})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
