// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development. Uniqueness semantics match the postgres store exactly,
// since the orchestrator's exactly-once guarantee rests on them.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink-dev/settlement_layer/internal/domain/farm"
	"github.com/agrilink-dev/settlement_layer/internal/domain/history"
	"github.com/agrilink-dev/settlement_layer/internal/domain/member"
	"github.com/agrilink-dev/settlement_layer/internal/domain/receipt"
	"github.com/agrilink-dev/settlement_layer/internal/domain/vault"
	"github.com/agrilink-dev/settlement_layer/internal/domain/wallet"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
)

// Store is the in-memory store.
type Store struct {
	mu                sync.RWMutex
	vaultsByMember    map[string]vault.Record
	vaultsByFarmKey   map[string]string // farm key -> member id
	historyByEvidence map[string]history.Record
	historyByApproval map[string]string // approval number -> evidence id
	receipts          map[string]receipt.Receipt
	wallets           map[string]wallet.Wallet
	farms             map[string]farm.Farm
	farmsByOwner      map[string]string
	members           map[string]member.Member
}

var _ storage.VaultStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.ReceiptStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.FarmStore = (*Store)(nil)
var _ storage.MemberStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		vaultsByMember:    make(map[string]vault.Record),
		vaultsByFarmKey:   make(map[string]string),
		historyByEvidence: make(map[string]history.Record),
		historyByApproval: make(map[string]string),
		receipts:          make(map[string]receipt.Receipt),
		wallets:           make(map[string]wallet.Wallet),
		farms:             make(map[string]farm.Farm),
		farmsByOwner:      make(map[string]string),
		members:           make(map[string]member.Member),
	}
}

// VaultStore ------------------------------------------------------------------

func (s *Store) UpsertVault(_ context.Context, rec vault.Record) (vault.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.vaultsByMember[rec.MemberID]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		delete(s.vaultsByFarmKey, existing.FarmKey)
	} else {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = vault.StatusActive
	}

	s.vaultsByMember[rec.MemberID] = rec
	s.vaultsByFarmKey[rec.FarmKey] = rec.MemberID
	return rec, nil
}

func (s *Store) GetVaultByFarmKey(_ context.Context, farmKey string) (vault.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memberID, ok := s.vaultsByFarmKey[farmKey]
	if !ok {
		return vault.Record{}, storage.ErrNotFound
	}
	return s.vaultsByMember[memberID], nil
}

func (s *Store) GetActiveVaultByMember(_ context.Context, memberID string) (vault.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.vaultsByMember[memberID]
	if !ok || rec.Status != vault.StatusActive {
		return vault.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

// SettlementStore -------------------------------------------------------------

func (s *Store) InsertHistory(_ context.Context, rec history.Record) (history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.historyByEvidence[rec.EvidenceID]; ok {
		if existing.Status == history.StatusReleased {
			return history.Record{}, storage.ErrDuplicate
		}
		// A FAILED attempt is superseded by the retry.
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if rec.ApprovalNumber != "" {
		if evID, ok := s.historyByApproval[rec.ApprovalNumber]; ok && evID != rec.EvidenceID {
			return history.Record{}, storage.ErrDuplicate
		}
		s.historyByApproval[rec.ApprovalNumber] = rec.EvidenceID
	}

	s.historyByEvidence[rec.EvidenceID] = rec
	return rec, nil
}

func (s *Store) GetByEvidenceID(_ context.Context, evidenceID string) (history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.historyByEvidence[evidenceID]
	if !ok {
		return history.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetByApprovalNumber(_ context.Context, approvalNumber string) (history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evID, ok := s.historyByApproval[approvalNumber]
	if !ok {
		return history.Record{}, storage.ErrNotFound
	}
	return s.historyByEvidence[evID], nil
}

func (s *Store) ListByFarm(_ context.Context, farmID string) ([]history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []history.Record
	for _, rec := range s.historyByEvidence {
		if rec.FarmID == farmID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ReceiptStore ----------------------------------------------------------------

func (s *Store) CreateReceipt(_ context.Context, rcpt receipt.Receipt) (receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receipts[rcpt.EvidenceID]; ok {
		return receipt.Receipt{}, storage.ErrDuplicate
	}
	rcpt.ID = uuid.NewString()
	rcpt.CreatedAt = time.Now().UTC()
	rcpt.Items = append([]receipt.Item(nil), rcpt.Items...)
	s.receipts[rcpt.EvidenceID] = rcpt
	return rcpt, nil
}

func (s *Store) GetReceiptByEvidenceID(_ context.Context, evidenceID string) (receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rcpt, ok := s.receipts[evidenceID]
	if !ok {
		return receipt.Receipt{}, storage.ErrNotFound
	}
	return rcpt, nil
}

// WalletStore -----------------------------------------------------------------

func (s *Store) CreateWallet(_ context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[w.MemberID]; ok {
		return wallet.Wallet{}, storage.ErrDuplicate
	}
	w.ID = uuid.NewString()
	w.CreatedAt = time.Now().UTC()
	s.wallets[w.MemberID] = w
	return w, nil
}

func (s *Store) GetWalletByMember(_ context.Context, memberID string) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[memberID]
	if !ok {
		return wallet.Wallet{}, storage.ErrNotFound
	}
	return w, nil
}

// FarmStore -------------------------------------------------------------------

// PutFarm seeds a farm. Farm CRUD proper lives outside the settlement layer;
// tests and local development use this.
func (s *Store) PutFarm(f farm.Farm) farm.Farm {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.farms[f.ID] = f
	s.farmsByOwner[f.OwnerMemberID] = f.ID
	return f
}

func (s *Store) GetFarm(_ context.Context, id string) (farm.Farm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.farms[id]
	if !ok {
		return farm.Farm{}, storage.ErrNotFound
	}
	return f, nil
}

func (s *Store) GetFarmByOwner(_ context.Context, memberID string) (farm.Farm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.farmsByOwner[memberID]
	if !ok {
		return farm.Farm{}, storage.ErrNotFound
	}
	return s.farms[id], nil
}

func (s *Store) ListFarms(_ context.Context) ([]farm.Farm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]farm.Farm, 0, len(s.farms))
	for _, f := range s.farms {
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) AddUsedAmount(_ context.Context, farmID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.farms[farmID]
	if !ok {
		return storage.ErrNotFound
	}
	f.UsedAmount += delta
	f.UpdatedAt = time.Now().UTC()
	s.farms[farmID] = f
	return nil
}

func (s *Store) UpdateTrustScore(_ context.Context, farmID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.farms[farmID]
	if !ok {
		return storage.ErrNotFound
	}
	f.TrustScore = score
	f.UpdatedAt = time.Now().UTC()
	s.farms[farmID] = f
	return nil
}

// MemberStore -----------------------------------------------------------------

func (s *Store) GetMember(_ context.Context, id string) (member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[id]
	if !ok {
		return member.Member{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) PutMember(_ context.Context, m member.Member) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.members[m.ID] = m
	return m, nil
}
