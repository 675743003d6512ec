// Package postgres implements the storage interfaces backed by PostgreSQL.
//
// The unique constraints in the schema, not the application-level checks,
// are the enforcement mechanism for exactly-once settlement: an insert that
// collides with a RELEASED settlement row surfaces storage.ErrDuplicate.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agrilink-dev/settlement_layer/internal/domain/farm"
	"github.com/agrilink-dev/settlement_layer/internal/domain/history"
	"github.com/agrilink-dev/settlement_layer/internal/domain/member"
	"github.com/agrilink-dev/settlement_layer/internal/domain/receipt"
	"github.com/agrilink-dev/settlement_layer/internal/domain/vault"
	"github.com/agrilink-dev/settlement_layer/internal/domain/wallet"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.VaultStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.ReceiptStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.FarmStore = (*Store)(nil)
var _ storage.MemberStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}

// --- VaultStore -------------------------------------------------------------

func (s *Store) UpsertVault(ctx context.Context, rec vault.Record) (vault.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = vault.StatusActive
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO vault_records (id, member_id, farm_key, address, deploy_tx_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (member_id) DO UPDATE
		SET farm_key = EXCLUDED.farm_key,
			address = EXCLUDED.address,
			deploy_tx_hash = EXCLUDED.deploy_tx_hash,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, rec.ID, rec.MemberID, rec.FarmKey, rec.Address, rec.DeployTxHash, rec.Status, rec.CreatedAt, rec.UpdatedAt)

	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return vault.Record{}, mapErr(err)
	}
	return rec, nil
}

func (s *Store) GetVaultByFarmKey(ctx context.Context, farmKey string) (vault.Record, error) {
	return s.scanVault(s.db.QueryRowContext(ctx, `
		SELECT id, member_id, farm_key, address, deploy_tx_hash, status, created_at, updated_at
		FROM vault_records
		WHERE farm_key = $1
	`, farmKey))
}

func (s *Store) GetActiveVaultByMember(ctx context.Context, memberID string) (vault.Record, error) {
	return s.scanVault(s.db.QueryRowContext(ctx, `
		SELECT id, member_id, farm_key, address, deploy_tx_hash, status, created_at, updated_at
		FROM vault_records
		WHERE member_id = $1 AND status = 'ACTIVE'
	`, memberID))
}

func (s *Store) scanVault(row *sql.Row) (vault.Record, error) {
	var rec vault.Record
	if err := row.Scan(&rec.ID, &rec.MemberID, &rec.FarmKey, &rec.Address, &rec.DeployTxHash, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return vault.Record{}, mapErr(err)
	}
	return rec, nil
}

// --- SettlementStore --------------------------------------------------------

func (s *Store) InsertHistory(ctx context.Context, rec history.Record) (history.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	// A FAILED row for the same evidence id is superseded in place; a
	// RELEASED row makes the conflict clause match nothing, so zero rows
	// return and the attempt is rejected as a duplicate.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO settlement_history
			(id, evidence_id, approval_number, farm_id, farmer_wallet, vault_address,
			 amount_wei, tx_hash, status, fail_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (evidence_id) DO UPDATE
		SET approval_number = EXCLUDED.approval_number,
			farm_id = EXCLUDED.farm_id,
			farmer_wallet = EXCLUDED.farmer_wallet,
			vault_address = EXCLUDED.vault_address,
			amount_wei = EXCLUDED.amount_wei,
			tx_hash = EXCLUDED.tx_hash,
			status = EXCLUDED.status,
			fail_reason = EXCLUDED.fail_reason,
			updated_at = EXCLUDED.updated_at
		WHERE settlement_history.status = 'FAILED'
		RETURNING id, created_at
	`, rec.ID, rec.EvidenceID, toNullString(rec.ApprovalNumber), rec.FarmID, rec.FarmerWallet,
		rec.VaultAddress, rec.AmountWei, toNullString(rec.TxHash), rec.Status, toNullString(rec.FailReason),
		rec.CreatedAt, rec.UpdatedAt)

	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Record{}, storage.ErrDuplicate
		}
		return history.Record{}, mapErr(err)
	}
	return rec, nil
}

func (s *Store) GetByEvidenceID(ctx context.Context, evidenceID string) (history.Record, error) {
	return s.scanHistory(s.db.QueryRowContext(ctx, `
		SELECT id, evidence_id, approval_number, farm_id, farmer_wallet, vault_address,
			   amount_wei, tx_hash, status, fail_reason, created_at, updated_at
		FROM settlement_history
		WHERE evidence_id = $1
	`, evidenceID))
}

func (s *Store) GetByApprovalNumber(ctx context.Context, approvalNumber string) (history.Record, error) {
	return s.scanHistory(s.db.QueryRowContext(ctx, `
		SELECT id, evidence_id, approval_number, farm_id, farmer_wallet, vault_address,
			   amount_wei, tx_hash, status, fail_reason, created_at, updated_at
		FROM settlement_history
		WHERE approval_number = $1
	`, approvalNumber))
}

func (s *Store) ListByFarm(ctx context.Context, farmID string) ([]history.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, evidence_id, approval_number, farm_id, farmer_wallet, vault_address,
			   amount_wei, tx_hash, status, fail_reason, created_at, updated_at
		FROM settlement_history
		WHERE farm_id = $1
		ORDER BY created_at DESC
	`, farmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []history.Record
	for rows.Next() {
		rec, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanHistory(row *sql.Row) (history.Record, error) {
	rec, err := scanHistoryRow(row)
	if err != nil {
		return history.Record{}, mapErr(err)
	}
	return rec, nil
}

func scanHistoryRow(row rowScanner) (history.Record, error) {
	var (
		rec      history.Record
		approval sql.NullString
		txHash   sql.NullString
		reason   sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.EvidenceID, &approval, &rec.FarmID, &rec.FarmerWallet,
		&rec.VaultAddress, &rec.AmountWei, &txHash, &rec.Status, &reason, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return history.Record{}, err
	}
	rec.ApprovalNumber = approval.String
	rec.TxHash = txHash.String
	rec.FailReason = reason.String
	return rec, nil
}

// --- ReceiptStore -----------------------------------------------------------

func (s *Store) CreateReceipt(ctx context.Context, rcpt receipt.Receipt) (receipt.Receipt, error) {
	if rcpt.ID == "" {
		rcpt.ID = uuid.NewString()
	}
	rcpt.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return receipt.Receipt{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipt_history
			(id, evidence_id, farm_id, store_name, store_address, store_phone,
			 total_amount, category_id, reason, content, photo_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rcpt.ID, rcpt.EvidenceID, rcpt.FarmID, rcpt.StoreName, rcpt.StoreAddress, rcpt.StorePhone,
		rcpt.TotalAmount, rcpt.CategoryID, rcpt.Reason, rcpt.Content, rcpt.PhotoRef, rcpt.CreatedAt)
	if err != nil {
		return receipt.Receipt{}, mapErr(err)
	}

	for i, item := range rcpt.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO receipt_detail_history (id, receipt_id, position, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.NewString(), rcpt.ID, i, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return receipt.Receipt{}, mapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return receipt.Receipt{}, err
	}
	return rcpt, nil
}

func (s *Store) GetReceiptByEvidenceID(ctx context.Context, evidenceID string) (receipt.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, evidence_id, farm_id, store_name, store_address, store_phone,
			   total_amount, category_id, reason, content, photo_ref, created_at
		FROM receipt_history
		WHERE evidence_id = $1
	`, evidenceID)

	var rcpt receipt.Receipt
	if err := row.Scan(&rcpt.ID, &rcpt.EvidenceID, &rcpt.FarmID, &rcpt.StoreName, &rcpt.StoreAddress,
		&rcpt.StorePhone, &rcpt.TotalAmount, &rcpt.CategoryID, &rcpt.Reason, &rcpt.Content,
		&rcpt.PhotoRef, &rcpt.CreatedAt); err != nil {
		return receipt.Receipt{}, mapErr(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, quantity, unit_price
		FROM receipt_detail_history
		WHERE receipt_id = $1
		ORDER BY position
	`, rcpt.ID)
	if err != nil {
		return receipt.Receipt{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var item receipt.Item
		if err := rows.Scan(&item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return receipt.Receipt{}, err
		}
		rcpt.Items = append(rcpt.Items, item)
	}
	return rcpt, rows.Err()
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) CreateWallet(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custodial_wallets (id, member_id, address, encrypted_keystore, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.MemberID, w.Address, w.EncryptedKeystore, w.CreatedAt)
	if err != nil {
		return wallet.Wallet{}, mapErr(err)
	}
	return w, nil
}

func (s *Store) GetWalletByMember(ctx context.Context, memberID string) (wallet.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, address, encrypted_keystore, created_at
		FROM custodial_wallets
		WHERE member_id = $1
	`, memberID)

	var w wallet.Wallet
	if err := row.Scan(&w.ID, &w.MemberID, &w.Address, &w.EncryptedKeystore, &w.CreatedAt); err != nil {
		return wallet.Wallet{}, mapErr(err)
	}
	return w, nil
}

// --- FarmStore --------------------------------------------------------------

func (s *Store) GetFarm(ctx context.Context, id string) (farm.Farm, error) {
	return s.scanFarm(s.db.QueryRowContext(ctx, `
		SELECT id, owner_member_id, name, used_amount, trust_score, created_at, updated_at
		FROM farms
		WHERE id = $1
	`, id))
}

func (s *Store) GetFarmByOwner(ctx context.Context, memberID string) (farm.Farm, error) {
	return s.scanFarm(s.db.QueryRowContext(ctx, `
		SELECT id, owner_member_id, name, used_amount, trust_score, created_at, updated_at
		FROM farms
		WHERE owner_member_id = $1
	`, memberID))
}

func (s *Store) ListFarms(ctx context.Context) ([]farm.Farm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_member_id, name, used_amount, trust_score, created_at, updated_at
		FROM farms
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []farm.Farm
	for rows.Next() {
		var f farm.Farm
		if err := rows.Scan(&f.ID, &f.OwnerMemberID, &f.Name, &f.UsedAmount, &f.TrustScore, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *Store) scanFarm(row *sql.Row) (farm.Farm, error) {
	var f farm.Farm
	if err := row.Scan(&f.ID, &f.OwnerMemberID, &f.Name, &f.UsedAmount, &f.TrustScore, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return farm.Farm{}, mapErr(err)
	}
	return f, nil
}

// AddUsedAmount increments the counter in a single UPDATE so concurrent
// settlements on the same farm cannot lose increments.
func (s *Store) AddUsedAmount(ctx context.Context, farmID string, delta int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE farms
		SET used_amount = used_amount + $2, updated_at = $3
		WHERE id = $1
	`, farmID, delta, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateTrustScore(ctx context.Context, farmID string, score float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE farms
		SET trust_score = $2, updated_at = $3
		WHERE id = $1
	`, farmID, score, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- MemberStore ------------------------------------------------------------

func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, wallet_address, created_at
		FROM members
		WHERE id = $1
	`, id)

	var (
		m    member.Member
		addr sql.NullString
	)
	if err := row.Scan(&m.ID, &addr, &m.CreatedAt); err != nil {
		return member.Member{}, mapErr(err)
	}
	m.WalletAddress = addr.String
	return m, nil
}

func (s *Store) PutMember(ctx context.Context, m member.Member) (member.Member, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, wallet_address, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
	`, m.ID, toNullString(m.WalletAddress), m.CreatedAt)
	if err != nil {
		return member.Member{}, mapErr(err)
	}
	return m, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}
