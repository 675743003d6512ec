package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrilink-dev/settlement_layer/internal/domain/history"
	"github.com/agrilink-dev/settlement_layer/internal/domain/wallet"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestInsertHistoryReturnsRow(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "created_at"}).AddRow("row-1", time.Now().UTC())
	mock.ExpectQuery(`INSERT INTO settlement_history`).
		WillReturnRows(rows)

	rec, err := store.InsertHistory(context.Background(), history.Record{
		EvidenceID:   "ev-1",
		FarmID:       "farm-001",
		FarmerWallet: "0x4444444444444444444444444444444444444444",
		VaultAddress: "0x3333333333333333333333333333333333333333",
		AmountWei:    "50000000000000000000",
		TxHash:       "0xabc",
		Status:       history.StatusReleased,
	})
	require.NoError(t, err)
	assert.Equal(t, "row-1", rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertHistoryDuplicateWhenReleasedRowStands(t *testing.T) {
	store, mock := newMockStore(t)

	// The conflict clause only updates FAILED rows; a standing RELEASED row
	// yields zero returned rows.
	mock.ExpectQuery(`INSERT INTO settlement_history`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	_, err := store.InsertHistory(context.Background(), history.Record{
		EvidenceID: "ev-dup",
		Status:     history.StatusReleased,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWalletMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO custodial_wallets`).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.CreateWallet(context.Background(), wallet.Wallet{
		MemberID: "member-1",
		Address:  "0x5555555555555555555555555555555555555555",
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddUsedAmountAtomicUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE farms`).
		WithArgs("farm-001", int64(5000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.AddUsedAmount(context.Background(), "farm-001", 5000))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddUsedAmountUnknownFarm(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE farms`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.AddUsedAmount(context.Background(), "farm-missing", 5000)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByEvidenceIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM settlement_history`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "evidence_id", "approval_number", "farm_id", "farmer_wallet",
			"vault_address", "amount_wei", "tx_hash", "status", "fail_reason",
			"created_at", "updated_at",
		}))

	_, err := store.GetByEvidenceID(context.Background(), "ev-none")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
