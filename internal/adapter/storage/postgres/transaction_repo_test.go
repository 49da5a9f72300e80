package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransaction(walletID uuid.UUID) *domain.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  walletID,
		Reference: "DEP-3q2-7Jd0QeG2wYt9ZbS1Ag",
		Type:      domain.TransactionTypeDeposit,
		Amount:    50000,
		Status:    domain.TransactionStatusPending,
		Metadata:  domain.Metadata{"email": "ada@example.com"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func txColumns() []string {
	return []string{"id", "wallet_id", "reference", "type", "amount", "status",
		"description", "metadata", "created_at", "updated_at"}
}

func txRow(t *domain.Transaction) *pgxmock.Rows {
	meta, _ := encodeMetadata(t.Metadata)
	var description *string
	if t.Description != "" {
		description = strPtr(t.Description)
	}
	return pgxmock.NewRows(txColumns()).AddRow(
		t.ID, t.WalletID, t.Reference, t.Type, t.Amount, t.Status,
		description, meta, t.CreatedAt, t.UpdatedAt,
	)
}

func strPtr(s string) *string {
	return &s
}

func TestTransactionRepo_Create_InTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(
			txn.ID, txn.WalletID, txn.Reference, txn.Type, txn.Amount, txn.Status,
			txn.Description, []byte(`{"email":"ada@example.com"}`), txn.CreatedAt, txn.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), dbTx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Create_NilTxUsesPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())
	txn.Metadata = nil

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(
			txn.ID, txn.WalletID, txn.Reference, txn.Type, txn.Amount, txn.Status,
			txn.Description, []byte("{}"), txn.CreatedAt, txn.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), nil, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE reference").
		WithArgs(txn.Reference).
		WillReturnRows(txRow(txn))

	result, err := repo.GetByReference(context.Background(), txn.Reference)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.Equal(t, "ada@example.com", result.Metadata["email"])
	assert.Empty(t, result.Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByReference_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE reference").
		WithArgs("DEP-missing").
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetByReference(context.Background(), "DEP-missing")
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestTransactionRepo_GetByReferenceForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE reference .+ FOR UPDATE").
		WithArgs(txn.Reference).
		WillReturnRows(txRow(txn))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByReferenceForUpdate(context.Background(), dbTx, txn.Reference)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.TransactionStatusPending, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ResolvePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectExec(`(?s)UPDATE transactions SET status .+ WHERE id = \$3 AND status = \$4`).
		WithArgs(domain.TransactionStatusFailed, []byte(`{"error":"gateway down"}`), id, domain.TransactionStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := repo.ResolvePending(context.Background(), nil, id, domain.TransactionStatusFailed, domain.Metadata{"error": "gateway down"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ResolvePending_AlreadyFinal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	// a webhook settled the row first; the late failure must not overwrite it
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(domain.TransactionStatusFailed, []byte("{}"), id, domain.TransactionStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.ResolvePending(context.Background(), nil, id, domain.TransactionStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ResolvePending_InTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(domain.TransactionStatusSuccess, []byte("{}"), id, domain.TransactionStatusPending).
		WillReturnError(errors.New("conn reset"))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	_, err = repo.ResolvePending(context.Background(), dbTx, id, domain.TransactionStatusSuccess, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByWallet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	walletID := uuid.New()
	first := newTestTransaction(walletID)
	second := newTestTransaction(walletID)
	second.Reference = "TRF-abc-OUT"
	second.Type = domain.TransactionTypeTransferOut
	second.Description = "Transfer to 4123456789012"

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(walletID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	rows := txRow(first)
	meta, _ := encodeMetadata(second.Metadata)
	rows.AddRow(second.ID, second.WalletID, second.Reference, second.Type, second.Amount, second.Status,
		strPtr(second.Description), meta, second.CreatedAt, second.UpdatedAt)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE wallet_id .+ ORDER BY created_at DESC LIMIT").
		WithArgs(walletID, 2, 0).
		WillReturnRows(rows)

	txns, total, err := repo.ListByWallet(context.Background(), ports.TransactionListParams{
		WalletID: walletID,
		Limit:    2,
		Offset:   0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, txns, 2)
	assert.Equal(t, "Transfer to 4123456789012", txns[1].Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByWallet_WithFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	walletID := uuid.New()
	typ := domain.TransactionTypeDeposit
	status := domain.TransactionStatusSuccess

	mock.ExpectQuery("SELECT COUNT.+type = .+status = ").
		WithArgs(walletID, typ, status).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE wallet_id").
		WithArgs(walletID, typ, status, 20, 40).
		WillReturnRows(pgxmock.NewRows(txColumns()))

	txns, total, err := repo.ListByWallet(context.Background(), ports.TransactionListParams{
		WalletID: walletID,
		Type:     &typ,
		Status:   &status,
		Limit:    20,
		Offset:   40,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, txns)
	assert.NoError(t, mock.ExpectationsWereMet())
}
