package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type walletTestDeps struct {
	svc        *WalletServiceImpl
	walletRepo *mocks.MockWalletRepository
	txRepo     *mocks.MockTransactionRepository
	transactor *mocks.MockDBTransactor
}

func setupWalletService(t *testing.T) *walletTestDeps {
	ctrl := gomock.NewController(t)
	d := &walletTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
	}
	d.svc = NewWalletService(d.walletRepo, d.txRepo, d.transactor, newTestLogger())
	return d
}

func newWallet(userID uuid.UUID, number string, balance int64) *domain.Wallet {
	return &domain.Wallet{ID: uuid.New(), UserID: userID, WalletNumber: number, Balance: balance}
}

func clone(w *domain.Wallet) *domain.Wallet {
	c := *w
	return &c
}

// ==================== Transfer ====================

func TestWalletService_Transfer_Success(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	tx := &mockTx{}

	sender := newWallet(uuid.New(), "1000000000001", 50000)
	recipient := newWallet(uuid.New(), "2000000000002", 1000)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, recipient.WalletNumber).Return(recipient, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)

	var lockOrder []uuid.UUID
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
			lockOrder = append(lockOrder, id)
			if id == sender.ID {
				return clone(sender), nil
			}
			return clone(recipient), nil
		},
	)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, sender.ID, int64(30000)).Return(nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, recipient.ID, int64(21000)).Return(nil)

	var legs []*domain.Transaction
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			legs = append(legs, txn)
			return nil
		},
	)

	res, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: recipient.WalletNumber,
		Amount:          20000,
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)

	assert.True(t, strings.HasPrefix(res.Reference, "TRF-"))
	assert.Equal(t, int64(30000), res.NewBalance)

	require.Len(t, legs, 2)
	out, in := legs[0], legs[1]
	assert.Equal(t, res.Reference+"-OUT", out.Reference)
	assert.Equal(t, domain.TransactionTypeTransferOut, out.Type)
	assert.Equal(t, sender.ID, out.WalletID)
	assert.Equal(t, "Transfer to 2000000000002", out.Description)
	assert.Equal(t, recipient.WalletNumber, out.Metadata["recipient_wallet"])

	assert.Equal(t, res.Reference+"-IN", in.Reference)
	assert.Equal(t, domain.TransactionTypeTransferIn, in.Type)
	assert.Equal(t, recipient.ID, in.WalletID)
	assert.Equal(t, "Transfer from 1000000000001", in.Description)
	assert.Equal(t, sender.UserID.String(), in.Metadata["sender_user_id"])

	for _, leg := range legs {
		assert.Equal(t, int64(20000), leg.Amount)
		assert.Equal(t, domain.TransactionStatusSuccess, leg.Status)
	}

	require.Len(t, lockOrder, 2)
	assert.Negative(t, bytes.Compare(lockOrder[0][:], lockOrder[1][:]), "wallets must be locked lowest id first")
}

func TestWalletService_Transfer_InvalidAmount(t *testing.T) {
	d := setupWalletService(t)

	for _, amount := range []int64{0, -5} {
		_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
			SenderUserID:    uuid.New(),
			RecipientNumber: "2000000000002",
			Amount:          amount,
		})
		assertAppError(t, err, "PAY_002")
	}
}

func TestWalletService_Transfer_RecipientNotFound(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	sender := newWallet(uuid.New(), "1000000000001", 50000)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, "9999999999999").Return(nil, nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: "9999999999999",
		Amount:          100,
	})
	assertAppError(t, err, "PAY_009")
}

func TestWalletService_Transfer_SelfTransfer(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	sender := newWallet(uuid.New(), "1000000000001", 50000)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, sender.WalletNumber).Return(sender, nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: sender.WalletNumber,
		Amount:          100,
	})
	assertAppError(t, err, "PAY_008")
}

func TestWalletService_Transfer_SelfTransferCheckedBeforeBalance(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	sender := newWallet(uuid.New(), "1000000000001", 10)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, sender.WalletNumber).Return(sender, nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: sender.WalletNumber,
		Amount:          1000,
	})
	assertAppError(t, err, "PAY_008")
}

func TestWalletService_Transfer_InsufficientBalance(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	sender := newWallet(uuid.New(), "1000000000001", 20000)
	recipient := newWallet(uuid.New(), "2000000000002", 0)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, recipient.WalletNumber).Return(recipient, nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: recipient.WalletNumber,
		Amount:          20001,
	})
	assertAppError(t, err, "PAY_001")
}

func TestWalletService_Transfer_BalanceDrainedBeforeLock(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	tx := &mockTx{}
	sender := newWallet(uuid.New(), "1000000000001", 20000)
	recipient := newWallet(uuid.New(), "2000000000002", 0)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, recipient.WalletNumber).Return(recipient, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
			if id == sender.ID {
				drained := clone(sender)
				drained.Balance = 5000
				return drained, nil
			}
			return clone(recipient), nil
		},
	)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: recipient.WalletNumber,
		Amount:          15000,
	})
	assertAppError(t, err, "PAY_001")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestWalletService_Transfer_RollsBackOnLedgerFailure(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	tx := &mockTx{}
	sender := newWallet(uuid.New(), "1000000000001", 50000)
	recipient := newWallet(uuid.New(), "2000000000002", 0)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, recipient.WalletNumber).Return(recipient, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
			if id == sender.ID {
				return clone(sender), nil
			}
			return clone(recipient), nil
		},
	)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any(), gomock.Any()).Times(2).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(errors.New("disk full"))

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: recipient.WalletNumber,
		Amount:          20000,
	})
	assertAppError(t, err, "SYS_001")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestWalletService_Transfer_CommitFailure(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	tx := &mockTx{commitErr: errors.New("serialization failure")}
	sender := newWallet(uuid.New(), "1000000000001", 50000)
	recipient := newWallet(uuid.New(), "2000000000002", 0)

	d.walletRepo.EXPECT().GetByUserID(ctx, sender.UserID).Return(sender, nil)
	d.walletRepo.EXPECT().GetByNumber(ctx, recipient.WalletNumber).Return(recipient, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
			if id == sender.ID {
				return clone(sender), nil
			}
			return clone(recipient), nil
		},
	)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, gomock.Any(), gomock.Any()).Times(2).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Times(2).Return(nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    sender.UserID,
		RecipientNumber: recipient.WalletNumber,
		Amount:          20000,
	})
	assertAppError(t, err, "SYS_001")
	assert.True(t, tx.rolledBack)
}

func TestWalletService_Transfer_SenderWithoutWallet(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.walletRepo.EXPECT().GetByUserID(ctx, userID).Return(nil, nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SenderUserID:    userID,
		RecipientNumber: "2000000000002",
		Amount:          100,
	})
	assertAppError(t, err, "PAY_004")
}

// ==================== EnsureWallet ====================

func TestWalletService_EnsureWallet_Existing(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	existing := newWallet(uuid.New(), "1000000000001", 0)

	d.walletRepo.EXPECT().GetByUserID(ctx, existing.UserID).Return(existing, nil)

	w, err := d.svc.EnsureWallet(ctx, existing.UserID)
	require.NoError(t, err)
	assert.Same(t, existing, w)
}

func TestWalletService_EnsureWallet_Creates(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.walletRepo.EXPECT().GetByUserID(ctx, userID).Return(nil, nil)
	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, w *domain.Wallet) error {
			assert.Equal(t, userID, w.UserID)
			assert.True(t, domain.IsWalletNumber(w.WalletNumber))
			assert.Zero(t, w.Balance)
			return nil
		},
	)

	w, err := d.svc.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, w.UserID)
}

func TestWalletService_EnsureWallet_RetriesNumberCollision(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.walletRepo.EXPECT().GetByUserID(ctx, userID).Return(nil, nil)
	gomock.InOrder(
		d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(&domain.ConflictError{Field: "wallet_number"}),
		d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(&domain.ConflictError{Field: "wallet_number"}),
		d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil),
	)

	w, err := d.svc.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestWalletService_EnsureWallet_GivesUpAfterRetries(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.walletRepo.EXPECT().GetByUserID(ctx, userID).Return(nil, nil)
	d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Times(walletCreateAttempts).
		Return(&domain.ConflictError{Field: "wallet_number"})

	_, err := d.svc.EnsureWallet(ctx, userID)
	assertAppError(t, err, "SYS_001")
}

func TestWalletService_EnsureWallet_ConcurrentCreate(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	winner := newWallet(uuid.New(), "1000000000001", 0)

	gomock.InOrder(
		d.walletRepo.EXPECT().GetByUserID(ctx, winner.UserID).Return(nil, nil),
		d.walletRepo.EXPECT().Create(ctx, gomock.Any()).Return(&domain.ConflictError{Field: "user_id"}),
		d.walletRepo.EXPECT().GetByUserID(ctx, winner.UserID).Return(winner, nil),
	)

	w, err := d.svc.EnsureWallet(ctx, winner.UserID)
	require.NoError(t, err)
	assert.Same(t, winner, w)
}

// ==================== Reads ====================

func TestWalletService_ListTransactions_ClampsPaging(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	w := newWallet(uuid.New(), "1000000000001", 0)

	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{500, 10, 100, 10},
		{20, -3, 20, 0},
	}

	for _, tt := range tests {
		d.walletRepo.EXPECT().GetByUserID(ctx, w.UserID).Return(w, nil)
		d.txRepo.EXPECT().ListByWallet(ctx, ports.TransactionListParams{
			WalletID: w.ID,
			Limit:    tt.wantLimit,
			Offset:   tt.wantOffset,
		}).Return([]domain.Transaction{{Reference: "DEP-x"}}, int64(1), nil)

		txns, total, err := d.svc.ListTransactions(ctx, w.UserID, tt.limit, tt.offset)
		require.NoError(t, err)
		assert.Len(t, txns, 1)
		assert.Equal(t, int64(1), total)
	}
}

func TestWalletService_GetTransaction_Ownership(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	w := newWallet(uuid.New(), "1000000000001", 0)

	d.walletRepo.EXPECT().GetByUserID(ctx, w.UserID).Return(w, nil).Times(3)
	d.txRepo.EXPECT().GetByReference(ctx, "DEP-mine").Return(&domain.Transaction{WalletID: w.ID, Reference: "DEP-mine"}, nil)
	d.txRepo.EXPECT().GetByReference(ctx, "DEP-theirs").Return(&domain.Transaction{WalletID: uuid.New()}, nil)
	d.txRepo.EXPECT().GetByReference(ctx, "DEP-none").Return(nil, nil)

	txn, err := d.svc.GetTransaction(ctx, w.UserID, "DEP-mine")
	require.NoError(t, err)
	assert.Equal(t, "DEP-mine", txn.Reference)

	_, err = d.svc.GetTransaction(ctx, w.UserID, "DEP-theirs")
	assertAppError(t, err, "PAY_004")

	_, err = d.svc.GetTransaction(ctx, w.UserID, "DEP-none")
	assertAppError(t, err, "PAY_004")
}

func TestWalletService_GetBalance(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	w := newWallet(uuid.New(), "1000000000001", 12345)

	d.walletRepo.EXPECT().GetByUserID(ctx, w.UserID).Return(w, nil)
	got, err := d.svc.GetBalance(ctx, w.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got.Balance)

	other := uuid.New()
	d.walletRepo.EXPECT().GetByUserID(ctx, other).Return(nil, errors.New("conn reset"))
	_, err = d.svc.GetBalance(ctx, other)
	assertAppError(t, err, "SYS_001")
}
