package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/metrics"
	"wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	walletCreateAttempts   = 5
	defaultTransactionPage = 50
	maxTransactionPage     = 100
)

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		log:        log,
		metrics:    metrics.Get(),
	}
}

// EnsureWallet returns the user's wallet, creating it on first use.
func (s *WalletServiceImpl) EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet != nil {
		return wallet, nil
	}

	for attempt := 1; attempt <= walletCreateAttempts; attempt++ {
		number, err := domain.GenerateWalletNumber()
		if err != nil {
			return nil, apperror.InternalError(err)
		}

		now := time.Now().UTC()
		wallet = &domain.Wallet{
			ID:           uuid.New(),
			UserID:       userID,
			WalletNumber: number,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err = s.walletRepo.Create(ctx, wallet)
		if err == nil {
			s.log.Info().
				Str("user_id", userID.String()).
				Str("wallet_id", wallet.ID.String()).
				Msg("wallet created")
			return wallet, nil
		}

		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
		}
		if conflict.Field == "user_id" {
			// a concurrent request created it first
			existing, err := s.walletRepo.GetByUserID(ctx, userID)
			if err != nil {
				return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
			}
			if existing != nil {
				return existing, nil
			}
		}
		s.log.Warn().Int("attempt", attempt).Msg("wallet number collision, retrying")
	}

	return nil, apperror.InternalError(errors.New("could not allocate a unique wallet number"))
}

// GetBalance returns the caller's wallet.
func (s *WalletServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.walletOf(ctx, userID)
}

// Transfer moves amount from the sender's wallet to the wallet numbered
// req.RecipientNumber. Both balance changes and both ledger legs commit
// together or not at all.
func (s *WalletServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	res, err := s.transfer(ctx, req)
	if err != nil {
		outcome := metrics.OutcomeRejected
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code == apperror.CodeInternal {
			outcome = metrics.OutcomeError
		}
		s.metrics.RecordTransfer(outcome, req.Amount)
		return nil, err
	}
	s.metrics.RecordTransfer(metrics.OutcomeSuccess, req.Amount)
	return res, nil
}

func (s *WalletServiceImpl) transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	sender, err := s.walletOf(ctx, req.SenderUserID)
	if err != nil {
		return nil, err
	}

	recipient, err := s.walletRepo.GetByNumber(ctx, req.RecipientNumber)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get recipient wallet: %w", err))
	}
	if recipient == nil {
		return nil, apperror.ErrRecipientNotFound()
	}
	if recipient.ID == sender.ID {
		return nil, apperror.ErrSelfTransfer()
	}
	if sender.Balance < req.Amount {
		return nil, apperror.ErrInsufficientBalance()
	}

	reference, err := domain.NewReference(domain.TransferReferencePrefix)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock in id order so opposing transfers cannot deadlock.
	first, second := sender.ID, recipient.ID
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}
	locked := make(map[uuid.UUID]*domain.Wallet, 2)
	for _, id := range []uuid.UUID{first, second} {
		w, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
		}
		if w == nil {
			return nil, apperror.ErrNotFound("wallet")
		}
		locked[id] = w
	}
	sender, recipient = locked[sender.ID], locked[recipient.ID]

	// Re-check under lock; a concurrent debit may have landed.
	if !sender.CanDebit(req.Amount) {
		return nil, apperror.ErrInsufficientBalance()
	}

	senderBalance := sender.Balance - req.Amount
	recipientBalance := recipient.Balance + req.Amount

	if err := s.walletRepo.UpdateBalance(ctx, dbTx, sender.ID, senderBalance); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("debit sender: %w", err))
	}
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, recipient.ID, recipientBalance); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("credit recipient: %w", err))
	}

	now := time.Now().UTC()
	outRef, inRef := domain.TransferLegReferences(reference)
	debit := &domain.Transaction{
		ID:          uuid.New(),
		WalletID:    sender.ID,
		Reference:   outRef,
		Type:        domain.TransactionTypeTransferOut,
		Amount:      req.Amount,
		Status:      domain.TransactionStatusSuccess,
		Description: "Transfer to " + recipient.WalletNumber,
		Metadata: domain.Metadata{
			"recipient_wallet":  recipient.WalletNumber,
			"recipient_user_id": recipient.UserID.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	credit := &domain.Transaction{
		ID:          uuid.New(),
		WalletID:    recipient.ID,
		Reference:   inRef,
		Type:        domain.TransactionTypeTransferIn,
		Amount:      req.Amount,
		Status:      domain.TransactionStatusSuccess,
		Description: "Transfer from " + sender.WalletNumber,
		Metadata: domain.Metadata{
			"sender_wallet":  sender.WalletNumber,
			"sender_user_id": sender.UserID.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.txRepo.Create(ctx, dbTx, debit); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record debit: %w", err))
	}
	if err := s.txRepo.Create(ctx, dbTx, credit); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record credit: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("reference", reference).
		Str("wallet_id", sender.ID.String()).
		Str("recipient_wallet_id", recipient.ID.String()).
		Int64("amount", req.Amount).
		Msg("transfer completed")

	return &ports.TransferResult{
		Reference:  reference,
		Debit:      debit,
		Credit:     credit,
		NewBalance: senderBalance,
	}, nil
}

// ListTransactions pages through the caller's ledger, newest first.
func (s *WalletServiceImpl) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int64, error) {
	wallet, err := s.walletOf(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = defaultTransactionPage
	}
	if limit > maxTransactionPage {
		limit = maxTransactionPage
	}
	if offset < 0 {
		offset = 0
	}

	txns, total, err := s.txRepo.ListByWallet(ctx, ports.TransactionListParams{
		WalletID: wallet.ID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, total, nil
}

// GetTransaction returns one of the caller's own ledger entries.
func (s *WalletServiceImpl) GetTransaction(ctx context.Context, userID uuid.UUID, reference string) (*domain.Transaction, error) {
	wallet, err := s.walletOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	txn, err := s.txRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil || txn.WalletID != wallet.ID {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

func (s *WalletServiceImpl) walletOf(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}
