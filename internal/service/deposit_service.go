package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/metrics"
	"wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	// MinDepositAmount is the smallest deposit accepted, in minor units.
	MinDepositAmount int64 = 100

	chargeSuccessEvent = "charge.success"
	settledDepositTTL  = 72 * time.Hour
)

// DepositServiceImpl implements ports.DepositService.
type DepositServiceImpl struct {
	userRepo   ports.UserRepository
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	gateway    ports.PaymentGateway
	settled    ports.SettledDepositCache
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewDepositService creates a new DepositServiceImpl. settled may be nil.
func NewDepositService(
	userRepo ports.UserRepository,
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	gateway ports.PaymentGateway,
	settled ports.SettledDepositCache,
	log zerolog.Logger,
) *DepositServiceImpl {
	return &DepositServiceImpl{
		userRepo:   userRepo,
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		gateway:    gateway,
		settled:    settled,
		log:        log,
		metrics:    metrics.Get(),
	}
}

// Initiate records a pending deposit and asks the gateway for a checkout URL.
// The pending row is written before the gateway is called so a webhook that
// races the response always finds it.
func (s *DepositServiceImpl) Initiate(ctx context.Context, userID uuid.UUID, amount int64) (*ports.DepositIntent, error) {
	if amount < MinDepositAmount {
		s.metrics.RecordDepositInitiation(metrics.OutcomeRejected)
		return nil, apperror.Validation(fmt.Sprintf("Minimum deposit is %d", MinDepositAmount))
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	reference, err := domain.NewReference(domain.DepositReferencePrefix)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:          uuid.New(),
		WalletID:    wallet.ID,
		Reference:   reference,
		Type:        domain.TransactionTypeDeposit,
		Amount:      amount,
		Status:      domain.TransactionStatusPending,
		Description: "Deposit via Paystack",
		Metadata:    domain.Metadata{"email": user.Email},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.txRepo.Create(ctx, nil, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create pending deposit: %w", err))
	}

	result, err := s.gateway.Initialize(ctx, ports.GatewayInitRequest{
		Email:     user.Email,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		s.handleInitFailure(ctx, txn, err)
		s.metrics.RecordDepositInitiation(metrics.OutcomeError)
		return nil, apperror.ErrGateway(err)
	}

	s.metrics.RecordDepositInitiation(metrics.OutcomeSuccess)
	s.log.Info().
		Str("reference", reference).
		Str("wallet_id", wallet.ID.String()).
		Int64("amount", amount).
		Msg("deposit initiated")

	return &ports.DepositIntent{
		Reference:        reference,
		AuthorizationURL: result.AuthorizationURL,
		Amount:           amount,
	}, nil
}

// handleInitFailure decides the fate of the pending row after a failed
// gateway call. A timeout after the request hit the wire is ambiguous, so
// the row stays pending for the webhook to settle.
func (s *DepositServiceImpl) handleInitFailure(ctx context.Context, txn *domain.Transaction, callErr error) {
	var gwErr *ports.GatewayCallError
	if errors.As(callErr, &gwErr) && gwErr.RequestSent && gwErr.TimedOut {
		s.log.Warn().
			Err(callErr).
			Str("reference", txn.Reference).
			Msg("gateway timed out after request was sent, leaving deposit pending")
		return
	}

	meta := txn.MergeMetadata(domain.Metadata{"error": callErr.Error()})
	resolved, err := s.txRepo.ResolvePending(context.WithoutCancel(ctx), nil, txn.ID, domain.TransactionStatusFailed, meta)
	if err != nil {
		s.log.Error().Err(err).Str("reference", txn.Reference).Msg("failed to mark deposit as failed")
		return
	}
	if !resolved {
		// a webhook got there first; its outcome stands
		s.log.Warn().Err(callErr).Str("reference", txn.Reference).Msg("deposit already resolved, gateway error ignored")
		return
	}
	s.log.Warn().Err(callErr).Str("reference", txn.Reference).Msg("deposit initiation failed")
}

// ProcessWebhook applies a charge notification. It returns true when the
// reference is (now or already) credited, false otherwise. Repeated
// deliveries credit the wallet at most once.
func (s *DepositServiceImpl) ProcessWebhook(ctx context.Context, payload ports.WebhookPayload) bool {
	ok, outcome := s.processWebhook(ctx, payload)
	s.metrics.RecordWebhook(outcome)
	return ok
}

func (s *DepositServiceImpl) processWebhook(ctx context.Context, payload ports.WebhookPayload) (bool, string) {
	data := payload.Data
	if payload.Event != chargeSuccessEvent || data.Reference == "" || data.Status != "success" {
		s.log.Debug().Str("event", payload.Event).Str("reference", data.Reference).Msg("webhook ignored")
		return false, metrics.OutcomeIgnored
	}

	log := s.log.With().Str("reference", data.Reference).Logger()

	if s.settled != nil {
		hit, err := s.settled.IsSettled(ctx, data.Reference)
		if err != nil {
			log.Warn().Err(err).Msg("settled-deposit cache check failed, falling through to DB")
		}
		if hit {
			return true, metrics.OutcomeReplay
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("webhook: begin tx")
		return false, metrics.OutcomeError
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByReferenceForUpdate(ctx, dbTx, data.Reference)
	if err != nil {
		log.Error().Err(err).Msg("webhook: lock transaction")
		return false, metrics.OutcomeError
	}
	if txn == nil || txn.Type != domain.TransactionTypeDeposit {
		log.Warn().Msg("webhook for unknown deposit reference")
		return false, metrics.OutcomeRejected
	}

	if txn.Status == domain.TransactionStatusSuccess {
		s.markSettled(ctx, data.Reference)
		return true, metrics.OutcomeReplay
	}
	if !txn.CanTransitionTo(domain.TransactionStatusSuccess) {
		log.Warn().Str("status", string(txn.Status)).Msg("webhook for resolved deposit ignored")
		return false, metrics.OutcomeRejected
	}

	if data.Amount != txn.Amount {
		meta := txn.MergeMetadata(domain.Metadata{
			"error":    "Amount mismatch",
			"expected": strconv.FormatInt(txn.Amount, 10),
			"received": strconv.FormatInt(data.Amount, 10),
		})
		if err := s.resolveLocked(ctx, dbTx, txn, domain.TransactionStatusFailed, meta); err != nil {
			log.Error().Err(err).Msg("webhook: mark amount mismatch")
			return false, metrics.OutcomeError
		}
		if err := dbTx.Commit(ctx); err != nil {
			log.Error().Err(err).Msg("webhook: commit amount mismatch")
			return false, metrics.OutcomeError
		}
		log.Warn().
			Int64("expected", txn.Amount).
			Int64("received", data.Amount).
			Msg("deposit amount mismatch, marked failed")
		return false, metrics.OutcomeRejected
	}

	meta := txn.MergeMetadata(domain.Metadata{
		"paystack_reference": data.ID,
		"processed_at":       time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.resolveLocked(ctx, dbTx, txn, domain.TransactionStatusSuccess, meta); err != nil {
		log.Error().Err(err).Msg("webhook: mark success")
		return false, metrics.OutcomeError
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, txn.WalletID)
	if err != nil || wallet == nil {
		log.Error().Err(err).Str("wallet_id", txn.WalletID.String()).Msg("webhook: lock wallet")
		return false, metrics.OutcomeError
	}
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, wallet.ID, wallet.Balance+txn.Amount); err != nil {
		log.Error().Err(err).Msg("webhook: credit wallet")
		return false, metrics.OutcomeError
	}

	if err := dbTx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("webhook: commit credit")
		return false, metrics.OutcomeError
	}

	s.markSettled(ctx, data.Reference)

	log.Info().
		Str("wallet_id", wallet.ID.String()).
		Int64("amount", txn.Amount).
		Msg("deposit credited")
	return true, metrics.OutcomeSuccess
}

func (s *DepositServiceImpl) markSettled(ctx context.Context, reference string) {
	if s.settled == nil {
		return
	}
	if err := s.settled.MarkSettled(ctx, reference, settledDepositTTL); err != nil {
		s.log.Warn().Err(err).Str("reference", reference).Msg("failed to cache settled deposit")
	}
}

// Status reports a deposit's local status. While still pending the gateway
// is asked as well; its answer is reported but never credited here.
func (s *DepositServiceImpl) Status(ctx context.Context, userID uuid.UUID, reference string) (*ports.DepositStatus, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	txn, err := s.txRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil || txn.WalletID != wallet.ID || txn.Type != domain.TransactionTypeDeposit {
		return nil, apperror.ErrNotFound("deposit")
	}

	status := &ports.DepositStatus{
		Reference: txn.Reference,
		Status:    txn.Status,
		Amount:    txn.Amount,
	}
	if txn.IsTerminal() {
		return status, nil
	}

	verified, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.log.Warn().Err(err).Str("reference", reference).Msg("gateway verify failed")
		return status, nil
	}
	status.GatewayStatus = verified.Status
	return status, nil
}

// resolveLocked finalizes a row the caller holds FOR UPDATE, so it must
// still be pending.
func (s *DepositServiceImpl) resolveLocked(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction, status domain.TransactionStatus, meta domain.Metadata) error {
	resolved, err := s.txRepo.ResolvePending(ctx, dbTx, txn.ID, status, meta)
	if err != nil {
		return err
	}
	if !resolved {
		return fmt.Errorf("transaction %s left pending state under lock", txn.Reference)
	}
	return nil
}
