package ports

import (
	"context"
	"time"

	"wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Methods taking a pgx.Tx run inside the caller's transaction. Where noted,
// a nil tx runs the statement directly on the pool.

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*domain.User, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error)
	// LockByID row-locks the user; used to serialize API key issuance per owner.
	LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

// APIKeyRepository defines persistence operations for service keys.
type APIKeyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, key *domain.APIKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.APIKey, error)
	// GetByHash looks among non-revoked keys only.
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.APIKey, error)
	CountActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (int, error)
	NameExists(ctx context.Context, tx pgx.Tx, userID uuid.UUID, name string) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	// Delete accepts a nil tx.
	Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TokenBlacklistRepository is the durable store of revoked bearer tokens.
type TokenBlacklistRepository interface {
	// Add is idempotent on the token id.
	Add(ctx context.Context, entry *domain.RevokedToken) error
	Exists(ctx context.Context, tokenID uuid.UUID) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// WalletRepository defines persistence operations for wallets.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByNumber(ctx context.Context, number string) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance int64) error
}

// TransactionRepository defines persistence operations for ledger entries.
type TransactionRepository interface {
	// Create accepts a nil tx.
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error)
	// ResolvePending moves a pending row to status and replaces its metadata.
	// It reports false when the row is missing or no longer pending, since
	// success and failed are final. Accepts a nil tx.
	ResolvePending(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, metadata domain.Metadata) (bool, error)
	ListByWallet(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	WalletID uuid.UUID
	Type     *domain.TransactionType
	Status   *domain.TransactionStatus
	Limit    int
	Offset   int
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
