package postgres

import (
	"context"
	"errors"

	"wallet-service/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool the repositories use. pgxmock pools
// satisfy it too.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// on picks tx when the caller is inside a transaction, the pool otherwise.
func on(pool Pool, tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return pool
}

const uniqueViolation = "23505"

// Unique constraint names from migrations/001_init.up.sql.
const (
	ConstraintUserEmail    = "users_email_key"
	ConstraintUserUsername = "users_username_key"
	ConstraintUserGoogleID = "users_google_id_key"
	ConstraintWalletNumber = "wallets_wallet_number_key"
	ConstraintWalletUser   = "wallets_user_id_key"
	ConstraintAPIKeyName   = "api_keys_user_id_name_key"
	ConstraintAPIKeyHash   = "api_keys_key_hash_key"
	ConstraintTxReference  = "transactions_reference_key"
)

// conflictFields maps constraint names to the attribute reported in a
// domain.ConflictError.
var conflictFields = map[string]string{
	ConstraintUserEmail:    "email",
	ConstraintUserUsername: "username",
	ConstraintUserGoogleID: "google_id",
	ConstraintWalletNumber: "wallet_number",
	ConstraintWalletUser:   "user_id",
	ConstraintAPIKeyName:   "name",
	ConstraintAPIKeyHash:   "key_hash",
	ConstraintTxReference:  "reference",
}

// asConflict turns a unique violation into a *domain.ConflictError and
// passes anything else through.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	field, ok := conflictFields[pgErr.ConstraintName]
	if !ok {
		field = pgErr.ConstraintName
	}
	return &domain.ConflictError{Field: field}
}
