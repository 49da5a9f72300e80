package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumnList = `id, email, username, password_hash, is_active, google_id,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Create inserts a new user. A duplicate email or username returns a
// *domain.ConflictError.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (` + userColumnList + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		u.ID, u.Email, u.Username, u.PasswordHash, u.IsActive, u.GoogleID,
		u.ResetTokenHash, u.ResetTokenExpiresAt, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", asConflict(err))
	}
	return nil
}

// GetByID fetches a user by UUID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail fetches a user by email address.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "email", email)
}

// GetByUsername fetches a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, "username", username)
}

// GetByGoogleID fetches a user linked to a Google account subject.
func (r *UserRepo) GetByGoogleID(ctx context.Context, googleID string) (*domain.User, error) {
	return r.getBy(ctx, "google_id", googleID)
}

// GetByResetTokenHash fetches the user holding a pending password reset.
func (r *UserRepo) GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return r.getBy(ctx, "reset_token_hash", hash)
}

// LockByID row-locks a user for the rest of tx.
func (r *UserRepo) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumnList + ` FROM users WHERE id = $1 FOR UPDATE`
	u, err := scanUser(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return u, nil
}

// Update writes every mutable column of a user.
func (r *UserRepo) Update(ctx context.Context, u *domain.User) error {
	query := `UPDATE users
		SET email=$1, username=$2, password_hash=$3, is_active=$4, google_id=$5,
			reset_token_hash=$6, reset_token_expires_at=$7, updated_at=NOW()
		WHERE id=$8`
	tag, err := r.pool.Exec(ctx, query,
		u.Email, u.Username, u.PasswordHash, u.IsActive, u.GoogleID,
		u.ResetTokenHash, u.ResetTokenExpiresAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", u.ID)
	}
	return nil
}

// column is always one of the constant names above, never caller input.
func (r *UserRepo) getBy(ctx context.Context, column string, value any) (*domain.User, error) {
	query := `SELECT ` + userColumnList + ` FROM users WHERE ` + column + ` = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, query, value))
	if err != nil {
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.IsActive, &u.GoogleID,
		&u.ResetTokenHash, &u.ResetTokenExpiresAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}
