package postgres

import (
	"context"
	"fmt"
	"time"

	"wallet-service/internal/core/domain"

	"github.com/google/uuid"
)

// TokenBlacklistRepo implements ports.TokenBlacklistRepository.
type TokenBlacklistRepo struct {
	pool Pool
}

// NewTokenBlacklistRepo creates a new TokenBlacklistRepo.
func NewTokenBlacklistRepo(pool Pool) *TokenBlacklistRepo {
	return &TokenBlacklistRepo{pool: pool}
}

// Add blacklists a token id. Adding the same id twice keeps the first entry.
func (r *TokenBlacklistRepo) Add(ctx context.Context, e *domain.RevokedToken) error {
	query := `INSERT INTO token_blacklist (token_id, expires_at, revoked_at)
		VALUES ($1, $2, $3) ON CONFLICT (token_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, e.TokenID, e.ExpiresAt, e.RevokedAt); err != nil {
		return fmt.Errorf("insert token blacklist entry: %w", err)
	}
	return nil
}

// Exists reports whether the token id is blacklisted.
func (r *TokenBlacklistRepo) Exists(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM token_blacklist WHERE token_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, tokenID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check token blacklist: %w", err)
	}
	return exists, nil
}

// PurgeExpired drops entries whose tokens would already fail validation.
func (r *TokenBlacklistRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM token_blacklist WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge token blacklist: %w", err)
	}
	return tag.RowsAffected(), nil
}
