package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const apiKeyColumnList = `id, user_id, name, key_hash, key_prefix, permissions, expires_at, is_revoked, last_used_at, created_at`

// APIKeyRepo implements ports.APIKeyRepository. Permissions are stored as a
// text[] of permission names.
type APIKeyRepo struct {
	pool Pool
}

// NewAPIKeyRepo creates a new APIKeyRepo.
func NewAPIKeyRepo(pool Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// Create inserts a key inside tx. A duplicate name for the same owner
// returns a *domain.ConflictError.
func (r *APIKeyRepo) Create(ctx context.Context, tx pgx.Tx, k *domain.APIKey) error {
	query := `INSERT INTO api_keys (` + apiKeyColumnList + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := on(r.pool, tx).Exec(ctx, query,
		k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.Permissions.Strings(),
		k.ExpiresAt, k.IsRevoked, k.LastUsedAt, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", asConflict(err))
	}
	return nil
}

// GetByID fetches a key by UUID, revoked or not.
func (r *APIKeyRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumnList + ` FROM api_keys WHERE id = $1`
	k, err := scanAPIKey(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get api key by id: %w", err)
	}
	return k, nil
}

// GetByHash fetches a non-revoked key by the hash of its secret.
func (r *APIKeyRepo) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumnList + ` FROM api_keys WHERE key_hash = $1 AND is_revoked = FALSE`
	k, err := scanAPIKey(r.pool.QueryRow(ctx, query, hash))
	if err != nil {
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

// ListByUser returns every key the user owns, newest first.
func (r *APIKeyRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumnList + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []domain.APIKey{}
	for rows.Next() {
		k, err := scanAPIKeyFields(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key row: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api key rows: %w", err)
	}
	return keys, nil
}

// CountActive counts the user's keys that are neither revoked nor expired at now.
func (r *APIKeyRepo) CountActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND is_revoked = FALSE AND expires_at > $2`

	var n int
	if err := on(r.pool, tx).QueryRow(ctx, query, userID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active api keys: %w", err)
	}
	return n, nil
}

// NameExists reports whether the user already has a key with this name.
func (r *APIKeyRepo) NameExists(ctx context.Context, tx pgx.Tx, userID uuid.UUID, name string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM api_keys WHERE user_id = $1 AND name = $2)`

	var exists bool
	if err := on(r.pool, tx).QueryRow(ctx, query, userID, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check api key name: %w", err)
	}
	return exists, nil
}

// Revoke marks a key revoked. Revoking twice is a no-op.
func (r *APIKeyRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE api_keys SET is_revoked = TRUE WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key not found: %s", id)
	}
	return nil
}

// Delete removes a key. A nil tx runs on the pool.
func (r *APIKeyRepo) Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := on(r.pool, tx).Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key not found: %s", id)
	}
	return nil
}

// TouchLastUsed records a successful validation.
func (r *APIKeyRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

func scanAPIKey(row pgx.Row) (*domain.APIKey, error) {
	k, err := scanAPIKeyFields(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return k, nil
}

func scanAPIKeyFields(row pgx.Row) (*domain.APIKey, error) {
	k := &domain.APIKey{}
	var perms []string
	err := row.Scan(
		&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &perms,
		&k.ExpiresAt, &k.IsRevoked, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if k.Permissions, err = domain.ParsePermissions(perms); err != nil {
		return nil, fmt.Errorf("api key %s: %w", k.ID, err)
	}
	return k, nil
}
