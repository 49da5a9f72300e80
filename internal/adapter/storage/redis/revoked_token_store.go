package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RevokedTokenStore implements ports.RevokedTokenCache. Entries expire on
// their own once the token could no longer validate.
type RevokedTokenStore struct {
	client *goredis.Client
	prefix string
}

// NewRevokedTokenStore creates a new Redis-backed revoked-token cache.
func NewRevokedTokenStore(client *goredis.Client) *RevokedTokenStore {
	return &RevokedTokenStore{
		client: client,
		prefix: "revoked:jti:",
	}
}

// MarkRevoked records tokenID for ttl. A non-positive ttl is a no-op.
func (s *RevokedTokenStore) MarkRevoked(ctx context.Context, tokenID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	err := s.client.SetArgs(ctx, s.prefix+tokenID.String(), 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis mark revoked: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID is cached as revoked. A miss is not
// proof the token is live; callers fall back to the blacklist table.
func (s *RevokedTokenStore) IsRevoked(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+tokenID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis revoked check: %w", err)
	}
	return n > 0, nil
}
