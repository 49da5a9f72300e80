package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SettledDepositStore implements ports.SettledDepositCache. It lets repeated
// webhook deliveries for a credited deposit return early without a row lock.
type SettledDepositStore struct {
	client *goredis.Client
	prefix string
}

// NewSettledDepositStore creates a new Redis-backed settled-deposit cache.
func NewSettledDepositStore(client *goredis.Client) *SettledDepositStore {
	return &SettledDepositStore{
		client: client,
		prefix: "deposit:settled:",
	}
}

// MarkSettled remembers reference for ttl.
func (c *SettledDepositStore) MarkSettled(ctx context.Context, reference string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+reference, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis mark settled: %w", err)
	}
	return nil
}

// IsSettled reports whether reference was marked settled.
func (c *SettledDepositStore) IsSettled(ctx context.Context, reference string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+reference).Result()
	if err != nil {
		return false, fmt.Errorf("redis settled check: %w", err)
	}
	return n > 0, nil
}
