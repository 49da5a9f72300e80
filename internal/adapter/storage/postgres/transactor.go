package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor. Every transaction it opens
// carries a lock_timeout, so a wallet row held by a stuck transfer fails
// the waiting request instead of pinning a pool connection.
type Transactor struct {
	pool        Pool
	lockTimeout time.Duration
}

// NewTransactor wraps pool. A zero lockTimeout leaves the server default.
func NewTransactor(pool Pool, lockTimeout time.Duration) *Transactor {
	return &Transactor{pool: pool, lockTimeout: lockTimeout}
}

// Begin starts a transaction and applies the lock timeout to it.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if t.lockTimeout <= 0 {
		return tx, nil
	}

	// SET takes no bind parameters
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", t.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, stmt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}
	return tx, nil
}
