package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumnList = `id, wallet_id, reference, type, amount, status, description, metadata, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a ledger entry. A nil tx inserts directly on the pool.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO transactions (` + transactionColumnList + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = on(r.pool, tx).Exec(ctx, query,
		t.ID, t.WalletID, t.Reference, t.Type, t.Amount, t.Status,
		t.Description, meta, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", asConflict(err))
	}
	return nil
}

// GetByReference fetches a transaction by its unique reference.
func (r *TransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumnList + ` FROM transactions WHERE reference = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, reference))
}

// GetByReferenceForUpdate fetches and row-locks a transaction by reference.
func (r *TransactionRepo) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumnList + ` FROM transactions WHERE reference = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, reference))
}

// ResolvePending moves a pending transaction to status and replaces its
// metadata. Rows that are missing or already final are left untouched and
// reported as false. A nil tx runs on the pool.
func (r *TransactionRepo) ResolvePending(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, metadata domain.Metadata) (bool, error) {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return false, err
	}

	query := `UPDATE transactions SET status = $1, metadata = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`

	tag, err := on(r.pool, tx).Exec(ctx, query, status, meta, id, domain.TransactionStatusPending)
	if err != nil {
		return false, fmt.Errorf("resolve pending transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByWallet fetches a wallet's transactions, newest first, plus the unpaged total.
func (r *TransactionRepo) ListByWallet(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", argIdx))
	args = append(args, params.WalletID)
	argIdx++

	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumnList, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0, params.Limit)
	for rows.Next() {
		t, err := scanTransactionFields(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionFields(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func scanTransactionFields(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var description *string
	var meta []byte
	err := row.Scan(
		&t.ID, &t.WalletID, &t.Reference, &t.Type, &t.Amount, &t.Status,
		&description, &meta, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description != nil {
		t.Description = *description
	}
	if t.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return t, nil
}

func encodeMetadata(m domain.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode transaction metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (domain.Metadata, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m domain.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode transaction metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
