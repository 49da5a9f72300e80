package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeTransferIn  TransactionType = "transfer_in"
	TransactionTypeTransferOut TransactionType = "transfer_out"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

const (
	DepositReferencePrefix  = "DEP-"
	TransferReferencePrefix = "TRF-"
)

// Metadata is free-form side data stored as jsonb.
type Metadata map[string]any

// Transaction is a ledger entry belonging to one wallet. Amount is in minor units.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	WalletID    uuid.UUID         `json:"wallet_id"`
	Reference   string            `json:"reference"`
	Type        TransactionType   `json:"type"`
	Amount      int64             `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description,omitempty"`
	Metadata    Metadata          `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusSuccess || t.Status == TransactionStatusFailed
}

// CanTransitionTo enforces pending -> {success, failed}.
func (t *Transaction) CanTransitionTo(next TransactionStatus) bool {
	return t.Status == TransactionStatusPending &&
		(next == TransactionStatusSuccess || next == TransactionStatusFailed)
}

// MergeMetadata returns a copy of the metadata with extra applied on top.
func (t *Transaction) MergeMetadata(extra Metadata) Metadata {
	out := make(Metadata, len(t.Metadata)+len(extra))
	for k, v := range t.Metadata {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// NewReference returns prefix followed by 22 URL-safe random characters.
func NewReference(prefix string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating reference: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// TransferLegReferences derives the debit and credit leg references of a transfer.
func TransferLegReferences(ref string) (out, in string) {
	return ref + "-OUT", ref + "-IN"
}
