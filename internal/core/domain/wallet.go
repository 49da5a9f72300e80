package domain

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// WalletNumberLength is the number of digits in a public wallet number.
const WalletNumberLength = 13

// Wallet holds a user's balance in minor units. There is exactly one per user.
type Wallet struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	WalletNumber string    `json:"wallet_number"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CanDebit reports whether amount can leave the wallet without going negative.
func (w *Wallet) CanDebit(amount int64) bool {
	return amount > 0 && w.Balance >= amount
}

// GenerateWalletNumber draws a random 13-digit number with a non-zero lead digit.
func GenerateWalletNumber() (string, error) {
	return generateWalletNumber(rand.Reader)
}

func generateWalletNumber(r io.Reader) (string, error) {
	// [10^12, 10^13)
	lo := new(big.Int).Exp(big.NewInt(10), big.NewInt(WalletNumberLength-1), nil)
	span := new(big.Int).Sub(new(big.Int).Mul(lo, big.NewInt(10)), lo)

	n, err := rand.Int(r, span)
	if err != nil {
		return "", fmt.Errorf("generating wallet number: %w", err)
	}
	return n.Add(n, lo).String(), nil
}

// IsWalletNumber reports whether s is syntactically a wallet number.
func IsWalletNumber(s string) bool {
	if len(s) != WalletNumberLength || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
