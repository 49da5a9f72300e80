package dto

import (
	"fmt"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
)

// ---- Auth ----

// SignupRequest is the request body for account registration.
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Username string `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password string `json:"password" binding:"required,min=8,max=128,strong_password" sanitize:"-"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required" sanitize:"-"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required,hexadecimal"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=128,strong_password" sanitize:"-"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required" sanitize:"-"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=128,strong_password" sanitize:"-"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		Username:  u.Username,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// TokenResponse is returned by login and the OAuth callback.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func NewTokenResponse(t *domain.IssuedToken) TokenResponse {
	return TokenResponse{AccessToken: t.Token, TokenType: "bearer", ExpiresAt: t.ExpiresAt}
}

// ForgotPasswordResponse carries the reset token only when exposure is enabled.
type ForgotPasswordResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"reset_token,omitempty"`
}

// PrincipalResponse describes the authenticated caller.
type PrincipalResponse struct {
	Kind        string   `json:"kind"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	KeyID       string   `json:"key_id,omitempty"`
	KeyName     string   `json:"key_name,omitempty"`
}

func NewPrincipalResponse(p *domain.Principal) PrincipalResponse {
	r := PrincipalResponse{
		Kind:        string(p.Kind),
		UserID:      p.UserID.String(),
		Permissions: p.Permissions.Strings(),
	}
	if !p.IsUser() {
		r.KeyID = p.KeyID.String()
		r.KeyName = p.KeyName
	}
	return r
}

// ---- API keys ----

// CreateAPIKeyRequest is the request body for issuing a service key.
// Permissions default to read-only when omitted.
type CreateAPIKeyRequest struct {
	Name        string   `json:"name" binding:"required,min=1,max=100"`
	Permissions []string `json:"permissions" binding:"omitempty,dive,permission"`
	Expiry      string   `json:"expiry" binding:"omitempty,expiry"`
}

type RolloverAPIKeyRequest struct {
	ExpiredKeyID string `json:"expired_key_id" binding:"required,uuid"`
	Expiry       string `json:"expiry" binding:"omitempty,expiry"`
}

// APIKeyResponse describes a key. Key holds the plaintext secret and is only
// set in the response that created it.
type APIKeyResponse struct {
	ID          string     `json:"id"`
	Key         string     `json:"key,omitempty"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"key_prefix"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsRevoked   bool       `json:"is_revoked"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func NewAPIKeyResponse(k *domain.APIKey, secret string) APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID.String(),
		Key:         secret,
		Name:        k.Name,
		KeyPrefix:   k.KeyPrefix,
		Permissions: k.Permissions.Strings(),
		ExpiresAt:   k.ExpiresAt,
		IsRevoked:   k.IsRevoked,
		LastUsedAt:  k.LastUsedAt,
		CreatedAt:   k.CreatedAt,
	}
}

// ---- Wallet ----

type DepositRequest struct {
	Amount int64 `json:"amount" binding:"required,gte=100"`
}

type TransferRequest struct {
	WalletNumber string `json:"wallet_number" binding:"required,wallet_number"`
	Amount       int64  `json:"amount" binding:"required,gt=0"`
}

// BalanceResponse reports a wallet balance in minor units, with a
// display string in major units.
type BalanceResponse struct {
	WalletNumber     string `json:"wallet_number"`
	Balance          int64  `json:"balance"`
	BalanceFormatted string `json:"balance_formatted"`
}

func NewBalanceResponse(w *domain.Wallet) BalanceResponse {
	return BalanceResponse{
		WalletNumber:     w.WalletNumber,
		Balance:          w.Balance,
		BalanceFormatted: FormatMinor(w.Balance),
	}
}

type DepositResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
}

func NewDepositResponse(i *ports.DepositIntent) DepositResponse {
	return DepositResponse{
		Reference:        i.Reference,
		AuthorizationURL: i.AuthorizationURL,
		Amount:           i.Amount,
		Status:           string(domain.TransactionStatusPending),
	}
}

type DepositStatusResponse struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	GatewayStatus string `json:"gateway_status,omitempty"`
}

func NewDepositStatusResponse(s *ports.DepositStatus) DepositStatusResponse {
	return DepositStatusResponse{
		Reference:     s.Reference,
		Status:        string(s.Status),
		Amount:        s.Amount,
		GatewayStatus: s.GatewayStatus,
	}
}

type TransferResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Reference  string `json:"reference"`
	Amount     int64  `json:"amount"`
	NewBalance int64  `json:"new_balance"`
}

func NewTransferResponse(r *ports.TransferResult) TransferResponse {
	return TransferResponse{
		Status:     "success",
		Message:    "Transfer completed",
		Reference:  r.Reference,
		Amount:     r.Debit.Amount,
		NewBalance: r.NewBalance,
	}
}

// TransactionResponse is a single ledger entry.
type TransactionResponse struct {
	ID              string    `json:"id"`
	Reference       string    `json:"reference"`
	Type            string    `json:"type"`
	Amount          int64     `json:"amount"`
	AmountFormatted string    `json:"amount_formatted"`
	Status          string    `json:"status"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              t.ID.String(),
		Reference:       t.Reference,
		Type:            string(t.Type),
		Amount:          t.Amount,
		AmountFormatted: FormatMinor(t.Amount),
		Status:          string(t.Status),
		Description:     t.Description,
		CreatedAt:       t.CreatedAt,
	}
}

// TransactionListResponse wraps a page of transactions.
type TransactionListResponse struct {
	Items  []TransactionResponse `json:"items"`
	Total  int64                 `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// WebhookAck is the body of every authenticated webhook response.
type WebhookAck struct {
	Status bool `json:"status"`
}

// FormatMinor renders a minor-unit amount in major units with two decimals.
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
