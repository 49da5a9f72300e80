package ports

import (
	"context"
	"time"

	"wallet-service/internal/core/domain"

	"github.com/google/uuid"
)

// --- Infrastructure ports ---

// SignatureService handles HMAC-SHA512 signing and verification of webhook bodies.
type SignatureService interface {
	Sign(secretKey string, payload []byte) string
	Verify(secretKey string, payload []byte, signature string) bool
}

// HashService handles password hashing (Argon2id) and the fast digests
// stored for high-entropy secrets (API keys, reset tokens).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
	Digest(secret string) string
}

// TokenService issues and verifies bearer tokens.
// Validate returns AppErrors: Expired for stale tokens, Unauthenticated otherwise.
type TokenService interface {
	Generate(userID uuid.UUID) (*domain.IssuedToken, error)
	Validate(tokenString string) (*domain.TokenClaims, error)
}

// APIKeyCache is the process-local validation cache, indexed by secret hash and key id.
// Callers read Generation before a store lookup and hand it to Set, so an
// eviction that lands during the lookup is not undone.
type APIKeyCache interface {
	Get(hash string) (domain.APIKeyIdentity, bool)
	Generation() uint64
	Set(hash string, identity domain.APIKeyIdentity, gen uint64) bool
	DeleteByKeyID(keyID uuid.UUID)
}

// RevokedTokenCache is the shared fast path in front of the blacklist table.
type RevokedTokenCache interface {
	MarkRevoked(ctx context.Context, tokenID uuid.UUID, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID uuid.UUID) (bool, error)
}

// SettledDepositCache remembers deposit references that were already credited.
type SettledDepositCache interface {
	MarkSettled(ctx context.Context, reference string, ttl time.Duration) error
	IsSettled(ctx context.Context, reference string) (bool, error)
}

// PaymentGateway is the external hosted-payment provider.
type PaymentGateway interface {
	Initialize(ctx context.Context, req GatewayInitRequest) (*GatewayInitResult, error)
	Verify(ctx context.Context, reference string) (*GatewayVerifyResult, error)
}

type GatewayInitRequest struct {
	Email     string
	Amount    int64
	Reference string
}

type GatewayInitResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type GatewayVerifyResult struct {
	Reference string
	Status    string
	Amount    int64
	PaidAt    *time.Time
}

// GatewayCallError describes a failed gateway call. RequestSent is true when
// the request reached the wire, so the provider may have acted on it.
type GatewayCallError struct {
	Operation   string
	RequestSent bool
	TimedOut    bool
	StatusCode  int
	Err         error
}

func (e *GatewayCallError) Error() string {
	return "gateway " + e.Operation + ": " + e.Err.Error()
}

func (e *GatewayCallError) Unwrap() error {
	return e.Err
}

// OAuthIdentity is the verified profile returned by an OAuth provider.
type OAuthIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// OAuthProvider runs the authorization-code exchange.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*OAuthIdentity, error)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// AuthService is the credential store.
type AuthService interface {
	Signup(ctx context.Context, req SignupRequest) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*domain.IssuedToken, error)
	Logout(ctx context.Context, principal *domain.Principal) error
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
	OAuthLogin(ctx context.Context, identity *OAuthIdentity) (*domain.IssuedToken, error)
	Deactivate(ctx context.Context, principal *domain.Principal) error
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

type SignupRequest struct {
	Email    string
	Username string
	Password string
}

// RevocationService is the token revocation registry.
type RevocationService interface {
	Revoke(ctx context.Context, tokenID uuid.UUID, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID uuid.UUID) (bool, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// APIKeyService is the API key manager.
type APIKeyService interface {
	Issue(ctx context.Context, req IssueAPIKeyRequest) (*domain.APIKey, string, error)
	// Validate returns nil, nil for an unknown secret.
	Validate(ctx context.Context, secret string) (*domain.APIKeyIdentity, error)
	Revoke(ctx context.Context, ownerID, keyID uuid.UUID) error
	Delete(ctx context.Context, ownerID, keyID uuid.UUID) error
	List(ctx context.Context, ownerID uuid.UUID) ([]domain.APIKey, error)
	Rollover(ctx context.Context, ownerID, expiredKeyID uuid.UUID, expiry string) (*domain.APIKey, string, error)
	// InvalidateOwner drops every cached validation for the owner's keys.
	InvalidateOwner(ctx context.Context, ownerID uuid.UUID) error
}

type IssueAPIKeyRequest struct {
	OwnerID     uuid.UUID
	Name        string
	Permissions domain.PermissionSet
	Expiry      string
}

// WalletService is the wallet ledger.
type WalletService interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int64, error)
	GetTransaction(ctx context.Context, userID uuid.UUID, reference string) (*domain.Transaction, error)
}

type TransferRequest struct {
	SenderUserID    uuid.UUID
	RecipientNumber string
	Amount          int64
}

type TransferResult struct {
	Reference  string
	Debit      *domain.Transaction
	Credit     *domain.Transaction
	NewBalance int64
}

// DepositService is deposit reconciliation.
type DepositService interface {
	Initiate(ctx context.Context, userID uuid.UUID, amount int64) (*DepositIntent, error)
	ProcessWebhook(ctx context.Context, payload WebhookPayload) bool
	Status(ctx context.Context, userID uuid.UUID, reference string) (*DepositStatus, error)
}

type DepositIntent struct {
	Reference        string
	AuthorizationURL string
	Amount           int64
}

// WebhookPayload is the decoded gateway notification.
type WebhookPayload struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	PaidAt    string `json:"paid_at,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

type DepositStatus struct {
	Reference     string
	Status        domain.TransactionStatus
	Amount        int64
	GatewayStatus string
}

// AuthGate resolves inbound credentials into a principal.
type AuthGate interface {
	Resolve(ctx context.Context, bearer, apiKey string) (*domain.Principal, error)
}
