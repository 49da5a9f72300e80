package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIKeySecretPrefix marks plaintext service keys.
const APIKeySecretPrefix = "sk_live_"

// APIKey is a service credential. Only the SHA-256 hash of the secret is kept.
type APIKey struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	Name        string        `json:"name"`
	KeyHash     string        `json:"-"`
	KeyPrefix   string        `json:"key_prefix"`
	Permissions PermissionSet `json:"permissions"`
	ExpiresAt   time.Time     `json:"expires_at"`
	IsRevoked   bool          `json:"is_revoked"`
	LastUsedAt  *time.Time    `json:"last_used_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// IsExpired reports whether the key is past its expiry at now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// IsActive counts toward the per-owner quota: not revoked and not expired.
func (k *APIKey) IsActive(now time.Time) bool {
	return !k.IsRevoked && !k.IsExpired(now)
}

// Identity is the cacheable outcome of validating a secret.
func (k *APIKey) Identity() APIKeyIdentity {
	return APIKeyIdentity{
		KeyID:       k.ID,
		UserID:      k.UserID,
		Name:        k.Name,
		Permissions: k.Permissions,
		ExpiresAt:   k.ExpiresAt,
	}
}

// APIKeyIdentity is what a validated service key resolves to.
type APIKeyIdentity struct {
	KeyID       uuid.UUID
	UserID      uuid.UUID
	Name        string
	Permissions PermissionSet
	ExpiresAt   time.Time
}

// MaxExpiry bounds how far in the future a key may expire.
const MaxExpiry = 100 * 365 * 24 * time.Hour

// ParseExpiry turns a spec such as "1H", "7D", "1M" or "1Y" into a duration.
// Months are 30 days and years are 365 days. The amount is plain digits and
// the result may not exceed MaxExpiry.
func ParseExpiry(spec string) (time.Duration, error) {
	spec = strings.ToUpper(strings.TrimSpace(spec))
	if len(spec) < 2 {
		return 0, fmt.Errorf("invalid expiry %q", spec)
	}

	digits := spec[:len(spec)-1]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid expiry amount in %q", spec)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid expiry amount in %q", spec)
	}

	day := 24 * time.Hour
	var unit time.Duration
	switch spec[len(spec)-1] {
	case 'H':
		unit = time.Hour
	case 'D':
		unit = day
	case 'M':
		unit = 30 * day
	case 'Y':
		unit = 365 * day
	default:
		return 0, fmt.Errorf("invalid expiry unit in %q", spec)
	}

	if n > int64(MaxExpiry/unit) {
		return 0, fmt.Errorf("expiry %q exceeds %d years", spec, int64(MaxExpiry/(365*day)))
	}
	return time.Duration(n) * unit, nil
}
