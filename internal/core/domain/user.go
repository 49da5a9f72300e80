package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an account holder. PasswordHash is nil for accounts created
// through Google sign-in that never set a password.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	Username            string     `json:"username"`
	PasswordHash        *string    `json:"-"`
	IsActive            bool       `json:"is_active"`
	GoogleID            *string    `json:"-"`
	ResetTokenHash      *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// ResetTokenExpired reports whether the stored reset token is unusable at now.
func (u *User) ResetTokenExpired(now time.Time) bool {
	return u.ResetTokenExpiresAt == nil || !now.Before(*u.ResetTokenExpiresAt)
}

// ClearResetToken drops any pending password reset.
func (u *User) ClearResetToken() {
	u.ResetTokenHash = nil
	u.ResetTokenExpiresAt = nil
}
