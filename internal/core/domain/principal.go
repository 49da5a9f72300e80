package domain

import (
	"time"

	"github.com/google/uuid"
)

// PrincipalKind distinguishes human sessions from service keys.
type PrincipalKind string

const (
	PrincipalUser    PrincipalKind = "user"
	PrincipalService PrincipalKind = "service"
)

// Principal is an authenticated caller.
type Principal struct {
	Kind        PrincipalKind
	UserID      uuid.UUID
	Permissions PermissionSet

	// bearer-token sessions
	TokenID        uuid.UUID
	TokenExpiresAt time.Time

	// API-key sessions
	KeyID   uuid.UUID
	KeyName string
}

// Can reports whether the principal may exercise p.
func (p *Principal) Can(perm Permission) bool {
	if p.Kind == PrincipalUser {
		return true
	}
	return p.Permissions.Has(perm)
}

func (p *Principal) IsUser() bool {
	return p.Kind == PrincipalUser
}
