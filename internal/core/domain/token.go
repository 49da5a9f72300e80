package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenClaims is the verified content of a bearer token.
type TokenClaims struct {
	UserID    uuid.UUID
	TokenID   uuid.UUID // jti
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuedToken is a freshly signed bearer token.
type IssuedToken struct {
	Token     string
	TokenID   uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// RevokedToken is a blacklist entry, kept until the token would have expired anyway.
type RevokedToken struct {
	TokenID   uuid.UUID
	ExpiresAt time.Time
	RevokedAt time.Time
}
