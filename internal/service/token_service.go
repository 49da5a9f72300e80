package service

import (
	"errors"
	"fmt"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/pkg/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTTokenService implements ports.TokenService using HS256 JWT. Every
// token carries a random jti so it can be revoked individually.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

// NewJWTTokenService creates a new JWT token service.
func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
		now:    time.Now,
	}
}

// Generate creates a signed JWT for the given user.
func (s *JWTTokenService) Generate(userID uuid.UUID) (*domain.IssuedToken, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)
	jti := uuid.New()

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ID:        jti.String(),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &domain.IssuedToken{
		Token:     tokenString,
		TokenID:   jti,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate parses and verifies a token. Stale tokens yield an Expired
// AppError; every other failure is Unauthenticated.
func (s *JWTTokenService) Validate(tokenString string) (*domain.TokenClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.ErrExpired("token")
		}
		return nil, apperror.ErrUnauthenticated()
	}
	if !token.Valid {
		return nil, apperror.ErrUnauthenticated()
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperror.ErrUnauthenticated()
	}
	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, apperror.ErrUnauthenticated()
	}

	out := &domain.TokenClaims{
		UserID:    userID,
		TokenID:   jti,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
