package service

import (
	"context"
	"fmt"
	"net/http"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/pkg/apperror"

	"github.com/rs/zerolog"
)

// AuthGateImpl implements ports.AuthGate.
type AuthGateImpl struct {
	tokenSvc   ports.TokenService
	revocation ports.RevocationService
	userRepo   ports.UserRepository
	apiKeys    ports.APIKeyService
	log        zerolog.Logger
}

// NewAuthGate creates a new AuthGateImpl.
func NewAuthGate(
	tokenSvc ports.TokenService,
	revocation ports.RevocationService,
	userRepo ports.UserRepository,
	apiKeys ports.APIKeyService,
	log zerolog.Logger,
) *AuthGateImpl {
	return &AuthGateImpl{
		tokenSvc:   tokenSvc,
		revocation: revocation,
		userRepo:   userRepo,
		apiKeys:    apiKeys,
		log:        log,
	}
}

// Resolve turns the presented credentials into a principal. A valid bearer
// token takes precedence over an API key when both are sent. A bearer that
// fails validation falls through to the API key, unless it was revoked or
// the lookup itself failed.
func (g *AuthGateImpl) Resolve(ctx context.Context, bearer, apiKey string) (*domain.Principal, error) {
	if bearer != "" {
		principal, err := g.resolveBearer(ctx, bearer)
		if err == nil || apiKey == "" || !bearerFallsThrough(err) {
			return principal, err
		}
		g.log.Debug().Err(err).Msg("bearer rejected, trying API key")
	}
	if apiKey != "" {
		return g.resolveAPIKey(ctx, apiKey)
	}
	return nil, apperror.ErrUnauthenticated()
}

func (g *AuthGateImpl) resolveBearer(ctx context.Context, bearer string) (*domain.Principal, error) {
	claims, err := g.tokenSvc.Validate(bearer)
	if err != nil {
		return nil, err
	}

	revoked, err := g.revocation.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}
	if revoked {
		g.log.Debug().Str("jti", claims.TokenID.String()).Msg("revoked token presented")
		return nil, apperror.ErrTokenRevoked()
	}

	user, err := g.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load principal: %w", err))
	}
	if user == nil || !user.IsActive {
		return nil, apperror.ErrUnauthenticated()
	}

	return &domain.Principal{
		Kind:           domain.PrincipalUser,
		UserID:         user.ID,
		Permissions:    domain.AllPermissions,
		TokenID:        claims.TokenID,
		TokenExpiresAt: claims.ExpiresAt,
	}, nil
}

func bearerFallsThrough(err error) bool {
	return !apperror.HasCode(err, apperror.CodeTokenRevoked) && !apperror.HasCode(err, apperror.CodeInternal)
}

func (g *AuthGateImpl) resolveAPIKey(ctx context.Context, secret string) (*domain.Principal, error) {
	identity, err := g.apiKeys.Validate(ctx, secret)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, apperror.ErrUnauthenticated()
	}

	return &domain.Principal{
		Kind:        domain.PrincipalService,
		UserID:      identity.UserID,
		Permissions: identity.Permissions,
		KeyID:       identity.KeyID,
		KeyName:     identity.Name,
	}, nil
}

// RequirePermission fails with Unauthorized unless the principal holds perm.
func RequirePermission(principal *domain.Principal, perm domain.Permission) error {
	if principal == nil {
		return apperror.ErrUnauthenticated()
	}
	if !principal.Can(perm) {
		return apperror.ErrUnauthorized(string(perm))
	}
	return nil
}

// RequireUser fails unless the principal is a human session.
func RequireUser(principal *domain.Principal) error {
	if principal == nil {
		return apperror.ErrUnauthenticated()
	}
	if !principal.IsUser() {
		return apperror.New(apperror.CodeUnauthorized, "This operation requires a user session", http.StatusForbidden)
	}
	return nil
}
