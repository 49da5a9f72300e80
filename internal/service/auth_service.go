package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-service/config"
	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	resetTokenBytes        = 32
	defaultResetTokenTTL   = 15 * time.Minute
	usernameSuffixAttempts = 5
)

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	userRepo   ports.UserRepository
	wallets    ports.WalletService
	hashSvc    ports.HashService
	tokenSvc   ports.TokenService
	revocation ports.RevocationService
	apiKeys    ports.APIKeyService
	resetTTL   time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	userRepo ports.UserRepository,
	wallets ports.WalletService,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
	revocation ports.RevocationService,
	apiKeys ports.APIKeyService,
	cfg config.AuthConfig,
	log zerolog.Logger,
) *AuthServiceImpl {
	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTokenTTL
	}
	return &AuthServiceImpl{
		userRepo:   userRepo,
		wallets:    wallets,
		hashSvc:    hashSvc,
		tokenSvc:   tokenSvc,
		revocation: revocation,
		apiKeys:    apiKeys,
		resetTTL:   resetTTL,
		log:        log,
		now:        time.Now,
	}
}

// Signup creates an account and its wallet. It does not log the user in.
func (s *AuthServiceImpl) Signup(ctx context.Context, req ports.SignupRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check email: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrConflict("email")
	}

	existing, err = s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check username: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrConflict("username")
	}

	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Username:     username,
		PasswordHash: &passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.createUser(ctx, user); err != nil {
		return nil, err
	}

	if _, err := s.wallets.EnsureWallet(ctx, user.ID); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("user signed up")
	return user, nil
}

func (s *AuthServiceImpl) createUser(ctx context.Context, user *domain.User) error {
	if err := s.userRepo.Create(ctx, user); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return apperror.ErrConflict(conflict.Field)
		}
		return apperror.InternalError(fmt.Errorf("create user: %w", err))
	}
	return nil
}

// Login checks a username and password and issues a bearer token.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (*domain.IssuedToken, error) {
	user, err := s.userRepo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	// OAuth-only accounts have no password to check against
	if user == nil || !user.HasPassword() {
		return nil, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, *user.PasswordHash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return nil, apperror.ErrInvalidCredentials()
	}

	if !user.IsActive {
		return nil, apperror.ErrAccountInactive()
	}

	return s.issue(user)
}

// Logout revokes the bearer token the principal authenticated with.
func (s *AuthServiceImpl) Logout(ctx context.Context, principal *domain.Principal) error {
	if principal == nil || !principal.IsUser() {
		return apperror.ErrUnauthenticated()
	}
	if err := s.revocation.Revoke(ctx, principal.TokenID, principal.TokenExpiresAt); err != nil {
		return err
	}
	s.log.Info().Str("user_id", principal.UserID.String()).Str("jti", principal.TokenID.String()).Msg("user logged out")
	return nil
}

// ForgotPassword stores a fresh reset token for the account and returns the
// plaintext. Only its hash is persisted.
func (s *AuthServiceImpl) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return "", apperror.ErrNotFound("user")
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", apperror.InternalError(fmt.Errorf("generate reset token: %w", err))
	}
	token := hex.EncodeToString(raw)

	hash := s.hashSvc.Digest(token)
	expires := s.now().UTC().Add(s.resetTTL)
	user.ResetTokenHash = &hash
	user.ResetTokenExpiresAt = &expires
	user.UpdatedAt = s.now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return "", apperror.InternalError(fmt.Errorf("store reset token: %w", err))
	}

	s.log.Info().Str("user_id", user.ID.String()).Time("expires_at", expires).Msg("password reset requested")
	return token, nil
}

// ResetPassword sets a new password using a token from ForgotPassword.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return apperror.ErrInvalidResetToken()
	}

	user, err := s.userRepo.GetByResetTokenHash(ctx, s.hashSvc.Digest(token))
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find reset token: %w", err))
	}
	if user == nil || user.ResetTokenExpired(s.now()) {
		return apperror.ErrInvalidResetToken()
	}

	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("password reset")
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return apperror.ErrNotFound("user")
	}
	if !user.HasPassword() {
		return apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(current, *user.PasswordHash)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return apperror.ErrInvalidCredentials()
	}

	if err := s.setPassword(ctx, user, next); err != nil {
		return err
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("password changed")
	return nil
}

func (s *AuthServiceImpl) setPassword(ctx context.Context, user *domain.User, password string) error {
	passwordHash, err := s.hashSvc.Hash(password)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}
	user.PasswordHash = &passwordHash
	user.ClearResetToken()
	user.UpdatedAt = s.now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return apperror.InternalError(fmt.Errorf("update user: %w", err))
	}
	return nil
}

// OAuthLogin signs in a user verified by the external identity provider,
// linking or creating the local account as needed.
func (s *AuthServiceImpl) OAuthLogin(ctx context.Context, identity *ports.OAuthIdentity) (*domain.IssuedToken, error) {
	if identity == nil || identity.Subject == "" || identity.Email == "" {
		return nil, apperror.ErrUnauthenticated()
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	user, err := s.userRepo.GetByGoogleID(ctx, identity.Subject)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find user by google id: %w", err))
	}

	if user == nil {
		user, err = s.userRepo.GetByEmail(ctx, email)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("find user by email: %w", err))
		}
		if user != nil {
			subject := identity.Subject
			user.GoogleID = &subject
			user.UpdatedAt = s.now().UTC()
			if err := s.userRepo.Update(ctx, user); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("link google account: %w", err))
			}
			s.log.Info().Str("user_id", user.ID.String()).Msg("google account linked")
		}
	}

	if user == nil {
		user, err = s.createOAuthUser(ctx, email, identity.Subject)
		if err != nil {
			return nil, err
		}
	}

	if !user.IsActive {
		return nil, apperror.ErrAccountInactive()
	}

	if _, err := s.wallets.EnsureWallet(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthServiceImpl) createOAuthUser(ctx context.Context, email, subject string) (*domain.User, error) {
	base := usernameFromEmail(email)
	username := base

	for attempt := 0; attempt < usernameSuffixAttempts; attempt++ {
		if attempt > 0 {
			suffix, err := randomSuffix()
			if err != nil {
				return nil, apperror.InternalError(err)
			}
			username = base + "_" + suffix
		}

		taken, err := s.userRepo.GetByUsername(ctx, username)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("check username: %w", err))
		}
		if taken != nil {
			continue
		}

		now := s.now().UTC()
		googleID := subject
		user := &domain.User{
			ID:        uuid.New(),
			Email:     email,
			Username:  username,
			IsActive:  true,
			GoogleID:  &googleID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.createUser(ctx, user); err != nil {
			if apperror.HasCode(err, apperror.CodeConflict) {
				continue
			}
			return nil, err
		}

		s.log.Info().Str("user_id", user.ID.String()).Msg("user signed up with google")
		return user, nil
	}

	return nil, apperror.ErrConflict("username")
}

// Deactivate disables the account, revokes the current session and drops
// cached validations of the account's API keys.
func (s *AuthServiceImpl) Deactivate(ctx context.Context, principal *domain.Principal) error {
	if principal == nil || !principal.IsUser() {
		return apperror.ErrUnauthenticated()
	}

	user, err := s.userRepo.GetByID(ctx, principal.UserID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return apperror.ErrNotFound("user")
	}

	user.IsActive = false
	user.UpdatedAt = s.now().UTC()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return apperror.InternalError(fmt.Errorf("deactivate user: %w", err))
	}

	if err := s.revocation.Revoke(ctx, principal.TokenID, principal.TokenExpiresAt); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to revoke token on deactivation")
	}
	if err := s.apiKeys.InvalidateOwner(ctx, user.ID); err != nil {
		return err
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("account deactivated")
	return nil
}

// GetUser returns the account by id.
func (s *AuthServiceImpl) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}
	return user, nil
}

func (s *AuthServiceImpl) issue(user *domain.User) (*domain.IssuedToken, error) {
	token, err := s.tokenSvc.Generate(user.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return token, nil
}

// usernameFromEmail keeps the characters of the local part that are valid in
// a username.
func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) < 3 {
		name = "user" + name
	}
	if len(name) > 40 {
		name = name[:40]
	}
	return name
}

func randomSuffix() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating username suffix: %w", err)
	}
	return hex.EncodeToString(b), nil
}
