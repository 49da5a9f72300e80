package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wallet-service/config"
	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/core/ports/mocks"
	"wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type authTestDeps struct {
	svc        *AuthServiceImpl
	userRepo   *mocks.MockUserRepository
	wallets    *mocks.MockWalletService
	hashSvc    *mocks.MockHashService
	tokenSvc   *mocks.MockTokenService
	revocation *mocks.MockRevocationService
	apiKeys    *mocks.MockAPIKeyService
	now        time.Time
}

func setupAuthService(t *testing.T) *authTestDeps {
	ctrl := gomock.NewController(t)
	d := &authTestDeps{
		userRepo:   mocks.NewMockUserRepository(ctrl),
		wallets:    mocks.NewMockWalletService(ctrl),
		hashSvc:    mocks.NewMockHashService(ctrl),
		tokenSvc:   mocks.NewMockTokenService(ctrl),
		revocation: mocks.NewMockRevocationService(ctrl),
		apiKeys:    mocks.NewMockAPIKeyService(ctrl),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d.svc = NewAuthService(d.userRepo, d.wallets, d.hashSvc, d.tokenSvc, d.revocation, d.apiKeys,
		config.AuthConfig{ResetTokenTTL: 15 * time.Minute}, newTestLogger())
	d.hashSvc.EXPECT().Digest(gomock.Any()).DoAndReturn(DigestSecret).AnyTimes()
	d.svc.now = func() time.Time { return d.now }
	return d
}

func userWithPassword(hash string) *domain.User {
	return &domain.User{ID: uuid.New(), Username: "ada", Email: "ada@example.com", PasswordHash: &hash, IsActive: true}
}

// ==================== Signup ====================

func TestAuthService_Signup_Success(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()

	d.userRepo.EXPECT().GetByEmail(ctx, "ada@example.com").Return(nil, nil)
	d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(nil, nil)
	d.hashSvc.EXPECT().Hash("Str0ngPass!").Return("$argon2id$hashed", nil)
	d.userRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.wallets.EXPECT().EnsureWallet(ctx, gomock.Any()).Return(&domain.Wallet{}, nil)

	user, err := d.svc.Signup(ctx, ports.SignupRequest{Email: " Ada@Example.com ", Username: "ada", Password: "Str0ngPass!"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.True(t, user.IsActive)
	require.NotNil(t, user.PasswordHash)
	assert.Equal(t, "$argon2id$hashed", *user.PasswordHash)
}

func TestAuthService_Signup_Conflicts(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	req := ports.SignupRequest{Email: "ada@example.com", Username: "ada", Password: "Str0ngPass!"}

	t.Run("email", func(t *testing.T) {
		d.userRepo.EXPECT().GetByEmail(ctx, "ada@example.com").Return(&domain.User{}, nil)
		_, err := d.svc.Signup(ctx, req)
		assertAppError(t, err, "AUTH_002")
	})

	t.Run("username", func(t *testing.T) {
		d.userRepo.EXPECT().GetByEmail(ctx, "ada@example.com").Return(nil, nil)
		d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(&domain.User{}, nil)
		_, err := d.svc.Signup(ctx, req)
		assertAppError(t, err, "AUTH_002")
	})

	t.Run("lost race on unique index", func(t *testing.T) {
		d.userRepo.EXPECT().GetByEmail(ctx, "ada@example.com").Return(nil, nil)
		d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(nil, nil)
		d.hashSvc.EXPECT().Hash(gomock.Any()).Return("h", nil)
		d.userRepo.EXPECT().Create(ctx, gomock.Any()).Return(&domain.ConflictError{Field: "email"})

		_, err := d.svc.Signup(ctx, req)
		assertAppError(t, err, "AUTH_002")
		assert.Contains(t, err.Error(), "email already exists")
	})
}

// ==================== Login ====================

func TestAuthService_Login_Success(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	user := userWithPassword("$argon2id$hashed")
	issued := &domain.IssuedToken{Token: "jwt", TokenID: uuid.New(), ExpiresAt: d.now.Add(30 * time.Minute)}

	d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(user, nil)
	d.hashSvc.EXPECT().Verify("Str0ngPass!", "$argon2id$hashed").Return(true, nil)
	d.tokenSvc.EXPECT().Generate(user.ID).Return(issued, nil)

	got, err := d.svc.Login(ctx, "ada", "Str0ngPass!")
	require.NoError(t, err)
	assert.Equal(t, issued, got)
}

func TestAuthService_Login_Failures(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		d.userRepo.EXPECT().GetByUsername(ctx, "ghost").Return(nil, nil)
		_, err := d.svc.Login(ctx, "ghost", "x")
		assertAppError(t, err, "AUTH_001")
	})

	t.Run("oauth only account", func(t *testing.T) {
		d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(&domain.User{ID: uuid.New(), IsActive: true}, nil)
		_, err := d.svc.Login(ctx, "ada", "x")
		assertAppError(t, err, "AUTH_001")
	})

	t.Run("wrong password", func(t *testing.T) {
		d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(userWithPassword("h"), nil)
		d.hashSvc.EXPECT().Verify("wrong", "h").Return(false, nil)
		_, err := d.svc.Login(ctx, "ada", "wrong")
		assertAppError(t, err, "AUTH_001")
	})

	t.Run("inactive", func(t *testing.T) {
		u := userWithPassword("h")
		u.IsActive = false
		d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(u, nil)
		d.hashSvc.EXPECT().Verify("right", "h").Return(true, nil)
		_, err := d.svc.Login(ctx, "ada", "right")
		assertAppError(t, err, "AUTH_004")
	})

	t.Run("db error", func(t *testing.T) {
		d.userRepo.EXPECT().GetByUsername(ctx, "ada").Return(nil, errors.New("conn reset"))
		_, err := d.svc.Login(ctx, "ada", "x")
		assertAppError(t, err, "SYS_001")
	})
}

// ==================== Logout ====================

func TestAuthService_Logout(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	p := &domain.Principal{Kind: domain.PrincipalUser, UserID: uuid.New(), TokenID: uuid.New(), TokenExpiresAt: d.now.Add(time.Minute)}

	d.revocation.EXPECT().Revoke(ctx, p.TokenID, p.TokenExpiresAt).Return(nil)
	require.NoError(t, d.svc.Logout(ctx, p))

	svc := &domain.Principal{Kind: domain.PrincipalService}
	assertAppError(t, d.svc.Logout(ctx, svc), "AUTH_003")
}

// ==================== Password reset ====================

func TestAuthService_ForgotAndResetPassword(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	user := userWithPassword("old")

	var storedHash string
	d.userRepo.EXPECT().GetByEmail(ctx, "ada@example.com").Return(user, nil)
	d.userRepo.EXPECT().Update(ctx, user).DoAndReturn(func(_ context.Context, u *domain.User) error {
		require.NotNil(t, u.ResetTokenHash)
		require.NotNil(t, u.ResetTokenExpiresAt)
		storedHash = *u.ResetTokenHash
		assert.Equal(t, d.now.Add(15*time.Minute), *u.ResetTokenExpiresAt)
		return nil
	})

	token, err := d.svc.ForgotPassword(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.NotEqual(t, token, storedHash)
	assert.Equal(t, DigestSecret(token), storedHash)

	d.now = d.now.Add(10 * time.Minute)
	d.userRepo.EXPECT().GetByResetTokenHash(ctx, storedHash).Return(user, nil)
	d.hashSvc.EXPECT().Hash("N3wPass!!").Return("new", nil)
	d.userRepo.EXPECT().Update(ctx, user).Return(nil)

	require.NoError(t, d.svc.ResetPassword(ctx, token, "N3wPass!!"))
	assert.Equal(t, "new", *user.PasswordHash)
	assert.Nil(t, user.ResetTokenHash)
	assert.Nil(t, user.ResetTokenExpiresAt)
}

func TestAuthService_ForgotPassword_UnknownEmail(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()

	d.userRepo.EXPECT().GetByEmail(ctx, "ghost@example.com").Return(nil, nil)

	_, err := d.svc.ForgotPassword(ctx, "ghost@example.com")
	assertAppError(t, err, "PAY_004")
}

func TestAuthService_ResetPassword_Invalid(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()

	assertAppError(t, d.svc.ResetPassword(ctx, "", "x"), "AUTH_008")

	d.userRepo.EXPECT().GetByResetTokenHash(ctx, DigestSecret("nope")).Return(nil, nil)
	assertAppError(t, d.svc.ResetPassword(ctx, "nope", "x"), "AUTH_008")

	expired := userWithPassword("old")
	past := d.now.Add(-time.Second)
	h := DigestSecret("stale")
	expired.ResetTokenHash = &h
	expired.ResetTokenExpiresAt = &past
	d.userRepo.EXPECT().GetByResetTokenHash(ctx, h).Return(expired, nil)
	assertAppError(t, d.svc.ResetPassword(ctx, "stale", "x"), "AUTH_008")
}

func TestAuthService_ChangePassword(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	user := userWithPassword("cur")

	d.userRepo.EXPECT().GetByID(ctx, user.ID).Return(user, nil)
	d.hashSvc.EXPECT().Verify("wrong", "cur").Return(false, nil)
	assertAppError(t, d.svc.ChangePassword(ctx, user.ID, "wrong", "next"), "AUTH_001")

	d.userRepo.EXPECT().GetByID(ctx, user.ID).Return(user, nil)
	d.hashSvc.EXPECT().Verify("right", "cur").Return(true, nil)
	d.hashSvc.EXPECT().Hash("next").Return("next-hash", nil)
	d.userRepo.EXPECT().Update(ctx, user).Return(nil)
	require.NoError(t, d.svc.ChangePassword(ctx, user.ID, "right", "next"))
	assert.Equal(t, "next-hash", *user.PasswordHash)
}

// ==================== OAuth ====================

func TestAuthService_OAuthLogin_ExistingLinkedUser(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	gid := "google-123"
	user := &domain.User{ID: uuid.New(), GoogleID: &gid, IsActive: true}

	d.userRepo.EXPECT().GetByGoogleID(ctx, gid).Return(user, nil)
	d.wallets.EXPECT().EnsureWallet(ctx, user.ID).Return(&domain.Wallet{}, nil)
	d.tokenSvc.EXPECT().Generate(user.ID).Return(&domain.IssuedToken{Token: "jwt"}, nil)

	tok, err := d.svc.OAuthLogin(ctx, &ports.OAuthIdentity{Subject: gid, Email: "ada@example.com", EmailVerified: true})
	require.NoError(t, err)
	assert.Equal(t, "jwt", tok.Token)
}

func TestAuthService_OAuthLogin_LinksByEmail(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	user := userWithPassword("h")

	d.userRepo.EXPECT().GetByGoogleID(ctx, "google-123").Return(nil, nil)
	d.userRepo.EXPECT().GetByEmail(ctx, "ada@example.com").Return(user, nil)
	d.userRepo.EXPECT().Update(ctx, user).Return(nil)
	d.wallets.EXPECT().EnsureWallet(ctx, user.ID).Return(&domain.Wallet{}, nil)
	d.tokenSvc.EXPECT().Generate(user.ID).Return(&domain.IssuedToken{Token: "jwt"}, nil)

	_, err := d.svc.OAuthLogin(ctx, &ports.OAuthIdentity{Subject: "google-123", Email: "Ada@example.com"})
	require.NoError(t, err)
	require.NotNil(t, user.GoogleID)
	assert.Equal(t, "google-123", *user.GoogleID)
}

func TestAuthService_OAuthLogin_CreatesUserWithSuffixOnCollision(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()

	d.userRepo.EXPECT().GetByGoogleID(ctx, "google-9").Return(nil, nil)
	d.userRepo.EXPECT().GetByEmail(ctx, "grace.hopper@example.com").Return(nil, nil)
	d.userRepo.EXPECT().GetByUsername(ctx, "gracehopper").Return(&domain.User{}, nil)
	d.userRepo.EXPECT().GetByUsername(ctx, gomock.Any()).Return(nil, nil)

	var created *domain.User
	d.userRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, u *domain.User) error {
		created = u
		return nil
	})
	d.wallets.EXPECT().EnsureWallet(ctx, gomock.Any()).Return(&domain.Wallet{}, nil)
	d.tokenSvc.EXPECT().Generate(gomock.Any()).Return(&domain.IssuedToken{Token: "jwt"}, nil)

	_, err := d.svc.OAuthLogin(ctx, &ports.OAuthIdentity{Subject: "google-9", Email: "grace.hopper@example.com"})
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.True(t, strings.HasPrefix(created.Username, "gracehopper_"))
	assert.Nil(t, created.PasswordHash)
	assert.Equal(t, "google-9", *created.GoogleID)
}

func TestAuthService_OAuthLogin_Inactive(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	gid := "google-1"

	d.userRepo.EXPECT().GetByGoogleID(ctx, gid).Return(&domain.User{ID: uuid.New(), IsActive: false}, nil)

	_, err := d.svc.OAuthLogin(ctx, &ports.OAuthIdentity{Subject: gid, Email: "a@b.c"})
	assertAppError(t, err, "AUTH_004")
}

func TestUsernameFromEmail(t *testing.T) {
	assert.Equal(t, "gracehopper", usernameFromEmail("Grace.Hopper@example.com"))
	assert.Equal(t, "user_a", usernameFromEmail("_a@example.com"))
	assert.Equal(t, "user", usernameFromEmail("+++@example.com"))
	assert.Len(t, usernameFromEmail(strings.Repeat("x", 80)+"@example.com"), 40)
}

// ==================== Deactivate ====================

func TestAuthService_Deactivate(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	user := userWithPassword("h")
	p := &domain.Principal{Kind: domain.PrincipalUser, UserID: user.ID, TokenID: uuid.New(), TokenExpiresAt: d.now.Add(time.Minute)}

	d.userRepo.EXPECT().GetByID(ctx, user.ID).Return(user, nil)
	d.userRepo.EXPECT().Update(ctx, user).Return(nil)
	d.revocation.EXPECT().Revoke(ctx, p.TokenID, p.TokenExpiresAt).Return(nil)
	d.apiKeys.EXPECT().InvalidateOwner(ctx, user.ID).Return(nil)

	require.NoError(t, d.svc.Deactivate(ctx, p))
	assert.False(t, user.IsActive)
}

func TestAuthService_Deactivate_KeyInvalidationFails(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	user := userWithPassword("h")
	p := &domain.Principal{Kind: domain.PrincipalUser, UserID: user.ID, TokenID: uuid.New(), TokenExpiresAt: d.now.Add(time.Minute)}

	d.userRepo.EXPECT().GetByID(ctx, user.ID).Return(user, nil)
	d.userRepo.EXPECT().Update(ctx, user).Return(nil)
	d.revocation.EXPECT().Revoke(ctx, p.TokenID, p.TokenExpiresAt).Return(nil)
	d.apiKeys.EXPECT().InvalidateOwner(ctx, user.ID).Return(apperror.InternalError(errors.New("db down")))

	assertAppError(t, d.svc.Deactivate(ctx, p), "SYS_001")
}

func TestAuthService_GetUser(t *testing.T) {
	d := setupAuthService(t)
	ctx := context.Background()
	id := uuid.New()

	d.userRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)
	_, err := d.svc.GetUser(ctx, id)
	assertAppError(t, err, "PAY_004")
}
