package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"wallet-service/config"
	"wallet-service/internal/adapter/cache"
	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type apiKeyTestDeps struct {
	svc        *APIKeyServiceImpl
	keyRepo    *mocks.MockAPIKeyRepository
	userRepo   *mocks.MockUserRepository
	transactor *mocks.MockDBTransactor
	cache      *mocks.MockAPIKeyCache
	now        time.Time
}

func setupAPIKeyService(t *testing.T) *apiKeyTestDeps {
	ctrl := gomock.NewController(t)
	d := &apiKeyTestDeps{
		keyRepo:    mocks.NewMockAPIKeyRepository(ctrl),
		userRepo:   mocks.NewMockUserRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		cache:      mocks.NewMockAPIKeyCache(ctrl),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d.svc = NewAPIKeyService(d.keyRepo, d.userRepo, d.transactor, d.cache, newFastHashService(), config.APIKeyConfig{
		CacheTTL:      5 * time.Minute,
		MaxActive:     5,
		DefaultExpiry: "1Y",
	}, newTestLogger())
	d.svc.now = func() time.Time { return d.now }
	return d
}

var secretPattern = regexp.MustCompile(`^sk_live_[0-9a-f]{64}$`)

// ==================== Issue ====================

func TestAPIKeyService_Issue_Success(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	tx := &mockTx{}
	owner := &domain.User{ID: uuid.New()}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().LockByID(ctx, tx, owner.ID).Return(owner, nil)
	d.keyRepo.EXPECT().NameExists(ctx, tx, owner.ID, "ci").Return(false, nil)
	d.keyRepo.EXPECT().CountActive(ctx, tx, owner.ID, d.now).Return(4, nil)

	var stored *domain.APIKey
	d.keyRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, k *domain.APIKey) error {
			stored = k
			return nil
		},
	)

	key, secret, err := d.svc.Issue(ctx, ports.IssueAPIKeyRequest{
		OwnerID:     owner.ID,
		Name:        " ci ",
		Permissions: domain.NewPermissionSet(domain.PermissionRead, domain.PermissionDeposit),
		Expiry:      "1D",
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)

	assert.Regexp(t, secretPattern, secret)
	assert.Equal(t, DigestSecret(secret), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, secret)
	assert.Equal(t, secret[:12], key.KeyPrefix)
	assert.Equal(t, "ci", key.Name)
	assert.Equal(t, d.now.Add(24*time.Hour), key.ExpiresAt)
	assert.True(t, key.Permissions.Has(domain.PermissionDeposit))
	assert.False(t, key.Permissions.Has(domain.PermissionTransfer))
}

func TestAPIKeyService_Issue_DefaultExpiry(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	tx := &mockTx{}
	owner := &domain.User{ID: uuid.New()}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().LockByID(ctx, tx, owner.ID).Return(owner, nil)
	d.keyRepo.EXPECT().NameExists(ctx, tx, owner.ID, "ci").Return(false, nil)
	d.keyRepo.EXPECT().CountActive(ctx, tx, owner.ID, d.now).Return(0, nil)
	d.keyRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)

	key, _, err := d.svc.Issue(ctx, ports.IssueAPIKeyRequest{
		OwnerID:     owner.ID,
		Name:        "ci",
		Permissions: domain.NewPermissionSet(domain.PermissionRead),
	})
	require.NoError(t, err)
	assert.Equal(t, d.now.Add(365*24*time.Hour), key.ExpiresAt)
}

func TestAPIKeyService_Issue_QuotaExceeded(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	tx := &mockTx{}
	owner := &domain.User{ID: uuid.New()}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().LockByID(ctx, tx, owner.ID).Return(owner, nil)
	d.keyRepo.EXPECT().NameExists(ctx, tx, owner.ID, "sixth").Return(false, nil)
	d.keyRepo.EXPECT().CountActive(ctx, tx, owner.ID, d.now).Return(5, nil)

	_, _, err := d.svc.Issue(ctx, ports.IssueAPIKeyRequest{
		OwnerID:     owner.ID,
		Name:        "sixth",
		Permissions: domain.NewPermissionSet(domain.PermissionRead),
		Expiry:      "1D",
	})
	assertAppError(t, err, "KEY_001")
	assert.False(t, tx.committed)
}

func TestAPIKeyService_Issue_DuplicateName(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	owner := &domain.User{ID: uuid.New()}

	t.Run("pre-check", func(t *testing.T) {
		tx := &mockTx{}
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
		d.userRepo.EXPECT().LockByID(ctx, tx, owner.ID).Return(owner, nil)
		d.keyRepo.EXPECT().NameExists(ctx, tx, owner.ID, "ci").Return(true, nil)

		_, _, err := d.svc.Issue(ctx, ports.IssueAPIKeyRequest{
			OwnerID: owner.ID, Name: "ci", Permissions: domain.AllPermissions,
		})
		assertAppError(t, err, "KEY_002")
	})

	t.Run("unique index", func(t *testing.T) {
		tx := &mockTx{}
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
		d.userRepo.EXPECT().LockByID(ctx, tx, owner.ID).Return(owner, nil)
		d.keyRepo.EXPECT().NameExists(ctx, tx, owner.ID, "ci").Return(false, nil)
		d.keyRepo.EXPECT().CountActive(ctx, tx, owner.ID, d.now).Return(0, nil)
		d.keyRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(&domain.ConflictError{Field: "name"})

		_, _, err := d.svc.Issue(ctx, ports.IssueAPIKeyRequest{
			OwnerID: owner.ID, Name: "ci", Permissions: domain.AllPermissions,
		})
		assertAppError(t, err, "KEY_002")
	})
}

func TestAPIKeyService_Issue_Validation(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ports.IssueAPIKeyRequest
	}{
		{"empty name", ports.IssueAPIKeyRequest{Name: " ", Permissions: domain.AllPermissions}},
		{"no permissions", ports.IssueAPIKeyRequest{Name: "ci"}},
		{"bad expiry", ports.IssueAPIKeyRequest{Name: "ci", Permissions: domain.AllPermissions, Expiry: "2W"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := d.svc.Issue(ctx, tt.req)
			assertAppError(t, err, "PAY_002")
		})
	}
}

// ==================== Validate ====================

func TestAPIKeyService_Validate_CacheHit(t *testing.T) {
	d := setupAPIKeyService(t)
	identity := domain.APIKeyIdentity{KeyID: uuid.New(), UserID: uuid.New()}

	d.cache.EXPECT().Get(DigestSecret("sk_live_x")).Return(identity, true)

	got, err := d.svc.Validate(context.Background(), "sk_live_x")
	require.NoError(t, err)
	assert.Equal(t, identity.KeyID, got.KeyID)
}

func TestAPIKeyService_Validate_MissThenCache(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	hash := DigestSecret("sk_live_x")
	key := &domain.APIKey{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Permissions: domain.NewPermissionSet(domain.PermissionRead),
		ExpiresAt:   d.now.Add(time.Hour),
	}

	gomock.InOrder(
		d.cache.EXPECT().Get(hash).Return(domain.APIKeyIdentity{}, false),
		d.cache.EXPECT().Generation().Return(uint64(7)),
		d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(key, nil),
		d.userRepo.EXPECT().GetByID(ctx, key.UserID).Return(&domain.User{ID: key.UserID, IsActive: true}, nil),
		d.keyRepo.EXPECT().TouchLastUsed(ctx, key.ID, d.now).Return(errors.New("ignored")),
		d.cache.EXPECT().Set(hash, key.Identity(), uint64(7)).Return(true),
	)

	got, err := d.svc.Validate(ctx, "sk_live_x")
	require.NoError(t, err)
	assert.Equal(t, key.UserID, got.UserID)
	assert.True(t, got.Permissions.Has(domain.PermissionRead))
}

func TestAPIKeyService_Validate_Unknown(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	hash := DigestSecret("sk_live_nope")

	d.cache.EXPECT().Get(hash).Return(domain.APIKeyIdentity{}, false)
	d.cache.EXPECT().Generation().Return(uint64(0))
	d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(nil, nil)

	got, err := d.svc.Validate(ctx, "sk_live_nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = d.svc.Validate(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAPIKeyService_Validate_Expired(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	hash := DigestSecret("sk_live_old")

	d.cache.EXPECT().Get(hash).Return(domain.APIKeyIdentity{}, false)
	d.cache.EXPECT().Generation().Return(uint64(0))
	d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(&domain.APIKey{ID: uuid.New(), ExpiresAt: d.now}, nil)

	_, err := d.svc.Validate(ctx, "sk_live_old")
	assertAppError(t, err, "AUTH_006")
}

func TestAPIKeyService_Validate_OwnerNotActive(t *testing.T) {
	tests := []struct {
		name  string
		owner func(id uuid.UUID) *domain.User
	}{
		{"deactivated", func(id uuid.UUID) *domain.User { return &domain.User{ID: id, IsActive: false} }},
		{"missing", func(uuid.UUID) *domain.User { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupAPIKeyService(t)
			ctx := context.Background()
			hash := DigestSecret("sk_live_x")
			key := &domain.APIKey{ID: uuid.New(), UserID: uuid.New(), Permissions: domain.AllPermissions, ExpiresAt: d.now.Add(time.Hour)}

			d.cache.EXPECT().Get(hash).Return(domain.APIKeyIdentity{}, false)
			d.cache.EXPECT().Generation().Return(uint64(0))
			d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(key, nil)
			d.userRepo.EXPECT().GetByID(ctx, key.UserID).Return(tt.owner(key.UserID), nil)
			// no TouchLastUsed and no cache write

			got, err := d.svc.Validate(ctx, "sk_live_x")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestAPIKeyService_Validate_OwnerLookupFails(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	hash := DigestSecret("sk_live_x")
	key := &domain.APIKey{ID: uuid.New(), UserID: uuid.New(), ExpiresAt: d.now.Add(time.Hour)}

	d.cache.EXPECT().Get(hash).Return(domain.APIKeyIdentity{}, false)
	d.cache.EXPECT().Generation().Return(uint64(0))
	d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(key, nil)
	d.userRepo.EXPECT().GetByID(ctx, key.UserID).Return(nil, errors.New("conn reset"))

	_, err := d.svc.Validate(ctx, "sk_live_x")
	assertAppError(t, err, "SYS_001")
}

type realCacheDeps struct {
	svc      *APIKeyServiceImpl
	keyRepo  *mocks.MockAPIKeyRepository
	userRepo *mocks.MockUserRepository
}

func setupAPIKeyServiceWithCache(t *testing.T) *realCacheDeps {
	ctrl := gomock.NewController(t)
	d := &realCacheDeps{
		keyRepo:  mocks.NewMockAPIKeyRepository(ctrl),
		userRepo: mocks.NewMockUserRepository(ctrl),
	}
	d.svc = NewAPIKeyService(d.keyRepo, d.userRepo, mocks.NewMockDBTransactor(ctrl),
		cache.NewAPIKeyCache(5*time.Minute), newFastHashService(),
		config.APIKeyConfig{MaxActive: 5}, newTestLogger())
	return d
}

func TestAPIKeyService_RevokeEvictsCachedKey(t *testing.T) {
	d := setupAPIKeyServiceWithCache(t)
	ctx := context.Background()
	secret := "sk_live_abc"
	hash := DigestSecret(secret)
	key := &domain.APIKey{ID: uuid.New(), UserID: uuid.New(), Permissions: domain.AllPermissions, ExpiresAt: time.Now().Add(time.Hour)}

	d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(key, nil).Times(1)
	d.userRepo.EXPECT().GetByID(ctx, key.UserID).Return(&domain.User{ID: key.UserID, IsActive: true}, nil)
	d.keyRepo.EXPECT().TouchLastUsed(ctx, key.ID, gomock.Any()).Return(nil)

	// second validate is served from cache
	for i := 0; i < 2; i++ {
		got, err := d.svc.Validate(ctx, secret)
		require.NoError(t, err)
		require.NotNil(t, got)
	}

	d.keyRepo.EXPECT().GetByID(ctx, key.ID).Return(key, nil)
	d.keyRepo.EXPECT().Revoke(ctx, key.ID).Return(nil)
	require.NoError(t, d.svc.Revoke(ctx, key.UserID, key.ID))

	// revoked keys are filtered out by the hash lookup
	d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(nil, nil)
	got, err := d.svc.Validate(ctx, secret)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAPIKeyService_RevokeDuringLookupIsNotUndone(t *testing.T) {
	d := setupAPIKeyServiceWithCache(t)
	ctx := context.Background()
	secret := "sk_live_race"
	hash := DigestSecret(secret)
	key := &domain.APIKey{ID: uuid.New(), UserID: uuid.New(), Permissions: domain.AllPermissions, ExpiresAt: time.Now().Add(time.Hour)}

	d.keyRepo.EXPECT().GetByID(ctx, key.ID).Return(key, nil)
	d.keyRepo.EXPECT().Revoke(ctx, key.ID).Return(nil)

	// the row is read while still live, then revoked before Validate caches it
	d.keyRepo.EXPECT().GetByHash(ctx, hash).DoAndReturn(func(context.Context, string) (*domain.APIKey, error) {
		require.NoError(t, d.svc.Revoke(ctx, key.UserID, key.ID))
		return key, nil
	})
	d.userRepo.EXPECT().GetByID(ctx, key.UserID).Return(&domain.User{ID: key.UserID, IsActive: true}, nil)
	d.keyRepo.EXPECT().TouchLastUsed(ctx, key.ID, gomock.Any()).Return(nil)

	got, err := d.svc.Validate(ctx, secret)
	require.NoError(t, err)
	require.NotNil(t, got)

	// the stale identity must not have been cached
	d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(nil, nil)
	got, err = d.svc.Validate(ctx, secret)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAPIKeyService_DeactivatedOwnerLosesCachedKeys(t *testing.T) {
	d := setupAPIKeyServiceWithCache(t)
	ctx := context.Background()
	secret := "sk_live_owner"
	hash := DigestSecret(secret)
	owner := &domain.User{ID: uuid.New(), IsActive: true}
	key := &domain.APIKey{ID: uuid.New(), UserID: owner.ID, Permissions: domain.AllPermissions, ExpiresAt: time.Now().Add(time.Hour)}

	d.keyRepo.EXPECT().GetByHash(ctx, hash).Return(key, nil).Times(2)
	d.userRepo.EXPECT().GetByID(ctx, owner.ID).Return(owner, nil).Times(2)
	d.keyRepo.EXPECT().TouchLastUsed(ctx, key.ID, gomock.Any()).Return(nil)

	got, err := d.svc.Validate(ctx, secret)
	require.NoError(t, err)
	require.NotNil(t, got)

	owner.IsActive = false
	d.keyRepo.EXPECT().ListByUser(ctx, owner.ID).Return([]domain.APIKey{*key}, nil)
	require.NoError(t, d.svc.InvalidateOwner(ctx, owner.ID))

	got, err = d.svc.Validate(ctx, secret)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAPIKeyService_InvalidateOwner(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	owner := uuid.New()
	k1, k2 := uuid.New(), uuid.New()

	d.keyRepo.EXPECT().ListByUser(ctx, owner).Return([]domain.APIKey{{ID: k1}, {ID: k2}}, nil)
	d.cache.EXPECT().DeleteByKeyID(k1)
	d.cache.EXPECT().DeleteByKeyID(k2)
	require.NoError(t, d.svc.InvalidateOwner(ctx, owner))

	d.keyRepo.EXPECT().ListByUser(ctx, owner).Return(nil, errors.New("conn reset"))
	assertAppError(t, d.svc.InvalidateOwner(ctx, owner), "SYS_001")
}

// ==================== Revoke / Delete / List ====================

func TestAPIKeyService_Revoke_NotOwner(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	keyID := uuid.New()

	d.keyRepo.EXPECT().GetByID(ctx, keyID).Return(&domain.APIKey{ID: keyID, UserID: uuid.New()}, nil)

	err := d.svc.Revoke(ctx, uuid.New(), keyID)
	assertAppError(t, err, "PAY_004")
}

func TestAPIKeyService_Delete(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	owner := uuid.New()
	keyID := uuid.New()

	d.keyRepo.EXPECT().GetByID(ctx, keyID).Return(&domain.APIKey{ID: keyID, UserID: owner}, nil)
	d.keyRepo.EXPECT().Delete(ctx, nil, keyID).Return(nil)
	d.cache.EXPECT().DeleteByKeyID(keyID)

	require.NoError(t, d.svc.Delete(ctx, owner, keyID))

	d.keyRepo.EXPECT().GetByID(ctx, keyID).Return(nil, nil)
	assertAppError(t, d.svc.Delete(ctx, owner, keyID), "PAY_004")
}

func TestAPIKeyService_List(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	owner := uuid.New()

	d.keyRepo.EXPECT().ListByUser(ctx, owner).Return([]domain.APIKey{{Name: "a"}, {Name: "b"}}, nil)

	keys, err := d.svc.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

// ==================== Rollover ====================

func TestAPIKeyService_Rollover_Success(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	tx := &mockTx{}
	owner := &domain.User{ID: uuid.New()}
	old := &domain.APIKey{
		ID:          uuid.New(),
		UserID:      owner.ID,
		Name:        "ci",
		Permissions: domain.NewPermissionSet(domain.PermissionTransfer),
		ExpiresAt:   d.now.Add(-time.Hour),
	}

	d.keyRepo.EXPECT().GetByID(ctx, old.ID).Return(old, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	gomock.InOrder(
		d.keyRepo.EXPECT().Delete(ctx, tx, old.ID).Return(nil),
		d.userRepo.EXPECT().LockByID(ctx, tx, owner.ID).Return(owner, nil),
		d.keyRepo.EXPECT().NameExists(ctx, tx, owner.ID, "ci").Return(false, nil),
		d.keyRepo.EXPECT().CountActive(ctx, tx, owner.ID, d.now).Return(2, nil),
		d.keyRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil),
	)
	d.cache.EXPECT().DeleteByKeyID(old.ID)

	key, secret, err := d.svc.Rollover(ctx, owner.ID, old.ID, "")
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Regexp(t, secretPattern, secret)
	assert.Equal(t, "ci", key.Name)
	assert.Equal(t, old.Permissions, key.Permissions)
	assert.Equal(t, d.now.Add(30*24*time.Hour), key.ExpiresAt)
	assert.NotEqual(t, old.ID, key.ID)
}

func TestAPIKeyService_Rollover_NotExpired(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	owner := uuid.New()
	live := &domain.APIKey{ID: uuid.New(), UserID: owner, ExpiresAt: d.now.Add(time.Hour)}

	d.keyRepo.EXPECT().GetByID(ctx, live.ID).Return(live, nil)

	_, _, err := d.svc.Rollover(ctx, owner, live.ID, "1M")
	assertAppError(t, err, "PAY_002")
}

func TestAPIKeyService_Rollover_QuotaStillApplies(t *testing.T) {
	d := setupAPIKeyService(t)
	ctx := context.Background()
	tx := &mockTx{}
	owner := &domain.User{ID: uuid.New()}
	old := &domain.APIKey{ID: uuid.New(), UserID: owner.ID, Name: "ci", Permissions: domain.AllPermissions, ExpiresAt: d.now.Add(-time.Hour)}

	d.keyRepo.EXPECT().GetByID(ctx, old.ID).Return(old, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.keyRepo.EXPECT().Delete(ctx, tx, old.ID).Return(nil)
	d.userRepo.EXPECT().LockByID(ctx, tx, owner.ID).Return(owner, nil)
	d.keyRepo.EXPECT().NameExists(ctx, tx, owner.ID, "ci").Return(false, nil)
	d.keyRepo.EXPECT().CountActive(ctx, tx, owner.ID, d.now).Return(5, nil)

	_, _, err := d.svc.Rollover(ctx, owner.ID, old.ID, "")
	assertAppError(t, err, "KEY_001")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}
