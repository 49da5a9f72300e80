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
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	apiKeySecretBytes     = 32
	apiKeyDisplayPrefix   = 12
	defaultRolloverExpiry = "1M"
)

// APIKeyServiceImpl implements ports.APIKeyService.
type APIKeyServiceImpl struct {
	keyRepo    ports.APIKeyRepository
	userRepo   ports.UserRepository
	transactor ports.DBTransactor
	cache      ports.APIKeyCache
	hasher     ports.HashService
	cfg        config.APIKeyConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewAPIKeyService creates a new APIKeyServiceImpl.
func NewAPIKeyService(
	keyRepo ports.APIKeyRepository,
	userRepo ports.UserRepository,
	transactor ports.DBTransactor,
	cache ports.APIKeyCache,
	hasher ports.HashService,
	cfg config.APIKeyConfig,
	log zerolog.Logger,
) *APIKeyServiceImpl {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 5
	}
	if cfg.DefaultExpiry == "" {
		cfg.DefaultExpiry = "1Y"
	}
	return &APIKeyServiceImpl{
		keyRepo:    keyRepo,
		userRepo:   userRepo,
		transactor: transactor,
		cache:      cache,
		hasher:     hasher,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

func generateAPIKeySecret() (string, error) {
	b := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return domain.APIKeySecretPrefix + hex.EncodeToString(b), nil
}

// Issue creates a key for req.OwnerID and returns it with its plaintext
// secret. The secret is never retrievable afterwards.
func (s *APIKeyServiceImpl) Issue(ctx context.Context, req ports.IssueAPIKeyRequest) (*domain.APIKey, string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, "", apperror.Validation("API key name is required")
	}
	if req.Permissions.IsEmpty() {
		return nil, "", apperror.Validation("At least one permission is required")
	}

	expiry := req.Expiry
	if expiry == "" {
		expiry = s.cfg.DefaultExpiry
	}
	ttl, err := domain.ParseExpiry(expiry)
	if err != nil {
		return nil, "", apperror.Validation(err.Error())
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	key, secret, err := s.create(ctx, dbTx, req.OwnerID, name, req.Permissions, ttl)
	if err != nil {
		return nil, "", err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("user_id", req.OwnerID.String()).
		Str("key_id", key.ID.String()).
		Str("permissions", key.Permissions.String()).
		Msg("api key issued")

	return key, secret, nil
}

// create enforces the per-owner limits and inserts the key. The owner row
// lock serializes concurrent issuance for the same user.
func (s *APIKeyServiceImpl) create(
	ctx context.Context,
	dbTx pgx.Tx,
	ownerID uuid.UUID,
	name string,
	perms domain.PermissionSet,
	ttl time.Duration,
) (*domain.APIKey, string, error) {
	owner, err := s.userRepo.LockByID(ctx, dbTx, ownerID)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("lock owner: %w", err))
	}
	if owner == nil {
		return nil, "", apperror.ErrNotFound("user")
	}

	exists, err := s.keyRepo.NameExists(ctx, dbTx, ownerID, name)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("check key name: %w", err))
	}
	if exists {
		return nil, "", apperror.ErrDuplicateKeyName()
	}

	now := s.now().UTC()
	active, err := s.keyRepo.CountActive(ctx, dbTx, ownerID, now)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("count active keys: %w", err))
	}
	if active >= s.cfg.MaxActive {
		return nil, "", apperror.ErrQuotaExceeded(s.cfg.MaxActive)
	}

	secret, err := generateAPIKeySecret()
	if err != nil {
		return nil, "", apperror.InternalError(err)
	}

	key := &domain.APIKey{
		ID:          uuid.New(),
		UserID:      ownerID,
		Name:        name,
		KeyHash:     s.hasher.Digest(secret),
		KeyPrefix:   secret[:apiKeyDisplayPrefix],
		Permissions: perms,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := s.keyRepo.Create(ctx, dbTx, key); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) && conflict.Field == "name" {
			return nil, "", apperror.ErrDuplicateKeyName()
		}
		return nil, "", apperror.InternalError(fmt.Errorf("create api key: %w", err))
	}
	return key, secret, nil
}

// Validate resolves a plaintext secret. Unknown or revoked secrets, and
// keys whose owner is missing or deactivated, return nil, nil; expired keys
// return an Expired error.
func (s *APIKeyServiceImpl) Validate(ctx context.Context, secret string) (*domain.APIKeyIdentity, error) {
	if secret == "" {
		return nil, nil
	}
	hash := s.hasher.Digest(secret)

	if identity, ok := s.cache.Get(hash); ok {
		return &identity, nil
	}

	// read before the lookup so a concurrent revoke fences our cache write
	gen := s.cache.Generation()

	key, err := s.keyRepo.GetByHash(ctx, hash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup api key: %w", err))
	}
	if key == nil {
		return nil, nil
	}

	now := s.now()
	if key.IsExpired(now) {
		return nil, apperror.ErrExpired("API key")
	}

	owner, err := s.userRepo.GetByID(ctx, key.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load key owner: %w", err))
	}
	if owner == nil || !owner.IsActive {
		s.log.Debug().Str("key_id", key.ID.String()).Msg("api key presented for inactive owner")
		return nil, nil
	}

	if err := s.keyRepo.TouchLastUsed(ctx, key.ID, now.UTC()); err != nil {
		s.log.Warn().Err(err).Str("key_id", key.ID.String()).Msg("failed to update api key last use")
	}

	identity := key.Identity()
	s.cache.Set(hash, identity, gen)
	return &identity, nil
}

// InvalidateOwner evicts the cached validation of every key the owner has.
func (s *APIKeyServiceImpl) InvalidateOwner(ctx context.Context, ownerID uuid.UUID) error {
	keys, err := s.keyRepo.ListByUser(ctx, ownerID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list api keys: %w", err))
	}
	for _, k := range keys {
		s.cache.DeleteByKeyID(k.ID)
	}
	return nil
}

// Revoke disables a key without deleting it.
func (s *APIKeyServiceImpl) Revoke(ctx context.Context, ownerID, keyID uuid.UUID) error {
	if _, err := s.owned(ctx, ownerID, keyID); err != nil {
		return err
	}
	if err := s.keyRepo.Revoke(ctx, keyID); err != nil {
		return apperror.InternalError(fmt.Errorf("revoke api key: %w", err))
	}
	s.cache.DeleteByKeyID(keyID)

	s.log.Info().Str("user_id", ownerID.String()).Str("key_id", keyID.String()).Msg("api key revoked")
	return nil
}

// Delete removes a key permanently.
func (s *APIKeyServiceImpl) Delete(ctx context.Context, ownerID, keyID uuid.UUID) error {
	if _, err := s.owned(ctx, ownerID, keyID); err != nil {
		return err
	}
	if err := s.keyRepo.Delete(ctx, nil, keyID); err != nil {
		return apperror.InternalError(fmt.Errorf("delete api key: %w", err))
	}
	s.cache.DeleteByKeyID(keyID)

	s.log.Info().Str("user_id", ownerID.String()).Str("key_id", keyID.String()).Msg("api key deleted")
	return nil
}

// List returns every key the owner has, newest first.
func (s *APIKeyServiceImpl) List(ctx context.Context, ownerID uuid.UUID) ([]domain.APIKey, error) {
	keys, err := s.keyRepo.ListByUser(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list api keys: %w", err))
	}
	return keys, nil
}

// Rollover replaces an expired key with a fresh one carrying the same name
// and permissions.
func (s *APIKeyServiceImpl) Rollover(ctx context.Context, ownerID, expiredKeyID uuid.UUID, expiry string) (*domain.APIKey, string, error) {
	old, err := s.owned(ctx, ownerID, expiredKeyID)
	if err != nil {
		return nil, "", err
	}
	if !old.IsExpired(s.now()) {
		return nil, "", apperror.Validation("Only expired API keys can be rolled over")
	}

	if expiry == "" {
		expiry = defaultRolloverExpiry
	}
	ttl, err := domain.ParseExpiry(expiry)
	if err != nil {
		return nil, "", apperror.Validation(err.Error())
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.keyRepo.Delete(ctx, dbTx, old.ID); err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("delete expired key: %w", err))
	}

	key, secret, err := s.create(ctx, dbTx, ownerID, old.Name, old.Permissions, ttl)
	if err != nil {
		return nil, "", err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.cache.DeleteByKeyID(old.ID)

	s.log.Info().
		Str("user_id", ownerID.String()).
		Str("old_key_id", old.ID.String()).
		Str("key_id", key.ID.String()).
		Msg("api key rolled over")

	return key, secret, nil
}

func (s *APIKeyServiceImpl) owned(ctx context.Context, ownerID, keyID uuid.UUID) (*domain.APIKey, error) {
	key, err := s.keyRepo.GetByID(ctx, keyID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get api key: %w", err))
	}
	if key == nil || key.UserID != ownerID {
		return nil, apperror.ErrNotFound("API key")
	}
	return key, nil
}
