package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/metrics"
	"wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RevocationServiceImpl implements ports.RevocationService. Postgres is the
// source of truth; redis is a best-effort fast path in front of it.
type RevocationServiceImpl struct {
	repo          ports.TokenBlacklistRepository
	cache         ports.RevokedTokenCache
	purgeInterval time.Duration
	log           zerolog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	purgeMu   sync.Mutex
	lastPurge time.Time
}

// NewRevocationService creates a new RevocationServiceImpl. cache may be nil.
// A non-positive purgeInterval disables opportunistic purging.
func NewRevocationService(
	repo ports.TokenBlacklistRepository,
	cache ports.RevokedTokenCache,
	purgeInterval time.Duration,
	log zerolog.Logger,
) *RevocationServiceImpl {
	return &RevocationServiceImpl{
		repo:          repo,
		cache:         cache,
		purgeInterval: purgeInterval,
		log:           log,
		metrics:       metrics.Get(),
		now:           time.Now,
	}
}

// Revoke blacklists a token id until expiresAt. Revoking twice is a no-op.
func (s *RevocationServiceImpl) Revoke(ctx context.Context, tokenID uuid.UUID, expiresAt time.Time) error {
	now := s.now().UTC()
	if err := s.repo.Add(ctx, &domain.RevokedToken{
		TokenID:   tokenID,
		ExpiresAt: expiresAt.UTC(),
		RevokedAt: now,
	}); err != nil {
		return apperror.InternalError(fmt.Errorf("blacklist token: %w", err))
	}
	s.metrics.RecordRevocation()

	if s.cache != nil {
		if err := s.cache.MarkRevoked(ctx, tokenID, expiresAt.Sub(now)); err != nil {
			s.log.Warn().Err(err).Str("jti", tokenID.String()).Msg("failed to cache revoked token")
		}
	}

	s.maybePurge(ctx, now)
	return nil
}

// IsRevoked checks redis first and falls back to Postgres on a miss or error.
func (s *RevocationServiceImpl) IsRevoked(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	if s.cache != nil {
		revoked, err := s.cache.IsRevoked(ctx, tokenID)
		if err != nil {
			s.log.Warn().Err(err).Str("jti", tokenID.String()).Msg("revocation cache check failed, falling through to DB")
		}
		if revoked {
			return true, nil
		}
	}

	revoked, err := s.repo.Exists(ctx, tokenID)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("check blacklist: %w", err))
	}
	return revoked, nil
}

// PurgeExpired drops blacklist rows for tokens that have expired anyway.
func (s *RevocationServiceImpl) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("purge blacklist: %w", err))
	}
	if n > 0 {
		s.log.Info().Int64("purged", n).Msg("expired blacklist entries purged")
	}
	return n, nil
}

func (s *RevocationServiceImpl) maybePurge(ctx context.Context, now time.Time) {
	if s.purgeInterval <= 0 {
		return
	}

	s.purgeMu.Lock()
	if !s.lastPurge.IsZero() && now.Sub(s.lastPurge) < s.purgeInterval {
		s.purgeMu.Unlock()
		return
	}
	s.lastPurge = now
	s.purgeMu.Unlock()

	if _, err := s.PurgeExpired(ctx); err != nil {
		s.log.Warn().Err(err).Msg("opportunistic blacklist purge failed")
	}
}
