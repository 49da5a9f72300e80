package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	redisStore "wallet-service/internal/adapter/storage/redis"
	"wallet-service/internal/metrics"
	"wallet-service/pkg/apperror"
	"wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// Endpoint groups.
const (
	RuleSignup       = "auth_signup"
	RuleLogin        = "auth_login"
	RulePasswordFlow = "auth_password"
	RuleWalletWrite  = "wallet_write"
	RuleWalletRead   = "wallet_read"
)

// DefaultRateLimitRules returns the rate limits per endpoint group.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		RuleSignup:       {Limit: 5, Window: time.Hour},
		RuleLogin:        {Limit: 10, Window: time.Minute},
		RulePasswordFlow: {Limit: 5, Window: 15 * time.Minute},
		RuleWalletWrite:  {Limit: 30, Window: time.Minute},
		RuleWalletRead:   {Limit: 60, Window: time.Minute},
	}
}

// RateLimitStore counts requests in a shared fixed window.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redisStore.RateLimitResult, error)
}

// maxLocalLimiters bounds the fallback map; it is reset when full.
const maxLocalLimiters = 10000

// localLimiter is a per-process token bucket used while the shared store
// is unavailable.
type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *localLimiter) allow(key string, rule RateLimitRule) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLocalLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		every := rule.Window / time.Duration(rule.Limit)
		lim = rate.NewLimiter(rate.Every(every), int(rule.Limit))
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// When the store fails, requests are limited per process instead.
func RateLimiter(store RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	fallback := newLocalLimiter()
	m := metrics.Get()

	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", extractIdentifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit store unavailable, using local limiter")
			if !fallback.allow(key, rule) {
				m.RecordRateLimited(group)
				c.Header("Retry-After", strconv.FormatInt(int64(rule.Window/time.Duration(rule.Limit)/time.Second)+1, 10))
				response.Abort(c, apperror.ErrRateLimitExceeded())
				return
			}
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			m.RecordRateLimited(group)
			response.Abort(c, apperror.ErrRateLimitExceeded())
			return
		}

		c.Next()
	}
}

// extractIdentifier keys authenticated callers by user and everyone else by
// client ip.
func extractIdentifier(c *gin.Context) string {
	if p := GetPrincipal(c); p != nil {
		return "user:" + p.UserID.String()
	}
	return "ip:" + c.ClientIP()
}
