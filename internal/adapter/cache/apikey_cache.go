// Package cache holds process-local caches.
package cache

import (
	"sync"
	"time"

	"wallet-service/internal/core/domain"
	"wallet-service/internal/metrics"

	"github.com/google/uuid"
)

type apiKeyEntry struct {
	identity domain.APIKeyIdentity
	deadline time.Time
}

// eviction records when a key id was last evicted.
type eviction struct {
	gen uint64
	at  time.Time
}

// APIKeyCache implements ports.APIKeyCache. Entries live for ttl or until
// the key itself expires, whichever comes first, and are indexed by both
// secret hash and key id so revocation can evict without the secret.
//
// Every eviction bumps a generation counter. A writer reads Generation
// before its lookup and passes it to Set, which refuses the write when the
// key was evicted after that point.
type APIKeyCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	byHash  map[string]apiKeyEntry
	byKeyID map[uuid.UUID]string
	now     func() time.Time
	metrics *metrics.Metrics

	gen       uint64
	evicted   map[uuid.UUID]eviction
	prunedGen uint64
}

// NewAPIKeyCache creates an empty cache.
func NewAPIKeyCache(ttl time.Duration) *APIKeyCache {
	return &APIKeyCache{
		ttl:     ttl,
		byHash:  make(map[string]apiKeyEntry),
		byKeyID: make(map[uuid.UUID]string),
		evicted: make(map[uuid.UUID]eviction),
		now:     time.Now,
		metrics: metrics.Get(),
	}
}

// Get returns a live entry. Stale entries are dropped on read.
func (c *APIKeyCache) Get(hash string) (domain.APIKeyIdentity, bool) {
	c.mu.RLock()
	e, ok := c.byHash[hash]
	c.mu.RUnlock()

	if ok && c.now().Before(e.deadline) {
		c.metrics.RecordAPIKeyCacheHit()
		return e.identity, true
	}
	if ok {
		c.mu.Lock()
		// re-check under the write lock, a Set may have refreshed it
		if cur, still := c.byHash[hash]; still && !c.now().Before(cur.deadline) {
			c.removeLocked(hash, cur.identity.KeyID)
		}
		c.mu.Unlock()
	}
	c.metrics.RecordAPIKeyCacheMiss()
	return domain.APIKeyIdentity{}, false
}

// Generation returns the current eviction generation.
func (c *APIKeyCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Set caches identity under hash until min(now+ttl, identity.ExpiresAt),
// unless the key was evicted after gen was read. It reports whether the
// entry was stored.
func (c *APIKeyCache) Set(hash string, identity domain.APIKeyIdentity, gen uint64) bool {
	deadline := c.now().Add(c.ttl)
	if !identity.ExpiresAt.IsZero() && identity.ExpiresAt.Before(deadline) {
		deadline = identity.ExpiresAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen < c.prunedGen {
		return false
	}
	if ev, ok := c.evicted[identity.KeyID]; ok && ev.gen > gen {
		return false
	}
	if old, ok := c.byKeyID[identity.KeyID]; ok && old != hash {
		delete(c.byHash, old)
	}
	c.byHash[hash] = apiKeyEntry{identity: identity, deadline: deadline}
	c.byKeyID[identity.KeyID] = hash
	return true
}

// DeleteByKeyID evicts whatever entry belongs to keyID and fences off
// writes that started before the eviction.
func (c *APIKeyCache) DeleteByKeyID(keyID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hash, ok := c.byKeyID[keyID]; ok {
		c.removeLocked(hash, keyID)
	}

	now := c.now()
	c.gen++
	c.evicted[keyID] = eviction{gen: c.gen, at: now}

	// eviction records older than ttl are folded into prunedGen
	for id, ev := range c.evicted {
		if now.Sub(ev.at) > c.ttl {
			if ev.gen > c.prunedGen {
				c.prunedGen = ev.gen
			}
			delete(c.evicted, id)
		}
	}
}

// Len reports the number of cached entries, stale ones included.
func (c *APIKeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}

func (c *APIKeyCache) removeLocked(hash string, keyID uuid.UUID) {
	delete(c.byHash, hash)
	if c.byKeyID[keyID] == hash {
		delete(c.byKeyID, keyID)
	}
}
