package capability

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NonceCache records which token nonces have already been consumed, so a
// captured token cannot be replayed within its validity window. Implementations
// must be safe for concurrent use.
type NonceCache interface {
	// Claim records nonce as consumed, valid until expiry. It returns false if
	// the nonce was already claimed (a replay).
	Claim(ctx context.Context, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceCache is an in-process NonceCache backed by github.com/patrickmn/go-cache,
// suitable for single-node deployments and tests: each claim expires on its
// own schedule (the token's own Expiry) rather than a single global TTL, and
// go-cache's janitor goroutine reclaims expired entries in the background.
type MemoryNonceCache struct {
	cache *gocache.Cache
}

// NewMemoryNonceCache returns a ready-to-use MemoryNonceCache. The cleanup
// interval is a minute; individual entries still expire at their own Claim
// expiry regardless of how often the janitor runs.
func NewMemoryNonceCache() *MemoryNonceCache {
	return &MemoryNonceCache{cache: gocache.New(gocache.NoExpiration, time.Minute)}
}

// Claim implements NonceCache.
func (c *MemoryNonceCache) Claim(_ context.Context, nonce string, expiry time.Time) (bool, error) {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := c.cache.Add(nonce, struct{}{}, ttl); err != nil {
		return false, nil // already present: a replay, not a cache error
	}
	return true, nil
}
