package capability

import (
	"context"
	"strconv"
	"time"
)

// ReplicatedMap is the minimal replicated-map contract the Pulse-backed nonce
// cache depends on. It is satisfied by *rmap.Map from goa.design/pulse/rmap;
// the narrow interface keeps this package unit-testable without Redis, the
// same pattern the teacher's registry/store/replicated package uses for its
// Map dependency.
type ReplicatedMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, key string) (string, error)
}

// ReplicatedNonceCache is a NonceCache backed by a Pulse replicated map, so
// nonce-replay protection holds across every node validating capability
// tokens in a cluster, not just the node that first saw a given token.
type ReplicatedNonceCache struct {
	m ReplicatedMap
}

// NewReplicatedNonceCache constructs a ReplicatedNonceCache backed by m.
func NewReplicatedNonceCache(m ReplicatedMap) *ReplicatedNonceCache {
	return &ReplicatedNonceCache{m: m}
}

const noncePrefix = "capability:nonce:"

// Claim implements NonceCache. It uses SetIfNotExists so two nodes racing to
// claim the same nonce never both succeed.
func (c *ReplicatedNonceCache) Claim(ctx context.Context, nonce string, expiry time.Time) (bool, error) {
	key := noncePrefix + nonce
	if _, seen := c.m.Get(key); seen {
		return false, nil
	}
	ok, err := c.m.SetIfNotExists(ctx, key, strconv.FormatInt(expiry.Unix(), 10))
	if err != nil {
		return false, err
	}
	return ok, nil
}
