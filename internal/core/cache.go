package core

import (
	"context"
	"time"

	"github.com/target/ticket-enhancer/internal/domain/tenant"
)

// CacheRepository defines the interface for caching operations.
// The core defines it and the data layer provides the Redis implementation.
type CacheRepository interface {
	// Set stores a value with the given TTL. A zero TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns nil when the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete returns true if the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the cache connection.
	Health(ctx context.Context) error
}

// DedupGuard is the webhook fast-path duplicate check. Keys are namespaced by tenant so
// one tenant's event ids can never suppress another's.
type DedupGuard struct {
	cache     CacheRepository
	prefix    string
	retention time.Duration
}

// DedupGuardOptions bundles dependencies for NewDedupGuard.
type DedupGuardOptions struct {
	Cache     CacheRepository
	KeyPrefix string
	Retention time.Duration
}

// NewDedupGuard returns nil when no cache is configured; a nil guard claims everything.
func NewDedupGuard(opts DedupGuardOptions) *DedupGuard {
	if opts.Cache == nil {
		return nil
	}
	return &DedupGuard{cache: opts.Cache, prefix: opts.KeyPrefix, retention: opts.Retention}
}

// Claim records the dedup key and reports whether this caller is the first to see it.
func (g *DedupGuard) Claim(ctx context.Context, tc tenant.Context, dedupKey string) (bool, error) {
	if g == nil {
		return true, nil
	}
	if err := tenant.Require(tc); err != nil {
		return false, err
	}
	return g.cache.SetIfNotExists(ctx, g.key(tc, dedupKey), []byte("1"), g.retention)
}

// Release forgets a claim so the sender's retry is not mistaken for a duplicate.
func (g *DedupGuard) Release(ctx context.Context, tc tenant.Context, dedupKey string) error {
	if g == nil {
		return nil
	}
	if err := tenant.Require(tc); err != nil {
		return err
	}
	_, err := g.cache.Delete(ctx, g.key(tc, dedupKey))
	return err
}

func (g *DedupGuard) key(tc tenant.Context, dedupKey string) string {
	return g.prefix + "dedup:" + tc.ID() + ":" + dedupKey
}
