package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/target/ticket-enhancer/internal/core"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/ports"
)

// CacheOptions configures WithCache.
type CacheOptions struct {
	Cache     core.CacheRepository
	TTL       time.Duration
	KeyPrefix string
	Logger    *slog.Logger
}

// cachedSource serves repeat lookups from Redis. Keys carry the tenant id, so a
// cached answer is never visible to another tenant.
type cachedSource struct {
	inner  ports.ContextSource
	cache  core.CacheRepository
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// WithCache wraps src with a result cache. It returns src unchanged when no cache
// or TTL is configured.
func WithCache(src ports.ContextSource, opts CacheOptions) ports.ContextSource {
	if opts.Cache == nil || opts.TTL <= 0 {
		return src
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedSource{
		inner:  src,
		cache:  opts.Cache,
		ttl:    opts.TTL,
		prefix: opts.KeyPrefix,
		logger: logger.With("component", "source_cache", "source", src.Name()),
	}
}

func (c *cachedSource) Name() string { return c.inner.Name() }

func (c *cachedSource) Fetch(
	ctx context.Context,
	tc tenant.Context,
	spec tenant.SourceSpec,
	ticket model.Ticket,
) (ports.SourceData, error) {
	if err := tenant.Require(tc); err != nil {
		return ports.SourceData{}, err
	}
	key := c.key(tc, spec, ticket)

	cached, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.WarnContext(ctx, "source cache read failed", "tenant_id", tc.ID(), "error", err)
	case cached != nil:
		return ports.SourceData{Data: cached, Cached: true}, nil
	}

	data, err := c.inner.Fetch(ctx, tc, spec, ticket)
	if err != nil || len(data.Data) == 0 {
		return data, err
	}
	if serr := c.cache.Set(ctx, key, data.Data, c.ttl); serr != nil {
		c.logger.WarnContext(ctx, "source cache write failed", "tenant_id", tc.ID(), "error", serr)
	}
	return data, nil
}

// key hashes everything that shapes the answer: the endpoint, the result path, and
// the ticket fields the sources read.
func (c *cachedSource) key(tc tenant.Context, spec tenant.SourceSpec, t model.Ticket) string {
	h := sha256.New()
	for _, part := range []string{spec.URL, spec.ResultPath, t.ID, t.Subject, t.Description, t.Requester} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return c.prefix + "source:" + tc.ID() + ":" + c.inner.Name() + ":" + hex.EncodeToString(h.Sum(nil))
}
