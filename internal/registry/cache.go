package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/model"
)

const providersKey = "providers"

// CachedSource memoises another Source for a TTL so a busy worker pool does
// not reload the registry for every entity.
type CachedSource struct {
	src   Source
	cache *cache.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedSource wraps src. A non-positive ttl falls back to five minutes.
func NewCachedSource(src Source, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSource{
		src:   src,
		cache: cache.New(ttl, ttl*2),
	}
}

// Providers implements Source.
func (c *CachedSource) Providers(ctx context.Context) ([]model.Provider, error) {
	if cached, found := c.cache.Get(providersKey); found {
		if ps, ok := cached.([]model.Provider); ok {
			c.hits.Add(1)
			return clone(ps), nil
		}
	}
	c.misses.Add(1)

	ps, err := c.src.Providers(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(providersKey, clone(ps), cache.DefaultExpiration)
	zap.L().Debug("registry: providers cached", zap.Int("count", len(ps)))
	return ps, nil
}

// Invalidate drops the cached records so the next call reloads.
func (c *CachedSource) Invalidate() {
	c.cache.Delete(providersKey)
}

// Stats returns cache hit and miss counts.
func (c *CachedSource) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func clone(ps []model.Provider) []model.Provider {
	out := make([]model.Provider, len(ps))
	copy(out, ps)
	return out
}
