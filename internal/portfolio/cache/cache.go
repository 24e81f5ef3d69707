// Package cache is a Redis read-through cache for portfolio detail reads.
// Concurrent misses for the same portfolio share one load.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/redis"
)

const keyPrefix = "portfolio:"

// KV is the subset of the Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

var _ portfolio.Cache = (*PortfolioCache)(nil)

type PortfolioCache struct {
	client  KV
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(client KV, ttl time.Duration, m *metrics.Metrics) *PortfolioCache {
	return &PortfolioCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "portfolio-cache"),
	}
}

// Get returns the cached portfolio. Redis errors are logged and reported as
// a miss.
func (c *PortfolioCache) Get(ctx context.Context, id int64) (*portfolio.Portfolio, bool) {
	key := buildKey(id)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.observe(false)
		return nil, false
	}
	var p portfolio.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.observe(false)
		return nil, false
	}
	c.observe(true)
	return &p, true
}

func (c *PortfolioCache) Set(ctx context.Context, p *portfolio.Portfolio) {
	key := buildKey(p.ID)
	data, err := json.Marshal(p)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrLoad returns the cached portfolio or calls load once per id across
// concurrent callers and caches its result. Load errors are not cached.
func (c *PortfolioCache) GetOrLoad(
	ctx context.Context,
	id int64,
	load func(ctx context.Context) (*portfolio.Portfolio, error),
) (*portfolio.Portfolio, error) {
	if p, ok := c.Get(ctx, id); ok {
		return p, nil
	}
	val, err, _ := c.group.Do(buildKey(id), func() (interface{}, error) {
		p, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a load must not share the struct
	cp := *val.(*portfolio.Portfolio)
	cp.ProjectIDs = append([]int64(nil), cp.ProjectIDs...)
	return &cp, nil
}

// Invalidate drops the cached copy of a portfolio.
func (c *PortfolioCache) Invalidate(ctx context.Context, id int64) error {
	c.group.Forget(buildKey(id))
	if err := c.client.Del(ctx, buildKey(id)); err != nil {
		return fmt.Errorf("invalidating portfolio %d: %w", id, err)
	}
	return nil
}

func (c *PortfolioCache) observe(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.Inc()
	} else {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}
