package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ChartCache stores serialised charts in Redis under a per-tenant version.
type ChartCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewChartCache instantiates the cache helper.
func NewChartCache(client *redis.Client, ttl time.Duration) *ChartCache {
	return &ChartCache{client: client, ttl: ttl}
}

func versionKey(tenantID string) string {
	return fmt.Sprintf("ledger:chart:%s:version", tenantID)
}

// Version returns the tenant's current cache version, initialising when missing.
func (c *ChartCache) Version(ctx context.Context, tenantID string) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(tenantID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(tenantID)).Int64()
	}
	return ver, err
}

func (c *ChartCache) key(ctx context.Context, tenantID string) (string, error) {
	ver, err := c.Version(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ledger:chart:%s:%d", tenantID, ver), nil
}

// Get returns the cached chart and whether it was present.
func (c *ChartCache) Get(ctx context.Context, tenantID string) (Chart, bool, error) {
	key, err := c.key(ctx, tenantID)
	if err != nil {
		return Chart{}, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Chart{}, false, nil
	}
	if err != nil {
		return Chart{}, false, err
	}
	var chart Chart
	if err := json.Unmarshal(payload, &chart); err != nil {
		return Chart{}, false, err
	}
	return chart, true, nil
}

// Set stores chart under the current version.
func (c *ChartCache) Set(ctx context.Context, chart Chart) error {
	key, err := c.key(ctx, chart.TenantID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(chart)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Bump invalidates a tenant's chart by moving it to a new version key. Every
// process reads the version from Redis, so no broadcast is needed.
func (c *ChartCache) Bump(ctx context.Context, tenantID string) error {
	return c.client.Incr(ctx, versionKey(tenantID)).Err()
}

// CachedCharts is a ChartProvider backed by Redis with singleflight loading.
// Cache failures fall through to the underlying provider.
type CachedCharts struct {
	next  ChartProvider
	cache *ChartCache
	group singleflight.Group
}

// NewCachedCharts wraps next with cache.
func NewCachedCharts(next ChartProvider, cache *ChartCache) *CachedCharts {
	return &CachedCharts{next: next, cache: cache}
}

// Chart implements ChartProvider.
func (c *CachedCharts) Chart(ctx context.Context, tenantID string) (Chart, error) {
	if c.cache == nil {
		return c.next.Chart(ctx, tenantID)
	}
	if chart, ok, err := c.cache.Get(ctx, tenantID); err == nil && ok {
		return chart, nil
	}
	resultChan := c.group.DoChan(tenantID, func() (interface{}, error) {
		chart, err := c.next.Chart(ctx, tenantID)
		if err != nil {
			return Chart{}, err
		}
		_ = c.cache.Set(ctx, chart)
		return chart, nil
	})
	select {
	case <-ctx.Done():
		return Chart{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Chart{}, res.Err
		}
		return res.Val.(Chart), nil
	}
}

// Invalidate implements Invalidator.
func (c *CachedCharts) Invalidate(ctx context.Context, tenantID string) error {
	if c.cache == nil {
		return nil
	}
	c.group.Forget(tenantID)
	return c.cache.Bump(ctx, tenantID)
}
