package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager stores leases as Redis keys holding the owner token.
type RedisManager struct {
	client redis.UniversalClient
}

// NewRedisManager constructs RedisManager.
func NewRedisManager(client redis.UniversalClient) *RedisManager {
	return &RedisManager{client: client}
}

// Acquire implements Manager.
func (m *RedisManager) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := validate(key, owner, ttl); err != nil {
		return false, err
	}
	ok, err := m.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release implements Manager.
func (m *RedisManager) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, m.client, []string{key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease: release %s: %w", key, err)
	}
	return nil
}

// Lease implements Manager.
func (m *RedisManager) Lease(ctx context.Context, key string) (Lease, bool, error) {
	pipe := m.client.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Lease{}, false, fmt.Errorf("lease: inspect %s: %w", key, err)
	}
	owner, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("lease: inspect %s: %w", key, err)
	}
	return Lease{Key: key, Owner: owner, ExpiresAt: time.Now().Add(ttl.Val())}, true, nil
}
