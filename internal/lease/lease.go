// Package lease provides per-key processing leases: an owner token that holds
// a key until it releases it or the lease expires.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidLease indicates an empty key, owner or a non-positive TTL.
var ErrInvalidLease = errors.New("lease: key, owner and positive ttl required")

// Lease describes the current holder of a key.
type Lease struct {
	Key       string
	Owner     string
	ExpiresAt time.Time
}

// IsExpired reports whether the lease no longer protects its key at now.
func (l Lease) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Manager acquires and releases leases.
type Manager interface {
	// Acquire grants key to owner for ttl. It returns false while any
	// unexpired lease exists on key, including one held by owner.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release drops the lease if owner still holds it; otherwise it is a no-op.
	Release(ctx context.Context, key, owner string) error
	// Lease returns the current lease on key, if any.
	Lease(ctx context.Context, key string) (Lease, bool, error)
}

func validate(key, owner string, ttl time.Duration) error {
	if key == "" || owner == "" || ttl <= 0 {
		return ErrInvalidLease
	}
	return nil
}
