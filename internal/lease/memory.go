package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryManager keeps leases in process memory.
type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

// NewMemoryManager constructs MemoryManager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{leases: make(map[string]Lease), now: time.Now}
}

// WithClock overrides the clock for testing.
func (m *MemoryManager) WithClock(now func() time.Time) *MemoryManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Acquire implements Manager.
func (m *MemoryManager) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := validate(key, owner, ttl); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.leases[key]; ok && !cur.IsExpired(now) {
		return false, nil
	}
	m.leases[key] = Lease{Key: key, Owner: owner, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// Release implements Manager.
func (m *MemoryManager) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[key]; ok && cur.Owner == owner {
		delete(m.leases, key)
	}
	return nil
}

// Lease implements Manager.
func (m *MemoryManager) Lease(_ context.Context, key string) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[key]
	if !ok || cur.IsExpired(m.now()) {
		return Lease{}, false, nil
	}
	return cur, true, nil
}
