package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLeaseIsExpired(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := Lease{Owner: "w1", ExpiresAt: at}
	require.False(t, l.IsExpired(at.Add(-time.Second)))
	require.True(t, l.IsExpired(at))
}

func TestMemoryManagerLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryManager().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "k", "w1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, "k", "w2", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.Acquire(ctx, "k", "w1", time.Second)
	require.NoError(t, err)
	require.False(t, ok, "held lease blocks its own owner")

	require.NoError(t, m.Release(ctx, "k", "w2"))
	cur, held, err := m.Lease(ctx, "k")
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, "w1", cur.Owner)

	now = now.Add(2 * time.Second)
	ok, err = m.Acquire(ctx, "k", "w2", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lease should be replaced")

	require.NoError(t, m.Release(ctx, "k", "w2"))
	_, held, err = m.Lease(ctx, "k")
	require.NoError(t, err)
	require.False(t, held)
}

func TestMemoryManagerRejectsInvalid(t *testing.T) {
	m := NewMemoryManager()
	if _, err := m.Acquire(context.Background(), "k", "", time.Second); !errors.Is(err, ErrInvalidLease) {
		t.Fatalf("expected ErrInvalidLease, got %v", err)
	}
	if _, err := m.Acquire(context.Background(), "k", "w", 0); !errors.Is(err, ErrInvalidLease) {
		t.Fatalf("expected ErrInvalidLease, got %v", err)
	}
}

func TestMemoryManagerSingleWinner(t *testing.T) {
	m := NewMemoryManager()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.Acquire(context.Background(), "k", string(rune('a'+i)), time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}

func TestRedisManager(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m := NewRedisManager(client)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "posting:k", "w1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, "posting:k", "w2", 5*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.Acquire(ctx, "posting:k", "w1", 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "held lease blocks its own owner")
	require.Equal(t, 5*time.Second, mr.TTL("posting:k"))

	require.NoError(t, m.Release(ctx, "posting:k", "w2"))
	cur, held, err := m.Lease(ctx, "posting:k")
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, "w1", cur.Owner)

	mr.FastForward(6 * time.Second)
	ok, err = m.Acquire(ctx, "posting:k", "w2", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lease should be replaced")

	require.NoError(t, m.Release(ctx, "posting:k", "w2"))
	require.False(t, mr.Exists("posting:k"))
	_, held, err = m.Lease(ctx, "posting:k")
	require.NoError(t, err)
	require.False(t, held)
}
