package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLeaser(t *testing.T) (*RedisLeaser, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0, 4)
	t.Cleanup(func() { client.Close() })
	return NewRedisLeaser(client, ""), mr
}

func leasers(t *testing.T, fn func(t *testing.T, l Leaser)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryLeaser()) })
	t.Run("redis", func(t *testing.T) {
		l, _ := newRedisLeaser(t)
		fn(t, l)
	})
}

func TestTryAcquireIsExclusive(t *testing.T) {
	leasers(t, func(t *testing.T, l Leaser) {
		ctx := context.Background()
		first, err := l.TryAcquire(ctx, "v1", time.Minute)
		require.NoError(t, err)

		_, err = l.TryAcquire(ctx, "v1", time.Minute)
		assert.ErrorIs(t, err, ErrLeaseHeld)

		_, err = l.TryAcquire(ctx, "v2", time.Minute)
		assert.NoError(t, err)

		require.NoError(t, l.Release(ctx, first))
		_, err = l.TryAcquire(ctx, "v1", time.Minute)
		assert.NoError(t, err)
	})
}

func TestReleaseIgnoresForeignToken(t *testing.T) {
	leasers(t, func(t *testing.T, l Leaser) {
		ctx := context.Background()
		_, err := l.TryAcquire(ctx, "v1", time.Minute)
		require.NoError(t, err)

		require.NoError(t, l.Release(ctx, Lease{VaultID: "v1", Token: "someone-else"}))
		_, err = l.TryAcquire(ctx, "v1", time.Minute)
		assert.ErrorIs(t, err, ErrLeaseHeld)
	})
}

func TestConcurrentAcquireHasOneWinner(t *testing.T) {
	leasers(t, func(t *testing.T, l Leaser) {
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.TryAcquire(context.Background(), "v1", time.Minute); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}

func TestRedisLeaseExpires(t *testing.T) {
	l, mr := newRedisLeaser(t)
	ctx := context.Background()
	_, err := l.TryAcquire(ctx, "v1", 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)
	_, err = l.TryAcquire(ctx, "v1", 5*time.Second)
	assert.NoError(t, err)
}

func TestMemoryLeaseExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLeaser().WithClock(func() time.Time { return now })
	ctx := context.Background()

	stale, err := l.TryAcquire(ctx, "v1", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)

	fresh, err := l.TryAcquire(ctx, "v1", time.Second)
	require.NoError(t, err)

	// the expired holder must not free the new lease
	require.NoError(t, l.Release(ctx, stale))
	_, err = l.TryAcquire(ctx, "v1", time.Second)
	assert.ErrorIs(t, err, ErrLeaseHeld)
	require.NoError(t, l.Release(ctx, fresh))
}
