package presence

import (
	"context"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	since := time.Unix(100, 5)
	rec := NewRecord("game", 42, "10.0.0.1:5000", since)

	assert.Equal(t, uint32(42), rec.SessionID)
	assert.Equal(t, "10.0.0.1:5000", rec.RemoteAddr)
	assert.Equal(t, "game", rec.Server)
	assert.Equal(t, "game/42/100000000005", rec.Token)
	assert.Equal(t, int64(100000000), rec.SinceMicro)
}

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("online then lookup", func(t *testing.T) {
		tr := NewMemoryTracker(cache.NoExpiration, time.Minute)
		rec := NewRecord("s", 1, "a", time.Now())
		require.NoError(t, tr.Online(ctx, rec))

		got, ok, err := tr.Lookup(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, rec, got)

		n, err := tr.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("offline removes the matching record", func(t *testing.T) {
		tr := NewMemoryTracker(0, time.Minute)
		rec := NewRecord("s", 1, "a", time.Now())
		require.NoError(t, tr.Online(ctx, rec))
		require.NoError(t, tr.Offline(ctx, rec))

		_, ok, err := tr.Lookup(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("offline of an evicted connection keeps its successor", func(t *testing.T) {
		tr := NewMemoryTracker(0, time.Minute)
		old := NewRecord("s", 1, "a", time.Unix(1, 0))
		current := NewRecord("s", 1, "b", time.Unix(2, 0))

		require.NoError(t, tr.Online(ctx, old))
		require.NoError(t, tr.Online(ctx, current))
		require.NoError(t, tr.Offline(ctx, old))

		got, ok, err := tr.Lookup(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "b", got.RemoteAddr)
	})

	t.Run("late refresh of an evicted connection keeps its successor", func(t *testing.T) {
		tr := NewMemoryTracker(0, time.Minute)
		old := NewRecord("s", 1, "a", time.Unix(1, 0))
		current := NewRecord("s", 1, "b", time.Unix(2, 0))

		require.NoError(t, tr.Online(ctx, old))
		require.NoError(t, tr.Online(ctx, current))
		require.NoError(t, tr.Online(ctx, old))

		got, ok, err := tr.Lookup(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, current.Token, got.Token)

		// The owner itself can still refresh.
		require.NoError(t, tr.Online(ctx, current))
		got, _, _ = tr.Lookup(ctx, 1)
		assert.Equal(t, "b", got.RemoteAddr)
	})

	t.Run("records expire without refresh", func(t *testing.T) {
		tr := NewMemoryTracker(20*time.Millisecond, time.Millisecond)
		require.NoError(t, tr.Online(ctx, NewRecord("s", 1, "a", time.Now())))

		assert.Eventually(t, func() bool {
			_, ok, _ := tr.Lookup(ctx, 1)
			return !ok
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("cancelled context is honoured", func(t *testing.T) {
		tr := NewMemoryTracker(0, time.Minute)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, tr.Online(cctx, Record{}), context.Canceled)
		_, err := tr.Count(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRedisTracker(t *testing.T) {
	t.Run("keys are namespaced by prefix", func(t *testing.T) {
		tr := NewRedisTracker(nil, RedisConfig{})
		assert.Equal(t, "netserve:presence:42", tr.key(42))

		tr = NewRedisTracker(nil, RedisConfig{Prefix: "game"})
		assert.Equal(t, "game:7", tr.key(7))
	})

	t.Run("backend failures are reported", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer client.Close()

		tr := NewRedisTracker(client, DefaultRedisConfig())
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.Error(t, tr.Online(ctx, NewRecord("s", 1, "a", time.Now())))
		_, _, err := tr.Lookup(ctx, 1)
		assert.Error(t, err)
	})
}
