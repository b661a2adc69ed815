package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := NewClientFromOptions(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func Test_lock(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	t.Run("it should grant the lock only once until it is released", func(t *testing.T) {
		ok, err := client.Lock(ctx, "uptime:cycle", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = client.Lock(ctx, "uptime:cycle", time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, client.Unlock(ctx, "uptime:cycle"))

		ok, err = client.Lock(ctx, "uptime:cycle", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("it should expire an abandoned lock", func(t *testing.T) {
		ok, err := client.Lock(ctx, "abandoned", time.Second)
		assert.NoError(t, err)
		assert.True(t, ok)

		mr.FastForward(2 * time.Second)

		ok, err = client.Lock(ctx, "abandoned", time.Second)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("it should not release a lock another instance took after expiry", func(t *testing.T) {
		other := NewClientFromOptions(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = other.Close() })

		ok, err := client.Lock(ctx, "uptime:expired", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)

		ok, err = other.Lock(ctx, "uptime:expired", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		assert.NoError(t, client.Unlock(ctx, "uptime:expired"))
		assert.True(t, mr.Exists("uptime:expired"))

		ok, err = client.Lock(ctx, "uptime:expired", time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, other.Unlock(ctx, "uptime:expired"))
		assert.False(t, mr.Exists("uptime:expired"))
	})
}

func Test_incr_window(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	t.Run("it should count hits inside one window", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			count, ttl, err := client.IncrWindow(ctx, "auth:1.2.3.4", time.Minute)
			assert.NoError(t, err)
			assert.Equal(t, i, count)
			assert.True(t, ttl > 0 && ttl <= time.Minute)
		}
	})

	t.Run("it should start over once the window expires", func(t *testing.T) {
		mr.FastForward(time.Minute + time.Second)

		count, _, err := client.IncrWindow(ctx, "auth:1.2.3.4", time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("it should forget a key after Del", func(t *testing.T) {
		_, _, err := client.IncrWindow(ctx, "leads:5.6.7.8", time.Hour)
		assert.NoError(t, err)
		assert.NoError(t, client.Del(ctx, "leads:5.6.7.8"))

		count, _, err := client.IncrWindow(ctx, "leads:5.6.7.8", time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}
