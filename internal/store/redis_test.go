package store

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/testutil"
)

func setupTestRedis(t *testing.T) *Redis {
	t.Helper()
	client := testutil.RedisClient(t)

	prefix := fmt.Sprintf("test:%d:", time.Now().UnixNano())
	r := NewRedisWithClient(client, prefix)

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := r.Keys(ctx, "*")
		_ = r.Delete(ctx, keys...)
	})
	return r
}

func unreachableRedis() *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	return NewRedisWithClient(client, "test:")
}

func TestNewRedis_ConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedis(ctx, &config.RedisConfig{Host: "127.0.0.1", Port: 1, PoolSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedis_ErrorsAreUnavailable(t *testing.T) {
	ctx := context.Background()
	r := unreachableRedis()
	defer r.Close()

	_, err := r.Increment(ctx, "k", 1)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, r.Set(ctx, "k", "v"), ErrUnavailable)
	assert.ErrorIs(t, r.ExpireAt(ctx, "k", time.Now().Add(time.Minute)), ErrUnavailable)
	assert.ErrorIs(t, r.Delete(ctx, "k"), ErrUnavailable)
	assert.ErrorIs(t, r.Ping(ctx), ErrUnavailable)

	_, err = r.Keys(ctx, "*")
	assert.ErrorIs(t, err, ErrUnavailable)

	var storeErr *Error
	_, err = r.SetAdd(ctx, "s", "a")
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "sadd", storeErr.Op)
	assert.Equal(t, "s", storeErr.Key)
}

func TestRedis_NoOpArguments(t *testing.T) {
	ctx := context.Background()
	r := unreachableRedis()
	defer r.Close()

	// Nothing to send means nothing can fail.
	assert.NoError(t, r.Delete(ctx))
	n, err := r.SetAdd(ctx, "s")
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "test:", r.Prefix())
	assert.NotNil(t, r.Client())
}

func TestRedis_Integration(t *testing.T) {
	ctx := context.Background()
	r := setupTestRedis(t)

	t.Run("increment and expire", func(t *testing.T) {
		n, err := r.Increment(ctx, "counter", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		require.NoError(t, r.ExpireAt(ctx, "counter", time.Now().Add(time.Minute)))

		ttl, err := r.Client().TTL(ctx, r.Prefix()+"counter").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 50*time.Second)
		assert.LessOrEqual(t, ttl, time.Minute)
	})

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := r.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, r.Set(ctx, "blocked:ip:1.2.3.4", "blocked"))
		val, ok, err := r.Get(ctx, "blocked:ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "blocked", val)

		exists, err := r.Exists(ctx, "blocked:ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("sets", func(t *testing.T) {
		added, err := r.SetAdd(ctx, "actions", "a", "b", "a")
		require.NoError(t, err)
		assert.Equal(t, int64(2), added)

		members, err := r.SetMembers(ctx, "actions")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, members)
	})

	t.Run("keys strips prefix", func(t *testing.T) {
		keys, err := r.Keys(ctx, "*")
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"actions", "blocked:ip:1.2.3.4", "counter"}, keys)

		require.NoError(t, r.Delete(ctx, keys...))
		keys, err = r.Keys(ctx, "*")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
