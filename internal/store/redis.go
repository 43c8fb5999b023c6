package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/metrics"
)

// scanBatch is the COUNT hint passed to SCAN when listing keys.
const scanBatch = 500

// Ensure Redis implements Store
var _ Store = (*Redis)(nil)

// Redis implements Store on a Redis server.
// The namespace prefix is applied here rather than by the client, so keys
// returned from Keys can be fed straight back into Delete.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Verify connectivity
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisWithClient(client, cfg.Prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Increment runs INCRBY.
func (r *Redis) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	start := time.Now()
	n, err := r.client.IncrBy(ctx, r.key(key), amount).Result()
	observe("incrby", start, err)
	if err != nil {
		return 0, wrapErr("incrby", key, err)
	}
	return n, nil
}

// ExpireAt runs EXPIREAT.
func (r *Redis) ExpireAt(ctx context.Context, key string, at time.Time) error {
	start := time.Now()
	err := r.client.ExpireAt(ctx, r.key(key), at).Err()
	observe("expireat", start, err)
	return wrapErr("expireat", key, err)
}

// Get runs GET. A missing key is not an error.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		observe("get", start, nil)
		return "", false, nil
	}
	observe("get", start, err)
	if err != nil {
		return "", false, wrapErr("get", key, err)
	}
	return val, true, nil
}

// Set runs SET without a TTL.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := r.client.Set(ctx, r.key(key), value, 0).Err()
	observe("set", start, err)
	return wrapErr("set", key, err)
}

// Delete runs DEL.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}

	start := time.Now()
	err := r.client.Del(ctx, full...).Err()
	observe("del", start, err)
	return wrapErr("del", strings.Join(keys, ","), err)
}

// Keys walks the namespace with SCAN instead of KEYS so large keyspaces
// do not stall the server.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	var keys []string

	iter := r.client.Scan(ctx, 0, r.prefix+pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}

	err := iter.Err()
	observe("scan", start, err)
	if err != nil {
		return nil, wrapErr("scan", pattern, err)
	}
	return keys, nil
}

// SetAdd runs SADD.
func (r *Redis) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}

	start := time.Now()
	n, err := r.client.SAdd(ctx, r.key(key), args...).Result()
	observe("sadd", start, err)
	if err != nil {
		return 0, wrapErr("sadd", key, err)
	}
	return n, nil
}

// SetMembers runs SMEMBERS.
func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	members, err := r.client.SMembers(ctx, r.key(key)).Result()
	observe("smembers", start, err)
	if err != nil {
		return nil, wrapErr("smembers", key, err)
	}
	return members, nil
}

// Exists runs EXISTS.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	observe("exists", start, err)
	if err != nil {
		return false, wrapErr("exists", key, err)
	}
	return n > 0, nil
}

// Ping checks if Redis is healthy.
func (r *Redis) Ping(ctx context.Context) error {
	return wrapErr("ping", "", r.client.Ping(ctx).Err())
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client for advanced operations.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Prefix returns the namespace applied to every key.
func (r *Redis) Prefix() string {
	return r.prefix
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStoreOp(op, time.Since(start), err)
}
