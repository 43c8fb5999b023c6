// Package testutil provides shared utilities for tests.
package testutil

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetEnv sets an environment variable for the duration of a test.
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

// SkipIfNoRedis skips tests that need a live Redis server.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_REDIS") != "true" {
		t.Skip("Skipping: TEST_REDIS not set. Run with docker-compose up -d")
	}
}

// SkipIfNoDatabase skips tests that need a live PostgreSQL server.
func SkipIfNoDatabase(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_POSTGRES") != "true" {
		t.Skip("Skipping: TEST_POSTGRES not set. Run with docker-compose up -d")
	}
}

// RedisClient connects to the Redis named by REDIS_HOST and REDIS_PORT,
// skipping the test when TEST_REDIS is unset. The client is closed on cleanup.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	SkipIfNoRedis(t)

	port, err := strconv.Atoi(EnvOrDefault("REDIS_PORT", "6379"))
	if err != nil {
		t.Fatalf("invalid REDIS_PORT: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     EnvOrDefault("REDIS_HOST", "localhost") + ":" + strconv.Itoa(port),
		Password: EnvOrDefault("REDIS_PASSWORD", ""),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

// EnvOrDefault returns the environment value for key or defaultVal.
func EnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
