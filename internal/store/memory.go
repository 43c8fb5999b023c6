package store

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Ensure Memory implements Store
var _ Store = (*Memory)(nil)

// Memory implements Store in process memory.
// It is only suitable for single-instance deployments and tests.
type Memory struct {
	prefix  string
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*memoryEntry

	// For cleanup
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// memoryEntry holds either a scalar value or a set.
type memoryEntry struct {
	value     string
	members   map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) MemoryOption {
	return func(m *Memory) {
		m.prefix = prefix
	}
}

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a new in-memory store. A cleanup goroutine evicts expired
// entries every interval; pass zero to disable it.
func NewMemory(interval time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if interval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop(interval)
	}

	return m
}

// Increment adds amount to the integer at key.
func (m *Memory) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("incrby", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &memoryEntry{value: "0"}
		m.entries[m.key(key)] = e
	}
	if e.members != nil {
		return 0, wrapErr("incrby", key, fmt.Errorf("wrong kind of value"))
	}

	current, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, wrapErr("incrby", key, fmt.Errorf("value is not an integer"))
	}

	current += amount
	e.value = strconv.FormatInt(current, 10)
	return current, nil
}

// ExpireAt sets an absolute expiry. A time already in the past deletes the key.
func (m *Memory) ExpireAt(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("expireat", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return nil
	}
	if !at.After(m.now()) {
		delete(m.entries, m.key(key))
		return nil
	}
	e.expiresAt = at
	return nil
}

// Get returns the scalar at key.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, wrapErr("get", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return "", false, nil
	}
	if e.members != nil {
		return "", false, wrapErr("get", key, fmt.Errorf("wrong kind of value"))
	}
	return e.value, true, nil
}

// Set stores a scalar and clears any previous expiry.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("set", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[m.key(key)] = &memoryEntry{value: value}
	return nil
}

// Delete removes keys.
func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("del", "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, m.key(k))
	}
	return nil
}

// Keys lists live keys matching a glob pattern.
func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("scan", pattern, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for full, e := range m.entries {
		if e.expired(now) || !strings.HasPrefix(full, m.prefix) {
			continue
		}
		k := strings.TrimPrefix(full, m.prefix)
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, wrapErr("scan", pattern, err)
		}
		if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// SetAdd adds members to the set at key.
func (m *Memory) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("sadd", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &memoryEntry{members: make(map[string]struct{})}
		m.entries[m.key(key)] = e
	}
	if e.members == nil {
		return 0, wrapErr("sadd", key, fmt.Errorf("wrong kind of value"))
	}

	var added int64
	for _, member := range members {
		if _, ok := e.members[member]; !ok {
			e.members[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

// SetMembers returns the members of the set at key.
func (m *Memory) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("smembers", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return []string{}, nil
	}
	if e.members == nil {
		return nil, wrapErr("smembers", key, fmt.Errorf("wrong kind of value"))
	}

	out := make([]string, 0, len(e.members))
	for member := range e.members {
		out = append(out, member)
	}
	return out, nil
}

// Exists reports whether key is live.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapErr("exists", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.live(key) != nil, nil
}

// Ping always succeeds unless ctx is done.
func (m *Memory) Ping(ctx context.Context) error {
	return wrapErr("ping", "", ctx.Err())
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	return nil
}

// live returns the entry for key, evicting it first if expired.
// Callers must hold m.mu.
func (m *Memory) live(key string) *memoryEntry {
	full := m.key(key)
	e, ok := m.entries[full]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.entries, full)
		return nil
	}
	return e
}

func (m *Memory) key(k string) string {
	return m.prefix + k
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// cleanupLoop periodically removes expired entries.
func (m *Memory) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired entries from the map.
func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}
