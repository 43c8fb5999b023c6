// Package ratelimit implements fixed-window counting and an IP block list
// on top of a shared key-value store.
//
// A counter's expiry is set once, by the call whose increment created the key,
// and never refreshed, so windows are fixed rather than sliding. Increment and
// expiry are separate store round trips; a concurrent caller may briefly see a
// counter without an expiry, which is harmless because only callers whose
// increment returned exactly their own amount ever set it.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/ratewarden/ratewarden/internal/store"
	"github.com/ratewarden/ratewarden/pkg/logger"
)

// Limiter is the window counter and block list engine.
// It holds no per-subject state and is safe for concurrent use.
type Limiter struct {
	store store.Store
	now   func() time.Time
	log   *logger.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now when computing absolute expiries.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger attaches a logger for debug output.
func WithLogger(log *logger.Logger) Option {
	return func(l *Limiter) {
		l.log = log
	}
}

// New creates a Limiter backed by st.
func New(st store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record adds amount to the counter for tag and returns the new count.
// When the returned count equals amount the key was just created, so its
// expiry is set to now+window. An empty tag records nothing and returns 0.
func (l *Limiter) Record(ctx context.Context, tag string, window time.Duration, amount int64) (int64, error) {
	if tag == "" {
		return 0, nil
	}

	count, err := l.store.Increment(ctx, tag, amount)
	if err != nil {
		return 0, err
	}

	if count == amount {
		expiresAt := l.now().Add(window)
		if err := l.store.ExpireAt(ctx, tag, expiresAt); err != nil {
			return count, err
		}
		if l.log != nil {
			l.log.Debug("window opened", "tag", tag, "expires_at", expiresAt.Unix())
		}
	}

	return count, nil
}

// Count returns the current counter for tag, or 0 if it is absent.
func (l *Limiter) Count(ctx context.Context, tag string) (int64, error) {
	if tag == "" {
		return 0, nil
	}

	val, ok, err := l.store.Get(ctx, tag)
	if err != nil || !ok {
		return 0, err
	}
	return parseCount(val), nil
}

// Limit records amount against tag and fails with a *LimitExceededError when
// the resulting count is strictly greater than max. The observed count is
// returned in both cases. An empty tag is a bypass: nothing is recorded and
// 0 is returned.
func (l *Limiter) Limit(ctx context.Context, tag string, window time.Duration, max, amount int64) (int64, error) {
	if tag == "" {
		return 0, nil
	}

	count, err := l.Record(ctx, tag, window, amount)
	if err != nil {
		return count, err
	}

	if count > max {
		return count, &LimitExceededError{Tag: tag, Limit: max, Count: count}
	}

	return count, nil
}

// Clear deletes the counter for tag regardless of its expiry.
func (l *Limiter) Clear(ctx context.Context, tag string) error {
	if tag == "" {
		return nil
	}
	return l.store.Delete(ctx, tag)
}

// FlushAll deletes every key in the store's namespace.
// Intended for test isolation; never call it against a shared production store.
func (l *Limiter) FlushAll(ctx context.Context) (int, error) {
	keys, err := l.store.Keys(ctx, "*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := l.store.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// parseCount reads a stored counter; anything non-numeric counts as zero.
func parseCount(val string) int64 {
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
