package ratelimit

import (
	"context"
	"time"
)

// RecordActions adds distinct action identifiers to the set at tag and
// returns how many were new. Unlike Record, the expiry is reset to now+window
// on every call.
func (l *Limiter) RecordActions(ctx context.Context, tag string, window time.Duration, actions ...string) (int64, error) {
	if tag == "" || len(actions) == 0 {
		return 0, nil
	}

	added, err := l.store.SetAdd(ctx, tag, actions...)
	if err != nil {
		return 0, err
	}

	if err := l.store.ExpireAt(ctx, tag, l.now().Add(window)); err != nil {
		return added, err
	}
	return added, nil
}

// CountActions returns the number of distinct actions recorded at tag.
func (l *Limiter) CountActions(ctx context.Context, tag string) (int64, error) {
	if tag == "" {
		return 0, nil
	}

	members, err := l.store.SetMembers(ctx, tag)
	if err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

// LimitActions records actions and fails with a *LimitExceededError when the
// number of distinct actions at tag is strictly greater than max.
func (l *Limiter) LimitActions(ctx context.Context, tag string, window time.Duration, max int64, actions ...string) (int64, error) {
	if tag == "" {
		return 0, nil
	}

	if _, err := l.RecordActions(ctx, tag, window, actions...); err != nil {
		return 0, err
	}

	count, err := l.CountActions(ctx, tag)
	if err != nil {
		return 0, err
	}

	if count > max {
		return count, &LimitExceededError{Tag: tag, Limit: max, Count: count}
	}
	return count, nil
}
