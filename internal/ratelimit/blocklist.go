package ratelimit

import (
	"context"
	"time"
)

const (
	blockKeyPrefix = "blocked:ip:"
	blockSentinel  = "blocked"
)

// DefaultBlockDuration is used by callers that have no configured duration.
const DefaultBlockDuration = 24 * time.Hour

// BlockKey returns the store key holding the block record for an address.
func BlockKey(ip string) string {
	return blockKeyPrefix + NormalizeIP(ip)
}

// Block denies ip for d. Addresses that normalize to empty are ignored.
// Blocking an already blocked address rewrites the record with the new expiry.
func (l *Limiter) Block(ctx context.Context, ip string, d time.Duration) error {
	ip = NormalizeIP(ip)
	if ip == "" {
		return nil
	}

	key := blockKeyPrefix + ip
	if err := l.store.Set(ctx, key, blockSentinel); err != nil {
		return err
	}

	expiresAt := l.now().Add(d)
	if err := l.store.ExpireAt(ctx, key, expiresAt); err != nil {
		return err
	}

	if l.log != nil {
		l.log.Debug("address blocked", "ip", ip, "expires_at", expiresAt.Unix())
	}
	return nil
}

// IsBlocked reports whether ip has a live block record. Expiry is left to the
// store's own eviction; this is a plain read.
func (l *Limiter) IsBlocked(ctx context.Context, ip string) (bool, error) {
	ip = NormalizeIP(ip)
	if ip == "" {
		return false, nil
	}

	val, ok, err := l.store.Get(ctx, blockKeyPrefix+ip)
	if err != nil {
		return false, err
	}
	return ok && val == blockSentinel, nil
}

// CheckBlocked returns a *BlockedError when ip is blocked.
// Callers run it before any counting so blocked clients cost one read.
func (l *Limiter) CheckBlocked(ctx context.Context, ip string) error {
	blocked, err := l.IsBlocked(ctx, ip)
	if err != nil {
		return err
	}
	if blocked {
		return &BlockedError{IP: NormalizeIP(ip)}
	}
	return nil
}
