package ratelimit

import (
	"errors"
	"fmt"

	"github.com/ratewarden/ratewarden/internal/store"
)

var (
	// ErrRateLimitExceeded is matched by every LimitExceededError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBlocked is matched by every BlockedError.
	ErrBlocked = errors.New("address blocked")
)

// LimitExceededError reports a counter that went past its configured maximum.
type LimitExceededError struct {
	Tag   string
	Limit int64
	Count int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: tag=%q limit=%d count=%d", e.Tag, e.Limit, e.Count)
}

// Is makes LimitExceededError match ErrRateLimitExceeded.
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// BlockedError reports an address with a live block record.
type BlockedError struct {
	IP string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("address blocked: ip=%q", e.IP)
}

// Is makes BlockedError match ErrBlocked.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// IsStorageUnavailable reports whether err came from a failed store call
// rather than a limit or block decision.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, store.ErrUnavailable)
}
