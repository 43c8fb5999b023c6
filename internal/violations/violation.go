// Package violations reports requests that were refused by the rate limiter.
package violations

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ratewarden/ratewarden/internal/ratelimit"
)

// Kind classifies a violation.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindBlocked     Kind = "blocked"
)

// Violation is one refused request.
type Violation struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Tag        string    `json:"tag,omitempty"`
	Limit      int64     `json:"limit,omitempty"`
	Count      int64     `json:"count,omitempty"`
	IP         string    `json:"ip"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	URI        string    `json:"uri,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Stack      string    `json:"stack,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromError builds a Violation from a limiter decision. It returns false when
// err is neither a limit nor a block refusal.
func FromError(err error, ip string, at time.Time) (Violation, bool) {
	v := Violation{
		ID:         uuid.New(),
		IP:         ratelimit.NormalizeIP(ip),
		OccurredAt: at.UTC(),
	}

	var exceeded *ratelimit.LimitExceededError
	var blocked *ratelimit.BlockedError
	switch {
	case errors.As(err, &exceeded):
		v.Kind = KindRateLimited
		v.Tag = exceeded.Tag
		v.Limit = exceeded.Limit
		v.Count = exceeded.Count
	case errors.As(err, &blocked):
		v.Kind = KindBlocked
		v.IP = blocked.IP
	default:
		return Violation{}, false
	}
	return v, true
}
