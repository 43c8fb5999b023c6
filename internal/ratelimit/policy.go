package ratelimit

import (
	"context"
	"time"
)

// Policy is one named request ceiling per window.
type Policy struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// ValueSource reads numeric settings by dotted key path.
type ValueSource interface {
	Int(key string) (int64, bool)
}

// standardPolicies are the request windows read from configuration.
var standardPolicies = []struct {
	key    string
	name   string
	window time.Duration
}{
	{"limits.hourly", "requests:hourly", time.Hour},
	{"limits.minute", "requests:minute", time.Minute},
	{"limits.second", "requests:second", time.Second},
}

// PoliciesFrom builds the hourly, minute and second policies from src.
// A missing or non-positive limit means unlimited and the policy is skipped.
func PoliciesFrom(src ValueSource) []Policy {
	var policies []Policy
	for _, p := range standardPolicies {
		limit, ok := src.Int(p.key)
		if !ok || limit <= 0 {
			continue
		}
		policies = append(policies, Policy{Name: p.name, Limit: limit, Window: p.window})
	}
	return policies
}

// Apply runs the policy against base, which should already carry the
// subject fragments. The policy name is appended to a copy of base.
func (p Policy) Apply(ctx context.Context, base Check, amount int64) (int64, error) {
	return base.WithName(p.Name).WithWindow(p.Window).Limit(ctx, p.Limit, amount)
}
