package ratelimit

import (
	"context"
	"strings"
	"time"
)

// TagDelimiter separates tag fragments.
const TagDelimiter = ":"

// RequestInfo is the caller identity a Check composes tags from.
type RequestInfo struct {
	ClientIP string
	Method   string
	Path     string
}

// Check is a single rate limit decision under construction. Every With*
// method returns a new Check, so a value can be shared as a base and extended
// per policy without any reset between unrelated subjects.
//
//	base := limiter.For(info).WithClientIP()
//	_, err := base.WithName("requests:minute").WithWindow(time.Minute).Limit(ctx, 60, 1)
type Check struct {
	limiter *Limiter
	request RequestInfo
	tag     string
	window  time.Duration
}

// For starts a Check for the given caller.
func (l *Limiter) For(req RequestInfo) Check {
	return Check{limiter: l, request: req}
}

// WithName appends an action name.
func (c Check) WithName(name string) Check {
	return c.appendFragment(name)
}

// WithUserID appends a user identifier.
func (c Check) WithUserID(id string) Check {
	return c.appendFragment(id)
}

// WithClientIP appends the caller's normalized address.
func (c Check) WithClientIP() Check {
	return c.appendFragment(NormalizeIP(c.request.ClientIP))
}

// WithRequestInfo appends the method followed by the path with every "/"
// turned into the delimiter, so "GET /api/users" contributes "GET:api:users:".
func (c Check) WithRequestInfo() Check {
	return c.appendFragment(c.request.Method + strings.ReplaceAll(c.request.Path, "/", TagDelimiter))
}

// WithWindow sets the window length used by Record, Limit and RecordActions.
func (c Check) WithWindow(d time.Duration) Check {
	c.window = d
	return c
}

// WithTag replaces the composed tag outright.
func (c Check) WithTag(tag string) Check {
	c.tag = tag
	return c
}

// Reset returns a Check with no tag, window or caller, bound to the same limiter.
func (c Check) Reset() Check {
	return Check{limiter: c.limiter}
}

// Tag returns the composed tag.
func (c Check) Tag() string {
	return c.tag
}

// Window returns the configured window length.
func (c Check) Window() time.Duration {
	return c.window
}

// Request returns the caller identity.
func (c Check) Request() RequestInfo {
	return c.request
}

// Record adds amount to this tag's counter.
func (c Check) Record(ctx context.Context, amount int64) (int64, error) {
	return c.limiter.Record(ctx, c.tag, c.window, amount)
}

// Count reads this tag's counter.
func (c Check) Count(ctx context.Context) (int64, error) {
	return c.limiter.Count(ctx, c.tag)
}

// Limit records amount and enforces max.
func (c Check) Limit(ctx context.Context, max, amount int64) (int64, error) {
	return c.limiter.Limit(ctx, c.tag, c.window, max, amount)
}

// Clear deletes this tag's counter.
func (c Check) Clear(ctx context.Context) error {
	return c.limiter.Clear(ctx, c.tag)
}

// IsBlocked reports whether the caller's address is blocked.
func (c Check) IsBlocked(ctx context.Context) (bool, error) {
	return c.limiter.IsBlocked(ctx, c.request.ClientIP)
}

// CheckBlocked fails with a *BlockedError when the caller's address is blocked.
func (c Check) CheckBlocked(ctx context.Context) error {
	return c.limiter.CheckBlocked(ctx, c.request.ClientIP)
}

// RecordActions adds distinct actions to this tag's set.
func (c Check) RecordActions(ctx context.Context, actions ...string) (int64, error) {
	return c.limiter.RecordActions(ctx, c.tag, c.window, actions...)
}

// CountActions returns the number of distinct actions at this tag.
func (c Check) CountActions(ctx context.Context) (int64, error) {
	return c.limiter.CountActions(ctx, c.tag)
}

// LimitActions records actions and enforces max distinct actions.
func (c Check) LimitActions(ctx context.Context, max int64, actions ...string) (int64, error) {
	return c.limiter.LimitActions(ctx, c.tag, c.window, max, actions...)
}

func (c Check) appendFragment(fragment string) Check {
	c.tag = c.tag + fragment + TagDelimiter
	return c
}
