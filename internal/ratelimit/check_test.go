package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Tags(t *testing.T) {
	l := New(nil)
	req := RequestInfo{ClientIP: "2001:db8::1:2", Method: "GET", Path: "/api/users"}

	tests := []struct {
		name  string
		check Check
		want  string
	}{
		{"empty", l.For(req), ""},
		{"name", l.For(req).WithName("login"), "login:"},
		{"user then name", l.For(req).WithUserID("100").WithName("request_name"), "100:request_name:"},
		{"client ip is normalized", l.For(req).WithClientIP(), "2001:db8::"},
		{"request info", l.For(req).WithRequestInfo(), "GET:api:users:"},
		{"all fragments", l.For(req).WithClientIP().WithRequestInfo().WithName("x"), "2001:db8::GET:api:users:x:"},
		{"tag override", l.For(req).WithName("ignored").WithTag("raw"), "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check.Tag())
		})
	}
}

func TestCheck_RequestInfoWithoutPath(t *testing.T) {
	c := New(nil).For(RequestInfo{Method: "GET", Path: "test"}).WithRequestInfo()
	assert.Equal(t, "GETtest:", c.Tag())

	c = New(nil).For(RequestInfo{Method: "GET", Path: "/test"}).WithRequestInfo()
	assert.Equal(t, "GET:test:", c.Tag())
}

func TestCheck_ValuesAreIndependent(t *testing.T) {
	l := New(nil)
	base := l.For(RequestInfo{ClientIP: "1.2.3.4"}).WithClientIP()

	hourly := base.WithName("requests:hourly").WithWindow(time.Hour)
	minute := base.WithName("requests:minute").WithWindow(time.Minute)

	assert.Equal(t, "1.2.3.4:", base.Tag())
	assert.Equal(t, time.Duration(0), base.Window())
	assert.Equal(t, "1.2.3.4:requests:hourly:", hourly.Tag())
	assert.Equal(t, time.Hour, hourly.Window())
	assert.Equal(t, "1.2.3.4:requests:minute:", minute.Tag())
	assert.Equal(t, time.Minute, minute.Window())
}

func TestCheck_Reset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := f.limiter.For(RequestInfo{ClientIP: "1.2.3.4"}).WithClientIP().WithWindow(time.Minute)
	r := c.Reset()

	assert.Empty(t, r.Tag())
	assert.Zero(t, r.Window())
	assert.Equal(t, RequestInfo{}, r.Request())

	// Still bound to the limiter.
	n, err := r.WithName("after-reset").WithWindow(time.Minute).Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCheck_Operations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := f.limiter.For(RequestInfo{ClientIP: "1.2.3.4"}).
		WithUserID("100").
		WithName("request_name").
		WithWindow(time.Minute)

	n, err := c.Record(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = c.Limit(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	direct, err := f.limiter.Count(ctx, "100:request_name:")
	require.NoError(t, err)
	assert.Equal(t, int64(7), direct)

	require.NoError(t, c.Clear(ctx))
	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	n, err = c.Limit(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCheck_EmptyTagLimitIsBypass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	n, err := f.limiter.For(RequestInfo{}).WithWindow(time.Minute).Limit(ctx, 0, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.spy.Calls())
}

func TestCheck_Blocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := f.limiter.For(RequestInfo{ClientIP: "1.2.3.4"})

	blocked, err := c.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)
	require.NoError(t, c.CheckBlocked(ctx))

	require.NoError(t, f.limiter.Block(ctx, "1.2.3.4", time.Hour))

	blocked, err = c.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.True(t, errors.Is(c.CheckBlocked(ctx), ErrBlocked))
}
