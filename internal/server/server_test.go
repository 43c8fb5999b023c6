package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/handlers"
	"github.com/ratewarden/ratewarden/internal/middleware"
	"github.com/ratewarden/ratewarden/internal/ratelimit"
	"github.com/ratewarden/ratewarden/internal/store"
	"github.com/ratewarden/ratewarden/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Env:      "test",
			LogLevel: "error",
		},
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0, // Let the OS assign a port
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Rate: config.RateLimitConfig{
			Store:         "memory",
			Headers:       true,
			BlockDuration: time.Hour,
			AdminToken:    "token",
		},
	}
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	mem := store.NewMemory(0)
	t.Cleanup(func() { _ = mem.Close() })

	return Deps{
		Limiter:  ratelimit.New(mem),
		Policies: []ratelimit.Policy{{Name: "requests:minute", Limit: 2, Window: time.Minute}},
		Checks:   map[string]handlers.CheckFunc{"store": mem.Ping},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *Server {
	t.Helper()
	var buf bytes.Buffer
	return New(cfg, logger.New(&buf, "error"), deps)
}

func serve(srv *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	srv := newTestServer(t, testConfig(), testDeps(t))

	assert.NotNil(t, srv)
	assert.NotNil(t, srv.HealthHandler())
	assert.NotNil(t, srv.Handler())
}

func TestServer_CheckIsRateLimited(t *testing.T) {
	srv := newTestServer(t, testConfig(), testDeps(t))

	for i := 0; i < 2; i++ {
		rec := serve(srv, http.MethodGet, "/check", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(middleware.HeaderXRequestID))
	}

	rec := serve(srv, http.MethodGet, "/check", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get(middleware.HeaderRetryAfter))
}

func TestServer_OperationalRoutesNotLimited(t *testing.T) {
	srv := newTestServer(t, testConfig(), testDeps(t))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health", nil).Code)
		assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/ready", nil).Code)
	}

	rec := serve(srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_AppBehindLimiter(t *testing.T) {
	deps := testDeps(t)
	deps.App = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("app:" + r.URL.Path))
	})
	srv := newTestServer(t, testConfig(), deps)

	rec := serve(srv, http.MethodGet, "/orders/7", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "app:/orders/7", rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get(middleware.HeaderRateLimitRemaining))

	serve(srv, http.MethodGet, "/orders/8", nil)
	assert.Equal(t, http.StatusTooManyRequests, serve(srv, http.MethodGet, "/check", nil).Code,
		"app routes and /check share the caller's counters")
}

func TestServer_AdminRoutes(t *testing.T) {
	t.Run("mounted with a token", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), testDeps(t))

		rec := serve(srv, http.MethodGet, "/admin/blocks/192.0.2.10", http.Header{handlers.HeaderAdminToken: {"token"}})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = serve(srv, http.MethodGet, "/admin/blocks/192.0.2.10", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("absent without a token", func(t *testing.T) {
		cfg := testConfig()
		cfg.Rate.AdminToken = ""
		srv := newTestServer(t, cfg, testDeps(t))

		rec := serve(srv, http.MethodGet, "/admin/blocks/192.0.2.10", http.Header{handlers.HeaderAdminToken: {""}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("flush refused in production", func(t *testing.T) {
		cfg := testConfig()
		cfg.App.Env = "production"
		srv := newTestServer(t, cfg, testDeps(t))

		rec := serve(srv, http.MethodPost, "/admin/flush", http.Header{handlers.HeaderAdminToken: {"token"}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestServer_BlockThroughAdmin(t *testing.T) {
	srv := newTestServer(t, testConfig(), testDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/admin/blocks", strings.NewReader(`{"ip":"192.0.2.10"}`))
	req.Header.Set(handlers.HeaderAdminToken, "token")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(srv, http.MethodGet, "/check", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get(middleware.HeaderRetryAfter))

	var body middleware.RateLimitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, middleware.CodeIPBlocked, body.Code)
}

func TestServer_ReadyReflectsChecks(t *testing.T) {
	deps := testDeps(t)
	deps.Checks["database"] = func(context.Context) error { return errors.New("down") }
	srv := newTestServer(t, testConfig(), deps)

	rec := serve(srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var ready handlers.ReadyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ready))
	assert.Equal(t, "ok", ready.Checks["store"])
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := newTestServer(t, testConfig(), testDeps(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, srv.IsRunning())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, srv.Shutdown(ctx))
	assert.False(t, srv.IsRunning())
	assert.False(t, srv.HealthHandler().IsReady())
	assert.NoError(t, <-errCh)
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	first := newTestServer(t, testConfig(), testDeps(t))
	go func() { _ = first.Start() }()
	require.Eventually(t, func() bool { return first.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	defer func() { _ = first.Shutdown(context.Background()) }()

	var err error
	cfg := testConfig()
	_, port, _ := strings.Cut(first.Addr(), ":")
	cfg.Server.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	second := newTestServer(t, cfg, testDeps(t))
	err = second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create listener")
}
