// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ratewarden/ratewarden/internal/config"
	"github.com/ratewarden/ratewarden/internal/handlers"
	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/internal/middleware"
	"github.com/ratewarden/ratewarden/internal/ratelimit"
	"github.com/ratewarden/ratewarden/internal/repository"
	"github.com/ratewarden/ratewarden/internal/violations"
	"github.com/ratewarden/ratewarden/pkg/logger"
)

// Deps are the collaborators the server routes to.
type Deps struct {
	Limiter    *ratelimit.Limiter
	Policies   []ratelimit.Policy
	Reporter   violations.Reporter
	Violations repository.ViolationRepository // optional
	Checks     map[string]handlers.CheckFunc  // readiness probes

	// App is served behind the rate limiter for every path not claimed by
	// the operational routes. Nil leaves only /check behind the limiter.
	App http.Handler
}

// Server represents the HTTP server.
type Server struct {
	cfg           *config.Config
	log           *logger.Logger
	httpServer    *http.Server
	healthHandler *handlers.HealthHandler
	adminHandler  *handlers.AdminHandler
	router        chi.Router
	listener      net.Listener
	running       bool
	mu            sync.RWMutex
}

// New creates a new Server instance.
func New(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	s := &Server{
		cfg:           cfg,
		log:           log,
		healthHandler: handlers.NewHealthHandler(),
	}
	for name, check := range deps.Checks {
		s.healthHandler.AddCheck(name, check)
	}

	s.adminHandler = handlers.NewAdminHandler(deps.Limiter, handlers.AdminConfig{
		Token:                cfg.Rate.AdminToken,
		AllowFlush:           !cfg.App.IsProduction(),
		DefaultBlockDuration: cfg.Rate.BlockDuration,
		Violations:           deps.Violations,
		Logger:               log.With("component", "admin"),
	})

	s.router = s.routes(deps)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) routes(deps Deps) chi.Router {
	r := chi.NewRouter()

	common := middleware.New(
		middleware.RequestID(),
		middleware.ClientIP(s.cfg.Rate.TrustProxy, s.cfg.Rate.TrustedProxies),
		middleware.CanonicalLog(),
		middleware.Metrics(),
	)
	r.Use(common.Handlers()...)

	// Operational routes are never rate limited.
	r.Get("/health", s.healthHandler.Health)
	r.Get("/ready", s.healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if s.cfg.AdminEnabled() {
		r.Route("/admin", s.adminHandler.Routes)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter, middleware.RateLimitConfig{
			Policies:        deps.Policies,
			ExemptPrefixes:  s.cfg.Rate.ExemptPrefixes,
			FailOpen:        s.cfg.Rate.FailOpen,
			Headers:         s.cfg.Rate.Headers,
			ReportStack:     s.cfg.Rate.ReportStack,
			BlockRetryAfter: s.cfg.Rate.BlockDuration,
			Reporter:        deps.Reporter,
			Logger:          s.log.With("component", "ratelimit"),
		}))

		// Forward-auth target for proxies: 204 when the caller is within limits.
		r.HandleFunc("/check", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		if deps.App != nil {
			r.Handle("/*", deps.App)
		}
	})

	s.log.Info("rate limiting enabled",
		"policies", len(deps.Policies),
		"fail_open", s.cfg.Rate.FailOpen,
		"admin", s.cfg.AdminEnabled(),
	)
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()

	// Listen first so Addr reports the real port when configured with 0.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.log.Info("server starting", "address", listener.Addr().String())

	err = s.httpServer.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server. Readiness flips to not ready
// first so load balancers stop routing before connections drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")
	s.healthHandler.SetReady(false)

	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("shutdown error", "error", err)
		return err
	}

	s.log.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthHandler returns the health handler.
func (s *Server) HealthHandler() *handlers.HealthHandler {
	return s.healthHandler
}
