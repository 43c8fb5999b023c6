// Package middleware contains HTTP middleware components.
package middleware

import (
	"context"
	"net/http"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// contextKey is the type for context keys used by middleware.
type contextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "request_id"
	// ClientIPKey is the context key for client IP.
	ClientIPKey contextKey = "client_ip"
)

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetClientIP retrieves the client IP from context.
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

// Chain is an ordered, immutable list of middlewares.
type Chain struct {
	middlewares []Middleware
}

// New creates a chain. The first middleware is the outermost.
func New(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: append([]Middleware{}, middlewares...),
	}
}

// Then wraps h with every middleware in the chain.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}

	return h
}

// ThenFunc applies the middleware chain to the given handler function.
func (c *Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

// Append returns a new chain with middlewares added at the inner end.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	combined := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	combined = append(combined, c.middlewares...)
	combined = append(combined, middlewares...)
	return &Chain{middlewares: combined}
}

// Handlers returns the chain in the form routers accept, outermost first.
func (c *Chain) Handlers() []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(c.middlewares))
	for i, m := range c.middlewares {
		out[i] = m
	}
	return out
}
