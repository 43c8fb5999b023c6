package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRequestID(t *testing.T) {
	t.Run("returns request ID from context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), RequestIDKey, "test-123")
		assert.Equal(t, "test-123", GetRequestID(ctx))
	})

	t.Run("returns empty string when no request ID in context", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, "", GetRequestID(ctx))
	})

	t.Run("returns empty string when value is wrong type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), RequestIDKey, 12345)
		assert.Equal(t, "", GetRequestID(ctx))
	})
}

func TestGetClientIP(t *testing.T) {
	t.Run("returns client IP from context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), ClientIPKey, "192.168.1.1")
		assert.Equal(t, "192.168.1.1", GetClientIP(ctx))
	})

	t.Run("returns empty string when no client IP in context", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, "", GetClientIP(ctx))
	})

	t.Run("returns empty string when value is wrong type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), ClientIPKey, []byte("ip"))
		assert.Equal(t, "", GetClientIP(ctx))
	})
}

// tracer returns a middleware that appends name to order around next.
func tracer(order *[]string, name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name+"-before")
			next.ServeHTTP(w, r)
			*order = append(*order, name+"-after")
		})
	}
}

func serve(h http.Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	return rec
}

func TestChain_Then(t *testing.T) {
	t.Run("nil handler responds not found", func(t *testing.T) {
		rec := serve(New().Then(nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty chain passes through to handler", func(t *testing.T) {
		called := false
		rec := serve(New().Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusAccepted)
		})))

		assert.True(t, called)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("first middleware is outermost", func(t *testing.T) {
		var order []string
		chain := New(tracer(&order, "mw1"), tracer(&order, "mw2"))

		serve(chain.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))

		expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
		assert.Equal(t, expected, order)
	})

	t.Run("middleware can short-circuit", func(t *testing.T) {
		handlerCalled := false
		refuse := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			})
		}

		rec := serve(New(refuse).ThenFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		}))

		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestChain_Append(t *testing.T) {
	var order []string
	original := New(tracer(&order, "mw1"))
	extended := original.Append(tracer(&order, "mw2"), tracer(&order, "mw3"))
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	serve(extended.Then(noop))
	assert.Equal(t, []string{"mw1-before", "mw2-before", "mw3-before", "mw3-after", "mw2-after", "mw1-after"}, order)

	order = nil
	serve(original.Then(noop))
	assert.Equal(t, []string{"mw1-before", "mw1-after"}, order, "original chain must be unchanged")
}

func TestChain_Handlers(t *testing.T) {
	var order []string
	chain := New(tracer(&order, "outer"), tracer(&order, "inner"))

	handlers := chain.Handlers()
	assert.Len(t, handlers, 2)

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})
	for i := len(handlers) - 1; i >= 0; i-- {
		h = handlers[i](h)
	}
	serve(h)

	assert.Equal(t, []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}, order)
}
