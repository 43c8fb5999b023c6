package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nhalm/canonlog"
)

// CanonicalLog emits one summary line per request. Inner middleware and
// handlers add fields to it with annotate and annotateError.
func CanonicalLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := canonlog.NewContext(r.Context())
			rw := newResponseWriter(w)

			canonlog.InfoAddMany(ctx, map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			if id := GetRequestID(ctx); id != "" {
				canonlog.InfoAdd(ctx, "request_id", id)
			}

			r = r.WithContext(ctx)
			defer func() {
				if rec := recover(); rec != nil {
					canonlog.ErrorAdd(ctx, fmt.Errorf("panic: %v", rec))
					if !rw.wroteHeader {
						rw.WriteHeader(http.StatusInternalServerError)
					}
				}

				canonlog.InfoAddMany(ctx, map[string]any{
					"route":       routePattern(r),
					"status":      rw.statusCode,
					"duration_ms": time.Since(start).Milliseconds(),
				})
				canonlog.Flush(ctx)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// annotate adds fields to the request's canonical line when there is one.
func annotate(ctx context.Context, fields map[string]any) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAddMany(ctx, fields)
	}
}

// annotateError records err on the request's canonical line when there is one.
func annotateError(ctx context.Context, err error) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.ErrorAdd(ctx, err)
	}
}
