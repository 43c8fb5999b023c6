package violations

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ratewarden/ratewarden/pkg/logger"
)

// Reporter receives violations. Implementations must not block the caller
// for long; Report runs on the request path.
type Reporter interface {
	Report(ctx context.Context, v Violation)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, v Violation)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, v Violation) {
	f(ctx, v)
}

// Discard drops every violation.
var Discard Reporter = ReporterFunc(func(context.Context, Violation) {})

// Multi fans a violation out to several reporters in order.
type Multi []Reporter

// Report forwards v to every reporter.
func (m Multi) Report(ctx context.Context, v Violation) {
	for _, r := range m {
		r.Report(ctx, v)
	}
}

// LogReporter writes violations as error log entries. Entries beyond burst per
// second are suppressed and the next written entry carries the number skipped.
type LogReporter struct {
	log        *logger.Logger
	sampler    *rate.Limiter
	suppressed atomic.Int64
}

// NewLogReporter creates a LogReporter. A burst of zero disables sampling.
func NewLogReporter(log *logger.Logger, burst int) *LogReporter {
	sampler := rate.NewLimiter(rate.Inf, 0)
	if burst > 0 {
		sampler = rate.NewLimiter(rate.Limit(burst), burst)
	}
	return &LogReporter{log: log, sampler: sampler}
}

// Report logs v unless the sampler is exhausted.
func (r *LogReporter) Report(_ context.Context, v Violation) {
	if !r.sampler.Allow() {
		r.suppressed.Add(1)
		return
	}

	fields := []interface{}{
		"violation_id", v.ID.String(),
		"kind", string(v.Kind),
		"ip", v.IP,
		"method", v.Method,
		"uri", v.URI,
		"remote_addr", v.RemoteAddr,
	}
	if v.Kind == KindRateLimited {
		fields = append(fields, "tag", v.Tag, "limit", v.Limit, "count", v.Count)
	}
	if v.RequestID != "" {
		fields = append(fields, "request_id", v.RequestID)
	}
	if v.Stack != "" {
		fields = append(fields, "stack", v.Stack)
	}
	if n := r.suppressed.Swap(0); n > 0 {
		fields = append(fields, "suppressed", n)
	}

	r.log.Error("Too Many Requests", fields...)
}

// Suppressed returns how many entries are waiting to be accounted for.
func (r *LogReporter) Suppressed() int64 {
	return r.suppressed.Load()
}
