package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/internal/ratelimit"
	"github.com/ratewarden/ratewarden/internal/violations"
	"github.com/ratewarden/ratewarden/pkg/logger"
)

// Response codes returned in refusal bodies.
const (
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeIPBlocked          = "IP_BLOCKED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Policies       []ratelimit.Policy
	ExemptPrefixes []string // Client IPs starting with any of these skip all checks
	FailOpen       bool     // Serve the request when the store is unreachable
	Headers        bool     // Emit X-RateLimit-* headers
	ReportStack    bool     // Attach a stack trace to reported violations
	Reporter       violations.Reporter
	Logger         *logger.Logger
	Now            func() time.Time

	// BlockRetryAfter is advertised in Retry-After when refusing a blocked
	// address. It is the full block length, an upper bound on the time left.
	// Zero omits the header.
	BlockRetryAfter time.Duration
}

// RateLimitResponse is the JSON body of a refused request.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// RateLimit refuses requests from blocked addresses and requests that push
// any policy's counter past its limit. Each policy counts under its own tag,
// "<ip>:requests:<window>:", so hourly, minute and second windows never share
// a counter. Every request is counted against every policy until one refuses.
func RateLimit(limiter *ratelimit.Limiter, cfg RateLimitConfig) Middleware {
	if cfg.Reporter == nil {
		cfg.Reporter = violations.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ip := GetClientIP(ctx)
			if ip == "" {
				ip = hostOnly(r.RemoteAddr)
			}

			if isExempt(ip, cfg.ExemptPrefixes) {
				annotate(ctx, map[string]any{"ratelimit": "exempt"})
				next.ServeHTTP(w, r)
				return
			}

			check := limiter.For(ratelimit.RequestInfo{
				ClientIP: ip,
				Method:   r.Method,
				Path:     r.URL.Path,
			})

			if err := check.CheckBlocked(ctx); err != nil {
				if deny(w, r, cfg, err, ratelimit.Policy{Name: "blocklist"}, ip) {
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			base := check.WithClientIP()
			var tightest *ratelimit.Policy
			var remaining int64
			for i := range cfg.Policies {
				p := cfg.Policies[i]
				count, err := p.Apply(ctx, base, 1)
				if err != nil {
					if deny(w, r, cfg, err, p, ip) {
						return
					}
					// Fail-open on a storage error skips the remaining policies.
					break
				}

				metrics.RecordCheck(p.Name, metrics.OutcomeAllowed)
				left := p.Limit - count
				if tightest == nil || left < remaining {
					tightest, remaining = &cfg.Policies[i], left
				}
			}

			if tightest != nil {
				if cfg.Headers {
					setRateLimitHeaders(w, tightest.Limit, remaining)
				}
				annotate(ctx, map[string]any{
					"ratelimit_policy":    tightest.Name,
					"ratelimit_remaining": remaining,
				})
			}

			next.ServeHTTP(w, r)
		})
	}
}

// deny writes the refusal for err and reports whether the request is finished.
// It returns false only for a storage failure under fail-open.
func deny(w http.ResponseWriter, r *http.Request, cfg RateLimitConfig, err error, p ratelimit.Policy, ip string) bool {
	ctx := r.Context()

	var exceeded *ratelimit.LimitExceededError
	switch {
	case errors.As(err, &exceeded):
		metrics.RecordCheck(p.Name, metrics.OutcomeLimited)
		annotate(ctx, map[string]any{
			"ratelimit":        "limited",
			"ratelimit_policy": p.Name,
			"ratelimit_count":  exceeded.Count,
		})
		report(r, cfg, err, ip)

		retry := retryAfterSeconds(p.Window)
		if cfg.Headers {
			setRateLimitHeaders(w, p.Limit, 0)
		}
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(retry))
		writeRefusal(w, http.StatusTooManyRequests, RateLimitResponse{
			Error:      "Too Many Requests",
			Code:       CodeRateLimitExceeded,
			RetryAfter: retry,
		})
		return true

	case errors.Is(err, ratelimit.ErrBlocked):
		metrics.RecordBlockedRequest()
		annotate(ctx, map[string]any{"ratelimit": "blocked"})
		report(r, cfg, err, ip)

		resp := RateLimitResponse{
			Error: "Too Many Requests",
			Code:  CodeIPBlocked,
		}
		if cfg.BlockRetryAfter > 0 {
			resp.RetryAfter = retryAfterSeconds(cfg.BlockRetryAfter)
			w.Header().Set(HeaderRetryAfter, strconv.Itoa(resp.RetryAfter))
		}
		writeRefusal(w, http.StatusTooManyRequests, resp)
		return true
	}

	// Anything else is the store failing.
	metrics.RecordCheck(p.Name, metrics.OutcomeError)
	annotateError(ctx, err)
	cfg.Logger.Error("rate limit check failed",
		"error", err,
		"policy", p.Name,
		"ip", ip,
		"fail_open", cfg.FailOpen,
		"request_id", GetRequestID(ctx),
	)

	if cfg.FailOpen {
		return false
	}

	writeRefusal(w, http.StatusServiceUnavailable, RateLimitResponse{
		Error: "Service Unavailable",
		Code:  CodeStorageUnavailable,
	})
	return true
}

func report(r *http.Request, cfg RateLimitConfig, err error, ip string) {
	v, ok := violations.FromError(err, ip, cfg.Now())
	if !ok {
		return
	}

	v.RequestID = GetRequestID(r.Context())
	v.Method = r.Method
	v.URI = r.URL.RequestURI()
	v.RemoteAddr = r.RemoteAddr
	if cfg.ReportStack {
		v.Stack = string(debug.Stack())
	}

	cfg.Reporter.Report(r.Context(), v)
}

func isExempt(ip string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}

// retryAfterSeconds is an upper bound: the window length, at least one second.
func retryAfterSeconds(window time.Duration) int {
	secs := int(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int64) {
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set(HeaderRateLimitLimit, strconv.FormatInt(limit, 10))
	w.Header().Set(HeaderRateLimitRemaining, strconv.FormatInt(remaining, 10))
}

func writeRefusal(w http.ResponseWriter, status int, resp RateLimitResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
