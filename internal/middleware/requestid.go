package middleware

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// HeaderXRequestID is the header name for request ID.
	HeaderXRequestID = "X-Request-ID"
	// HeaderXForwardedFor is the header name for forwarded client IP.
	HeaderXForwardedFor = "X-Forwarded-For"
	// HeaderXRealIP is the header name for real client IP.
	HeaderXRealIP = "X-Real-IP"
)

// requestIDMaxLength is the maximum length for a valid request ID.
const requestIDMaxLength = 128

var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// RequestID reuses a well-formed inbound X-Request-ID or generates a UUID,
// echoes it on the response and stores it in the request context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderXRequestID)
			if !isValidRequestID(requestID) {
				requestID = uuid.New().String()
			}

			w.Header().Set(HeaderXRequestID, requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isValidRequestID(id string) bool {
	if id == "" || len(id) > requestIDMaxLength {
		return false
	}
	return validRequestIDRegex.MatchString(id)
}

// ClientIP resolves the caller address the limiter counts against and stores
// it in context. Forwarding headers are honoured only when trustProxy is set
// and, if trustedProxies is non-empty, the peer is one of them.
func ClientIP(trustProxy bool, trustedProxies []string) Middleware {
	trusted := make(map[string]struct{}, len(trustedProxies))
	for _, ip := range trustedProxies {
		trusted[ip] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := extractClientIP(r, trustProxy, trusted)
			ctx := context.WithValue(r.Context(), ClientIPKey, clientIP)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractClientIP(r *http.Request, trustProxy bool, trusted map[string]struct{}) string {
	remoteIP := hostOnly(r.RemoteAddr)
	if !trustProxy {
		return remoteIP
	}

	if len(trusted) > 0 {
		if _, ok := trusted[remoteIP]; !ok {
			return remoteIP
		}
	}

	// The left-most X-Forwarded-For entry is the original client.
	if xff := r.Header.Get(HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}

	if ip := parseIP(r.Header.Get(HeaderXRealIP)); ip != "" {
		return ip
	}

	return remoteIP
}

// parseIP returns s in canonical form, or "" when it is not an address.
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// hostOnly strips the port from host:port, leaving bare hosts untouched.
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
