package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// uuidRegex matches UUID v4 format.
var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"generates ID when none provided", "", false},
		{"uses provided valid ID", "550e8400-e29b-41d4-a716-446655440000", true},
		{"accepts custom alphanumeric ID", "my_request-42", true},
		{"replaces ID with unsafe characters", "<script>", false},
		{"replaces overlong ID", strings.Repeat("a", requestIDMaxLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderXRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderXRequestID)
			assert.Equal(t, got, captured)
			if tt.reuse {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.True(t, uuidRegex.MatchString(got), "expected UUID format, got: %s", got)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		trusted    []string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.1",
			want:       "192.168.1.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:12345",
			want:       "2001:db8::1",
		},
		{
			name:       "forwarded headers ignored without trust",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{HeaderXForwardedFor: "203.0.113.195"},
			want:       "192.168.1.1",
		},
		{
			name:       "left-most forwarded address when trusted",
			trustProxy: true,
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{HeaderXForwardedFor: "203.0.113.195, 70.41.3.18"},
			want:       "203.0.113.195",
		},
		{
			name:       "real ip fallback",
			trustProxy: true,
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{HeaderXRealIP: " 203.0.113.7 "},
			want:       "203.0.113.7",
		},
		{
			name:       "garbage forwarded header falls back",
			trustProxy: true,
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{HeaderXForwardedFor: "not-an-ip", HeaderXRealIP: "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted peer",
			trustProxy: true,
			trusted:    []string{"10.0.0.1"},
			remoteAddr: "10.0.0.9:80",
			headers:    map[string]string{HeaderXForwardedFor: "203.0.113.195"},
			want:       "10.0.0.9",
		},
		{
			name:       "trusted peer",
			trustProxy: true,
			trusted:    []string{"10.0.0.1"},
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{HeaderXForwardedFor: "203.0.113.195"},
			want:       "203.0.113.195",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := ClientIP(tt.trustProxy, tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetClientIP(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, captured)
		})
	}
}
