package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"ipv4 unchanged", "192.168.1.10", "192.168.1.10"},
		{"empty", "", ""},
		{"compressed with four colons", "2001:db8::1:2", "2001:db8:"},
		{"same bucket", "2001:db8::ff:ee", "2001:db8:"},
		{"compressed with three colons", "2001:db8::1", "2001:db8::1"},
		{"full ipv6 unchanged", "2001:0db8:0000:0000:0000:ff00:0042:8329", "2001:0db8:0000:0000:0000:ff00:0042:8329"},
		{"four colons without compression", "a:b:c:d:e", "a:b:c:d:e"},
		{"loopback", "::1", "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeIP(tt.ip)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeIP(got), "normalizing twice changes nothing")
		})
	}
}
