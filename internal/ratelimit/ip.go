package ratelimit

import "strings"

// ipv6GroupLen is how much of a compressed IPv6 address is kept as its bucket.
const ipv6GroupLen = 9

// NormalizeIP maps an address to the bucket it is counted and blocked under.
//
// IPv4 addresses pass through. Compressed IPv6 addresses ("::") with exactly
// four colons are cut to their first nine characters so that neighbouring
// addresses share one bucket. This is a coarse grouping, not a CIDR match:
// other IPv6 shapes pass through untouched.
func NormalizeIP(ip string) string {
	if strings.Contains(ip, "::") && strings.Count(ip, ":") == 4 && len(ip) > ipv6GroupLen {
		return ip[:ipv6GroupLen]
	}
	return ip
}
