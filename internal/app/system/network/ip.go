// Package network derives client identity from requests.
package network

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the client address of r without a port. The router runs
// chi's RealIP middleware first, so RemoteAddr already reflects
// X-Forwarded-For / X-Real-IP from the trusted proxy.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return strings.Trim(addr, "[]")
}

// LimiterKey returns the key used to bucket a client for rate limiting.
// IPv6 clients are grouped by /64, since a single host usually controls the
// whole prefix.
func LimiterKey(r *http.Request) string {
	ip := net.ParseIP(ClientIP(r))
	if ip == nil {
		return ClientIP(r)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String() + "/64"
}
