// Package realip derives the originating client IP from a request: trust
// X-Forwarded-For only behind a trusted proxy, walk it rightmost-to-leftmost
// (the leftmost entry is client-supplied and trivially spoofable), and skip
// private/loopback/trusted-proxy hops to find the first public address.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies reports whether a given peer IP should be trusted to supply
// forwarding headers. An empty allowlist falls back to "private or loopback".
type TrustedProxies struct {
	allowlist map[string]bool
}

// NewTrustedProxies builds an allowlist from CIDR-less exact IP strings.
// Pass no entries to fall back to the private/loopback default.
func NewTrustedProxies(ips []string) TrustedProxies {
	set := make(map[string]bool, len(ips))
	for _, ip := range ips {
		set[ip] = true
	}
	return TrustedProxies{allowlist: set}
}

// IsTrusted reports whether ip should be trusted as a proxy hop.
func (t TrustedProxies) IsTrusted(ip string) bool {
	if len(t.allowlist) > 0 {
		return t.allowlist[ip]
	}
	return isPrivateOrLoopback(ip)
}

func isPrivateOrLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast()
}

// peerIP strips the port from r.RemoteAddr.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// From derives the client IP for r. If the immediate peer is not a trusted
// proxy, X-Forwarded-For is never consulted: the function falls back
// straight to X-Real-IP, then the raw peer address.
func From(r *http.Request, trusted TrustedProxies) string {
	peer := peerIP(r)

	if !trusted.IsTrusted(peer) {
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return realIP
		}
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip, ok := firstPublicRightToLeft(xff, trusted); ok {
			return ip
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return peer
}

// firstPublicRightToLeft walks a comma-separated X-Forwarded-For list from
// the rightmost (most recently appended, least spoofable) entry toward the
// leftmost, skipping private/loopback/trusted-proxy addresses, and returns
// the first public remainder. The leftmost entry is never trusted on its
// own: if every hop is private/trusted, the caller falls through to
// X-Real-IP.
func firstPublicRightToLeft(xff string, trusted TrustedProxies) (string, bool) {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(parts[i])
		if candidate == "" {
			continue
		}
		if trusted.IsTrusted(candidate) {
			continue
		}
		if isPrivateOrLoopback(candidate) {
			continue
		}
		return candidate, true
	}
	return "", false
}
