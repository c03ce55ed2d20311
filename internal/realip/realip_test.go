package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func request(remoteAddr, xff, xRealIP string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remoteAddr
	if xff != "" {
		r.Header.Set("X-Forwarded-For", xff)
	}
	if xRealIP != "" {
		r.Header.Set("X-Real-IP", xRealIP)
	}
	return r
}

func TestUntrustedPeerIgnoresForwardedFor(t *testing.T) {
	r := request("203.0.113.9:1234", "9.9.9.9", "")
	trusted := NewTrustedProxies(nil) // default: private/loopback only
	got := From(r, trusted)
	if got != "203.0.113.9" {
		t.Fatalf("got %q want peer IP", got)
	}
}

func TestTrustedProxyWalksRightToLeftSkippingPrivate(t *testing.T) {
	r := request("127.0.0.1:1234", "203.0.113.9, 10.0.0.5", "")
	trusted := NewTrustedProxies(nil)
	got := From(r, trusted)
	if got != "203.0.113.9" {
		t.Fatalf("got %q want %q", got, "203.0.113.9")
	}
}

func TestAllPrivateForwardedForFallsBackToXRealIP(t *testing.T) {
	r := request("127.0.0.1:1234", "10.0.0.1, 172.16.0.1", "198.51.100.7")
	trusted := NewTrustedProxies(nil)
	got := From(r, trusted)
	if got != "198.51.100.7" {
		t.Fatalf("got %q want %q", got, "198.51.100.7")
	}
}

func TestLeftmostEntryIsNeverTrustedAlone(t *testing.T) {
	// Leftmost is attacker-supplied and public, but a trusted proxy appended
	// its own public hop on the right; only the rightmost public entry wins.
	r := request("127.0.0.1:1234", "6.6.6.6, 203.0.113.9", "")
	trusted := NewTrustedProxies(nil)
	got := From(r, trusted)
	if got != "203.0.113.9" {
		t.Fatalf("got %q want rightmost public hop %q", got, "203.0.113.9")
	}
}

func TestExplicitAllowlistOverridesPrivateDefault(t *testing.T) {
	trusted := NewTrustedProxies([]string{"203.0.113.50"})
	if trusted.IsTrusted("127.0.0.1") {
		t.Fatal("loopback should not be trusted once an explicit allowlist is set")
	}
	if !trusted.IsTrusted("203.0.113.50") {
		t.Fatal("allowlisted proxy should be trusted")
	}
}
