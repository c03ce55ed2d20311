package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cedrosgw/gateway/internal/realip"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{
			name:     "returns default when no tenant in context",
			ctx:      context.Background(),
			expected: DefaultTenantID,
		},
		{
			name:     "returns tenant when set in context",
			ctx:      WithTenant(context.Background(), "tenant-123"),
			expected: "tenant-123",
		},
		{
			name:     "returns default when empty tenant set",
			ctx:      WithTenant(context.Background(), ""),
			expected: DefaultTenantID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FromContext(tt.ctx)
			if result != tt.expected {
				t.Errorf("FromContext() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestWithTenant(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		expected string
	}{
		{name: "sets tenant in context", tenantID: "tenant-123", expected: "tenant-123"},
		{name: "defaults empty tenant to default", tenantID: "", expected: DefaultTenantID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithTenant(context.Background(), tt.tenantID)
			result := FromContext(ctx)
			if result != tt.expected {
				t.Errorf("WithTenant() context value = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestExtractFromSubdomain(t *testing.T) {
	tests := []struct {
		host           string
		expectedTenant string
	}{
		{"tenant1.api.example.com", "tenant1"},
		{"acme-corp.api.example.com", "acme-corp"},
		{"acme_corp.api.example.com", "acme_corp"},
		{"www.example.com", ""},
		{"api.example.com", ""},
		{"app.example.com", ""},
		{"admin.example.com", ""},
		{"dashboard.example.com", ""},
		{"example.com", ""},
		{"localhost:8080", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			result := extractFromSubdomain(tt.host)
			if result != tt.expectedTenant {
				t.Errorf("extractFromSubdomain(%q) = %v, want %v", tt.host, result, tt.expectedTenant)
			}
		})
	}
}

func TestSanitizeTenantID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"tenant-123", "tenant-123"},
		{"tenant_123", "tenant_123"},
		{"Tenant123", "tenant123"},
		{"tenant@123", "tenant123"},
		{"tenant!@#$%123", "tenant123"},
		{"tenant 123", "tenant123"},
		{"  tenant-123  ", "tenant-123"},
		{"", DefaultTenantID},
		{"@@@", DefaultTenantID},
		{string(make([]byte, 100)), DefaultTenantID},
		{"a" + string(make([]byte, 100)), "a"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeTenantID(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeTenantID(%q) = %v, want %v", tt.input, result, tt.expected)
			}
			for _, r := range result {
				if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
					t.Errorf("sanitizeTenantID(%q) produced unsafe character: %c", tt.input, r)
				}
			}
			if len(result) > 64 {
				t.Errorf("sanitizeTenantID(%q) exceeded 64 character limit: %d", tt.input, len(result))
			}
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestExtractorPrefersVerifiedJWTOverEverythingElse(t *testing.T) {
	secret := "test-secret"
	e := NewExtractor(secret, "HS256", "tenant_id", realip.NewTrustedProxies(nil))

	token := signToken(t, secret, jwt.MapClaims{
		"tenant_id": "Tenant-From-JWT",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "http://tenant-from-subdomain.api.example.com/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tenant-ID", "tenant-from-header")

	got := e.extractTenantID(req)
	if got != "tenant-from-jwt" {
		t.Fatalf("extractTenantID() = %q, want %q", got, "tenant-from-jwt")
	}
}

func TestExtractorNeverTrustsClientTenantHeader(t *testing.T) {
	e := NewExtractor("", "HS256", "tenant_id", realip.NewTrustedProxies(nil))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
	req.Header.Set("X-Tenant-ID", "attacker-controlled")

	got := e.extractTenantID(req)
	if got != DefaultTenantID {
		t.Fatalf("extractTenantID() = %q, want default tenant (header must never be trusted)", got)
	}
}

func TestExtractorRejectsTokenWithoutExpiry(t *testing.T) {
	secret := "test-secret"
	e := NewExtractor(secret, "HS256", "tenant_id", realip.NewTrustedProxies(nil))

	token := signToken(t, secret, jwt.MapClaims{"tenant_id": "acme"})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	got := e.extractTenantID(req)
	if got != DefaultTenantID {
		t.Fatalf("extractTenantID() = %q, want default tenant for token missing exp", got)
	}
}

func TestExtractorRejectsWrongSigningSecret(t *testing.T) {
	e := NewExtractor("real-secret", "HS256", "tenant_id", realip.NewTrustedProxies(nil))

	token := signToken(t, "wrong-secret", jwt.MapClaims{
		"tenant_id": "acme",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	got := e.extractTenantID(req)
	if got != DefaultTenantID {
		t.Fatalf("extractTenantID() = %q, want default tenant for badly signed token", got)
	}
}

func TestExtractorRejectsExpiredToken(t *testing.T) {
	secret := "test-secret"
	e := NewExtractor(secret, "HS256", "tenant_id", realip.NewTrustedProxies(nil))

	token := signToken(t, secret, jwt.MapClaims{
		"tenant_id": "acme",
		"exp":       time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	got := e.extractTenantID(req)
	if got != DefaultTenantID {
		t.Fatalf("extractTenantID() = %q, want default tenant for expired token", got)
	}
}

func TestExtractorFallsBackToSubdomainOnlyBehindTrustedProxy(t *testing.T) {
	e := NewExtractor("", "HS256", "tenant_id", realip.NewTrustedProxies([]string{"203.0.113.5"}))

	untrusted := httptest.NewRequest(http.MethodGet, "http://acme.api.example.com/test", nil)
	untrusted.RemoteAddr = "9.9.9.9:1234"
	if got := e.extractTenantID(untrusted); got != DefaultTenantID {
		t.Fatalf("untrusted peer: extractTenantID() = %q, want default", got)
	}

	trusted := httptest.NewRequest(http.MethodGet, "http://acme.api.example.com/test", nil)
	trusted.RemoteAddr = "203.0.113.5:1234"
	if got := e.extractTenantID(trusted); got != "acme" {
		t.Fatalf("trusted peer: extractTenantID() = %q, want %q", got, "acme")
	}
}

func TestExtractorMiddlewareSetsContextAndResponseHeader(t *testing.T) {
	secret := "test-secret"
	e := NewExtractor(secret, "HS256", "tenant_id", realip.NewTrustedProxies(nil))
	token := signToken(t, secret, jwt.MapClaims{
		"tenant_id": "acme",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	var captured string
	handler := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if captured != "acme" {
		t.Errorf("context tenant = %q, want %q", captured, "acme")
	}
	if got := w.Header().Get("X-Tenant-ID"); got != "acme" {
		t.Errorf("X-Tenant-ID header = %q, want %q", got, "acme")
	}
}

func TestNoopValidator(t *testing.T) {
	validator := NoopValidator{}
	ctx := context.Background()

	valid, err := validator.IsValidTenant(ctx, "any-tenant")
	if err != nil {
		t.Errorf("IsValidTenant() error = %v, want nil", err)
	}
	if !valid {
		t.Errorf("IsValidTenant() = false, want true")
	}

	settings, err := validator.GetTenantSettings(ctx, "test-tenant")
	if err != nil {
		t.Errorf("GetTenantSettings() error = %v, want nil", err)
	}
	if settings.ID != "test-tenant" {
		t.Errorf("GetTenantSettings().ID = %v, want test-tenant", settings.ID)
	}
	if !settings.Active {
		t.Errorf("GetTenantSettings().Active = false, want true")
	}
}
