package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/cedrosgw/gateway/internal/realip"
)

// DefaultTenantID is used for single-tenant deployments and backwards compatibility
const DefaultTenantID = "default"

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const tenantContextKey contextKey = "tenant-id"

// FromContext retrieves the tenant ID from the request context
// Returns DefaultTenantID if no tenant is set (backwards compatible)
func FromContext(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantContextKey).(string); ok && tenantID != "" {
		return tenantID
	}
	return DefaultTenantID
}

// WithTenant adds the tenant ID to the context
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// Extractor derives a tenant ID from incoming requests. Unlike the old
// header-trusting extraction, a tenant is only ever accepted from a
// cryptographically verified source: a signed JWT claim, or (as a fallback)
// a subdomain behind a trusted reverse proxy. A client-supplied X-Tenant-Id
// header is never consulted — a request can claim to be any tenant's
// traffic simply by setting a header, so the value carries no trust.
type Extractor struct {
	jwtSecret      []byte
	jwtAlgorithm   string
	jwtTenantClaim string
	trustedProxies realip.TrustedProxies
}

// NewExtractor builds an Extractor. An empty jwtSecret disables JWT-based
// tenant derivation entirely (fail closed: no secret means no claim is ever
// trusted, not "trust the unsigned token").
func NewExtractor(jwtSecret, jwtAlgorithm, jwtTenantClaim string, trustedProxies realip.TrustedProxies) *Extractor {
	if jwtAlgorithm == "" {
		jwtAlgorithm = "HS256"
	}
	if jwtTenantClaim == "" {
		jwtTenantClaim = "tenant_id"
	}
	return &Extractor{
		jwtSecret:      []byte(jwtSecret),
		jwtAlgorithm:   jwtAlgorithm,
		jwtTenantClaim: jwtTenantClaim,
		trustedProxies: trustedProxies,
	}
}

// Middleware derives the tenant for each request and stores it in the
// request context. It never fails the request on a missing/invalid tenant
// signal — callers that require strict multi-tenant isolation should check
// FromContext and reject DefaultTenantID themselves where that matters.
func (e *Extractor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := e.extractTenantID(r)
		w.Header().Set("X-Tenant-ID", tenantID)
		ctx := WithTenant(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTenantID derives the tenant using, in priority order:
//  1. A verified JWT bearer token's tenant claim (signature, algorithm, and
//     expiry all checked; client-controlled headers never influence this).
//  2. A subdomain hint, but only when the immediate peer is a trusted proxy
//     (otherwise the Host header is just as spoofable as any other header).
//  3. DefaultTenantID.
func (e *Extractor) extractTenantID(r *http.Request) string {
	if tenantID, ok := e.extractFromJWT(r); ok {
		return tenantID
	}

	if e.trustedProxies.IsTrusted(peerHost(r.RemoteAddr)) {
		if tenantID := extractFromSubdomain(r.Host); tenantID != "" {
			return tenantID
		}
	}

	return DefaultTenantID
}

// peerHost returns the literal connecting peer address (not the derived
// client IP) so trust is evaluated against the actual TCP peer, matching
// the semantics realip.TrustedProxies.IsTrusted expects.
func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// extractFromJWT validates the Authorization: Bearer <token> header against
// the configured secret and pinned algorithm, and returns the tenant claim.
// Returns ok=false whenever the secret is unconfigured, the header is
// missing/malformed, the signature doesn't verify, the algorithm doesn't
// match the pinned one, the token is expired, or the claim is absent — any
// of which fails closed to the next priority method rather than trusting
// partial data.
func (e *Extractor) extractFromJWT(r *http.Request) (string, bool) {
	if len(e.jwtSecret) == 0 {
		return "", false
	}

	raw := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	rawToken := strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	if rawToken == "" {
		return "", false
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{e.jwtAlgorithm}))
	token, err := parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		return e.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		log.Debug().Err(err).Msg("tenant.jwt_rejected")
		return "", false
	}

	// Mandatory exp claim: a token with no expiry never expires, which is
	// unacceptable for tenant-scoping credentials.
	if _, ok := claims["exp"]; !ok {
		log.Debug().Msg("tenant.jwt_missing_exp")
		return "", false
	}

	claimVal, ok := claims[e.jwtTenantClaim]
	if !ok {
		return "", false
	}
	tenantStr, ok := claimVal.(string)
	if !ok || tenantStr == "" {
		return "", false
	}

	return sanitizeTenantID(tenantStr), true
}

// extractFromSubdomain extracts tenant ID from subdomain
// Example: tenant1.api.example.com → tenant1
// Returns empty string if not a tenant subdomain
func extractFromSubdomain(host string) string {
	host = strings.Split(host, ":")[0]
	parts := strings.Split(host, ".")

	if len(parts) < 3 {
		return ""
	}

	subdomain := parts[0]

	ignoreList := []string{"www", "api", "app", "admin", "dashboard"}
	for _, ignore := range ignoreList {
		if subdomain == ignore {
			return ""
		}
	}

	return sanitizeTenantID(subdomain)
}

// sanitizeTenantID ensures tenant ID is safe for database queries
// Allows only alphanumeric, hyphens, and underscores
func sanitizeTenantID(tenantID string) string {
	if tenantID == "" {
		return DefaultTenantID
	}

	tenantID = strings.ToLower(strings.TrimSpace(tenantID))

	var sanitized strings.Builder
	for _, r := range tenantID {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	if result == "" {
		return DefaultTenantID
	}

	if len(result) > 64 {
		result = result[:64]
	}

	return result
}

// Validator checks if a tenant ID is valid and active
// This is a placeholder interface for future tenant management
type Validator interface {
	// IsValidTenant checks if tenant exists and is active
	IsValidTenant(ctx context.Context, tenantID string) (bool, error)

	// GetTenantSettings retrieves tenant-specific settings
	GetTenantSettings(ctx context.Context, tenantID string) (TenantSettings, error)
}

// TenantSettings holds tenant-specific configuration
type TenantSettings struct {
	ID              string
	Name            string
	StripeAccountID string // Connected Stripe account
	SolanaWallet    string // Tenant's payment receiving wallet
	Active          bool
	RateLimits      RateLimitSettings
	Features        FeatureFlags
}

// RateLimitSettings holds tenant-specific rate limits
type RateLimitSettings struct {
	RequestsPerMinute int
	ConcurrentQuotes  int
	MaxCartSize       int
}

// FeatureFlags controls tenant-specific feature access
type FeatureFlags struct {
	GaslessTransactions bool
	RefundsEnabled      bool
	CouponsEnabled      bool
	WebhooksEnabled     bool
}

// NoopValidator always returns true (for single-tenant deployments)
type NoopValidator struct{}

func (NoopValidator) IsValidTenant(ctx context.Context, tenantID string) (bool, error) {
	return true, nil
}

func (NoopValidator) GetTenantSettings(ctx context.Context, tenantID string) (TenantSettings, error) {
	return TenantSettings{
		ID:     tenantID,
		Active: true,
	}, nil
}
