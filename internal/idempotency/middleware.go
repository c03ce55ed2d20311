package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/tenant"
)

// errBodyTooLarge signals that the request body exceeded MaxBodyBytes.
var errBodyTooLarge = errors.New("idempotency: request body too large")

const (
	// HeaderKey is the standard idempotency key header
	HeaderKey = "Idempotency-Key"

	// DefaultTTL is the default cache duration for idempotent responses (24 hours)
	DefaultTTL = 24 * time.Hour

	// MaxBodyBytes bounds how large a request body an idempotency-keyed
	// request may have. The full body is read into memory to compute its
	// hash and to support the cached replay, so this also bounds memory use
	// per in-flight request.
	MaxBodyBytes = 1 << 20 // 1 MiB
)

// methods holding write semantics are the only ones worth deduplicating;
// GET/HEAD/DELETE are expected to be naturally idempotent or side-effect-free
// and an Idempotency-Key on them is simply ignored.
var idempotentMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// responseWriter wraps http.ResponseWriter to capture response details
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	headers    map[string]string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
		headers:        make(map[string]string),
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// captureHeaders captures all headers that were set before WriteHeader was called
func (rw *responseWriter) captureHeaders() {
	for key := range rw.ResponseWriter.Header() {
		rw.headers[key] = rw.ResponseWriter.Header().Get(key)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b) // Capture body for caching
	return rw.ResponseWriter.Write(b)
}

// Middleware creates idempotency middleware for payment endpoints.
//
// The cache key is scoped to the request's verified tenant (from
// tenant.FromContext, never a client-supplied header), the method, and the
// path together with its query string, so one tenant can never collide with
// or replay another tenant's cached response by guessing an Idempotency-Key,
// and two requests that only differ by query parameter don't collide with
// each other either. A client that reuses a key with a different request
// body gets a 409, not the first response silently served back to a
// different logical request. Only POST/PUT/PATCH are deduplicated; every
// other method passes through untouched.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" || !idempotentMethods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readLimitedBody(r)
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeRequestTooLarge,
					"Request body exceeds the size limit for idempotent requests")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			bodyHash := hashBody(body)
			key := tenant.FromContext(r.Context()) + ":" + r.Method + ":" + r.URL.RequestURI() + ":" + rawKey

			cached, found := store.Get(r.Context(), key)
			if found {
				if cached.BodyHash != bodyHash {
					apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyKeyReused,
						"Idempotency-Key was already used with a different request body")
					return
				}
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				rw.captureHeaders()

				response := &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers,
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
					BodyHash:   bodyHash,
				}

				store.Set(r.Context(), key, response, ttl)
			}
		})
	}
}

// readLimitedBody reads the full request body up to MaxBodyBytes+1, so that
// a body exactly at the limit is accepted but anything past it is rejected
// rather than silently truncated.
func readLimitedBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	limited := io.LimitReader(r.Body, MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
