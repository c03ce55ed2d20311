package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cedrosgw/gateway/internal/circuitbreaker"
	"github.com/cedrosgw/gateway/internal/config"
	"github.com/cedrosgw/gateway/internal/httputil"
	"github.com/cedrosgw/gateway/internal/metrics"
	"github.com/cedrosgw/gateway/internal/tenant"
)

// Client talks to the off-chain credits ledger, a companion identity
// service that owns customer balances. The gateway never maintains a
// balance itself; every spend or hold is delegated to this service.
type Client struct {
	cfg        config.CreditsConfig
	httpClient *http.Client
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// NewClient builds a credits ledger client from configuration.
func NewClient(cfg config.CreditsConfig, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: httputil.NewClient(timeout),
		breaker:    breaker,
		metrics:    metricsCollector,
	}
}

// AuthorizeRequest spends credits immediately against the customer's balance.
type AuthorizeRequest struct {
	ResourceID     string
	CustomerID     string
	AmountAtomic   int64
	IdempotencyKey string
	Metadata       map[string]string
}

// AuthorizeResult reports the outcome of an immediate spend.
type AuthorizeResult struct {
	TransactionID  string `json:"transaction_id"`
	RemainingCents int64  `json:"remaining_balance"`
}

// HoldRequest places a provisional hold against the customer's balance
// without capturing it, for flows that settle asynchronously (e.g. a
// subscription renewal that may still fail downstream).
type HoldRequest struct {
	ResourceID     string
	CustomerID     string
	AmountAtomic   int64
	IdempotencyKey string
	Metadata       map[string]string
}

// HoldResult reports the outcome of placing a hold.
type HoldResult struct {
	HoldID         string `json:"hold_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	RemainingCents int64  `json:"remaining_balance"`
}

// Authorize spends credits against the customer's balance. It returns an
// Error wrapping apierrors.ErrCodeInsufficientCredits when the ledger
// reports the balance cannot cover the amount.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	var result AuthorizeResult
	err := c.call(ctx, "authorize", "POST", "/v1/authorize", map[string]any{
		"resource_id":     req.ResourceID,
		"customer_id":     req.CustomerID,
		"amount":          req.AmountAtomic,
		"idempotency_key": req.IdempotencyKey,
		"metadata":        req.Metadata,
	}, &result)
	return result, err
}

// Hold places a provisional hold against the customer's balance. It
// returns an Error wrapping apierrors.ErrCodeHoldConflict when a hold
// with the same idempotency key already exists in a conflicting state.
func (c *Client) Hold(ctx context.Context, req HoldRequest) (HoldResult, error) {
	var result HoldResult
	err := c.call(ctx, "hold", "POST", "/v1/holds", map[string]any{
		"resource_id":     req.ResourceID,
		"customer_id":     req.CustomerID,
		"amount":          req.AmountAtomic,
		"idempotency_key": req.IdempotencyKey,
		"metadata":        req.Metadata,
	}, &result)
	return result, err
}

// CaptureHold converts a previously placed hold into a completed spend.
func (c *Client) CaptureHold(ctx context.Context, holdID string) error {
	return c.call(ctx, "capture", "POST", fmt.Sprintf("/v1/holds/%s/capture", holdID), nil, nil)
}

// ReleaseHold releases a previously placed hold without spending it.
func (c *Client) ReleaseHold(ctx context.Context, holdID string) error {
	return c.call(ctx, "release", "POST", fmt.Sprintf("/v1/holds/%s/release", holdID), nil, nil)
}

// call issues a JSON request against the ledger, wrapped in the credits
// circuit breaker, and decodes the response into out (when non-nil).
func (c *Client) call(ctx context.Context, operation, method, path string, body any, out any) error {
	start := time.Now()

	_, err := c.breaker.Execute(circuitbreaker.ServiceCredits, func() (interface{}, error) {
		return nil, c.do(ctx, method, path, body, out)
	})

	if c.metrics != nil {
		c.metrics.ObserveCreditsCall(operation, time.Since(start), err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c.cfg.BaseURL == "" {
		return serviceErr("credits ledger base URL not configured", nil)
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return serviceErr("encode request", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return serviceErr("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("X-Tenant-ID", tenant.FromContext(ctx))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return serviceErr("send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return serviceErr("read response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return serviceErr("decode response", err)
			}
		}
		return nil
	case http.StatusPaymentRequired:
		return insufficientErr(apiErrorMessage(respBody, "insufficient credits balance"))
	case http.StatusConflict:
		return holdConflictErr(apiErrorMessage(respBody, "hold already exists in a conflicting state"))
	default:
		return serviceErr(fmt.Sprintf("credits ledger returned status %d", resp.StatusCode), nil)
	}
}

// apiErrorMessage extracts a human-readable message from a JSON error body,
// falling back to a default when the body is absent or unrecognized.
func apiErrorMessage(body []byte, fallback string) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fallback
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	if parsed.Error != "" {
		return parsed.Error
	}
	return fallback
}
