package credits

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cedrosgw/gateway/internal/circuitbreaker"
	"github.com/cedrosgw/gateway/internal/config"
	apierrors "github.com/cedrosgw/gateway/internal/errors"
)

func testConfig(baseURL string) config.CreditsConfig {
	return config.CreditsConfig{BaseURL: baseURL, APIKey: "test-key"}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	cfg := testConfig(server.URL)
	breaker := circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
	client := NewClient(cfg, breaker, nil)
	return client, server.Close
}

func TestClient_AuthorizeSuccess(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/authorize" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(AuthorizeResult{TransactionID: "txn_1", RemainingCents: 500})
	})
	defer closeFn()

	result, err := client.Authorize(context.Background(), AuthorizeRequest{
		ResourceID: "res_1", CustomerID: "cust_1", AmountAtomic: 100,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if result.TransactionID != "txn_1" || result.RemainingCents != 500 {
		t.Errorf("Authorize() = %+v, want txn_1/500", result)
	}
}

func TestClient_AuthorizeInsufficientBalance(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"message": "balance too low"})
	})
	defer closeFn()

	_, err := client.Authorize(context.Background(), AuthorizeRequest{
		ResourceID: "res_1", CustomerID: "cust_1", AmountAtomic: 100,
	})
	var creditsErr Error
	if !stderrors.As(err, &creditsErr) {
		t.Fatalf("Authorize() error = %v, want credits.Error", err)
	}
	if creditsErr.Code != apierrors.ErrCodeInsufficientCredits {
		t.Errorf("Code = %s, want %s", creditsErr.Code, apierrors.ErrCodeInsufficientCredits)
	}
	if creditsErr.Message != "balance too low" {
		t.Errorf("Message = %q, want %q", creditsErr.Message, "balance too low")
	}
}

func TestClient_HoldConflict(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "hold already captured"})
	})
	defer closeFn()

	_, err := client.Hold(context.Background(), HoldRequest{
		ResourceID: "res_1", CustomerID: "cust_1", AmountAtomic: 100, IdempotencyKey: "key_1",
	})
	var creditsErr Error
	if !stderrors.As(err, &creditsErr) {
		t.Fatalf("Hold() error = %v, want credits.Error", err)
	}
	if creditsErr.Code != apierrors.ErrCodeHoldConflict {
		t.Errorf("Code = %s, want %s", creditsErr.Code, apierrors.ErrCodeHoldConflict)
	}
}

func TestClient_ServiceErrorOnUnexpectedStatus(t *testing.T) {
	client, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeFn()

	_, err := client.Authorize(context.Background(), AuthorizeRequest{ResourceID: "res_1"})
	var creditsErr Error
	if !stderrors.As(err, &creditsErr) {
		t.Fatalf("Authorize() error = %v, want credits.Error", err)
	}
	if creditsErr.Code != apierrors.ErrCodeCreditsError {
		t.Errorf("Code = %s, want %s", creditsErr.Code, apierrors.ErrCodeCreditsError)
	}
}

func TestClient_MissingBaseURL(t *testing.T) {
	breaker := circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
	client := NewClient(testConfig(""), breaker, nil)

	_, err := client.Authorize(context.Background(), AuthorizeRequest{ResourceID: "res_1"})
	if err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
