package paywall

import (
	"context"
	"testing"

	"github.com/cedrosgw/gateway/internal/callbacks"
	"github.com/cedrosgw/gateway/internal/config"
	"github.com/cedrosgw/gateway/internal/credits"
	"github.com/cedrosgw/gateway/internal/storage"
)

// stubCreditsClient is a minimal in-memory fake satisfying CreditsClient.
type stubCreditsClient struct {
	authorizeErr    error
	holdErr         error
	lastAuthorizeAt int64
	lastHoldAt      int64
}

func (s *stubCreditsClient) Authorize(_ context.Context, req credits.AuthorizeRequest) (credits.AuthorizeResult, error) {
	if s.authorizeErr != nil {
		return credits.AuthorizeResult{}, s.authorizeErr
	}
	s.lastAuthorizeAt = req.AmountAtomic
	return credits.AuthorizeResult{TransactionID: "txn_stub", RemainingCents: 1000 - req.AmountAtomic}, nil
}

func (s *stubCreditsClient) Hold(_ context.Context, req credits.HoldRequest) (credits.HoldResult, error) {
	if s.holdErr != nil {
		return credits.HoldResult{}, s.holdErr
	}
	s.lastHoldAt = req.AmountAtomic
	return credits.HoldResult{HoldID: "hold_stub", RemainingCents: 1000 - req.AmountAtomic}, nil
}

func (s *stubCreditsClient) CaptureHold(_ context.Context, _ string) error { return nil }
func (s *stubCreditsClient) ReleaseHold(_ context.Context, _ string) error { return nil }

func creditsTestConfig() *config.Config {
	cfg := testConfig()
	res := cfg.Paywall.Resources["demo-content"]
	res.CreditsAmount = 500
	res.CreditsCurrency = "CREDITS"
	cfg.Paywall.Resources["demo-content"] = res
	return cfg
}

func TestGenerateQuoteIncludesCredits(t *testing.T) {
	cfg := creditsTestConfig()
	svc := NewService(cfg, storage.NewMemoryStore(), stubVerifier{}, callbacks.NoopNotifier{}, testRepository(cfg), nil, nil)

	quote, err := svc.GenerateQuote(context.Background(), "demo-content", "")
	if err != nil {
		t.Fatalf("GenerateQuote error: %v", err)
	}
	if quote.Credits == nil {
		t.Fatal("expected credits option")
	}
	if quote.Credits.AmountAtomic != 500 {
		t.Errorf("AmountAtomic = %d, want 500", quote.Credits.AmountAtomic)
	}
	if quote.Credits.Currency != "CREDITS" {
		t.Errorf("Currency = %s, want CREDITS", quote.Credits.Currency)
	}
}

func TestCreditsAuthorizeWithoutClientFails(t *testing.T) {
	cfg := creditsTestConfig()
	svc := NewService(cfg, storage.NewMemoryStore(), stubVerifier{}, callbacks.NoopNotifier{}, testRepository(cfg), nil, nil)

	_, err := svc.CreditsAuthorize(context.Background(), "demo-content", "cust_1", "", "idem_1")
	if err != ErrCreditsUnavailable {
		t.Fatalf("CreditsAuthorize() error = %v, want ErrCreditsUnavailable", err)
	}
}

func TestCreditsAuthorizeSpendsExpectedAmount(t *testing.T) {
	cfg := creditsTestConfig()
	svc := NewService(cfg, storage.NewMemoryStore(), stubVerifier{}, callbacks.NoopNotifier{}, testRepository(cfg), nil, nil)
	client := &stubCreditsClient{}
	svc.SetCreditsClient(client)

	result, err := svc.CreditsAuthorize(context.Background(), "demo-content", "cust_1", "", "idem_1")
	if err != nil {
		t.Fatalf("CreditsAuthorize() error: %v", err)
	}
	if !result.Granted || result.Method != "credits" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if client.lastAuthorizeAt != 500 {
		t.Errorf("spent amount = %d, want 500", client.lastAuthorizeAt)
	}
}

func TestCreditsHoldPlacesExpectedAmount(t *testing.T) {
	cfg := creditsTestConfig()
	svc := NewService(cfg, storage.NewMemoryStore(), stubVerifier{}, callbacks.NoopNotifier{}, testRepository(cfg), nil, nil)
	client := &stubCreditsClient{}
	svc.SetCreditsClient(client)

	result, err := svc.CreditsHold(context.Background(), "demo-content", "cust_1", "", "idem_1")
	if err != nil {
		t.Fatalf("CreditsHold() error: %v", err)
	}
	if result.HoldID != "hold_stub" {
		t.Errorf("HoldID = %s, want hold_stub", result.HoldID)
	}
	if client.lastHoldAt != 500 {
		t.Errorf("hold amount = %d, want 500", client.lastHoldAt)
	}
}

func TestCreditsAuthorizePropagatesInsufficientError(t *testing.T) {
	cfg := creditsTestConfig()
	svc := NewService(cfg, storage.NewMemoryStore(), stubVerifier{}, callbacks.NoopNotifier{}, testRepository(cfg), nil, nil)
	client := &stubCreditsClient{authorizeErr: credits.Error{Code: "insufficient_credits"}}
	svc.SetCreditsClient(client)

	_, err := svc.CreditsAuthorize(context.Background(), "demo-content", "cust_1", "", "idem_1")
	if err == nil {
		t.Fatal("expected error to propagate from credits client")
	}
}
