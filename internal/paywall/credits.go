package paywall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cedrosgw/gateway/internal/callbacks"
	"github.com/cedrosgw/gateway/internal/coupons"
	"github.com/cedrosgw/gateway/internal/credits"
	"github.com/cedrosgw/gateway/internal/money"
	"github.com/cedrosgw/gateway/internal/tenant"
)

// ErrCreditsUnavailable indicates the credits ledger client was never
// configured for this deployment (SetCreditsClient was not called).
var ErrCreditsUnavailable = errors.New("paywall: credits rail not configured")

// CreditsAuthorize spends credits immediately against a resource's price,
// applying the same catalog+checkout coupon stack as GenerateQuote.
func (s *Service) CreditsAuthorize(ctx context.Context, resourceID, customerID, couponCode, idempotencyKey string) (AuthorizationResult, error) {
	if s.credits == nil {
		return AuthorizationResult{}, ErrCreditsUnavailable
	}

	resource, err := s.ResourceDefinition(ctx, resourceID)
	if err != nil {
		return AuthorizationResult{}, err
	}
	if resource.CreditsAmount <= 0 || resource.CreditsCurrency == "" {
		return AuthorizationResult{}, fmt.Errorf("resource has no credits pricing configured")
	}

	expected, err := s.expectedCreditsAmount(ctx, resourceID, resource.CreditsAmount, resource.CreditsCurrency, couponCode)
	if err != nil {
		return AuthorizationResult{}, err
	}

	result, err := s.credits.Authorize(ctx, credits.AuthorizeRequest{
		ResourceID:     resourceID,
		CustomerID:     customerID,
		AmountAtomic:   expected.Atomic,
		IdempotencyKey: idempotencyKey,
		Metadata: map[string]string{
			"tenant_id": tenant.FromContext(ctx),
		},
	})
	if err != nil {
		return AuthorizationResult{}, err
	}

	event := callbacks.PaymentEvent{
		ResourceID: resourceID,
		Method:     "credits",
		Wallet:     customerID,
		Metadata: map[string]string{
			"transaction_id": result.TransactionID,
			"tenant_id":      tenant.FromContext(ctx),
		},
		PaidAt: time.Now().UTC(),
	}
	callbacks.PreparePaymentEvent(&event)
	s.notifier.PaymentSucceeded(ctx, event)

	return AuthorizationResult{
		Granted: true,
		Method:  "credits",
		Wallet:  customerID,
	}, nil
}

// CreditsHold places a provisional hold for a resource's credits price
// without capturing it, returning the ledger's hold identifier.
func (s *Service) CreditsHold(ctx context.Context, resourceID, customerID, couponCode, idempotencyKey string) (credits.HoldResult, error) {
	if s.credits == nil {
		return credits.HoldResult{}, ErrCreditsUnavailable
	}

	resource, err := s.ResourceDefinition(ctx, resourceID)
	if err != nil {
		return credits.HoldResult{}, err
	}
	if resource.CreditsAmount <= 0 || resource.CreditsCurrency == "" {
		return credits.HoldResult{}, fmt.Errorf("resource has no credits pricing configured")
	}

	expected, err := s.expectedCreditsAmount(ctx, resourceID, resource.CreditsAmount, resource.CreditsCurrency, couponCode)
	if err != nil {
		return credits.HoldResult{}, err
	}

	return s.credits.Hold(ctx, credits.HoldRequest{
		ResourceID:     resourceID,
		CustomerID:     customerID,
		AmountAtomic:   expected.Atomic,
		IdempotencyKey: idempotencyKey,
		Metadata: map[string]string{
			"tenant_id": tenant.FromContext(ctx),
		},
	})
}

// expectedCreditsAmount applies the catalog+checkout coupon stack to a
// resource's credits price, matching GenerateQuote's credits rail.
func (s *Service) expectedCreditsAmount(ctx context.Context, resourceID string, baseAtomic int64, currency, couponCode string) (money.Money, error) {
	creditsAsset, err := money.GetAsset(strings.ToUpper(currency))
	if err != nil {
		return money.Money{}, fmt.Errorf("get credits asset: %w", err)
	}
	expected := money.Money{Asset: creditsAsset, Atomic: baseAtomic}

	manualCoupon := s.validateManualCoupon(ctx, couponCode, resourceID, "")
	catalogCoupons := SelectCouponsForPayment(ctx, s.coupons, resourceID, coupons.PaymentMethodCredits, manualCoupon, ScopeCatalog)
	checkoutCoupons := SelectCouponsForPayment(ctx, s.coupons, "", coupons.PaymentMethodCredits, nil, ScopeCheckout)
	applicable := append([]coupons.Coupon{}, catalogCoupons...)
	applicable = append(applicable, checkoutCoupons...)

	if len(applicable) == 0 {
		return expected, nil
	}

	expected, err = StackCouponsOnMoney(expected, applicable, money.RoundingStandard)
	if err != nil {
		return money.Money{}, fmt.Errorf("apply coupons to credits price: %w", err)
	}
	return expected, nil
}
