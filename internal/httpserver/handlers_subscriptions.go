package httpserver

import (
	"fmt"
	"net/http"
	"time"

	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/logger"
	stripesvc "github.com/cedrosgw/gateway/internal/stripe"
	"github.com/cedrosgw/gateway/internal/subscriptions"
	"github.com/cedrosgw/gateway/pkg/responders"
)

// createStripeSubscriptionRequest is the body for POST /paywall/v1/subscription/stripe-session.
type createStripeSubscriptionRequest struct {
	Resource      string            `json:"resource"`
	Interval      string            `json:"interval"`
	IntervalDays  int               `json:"intervalDays"`
	TrialDays     int               `json:"trialDays"`
	CustomerEmail string            `json:"customerEmail"`
	Metadata      map[string]string `json:"metadata"`
	CouponCode    string            `json:"couponCode"`
	SuccessURL    string            `json:"successUrl"`
	CancelURL     string            `json:"cancelUrl"`
}

type createStripeSubscriptionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// createStripeSubscription opens a Stripe Checkout session in subscription
// mode for a product configured with a recurring price.
func (h *handlers) createStripeSubscription(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req createStripeSubscriptionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.Resource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "resource is required")
		return
	}
	if req.Interval == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "interval is required")
		return
	}

	product, err := h.paywall.GetProduct(r.Context(), req.Resource)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeResourceNotFound, err.Error(), "resource", req.Resource)
		return
	}
	if product.Subscription == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "resource is not configured for subscriptions")
		return
	}

	stripePriceID := product.Subscription.StripePriceID
	if stripePriceID == "" {
		stripePriceID = product.StripePriceID
	}
	if stripePriceID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "resource has no Stripe price id configured")
		return
	}

	metadata := make(map[string]string, len(product.Metadata)+len(req.Metadata)+2)
	for k, v := range product.Metadata {
		metadata[k] = v
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["resource"] = req.Resource
	metadata["interval"] = req.Interval

	trialDays := product.Subscription.TrialDays
	if req.TrialDays > 0 {
		trialDays = req.TrialDays
	}

	session, err := h.stripe.CreateSubscriptionCheckout(r.Context(), stripesvc.CreateSubscriptionRequest{
		ProductID:     req.Resource,
		PriceID:       stripePriceID,
		CustomerEmail: req.CustomerEmail,
		Metadata:      metadata,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		TrialDays:     trialDays,
	})
	if err != nil {
		log.Error().Err(err).Str("resource", req.Resource).Msg("subscription.stripe.checkout_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, err.Error())
		return
	}

	log.Info().
		Str("session_id", session.ID).
		Str("resource", req.Resource).
		Str("interval", req.Interval).
		Msg("subscription.stripe.checkout_created")

	responders.JSON(w, http.StatusOK, createStripeSubscriptionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

type subscriptionStatusResponse struct {
	Active            bool    `json:"active"`
	Status            string  `json:"status"`
	ExpiresAt         *string `json:"expiresAt,omitempty"`
	CurrentPeriodEnd  *string `json:"currentPeriodEnd,omitempty"`
	Interval          string  `json:"interval,omitempty"`
	CancelAtPeriodEnd bool    `json:"cancelAtPeriodEnd,omitempty"`
}

// getSubscriptionStatus checks whether a customer currently has access to a
// subscription-gated resource. GET /paywall/v1/subscription/status.
func (h *handlers) getSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	resource := r.URL.Query().Get("resource")
	userID := r.URL.Query().Get("userId")
	if resource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "resource is required")
		return
	}
	if userID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "userId is required")
		return
	}

	if h.subscriptions == nil {
		responders.JSON(w, http.StatusOK, subscriptionStatusResponse{Active: false, Status: "expired"})
		return
	}

	hasAccess, sub, err := h.subscriptions.HasAccess(r.Context(), userID, resource)
	if err != nil {
		log.Error().Err(err).Msg("subscription.status.error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to check subscription status")
		return
	}
	if sub == nil {
		responders.JSON(w, http.StatusOK, subscriptionStatusResponse{Active: false, Status: "expired"})
		return
	}

	var expiresAt, currentPeriodEnd *string
	if !sub.CurrentPeriodEnd.IsZero() {
		t := sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		expiresAt = &t
		currentPeriodEnd = &t
	}

	responders.JSON(w, http.StatusOK, subscriptionStatusResponse{
		Active:            hasAccess,
		Status:            string(sub.Status),
		ExpiresAt:         expiresAt,
		CurrentPeriodEnd:  currentPeriodEnd,
		Interval:          mapBillingPeriodToInterval(sub.BillingPeriod),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	})
}

func mapBillingPeriodToInterval(period subscriptions.BillingPeriod) string {
	switch period {
	case subscriptions.PeriodDay:
		return "daily"
	case subscriptions.PeriodWeek:
		return "weekly"
	case subscriptions.PeriodMonth:
		return "monthly"
	case subscriptions.PeriodYear:
		return "yearly"
	default:
		return "custom"
	}
}

type subscriptionQuoteRequest struct {
	Resource     string `json:"resource"`
	Interval     string `json:"interval"`
	CouponCode   string `json:"couponCode"`
	IntervalDays int    `json:"intervalDays"`
}

type subscriptionQuoteResponse struct {
	Requirement  interface{}                 `json:"requirement"`
	Subscription subscriptionQuotePeriodInfo `json:"subscription"`
}

type subscriptionQuotePeriodInfo struct {
	Interval        string `json:"interval"`
	IntervalDays    int    `json:"intervalDays,omitempty"`
	DurationSeconds int64  `json:"durationSeconds"`
	PeriodStart     string `json:"periodStart"`
	PeriodEnd       string `json:"periodEnd"`
}

// getSubscriptionQuote returns an x402 payment requirement for a crypto
// subscription along with the would-be billing period. POST /paywall/v1/subscription/quote.
func (h *handlers) getSubscriptionQuote(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req subscriptionQuoteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.Resource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "resource is required")
		return
	}
	if req.Interval == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "interval is required")
		return
	}

	quote, err := h.paywall.GenerateQuote(r.Context(), req.Resource, req.CouponCode)
	if err != nil {
		log.Error().Err(err).Str("resource", req.Resource).Msg("subscription.quote.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeResourceNotFound, err.Error())
		return
	}

	now := time.Now().UTC()
	var periodEnd time.Time
	var durationSeconds int64
	intervalDays := 0

	switch req.Interval {
	case "weekly":
		periodEnd = now.AddDate(0, 0, 7)
		durationSeconds = 7 * 24 * 60 * 60
	case "monthly":
		periodEnd = now.AddDate(0, 1, 0)
		durationSeconds = 30 * 24 * 60 * 60
	case "yearly":
		periodEnd = now.AddDate(1, 0, 0)
		durationSeconds = 365 * 24 * 60 * 60
	case "custom":
		if req.IntervalDays <= 0 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "intervalDays required for custom interval")
			return
		}
		periodEnd = now.AddDate(0, 0, req.IntervalDays)
		durationSeconds = int64(req.IntervalDays) * 24 * 60 * 60
		intervalDays = req.IntervalDays
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid interval")
		return
	}

	responders.JSON(w, http.StatusPaymentRequired, subscriptionQuoteResponse{
		Requirement: quote.Crypto,
		Subscription: subscriptionQuotePeriodInfo{
			Interval:        req.Interval,
			IntervalDays:    intervalDays,
			DurationSeconds: durationSeconds,
			PeriodStart:     now.Format(time.RFC3339),
			PeriodEnd:       periodEnd.Format(time.RFC3339),
		},
	})
}

type createX402SubscriptionRequest struct {
	ProductID        string            `json:"productId"`
	Wallet           string            `json:"wallet"`
	PaymentSignature string            `json:"paymentSignature"`
	Metadata         map[string]string `json:"metadata"`
}

type createX402SubscriptionResponse struct {
	SubscriptionID     string    `json:"subscriptionId"`
	ProductID          string    `json:"productId"`
	Wallet             string    `json:"wallet"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"`
	BillingPeriod      string    `json:"billingPeriod"`
	BillingInterval    int       `json:"billingInterval"`
}

// createX402Subscription creates or extends an on-chain subscription once the
// caller has already submitted a verified x402 payment for the product.
func (h *handlers) createX402Subscription(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req createX402SubscriptionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.ProductID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "productId is required")
		return
	}
	if req.Wallet == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "wallet is required")
		return
	}
	if h.subscriptions == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "subscriptions not enabled")
		return
	}

	product, err := h.paywall.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeResourceNotFound, err.Error(), "productId", req.ProductID)
		return
	}
	if product.Subscription == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "product is not configured for subscriptions")
		return
	}
	if !product.Subscription.AllowX402 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "product does not allow x402 subscriptions")
		return
	}

	if req.PaymentSignature != "" {
		payment, err := h.paywall.GetPayment(r.Context(), req.PaymentSignature)
		if err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "payment signature not found or not yet processed")
			return
		}
		if payment.ResourceID != req.ProductID {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "payment was for a different product")
			return
		}
		if payment.Wallet != "" && payment.Wallet != req.Wallet {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "payment was made from a different wallet")
			return
		}
	}

	sub, err := h.subscriptions.CreateX402Subscription(r.Context(), subscriptions.CreateX402SubscriptionRequest{
		ProductID:       req.ProductID,
		Wallet:          req.Wallet,
		BillingPeriod:   product.Subscription.BillingPeriod,
		BillingInterval: product.Subscription.BillingInterval,
		Metadata:        req.Metadata,
	})
	if err != nil {
		log.Error().Err(err).Str("product_id", req.ProductID).Msg("subscription.x402.create_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, fmt.Sprintf("failed to create subscription: %v", err))
		return
	}

	log.Info().
		Str("subscription_id", sub.ID).
		Str("product_id", req.ProductID).
		Str("wallet", logger.TruncateAddress(req.Wallet)).
		Msg("subscription.x402.created")

	responders.JSON(w, http.StatusOK, createX402SubscriptionResponse{
		SubscriptionID:     sub.ID,
		ProductID:          sub.ProductID,
		Wallet:             sub.Wallet,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		BillingPeriod:      string(sub.BillingPeriod),
		BillingInterval:    sub.BillingInterval,
	})
}
