package httpserver

import (
	"net/http"
	"time"

	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/logger"
	stripesvc "github.com/cedrosgw/gateway/internal/stripe"
	"github.com/cedrosgw/gateway/internal/subscriptions"
	"github.com/cedrosgw/gateway/pkg/responders"
)

type cancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	AtPeriodEnd    bool   `json:"atPeriodEnd"`
}

// cancelSubscription cancels an active subscription, immediately or at the
// end of the current billing period. POST /paywall/v1/subscription/cancel.
func (h *handlers) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req cancelSubscriptionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.SubscriptionID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "subscriptionId is required")
		return
	}
	if h.subscriptions == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "subscriptions not enabled")
		return
	}

	sub, err := h.subscriptions.Get(r.Context(), req.SubscriptionID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeResourceNotFound, "subscription not found")
		return
	}

	if sub.PaymentMethod == subscriptions.PaymentMethodStripe && sub.StripeSubscriptionID != "" {
		if err := h.stripe.CancelSubscription(r.Context(), sub.StripeSubscriptionID, req.AtPeriodEnd); err != nil {
			log.Error().Err(err).Msg("subscription.cancel.stripe_error")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, err.Error())
			return
		}
	}

	if err := h.subscriptions.Cancel(r.Context(), req.SubscriptionID, req.AtPeriodEnd); err != nil {
		log.Error().Err(err).Msg("subscription.cancel.error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to cancel subscription")
		return
	}

	log.Info().
		Str("subscription_id", req.SubscriptionID).
		Bool("at_period_end", req.AtPeriodEnd).
		Msg("subscription.cancelled")

	responders.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"atPeriodEnd": req.AtPeriodEnd,
	})
}

type getBillingPortalRequest struct {
	CustomerID string `json:"customerId"`
	ReturnURL  string `json:"returnUrl"`
}

// getBillingPortal opens a Stripe-hosted billing portal session so a
// customer can self-manage their subscription. POST /paywall/v1/subscription/portal.
func (h *handlers) getBillingPortal(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req getBillingPortalRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.CustomerID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "customerId is required")
		return
	}
	if req.ReturnURL == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "returnUrl is required")
		return
	}

	session, err := h.stripe.CreateBillingPortalSession(r.Context(), req.CustomerID, req.ReturnURL)
	if err != nil {
		log.Error().Err(err).Msg("subscription.portal.error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, err.Error())
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"url": session.URL})
}

type changeSubscriptionRequest struct {
	SubscriptionID    string `json:"subscriptionId"`
	NewResource       string `json:"newResource"`
	ProrationBehavior string `json:"prorationBehavior"`
}

type changeSubscriptionResponse struct {
	Success           bool   `json:"success"`
	SubscriptionID    string `json:"subscriptionId"`
	PreviousResource  string `json:"previousResource"`
	NewResource       string `json:"newResource"`
	Status            string `json:"status"`
	CurrentPeriodEnd  string `json:"currentPeriodEnd,omitempty"`
	ProrationBehavior string `json:"prorationBehavior"`
}

// changeSubscription upgrades or downgrades an active subscription onto a
// different product. POST /paywall/v1/subscription/change.
func (h *handlers) changeSubscription(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req changeSubscriptionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.SubscriptionID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "subscriptionId is required")
		return
	}
	if req.NewResource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "newResource is required")
		return
	}
	if h.subscriptions == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "subscriptions not enabled")
		return
	}

	sub, err := h.subscriptions.Get(r.Context(), req.SubscriptionID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeResourceNotFound, "subscription not found")
		return
	}

	newProduct, err := h.paywall.GetProduct(r.Context(), req.NewResource)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeResourceNotFound, "new resource not found", "newResource", req.NewResource)
		return
	}
	if newProduct.Subscription == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "new resource is not a subscription product")
		return
	}

	previousResource := sub.ProductID
	prorationBehavior := req.ProrationBehavior
	if prorationBehavior == "" {
		prorationBehavior = "create_prorations"
	}

	if sub.PaymentMethod == subscriptions.PaymentMethodStripe && sub.StripeSubscriptionID != "" {
		newPriceID := newProduct.Subscription.StripePriceID
		if newPriceID == "" {
			newPriceID = newProduct.StripePriceID
		}
		if newPriceID == "" {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "new resource has no Stripe price id")
			return
		}

		_, err := h.stripe.UpdateSubscription(r.Context(), stripesvc.UpdateSubscriptionRequest{
			SubscriptionID:    sub.StripeSubscriptionID,
			NewPriceID:        newPriceID,
			ProrationBehavior: prorationBehavior,
			Metadata: map[string]string{
				"previous_resource": previousResource,
				"new_resource":      req.NewResource,
			},
		})
		if err != nil {
			log.Error().Err(err).Str("subscription_id", req.SubscriptionID).Msg("subscription.change.stripe_error")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, err.Error())
			return
		}
	}

	result, err := h.subscriptions.ChangeSubscription(r.Context(), subscriptions.ChangeSubscriptionRequest{
		SubscriptionID:     req.SubscriptionID,
		NewProductID:       req.NewResource,
		NewBillingPeriod:   newProduct.Subscription.BillingPeriod,
		NewBillingInterval: newProduct.Subscription.BillingInterval,
		ProrationBehavior:  prorationBehavior,
	})
	if err != nil {
		log.Error().Err(err).Str("subscription_id", req.SubscriptionID).Msg("subscription.change.error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to update subscription")
		return
	}

	log.Info().
		Str("subscription_id", req.SubscriptionID).
		Str("previous_resource", previousResource).
		Str("new_resource", req.NewResource).
		Str("proration_behavior", prorationBehavior).
		Msg("subscription.changed")

	var currentPeriodEnd string
	if !result.Subscription.CurrentPeriodEnd.IsZero() {
		currentPeriodEnd = result.Subscription.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}

	responders.JSON(w, http.StatusOK, changeSubscriptionResponse{
		Success:           true,
		SubscriptionID:    result.Subscription.ID,
		PreviousResource:  previousResource,
		NewResource:       result.Subscription.ProductID,
		Status:            string(result.Subscription.Status),
		CurrentPeriodEnd:  currentPeriodEnd,
		ProrationBehavior: prorationBehavior,
	})
}

type reactivateSubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// reactivateSubscription clears a pending cancel-at-period-end flag.
// POST /paywall/v1/subscription/reactivate.
func (h *handlers) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req reactivateSubscriptionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.SubscriptionID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "subscriptionId is required")
		return
	}
	if h.subscriptions == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "subscriptions not enabled")
		return
	}

	sub, err := h.subscriptions.Get(r.Context(), req.SubscriptionID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeResourceNotFound, "subscription not found")
		return
	}
	if !sub.CancelAtPeriodEnd {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "subscription is not scheduled for cancellation")
		return
	}

	if sub.PaymentMethod == subscriptions.PaymentMethodStripe && sub.StripeSubscriptionID != "" {
		if _, err := h.stripe.ReactivateSubscription(r.Context(), sub.StripeSubscriptionID); err != nil {
			log.Error().Err(err).Str("subscription_id", req.SubscriptionID).Msg("subscription.reactivate.stripe_error")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, err.Error())
			return
		}
	}

	reactivatedSub, err := h.subscriptions.ReactivateSubscription(r.Context(), req.SubscriptionID)
	if err != nil {
		log.Error().Err(err).Str("subscription_id", req.SubscriptionID).Msg("subscription.reactivate.error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}

	log.Info().Str("subscription_id", req.SubscriptionID).Msg("subscription.reactivated")

	var currentPeriodEnd *string
	if !reactivatedSub.CurrentPeriodEnd.IsZero() {
		t := reactivatedSub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		currentPeriodEnd = &t
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"subscriptionId":    reactivatedSub.ID,
		"status":            string(reactivatedSub.Status),
		"cancelAtPeriodEnd": reactivatedSub.CancelAtPeriodEnd,
		"currentPeriodEnd":  currentPeriodEnd,
	})
}
