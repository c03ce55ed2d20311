package httpserver

import (
	"net/http"

	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/logger"
	stripesvc "github.com/cedrosgw/gateway/internal/stripe"
	"github.com/cedrosgw/gateway/pkg/responders"
)

type createCartCheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// createCartCheckout opens a multi-item Stripe Checkout session for a cart.
// POST /paywall/v1/cart/checkout.
func (h *handlers) createCartCheckout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if h.cartService == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceUnavailable, "stripe cart checkout is not configured for this deployment")
		return
	}

	var req stripesvc.CreateCartSessionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if len(req.Items) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmptyCart, "at least one item required")
		return
	}

	session, err := h.cartService.CreateCartCheckoutSession(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Int("item_count", len(req.Items)).Msg("cart.checkout.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveCartCheckout("checkout", len(req.Items))
	}

	responders.JSON(w, http.StatusOK, createCartCheckoutResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}
