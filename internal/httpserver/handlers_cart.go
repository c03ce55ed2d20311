package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/logger"
	"github.com/cedrosgw/gateway/internal/paywall"
	"github.com/cedrosgw/gateway/pkg/responders"
)

// requestCartQuote aggregates a multi-item cart into one quote that is valid
// for the cart quote TTL; no inventory is reserved. POST /paywall/v1/cart/quote.
func (h *handlers) requestCartQuote(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req paywall.CartQuoteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if len(req.Items) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmptyCart, "at least one item required")
		return
	}

	resp, err := h.paywall.GenerateCartQuote(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Int("item_count", len(req.Items)).Msg("cart.quote.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveCartCheckout("quote", len(req.Items))
	}

	responders.JSON(w, http.StatusOK, resp)
}

// verifyCartPayment verifies payment for a previously quoted cart.
// POST /paywall/v1/cart/{id}/verify.
func (h *handlers) verifyCartPayment(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "id")
	if cartID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "cart id required")
		return
	}

	paymentHeader := r.Header.Get("X-PAYMENT")
	if paymentHeader == "" {
		paymentRequiredResponse(w, "provide X-PAYMENT header with payment proof", cartID, "cart")
		return
	}
	couponCode := r.URL.Query().Get("couponCode")
	h.authorizeCartAndRespond(w, r, cartID, paymentHeader, couponCode)
}

// verifyCartPaymentInternal is reached from the unified /paywall/v1/verify
// dispatcher once the resourceType "cart" tag is observed.
func (h *handlers) verifyCartPaymentInternal(w http.ResponseWriter, r *http.Request, cartID, paymentHeader string) {
	h.authorizeCartAndRespond(w, r, cartID, paymentHeader, "")
}

func (h *handlers) authorizeCartAndRespond(w http.ResponseWriter, r *http.Request, cartID, paymentHeader, couponCode string) {
	log := logger.FromContext(r.Context())
	result, err := h.paywall.Authorize(r.Context(), cartID, "", paymentHeader, couponCode)
	if err != nil {
		log.Error().Err(err).Str("cart_id", cartID).Msg("cart.verify.failed")
		paymentVerificationFailedResponse(w, err, cartID, "cart")
		return
	}
	if !result.Granted {
		paymentNotGrantedResponse(w, "payment could not be verified", cartID, "cart")
		return
	}
	paymentSuccessResponse(w, cartID, "cart", result)
}
