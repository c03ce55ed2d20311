package httpserver

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cedrosgw/gateway/internal/credits"
	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/logger"
	"github.com/cedrosgw/gateway/internal/paywall"
	"github.com/cedrosgw/gateway/pkg/responders"
)

// creditsRequestBody is shared by the authorize and hold endpoints.
type creditsRequestBody struct {
	Resource       string `json:"resource"`
	CustomerID     string `json:"customerId"`
	CouponCode     string `json:"couponCode,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// creditsAuthorize handles POST /paywall/v1/credits/authorize, spending
// credits immediately against the resource's price.
func (h *handlers) creditsAuthorize(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req creditsRequestBody
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.Resource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "resource is required")
		return
	}
	if req.CustomerID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "customerId is required")
		return
	}
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	result, err := h.paywall.CreditsAuthorize(r.Context(), req.Resource, req.CustomerID, req.CouponCode, idempotencyKey)
	if err != nil {
		h.writeCreditsError(w, err, req.Resource, log)
		return
	}
	if !result.Granted {
		paymentNotGrantedResponse(w, "credits authorization was not granted", req.Resource, "regular")
		return
	}
	paymentSuccessResponse(w, req.Resource, "regular", result)
}

// creditsHold handles POST /paywall/v1/credits/hold, placing a provisional
// hold against the customer's balance without capturing it.
func (h *handlers) creditsHold(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req creditsRequestBody
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.Resource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "resource is required")
		return
	}
	if req.CustomerID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "customerId is required")
		return
	}
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	hold, err := h.paywall.CreditsHold(r.Context(), req.Resource, req.CustomerID, req.CouponCode, idempotencyKey)
	if err != nil {
		h.writeCreditsError(w, err, req.Resource, log)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"holdId":    hold.HoldID,
		"expiresAt": hold.ExpiresAt,
		"resource":  req.Resource,
	})
}

func (h *handlers) writeCreditsError(w http.ResponseWriter, err error, resource string, log zerolog.Logger) {
	if errors.Is(err, paywall.ErrCreditsUnavailable) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceUnavailable, "credits rail is not configured for this deployment")
		return
	}
	var creditsErr credits.Error
	if errors.As(err, &creditsErr) {
		apierrors.WriteErrorWithDetail(w, creditsErr.Code, creditsErr.Message, "resource", resource)
		return
	}
	log.Error().Err(err).Str("resource", resource).Msg("credits.call.failed")
	apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "credits rail call failed")
}
