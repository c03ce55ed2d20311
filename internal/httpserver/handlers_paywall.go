package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/logger"
	"github.com/cedrosgw/gateway/internal/paywall"
	"github.com/cedrosgw/gateway/pkg/responders"
	"github.com/cedrosgw/gateway/pkg/x402"
)

// health reports liveness plus a best-effort dependency probe against the
// chain RPC endpoint. GET /cedros-health.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	rpcHealthy := h.checkRPCHealth(ctx)

	status := "ok"
	statusCode := http.StatusOK
	if !rpcHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	responders.JSON(w, statusCode, map[string]any{
		"status":     status,
		"uptime":     now.Sub(serverStartTime).String(),
		"timestamp":  now.UTC(),
		"rpcHealthy": rpcHealthy,
		"network":    h.cfg.X402.Network,
	})
}

func (h *handlers) checkRPCHealth(ctx context.Context) bool {
	verifier, ok := h.verifier.(interface{ RPCClient() *rpc.Client })
	if !ok {
		return false
	}
	client := verifier.RPCClient()
	if client == nil {
		return false
	}
	_, err := client.GetSlot(ctx, rpc.CommitmentFinalized)
	return err == nil
}

// quoteRequest is the shared body for both the POST and GET /quote forms.
type quoteRequest struct {
	Resource   string `json:"resource"`
	CouponCode string `json:"couponCode,omitempty"`
}

// paywallQuote emits a multi-rail quote. POST /paywall/v1/quote.
func (h *handlers) paywallQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	h.emitQuote(w, r, req.Resource, req.CouponCode)
}

// paywallQuoteQuery is the query-parameter form of /quote. GET /paywall/v1/quote.
func (h *handlers) paywallQuoteQuery(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	couponCode := r.URL.Query().Get("couponCode")
	h.emitQuote(w, r, resource, couponCode)
}

func (h *handlers) emitQuote(w http.ResponseWriter, r *http.Request, resource, couponCode string) {
	log := logger.FromContext(r.Context())
	if resource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "resource is required")
		return
	}
	if len(resource) > 255 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidResource, "resource id exceeds 255 characters")
		return
	}

	start := time.Now()
	quote, err := h.paywall.GenerateQuote(r.Context(), resource, couponCode)
	if err != nil {
		if errors.Is(err, paywall.ErrResourceNotConfigured) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeResourceNotFound, "resource not found", "resourceId", resource)
			return
		}
		log.Error().Err(err).Str("resource_id", resource).Msg("paywall.quote.failed")
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInternalError, "failed to generate quote", "resourceId", resource)
		return
	}

	accepts := make([]any, 0, 1)
	if quote.Crypto != nil {
		accepts = append(accepts, map[string]any{
			"scheme":            quote.Crypto.Scheme,
			"network":           quote.Crypto.Network,
			"maxAmountRequired": quote.Crypto.MaxAmountRequired,
			"resource":          quote.Crypto.Resource,
			"description":       quote.Crypto.Description,
			"mimeType":          quote.Crypto.MimeType,
			"payTo":             quote.Crypto.PayTo,
			"maxTimeoutSeconds": quote.Crypto.MaxTimeoutSeconds,
			"asset":             quote.Crypto.Asset,
			"extra":             quote.Crypto.Extra,
		})
	}
	if quote.Stripe != nil {
		accepts = append(accepts, map[string]any{
			"scheme":      "stripe",
			"priceId":     quote.Stripe.PriceID,
			"amountCents": quote.Stripe.AmountCents,
			"currency":    quote.Stripe.Currency,
			"description": quote.Stripe.Description,
		})
	}
	if quote.Credits != nil {
		accepts = append(accepts, map[string]any{
			"scheme":      "credits",
			"amount":      strconv.FormatInt(quote.Credits.AmountAtomic, 10),
			"currency":    quote.Credits.Currency,
			"description": quote.Credits.Description,
		})
	}

	if h.metrics != nil {
		h.metrics.ObservePayment("quote", resource, false, time.Since(start), 0, "")
	}

	responders.JSON(w, http.StatusPaymentRequired, map[string]any{
		"x402Version": 1,
		"accepts":     accepts,
		"expiresAt":   quote.ExpiresAt,
	})
}

// paywallVerify verifies a submitted payment proof. POST /paywall/v1/verify.
// X-PAYMENT carries the base64 (or raw JSON) encoded payload per the x402 convention.
func (h *handlers) paywallVerify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	paymentHeader := r.Header.Get("X-PAYMENT")
	if paymentHeader == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "missing X-PAYMENT header")
		return
	}

	resource, resourceType, err := peekPaymentEnvelope(paymentHeader)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPaymentProof, err.Error())
		return
	}
	if resource == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "resource is required in payment payload")
		return
	}
	if resourceType == "" {
		resourceType = "regular"
	}

	switch resourceType {
	case "cart":
		h.verifyCartPaymentInternal(w, r, resource, paymentHeader)
	case "refund":
		h.verifyRefundPaymentInternal(w, r, resource, paymentHeader)
	case "regular":
		h.verifyRegularPayment(w, r, resource, paymentHeader)
	default:
		log.Warn().Str("resource_type", resourceType).Msg("paywall.verify.invalid_resource_type")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidResourceType, "resourceType must be one of: regular, cart, refund")
	}
}

// peekPaymentEnvelope extracts resource/resourceType without running full
// verification, so /verify can route to the correct resource-type handler.
func peekPaymentEnvelope(header string) (resource, resourceType string, err error) {
	decoded, decodeErr := base64.StdEncoding.DecodeString(header)
	if decodeErr != nil {
		decoded, decodeErr = base64.RawStdEncoding.DecodeString(header)
		if decodeErr != nil {
			decoded = []byte(header)
		}
	}

	var outer struct {
		Payload struct {
			Resource     string `json:"resource"`
			ResourceType string `json:"resourceType"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(decoded, &outer); err != nil {
		return "", "", err
	}
	return outer.Payload.Resource, outer.Payload.ResourceType, nil
}

// verifyRegularPayment handles resourceType "regular" through the unified /verify endpoint.
func (h *handlers) verifyRegularPayment(w http.ResponseWriter, r *http.Request, resourceID, paymentHeader string) {
	log := logger.FromContext(r.Context())

	var couponCode string
	if proof, err := x402.ParsePaymentProof(paymentHeader); err == nil && proof.Metadata != nil {
		couponCode = proof.Metadata["coupon_code"]
		if couponCode == "" {
			couponCode = proof.Metadata["couponCode"]
		}
	}

	result, err := h.paywall.Authorize(r.Context(), resourceID, "", paymentHeader, couponCode)
	if err != nil {
		if errors.Is(err, paywall.ErrStripeSessionPending) {
			paymentRequiredResponse(w, "stripe payment still confirming, retry shortly", resourceID, "regular")
			return
		}
		log.Error().Err(err).Str("resource_id", resourceID).Msg("paywall.verify.failed")
		paymentVerificationFailedResponse(w, err, resourceID, "regular")
		return
	}
	if !result.Granted {
		paymentNotGrantedResponse(w, "payment could not be verified", resourceID, "regular")
		return
	}
	paymentSuccessResponse(w, resourceID, "regular", result)
}
