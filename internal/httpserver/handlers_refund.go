package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/cedrosgw/gateway/internal/auth"
	apierrors "github.com/cedrosgw/gateway/internal/errors"
	"github.com/cedrosgw/gateway/internal/logger"
	"github.com/cedrosgw/gateway/internal/paywall"
	"github.com/cedrosgw/gateway/pkg/responders"
)

// requestRefundBody is the buyer-initiated refund request payload.
type requestRefundBody struct {
	OriginalPurchaseID string            `json:"originalPurchaseId"`
	RecipientWallet    string            `json:"recipientWallet"`
	Amount             float64           `json:"amount"`
	Token              string            `json:"token"`
	Reason             string            `json:"reason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// requestRefund handles POST /paywall/v1/refunds/request.
//
// Security requirements mirror CreateRefundRequest's invariants:
//  1. originalPurchaseId must be a signature of a recorded payment.
//  2. recipientWallet must match the wallet that made that payment.
//  3. The request must be signed by either that wallet or the operator's payTo wallet.
func (h *handlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req requestRefundBody
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.OriginalPurchaseID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "originalPurchaseId required")
		return
	}
	if req.RecipientWallet == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "recipientWallet required")
		return
	}
	if req.Amount <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "amount must be positive")
		return
	}
	if req.Token == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "token required")
		return
	}
	if _, err := solana.SignatureFromBase58(req.OriginalPurchaseID); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidSignature,
			"originalPurchaseId must be a valid transaction signature", "hint", "expected base58-encoded signature from a completed payment")
		return
	}

	payment, err := h.paywall.GetPayment(r.Context(), req.OriginalPurchaseID)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeResourceNotFound, "payment not found", "originalPurchaseId", req.OriginalPurchaseID)
		return
	}
	if payment.Wallet != req.RecipientWallet {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidRecipient,
			"recipientWallet must match the wallet that made the original payment",
			map[string]interface{}{"expectedWallet": payment.Wallet})
		return
	}
	paymentAmount, err := strconv.ParseFloat(payment.Amount.ToMajor(), 64)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to parse payment amount")
		return
	}
	if req.Amount > paymentAmount {
		apierrors.WriteError(w, apierrors.ErrCodeAmountMismatch, "refund amount exceeds original payment amount",
			map[string]interface{}{"maxRefundable": paymentAmount})
		return
	}
	if req.Token != payment.Amount.Asset.Code {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidTokenMint, "refund token must match original payment token",
			map[string]interface{}{"originalToken": payment.Amount.Asset.Code})
		return
	}

	verifier := auth.NewSignatureVerifier()
	allowedSigners := []string{req.RecipientWallet, h.cfg.X402.PaymentAddress}
	if err := verifier.VerifyUserRequest(r, allowedSigners, "request-refund:"+req.OriginalPurchaseID); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidSignature, err.Error(),
			"hint", "sign message 'request-refund:<originalPurchaseId>' with your wallet")
		return
	}

	refund, err := h.paywall.CreateRefundRequest(r.Context(), paywall.RefundQuoteRequest{
		OriginalPurchaseID: req.OriginalPurchaseID,
		RecipientWallet:    req.RecipientWallet,
		Amount:             req.Amount,
		Token:              req.Token,
		Reason:             req.Reason,
		Metadata:           req.Metadata,
	})
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConflict, err.Error())
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"refundId":           refund.ID,
		"status":             "requested",
		"originalPurchaseId": refund.OriginalPurchaseID,
		"recipientWallet":    refund.RecipientWallet,
	})
}

// approveRefundBody selects the refund an admin is approving.
type approveRefundBody struct {
	RefundID string `json:"refundId"`
}

// approveRefund handles POST /paywall/v1/refunds/approve. It regenerates a
// fresh x402 quote for the pending refund, transitioning it toward the
// `approved` state; RegenerateRefundQuote rejects already-processed refunds.
func (h *handlers) approveRefund(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req approveRefundBody
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.RefundID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "refundId required")
		return
	}

	verifier := auth.NewSignatureVerifier()
	if err := verifier.VerifyAdminRequest(r, h.cfg.X402.PaymentAddress, "approve-refund:"+req.RefundID); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeForbidden, err.Error(), "hint", "only the configured operator wallet may approve refunds")
		return
	}

	resp, err := h.paywall.RegenerateRefundQuote(r.Context(), req.RefundID)
	if err != nil {
		log.Error().Err(err).Str("refund_id", req.RefundID).Msg("refund.approve.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeRefundNotFound, err.Error())
		return
	}

	responders.JSON(w, http.StatusOK, resp)
}

// denyRefund handles POST /paywall/v1/refunds/deny, deleting a pending refund request.
func (h *handlers) denyRefund(w http.ResponseWriter, r *http.Request) {
	var req approveRefundBody
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.RefundID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "refundId required")
		return
	}

	verifier := auth.NewSignatureVerifier()
	if err := verifier.VerifyAdminRequest(r, h.cfg.X402.PaymentAddress, "deny-refund:"+req.RefundID); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeForbidden, err.Error(), "hint", "only the configured operator wallet may deny refunds")
		return
	}

	if err := h.paywall.DenyRefund(r.Context(), req.RefundID); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeRefundNotFound, err.Error())
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"refundId": req.RefundID, "status": "denied"})
}

// listPendingRefunds handles POST /paywall/v1/refunds/pending for admin review queues.
func (h *handlers) listPendingRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.paywall.ListPendingRefunds(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"refunds": refunds})
}

// verifyRefundPaymentInternal is reached from the unified /paywall/v1/verify
// dispatcher once the resourceType "refund" tag is observed.
func (h *handlers) verifyRefundPaymentInternal(w http.ResponseWriter, r *http.Request, refundID, paymentHeader string) {
	log := logger.FromContext(r.Context())
	result, err := h.paywall.Authorize(r.Context(), refundID, "", paymentHeader, "")
	if err != nil {
		log.Error().Err(err).Str("refund_id", refundID).Msg("refund.verify.failed")
		paymentVerificationFailedResponse(w, err, refundID, "refund")
		return
	}
	if !result.Granted {
		paymentNotGrantedResponse(w, "refund payment could not be verified", refundID, "refund")
		return
	}
	paymentSuccessResponse(w, refundID, "refund", result)
}
