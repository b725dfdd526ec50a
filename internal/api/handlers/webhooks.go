package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sokoflow/sokoflow/internal/api/types"
	"github.com/sokoflow/sokoflow/internal/payments"
	"github.com/sokoflow/sokoflow/internal/webhooks"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// ReceiveWebhook accepts a provider callback. Redelivered events are
// acknowledged with {duplicate: true} and create nothing downstream.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	orgID := OrgParam(r)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	signature, _ := webhooks.ExtractSignature(r.Header)
	timestamp := r.Header.Get(webhooks.TimestampHeader)

	if secret, ok := h.webhookSecrets[provider]; ok && secret != "" {
		if !webhooks.VerifySignature(secret, payload, signature) {
			h.respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	accepted, err := h.webhooks.Accept(r.Context(), orgID, provider, payload, signature, timestamp)
	if errors.Is(err, webhooks.ErrUnknownProvider) {
		h.respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook accept failed",
			"provider", provider, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to record delivery")
		return
	}

	if accepted && provider == webhooks.ProviderMomo {
		accepted = h.confirmPayment(r, orgID, payload)
	}

	h.respondJSON(w, http.StatusOK, types.WebhookAckResponse{
		Accepted:  accepted,
		Duplicate: !accepted,
	})
}

// confirmPayment records a momo delivery as the processed confirmation for
// its transaction. Returns false when the transaction was already confirmed
// through another path.
func (h *Handler) confirmPayment(r *http.Request, orgID string, payload []byte) bool {
	txID := webhooks.MomoTransactionID(payload)
	if h.confirmations == nil || txID == "" {
		return true
	}

	clearance, err := h.confirmations.Check(r.Context(), orgID, webhooks.ProviderMomo, txID)
	if errors.Is(err, payments.ErrDuplicateConfirmation) {
		return false
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "payment confirmation guard failed",
			"transaction_id", txID, "error", err)
		return true
	}
	if err := clearance.Commit(r.Context(), payload); err != nil {
		h.logger.ErrorContext(r.Context(), "payment confirmation commit failed",
			"transaction_id", txID, "error", err)
	}
	return true
}
