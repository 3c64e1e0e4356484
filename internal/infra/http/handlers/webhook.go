package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/infra/http/shared"
	"wootsync/internal/infra/integrations/chatwoot"
	"wootsync/platform/logger"
)

// WebhookHandler is the public ingress Chatwoot posts webhook events to.
// It always answers 200 for processable bodies: Chatwoot retries on
// failure statuses and retried sends are worse than dropped echoes.
type WebhookHandler struct {
	processor *chatwoot.WebhookProcessor
	response  *shared.ResponseWriter
	logger    *logger.Logger
}

func NewWebhookHandler(processor *chatwoot.WebhookProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		response:  shared.NewResponseWriter(log),
		logger:    log.WithModule("webhook-handler"),
	}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var payload domain.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.response.WriteError(w, http.StatusBadRequest, "invalid webhook body", "INVALID_BODY")
		return
	}

	if err := h.processor.Process(r.Context(), sessionID, &payload); err != nil {
		h.logger.WithError(err).ErrorWithFields("Webhook processing failed", map[string]interface{}{
			"session_id": sessionID,
			"event":      payload.Event,
		})
	}
	h.response.WriteSuccess(w, nil, "Webhook received")
}
