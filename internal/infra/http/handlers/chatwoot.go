package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/infra/http/shared"
	"wootsync/internal/infra/integrations/chatwoot"
	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// ChatwootHandler exposes the integration's admin surface: configuration,
// bulk sync control and the reconciliation overview.
type ChatwootHandler struct {
	service      *domain.Service
	orchestrator *chatwoot.SyncOrchestrator
	overview     *chatwoot.OverviewBuilder
	response     *shared.ResponseWriter
	logger       *logger.Logger
}

func NewChatwootHandler(
	service *domain.Service,
	orchestrator *chatwoot.SyncOrchestrator,
	overview *chatwoot.OverviewBuilder,
	log *logger.Logger,
) *ChatwootHandler {
	return &ChatwootHandler{
		service:      service,
		orchestrator: orchestrator,
		overview:     overview,
		response:     shared.NewResponseWriter(log),
		logger:       log.WithModule("chatwoot-handler"),
	}
}

func (h *ChatwootHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	var req domain.CreateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.response.WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	config, err := h.service.CreateConfig(r.Context(), sessionID, &req)
	if err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteCreated(w, config, "Chatwoot integration configured")
}

func (h *ChatwootHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	config, err := h.service.GetConfig(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteSuccess(w, config)
}

func (h *ChatwootHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	var req domain.UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.response.WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	config, err := h.service.UpdateConfig(r.Context(), sessionID, &req)
	if err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteSuccess(w, config, "Chatwoot configuration updated")
}

func (h *ChatwootHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteConfig(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteSuccess(w, nil, "Chatwoot configuration deleted")
}

func (h *ChatwootHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req domain.TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.response.WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	h.response.WriteSuccess(w, h.service.TestConnection(r.Context(), &req))
}

func (h *ChatwootHandler) ResetIntegration(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetIntegration(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteSuccess(w, nil, "Integration mappings reset")
}

func (h *ChatwootHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	req := domain.SyncRequest{Type: ports.SyncTypeAll}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.response.WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
			return
		}
	}
	switch req.Type {
	case ports.SyncTypeContacts, ports.SyncTypeMessages, ports.SyncTypeAll:
	default:
		h.response.WriteError(w, http.StatusBadRequest, "type must be contacts, messages or all", "VALIDATION_ERROR")
		return
	}
	if req.WindowDays < 0 || req.WindowDays > 365 {
		h.response.WriteError(w, http.StatusBadRequest, "windowDays must be between 1 and 365", "VALIDATION_ERROR")
		return
	}
	job, err := h.orchestrator.Start(r.Context(), sessionID, req.Type, req.WindowDays)
	if err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteAccepted(w, job, "Sync job started")
}

func (h *ChatwootHandler) CancelSync(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !h.orchestrator.Cancel(sessionID) {
		h.response.WriteError(w, http.StatusNotFound, "no running sync job for session", "NOT_FOUND")
		return
	}
	h.response.WriteAccepted(w, nil, "Sync cancellation requested")
}

func (h *ChatwootHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.Status(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteSuccess(w, job)
}

func (h *ChatwootHandler) ResolveAllConversations(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.orchestrator.ResolveAllConversations(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteSuccess(w, map[string]int{"resolved": resolved}, "Conversations resolved")
}

func (h *ChatwootHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.overview.Build(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.response.WriteDomainError(w, err)
		return
	}
	h.response.WriteSuccess(w, overview)
}
