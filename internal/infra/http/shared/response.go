package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Success bool        `json:"success"`
}

type ErrorResponse struct {
	Details interface{} `json:"details,omitempty"`
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Success bool        `json:"success"`
}

// ResponseWriter writes the API's JSON envelope.
type ResponseWriter struct {
	logger *logger.Logger
}

func NewResponseWriter(log *logger.Logger) *ResponseWriter {
	return &ResponseWriter{logger: log}
}

func (rw *ResponseWriter) WriteSuccess(w http.ResponseWriter, data interface{}, message ...string) {
	rw.writeJSON(w, http.StatusOK, newSuccess(data, message...))
}

func (rw *ResponseWriter) WriteCreated(w http.ResponseWriter, data interface{}, message ...string) {
	rw.writeJSON(w, http.StatusCreated, newSuccess(data, message...))
}

func (rw *ResponseWriter) WriteAccepted(w http.ResponseWriter, data interface{}, message ...string) {
	rw.writeJSON(w, http.StatusAccepted, newSuccess(data, message...))
}

func (rw *ResponseWriter) WriteError(w http.ResponseWriter, status int, message, code string) {
	rw.writeJSON(w, status, &ErrorResponse{
		Error:   message,
		Code:    code,
		Success: false,
	})
}

// WriteDomainError maps the error taxonomy onto HTTP statuses.
func (rw *ResponseWriter) WriteDomainError(w http.ResponseWriter, err error) {
	var (
		validationErr  *domain.ValidationError
		resolutionErr  *domain.ResolutionError
		translationErr *domain.TranslationError
		deliveryErr    *domain.DeliveryError
		conflictErr    *domain.ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		rw.WriteError(w, http.StatusBadRequest, validationErr.Error(), "VALIDATION_ERROR")
	case errors.As(err, &conflictErr):
		rw.WriteError(w, http.StatusConflict, conflictErr.Error(), "CONFLICT")
	case errors.As(err, &resolutionErr):
		rw.WriteError(w, http.StatusBadGateway, resolutionErr.Error(), "RESOLUTION_ERROR")
	case errors.As(err, &translationErr):
		rw.WriteError(w, http.StatusUnprocessableEntity, translationErr.Error(), "TRANSLATION_ERROR")
	case errors.As(err, &deliveryErr):
		rw.WriteError(w, http.StatusBadGateway, deliveryErr.Error(), "DELIVERY_ERROR")
	case errors.Is(err, domain.ErrConfigNotFound), errors.Is(err, ports.ErrSyncJobNotFound):
		rw.WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, domain.ErrConfigAlreadyExists):
		rw.WriteError(w, http.StatusConflict, err.Error(), "ALREADY_EXISTS")
	case errors.Is(err, domain.ErrIntegrationDisabled):
		rw.WriteError(w, http.StatusPreconditionFailed, err.Error(), "INTEGRATION_DISABLED")
	case errors.Is(err, domain.ErrInvalidCredentials):
		rw.WriteError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_CREDENTIALS")
	default:
		rw.logger.WithError(err).Error("Unhandled request error")
		rw.WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func (rw *ResponseWriter) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rw.logger.WithError(err).Error("Failed to encode response")
	}
}

func newSuccess(data interface{}, message ...string) *SuccessResponse {
	response := &SuccessResponse{Data: data, Success: true}
	if len(message) > 0 {
		response.Message = message[0]
	}
	return response
}
