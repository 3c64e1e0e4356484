package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"wootsync/platform/database"
	"wootsync/platform/logger"
)

type HealthHandler struct {
	db      *database.Database
	started time.Time
	logger  *logger.Logger
}

func NewHealthHandler(db *database.Database, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		started: time.Now(),
		logger:  log.WithModule("health-handler"),
	}
}

func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	code := http.StatusOK
	if err := h.db.Health(r.Context()); err != nil {
		status = "degraded"
		dbStatus = err.Error()
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   status,
		"service":  "wootsync",
		"database": dbStatus,
		"uptime":   time.Since(h.started).String(),
	}); err != nil {
		h.logger.WithError(err).Error("Failed to encode health response")
	}
}
