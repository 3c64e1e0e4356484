package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"wootsync/internal/infra/http/handlers"
	"wootsync/internal/infra/http/middleware"
	"wootsync/platform/config"
	"wootsync/platform/logger"
)

// SetupRoutes builds the HTTP surface. The webhook ingress stays outside
// the API-key guard: Chatwoot authenticates by knowing the session path.
func SetupRoutes(
	cfg *config.Config,
	log *logger.Logger,
	healthHandler *handlers.HealthHandler,
	chatwootHandler *handlers.ChatwootHandler,
	webhookHandler *handlers.WebhookHandler,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Api-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler.GetHealth)
	r.Post("/chatwoot/webhook/{sessionId}", webhookHandler.Receive)

	r.Route("/sessions/{sessionId}/chatwoot", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))

		r.Post("/config", chatwootHandler.CreateConfig)
		r.Get("/config", chatwootHandler.GetConfig)
		r.Put("/config", chatwootHandler.UpdateConfig)
		r.Delete("/config", chatwootHandler.DeleteConfig)
		r.Post("/reset", chatwootHandler.ResetIntegration)

		r.Post("/sync", chatwootHandler.StartSync)
		r.Delete("/sync", chatwootHandler.CancelSync)
		r.Get("/sync", chatwootHandler.SyncStatus)
		r.Post("/conversations/resolve-all", chatwootHandler.ResolveAllConversations)
		r.Get("/overview", chatwootHandler.Overview)
	})

	r.With(middleware.APIKey(cfg.APIKey)).Post("/chatwoot/test-connection", chatwootHandler.TestConnection)

	return r
}
