package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/infra/http/handlers"
	"wootsync/internal/infra/http/routers"
	"wootsync/internal/infra/integrations/chatwoot"
	"wootsync/internal/infra/repository"
	"wootsync/internal/infra/wameow"
	"wootsync/internal/ports"
	"wootsync/platform/config"
	"wootsync/platform/database"
	"wootsync/platform/logger"
)

const (
	appName    = "wootsync"
	appVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromAppConfig(cfg)
	log.InfoWithFields("Starting "+appName, map[string]interface{}{
		"version":     appVersion,
		"environment": cfg.Environment,
		"port":        cfg.Server.Port,
	})

	db, err := database.NewFromAppConfig(cfg, log)
	if err != nil {
		log.Fatal(fmt.Sprintf("Failed to initialize database: %v", err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		log.Info("Running database migrations...")
		if err := database.NewMigrator(db, log).RunMigrations(); err != nil {
			log.Fatal(fmt.Sprintf("Failed to run migrations: %v", err))
		}
	}

	// Repositories
	configRepo := repository.NewConfigRepository(db.DB, log)
	mappingRepo := repository.NewMappingRepository(db.DB, log)
	msgMappingRepo := repository.NewMessageMappingRepository(db.DB, log)
	syncJobRepo := repository.NewSyncJobRepository(db.DB, log)
	waStore := repository.NewWaStoreRepository(db.DB, log)

	clientFactory := func(c *ports.ChatwootConfig) ports.ChatwootClient {
		return chatwoot.NewClient(c, log)
	}

	// Core services
	service := domain.NewService(configRepo, mappingRepo, msgMappingRepo, clientFactory, log)
	normalizer := chatwoot.NewBrazilianNormalizer()
	lockTimeout := time.Duration(cfg.Sync.ResolveLockTimeoutMS) * time.Millisecond
	resolver := chatwoot.NewResolver(mappingRepo, normalizer, lockTimeout, log)
	translator := chatwoot.NewTranslator()

	gateway := wameow.NewGateway(log)
	eventHandler := chatwoot.NewEventHandler(service, resolver, translator, msgMappingRepo, waStore, clientFactory, log)
	dispatcher := wameow.NewDispatcher(gateway, eventHandler, log)

	processor := chatwoot.NewWebhookProcessor(service, translator, resolver, mappingRepo, msgMappingRepo, gateway, clientFactory, log)

	orchestrator, err := chatwoot.NewSyncOrchestrator(
		service, resolver, translator, syncJobRepo, msgMappingRepo, waStore, clientFactory,
		cfg.Sync.WorkerPoolSize, log,
	)
	if err != nil {
		log.Fatal(fmt.Sprintf("Failed to initialize sync orchestrator: %v", err))
	}
	defer orchestrator.Release()

	// Reclaim jobs orphaned by a previous crash before accepting new ones.
	staleCutoff := time.Now().Add(-time.Duration(cfg.Sync.JobStaleAfterMinutes) * time.Minute)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orchestrator.ReconcileStale(startupCtx, staleCutoff); err != nil {
		log.WithError(err).Warn("Stale job reconciliation failed")
	}
	cancelStartup()

	janitor := chatwoot.NewJanitor(msgMappingRepo, time.Duration(cfg.Sync.EchoTagTTLMinutes)*time.Minute, log)
	janitor.Start()
	defer janitor.Stop()

	overview := chatwoot.NewOverviewBuilder(service, mappingRepo, syncJobRepo, waStore, clientFactory, log)

	// Bring stored WhatsApp sessions online.
	bootstrap, err := wameow.NewBootstrap(context.Background(), cfg.Database.URL, dispatcher, log)
	if err != nil {
		log.Fatal(fmt.Sprintf("Failed to initialize WhatsApp store: %v", err))
	}
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 60*time.Second)
	if err := bootstrap.ConnectAll(connectCtx); err != nil {
		log.WithError(err).Warn("WhatsApp session bootstrap failed")
	}
	cancelConnect()
	defer bootstrap.Disconnect()

	handler := routers.SetupRoutes(
		cfg, log,
		handlers.NewHealthHandler(db, log),
		handlers.NewChatwootHandler(service, orchestrator, overview, log),
		handlers.NewWebhookHandler(processor, log),
	)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.InfoWithFields("HTTP server listening", map[string]interface{}{
			"address": cfg.GetServerAddress(),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(fmt.Sprintf("HTTP server failed: %v", err))
		}
	}()

	sig := <-sigChan
	log.InfoWithFields("Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	log.Info("Shutdown complete")
}
