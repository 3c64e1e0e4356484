package chatwoot

import (
	"context"
	"errors"
	"time"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// OverviewBuilder compares the WhatsApp-side store against Chatwoot so an
// operator can judge sync drift before and after a bulk run.
type OverviewBuilder struct {
	service       *domain.Service
	mappings      ports.MappingRepository
	jobs          ports.SyncJobRepository
	waStore       ports.WaStore
	clientFactory domain.ClientFactory
	logger        *logger.Logger
}

func NewOverviewBuilder(
	service *domain.Service,
	mappings ports.MappingRepository,
	jobs ports.SyncJobRepository,
	waStore ports.WaStore,
	clientFactory domain.ClientFactory,
	log *logger.Logger,
) *OverviewBuilder {
	return &OverviewBuilder{
		service:       service,
		mappings:      mappings,
		jobs:          jobs,
		waStore:       waStore,
		clientFactory: clientFactory,
		logger:        log.WithModule("chatwoot-overview"),
	}
}

// Build gathers counts from both platforms. Remote failures degrade the
// remote columns to zero rather than failing the whole overview.
func (b *OverviewBuilder) Build(ctx context.Context, sessionID string) (*domain.OverviewResponse, error) {
	cfg, err := b.service.GetEnabledConfig(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -cfg.SyncWindowDays)
	waContacts, err := b.waStore.CountContactsSince(ctx, sessionID, since)
	if err != nil {
		return nil, err
	}
	mapped, err := b.mappings.CountContactMappings(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	overview := &domain.OverviewResponse{
		SessionID:             sessionID,
		Enabled:               cfg.Enabled,
		WhatsappContacts:      waContacts,
		MappedContacts:        mapped,
		ConversationsByStatus: map[string]int{},
		GeneratedAt:           time.Now(),
	}

	client := b.clientFactory(cfg)
	if n, err := client.CountContacts(ctx); err == nil {
		overview.ChatwootContacts = n
	} else {
		b.logger.WithError(err).Warn("Overview: contact count unavailable")
	}
	for _, status := range []string{ports.ConversationStatusOpen, ports.ConversationStatusPending, ports.ConversationStatusResolved} {
		if n, err := client.CountConversations(ctx, status); err == nil {
			overview.ConversationsByStatus[status] = n
		}
	}

	if job, err := b.jobs.GetLatest(ctx, sessionID); err == nil {
		overview.LastSync = job
	} else if !errors.Is(err, ports.ErrSyncJobNotFound) {
		return nil, err
	}
	return overview, nil
}
