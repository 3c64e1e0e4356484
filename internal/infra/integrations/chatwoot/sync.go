package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

const (
	syncBatchSize  = 50
	syncJobTimeout = 2 * time.Hour
)

// SyncOrchestrator runs bulk history imports: contacts first, then
// messages replayed per chat in timestamp order. One job per session may
// run at a time; a second start is a conflict, never a queue. Progress
// only moves forward, and cancellation is honored at batch checkpoints.
type SyncOrchestrator struct {
	service       *domain.Service
	resolver      *Resolver
	translator    *Translator
	jobs          ports.SyncJobRepository
	msgMappings   ports.MessageMappingRepository
	waStore       ports.WaStore
	clientFactory domain.ClientFactory
	pool          *ants.Pool
	cancels       sync.Map // sessionID -> context.CancelFunc
	logger        *logger.Logger
}

func NewSyncOrchestrator(
	service *domain.Service,
	resolver *Resolver,
	translator *Translator,
	jobs ports.SyncJobRepository,
	msgMappings ports.MessageMappingRepository,
	waStore ports.WaStore,
	clientFactory domain.ClientFactory,
	poolSize int,
	log *logger.Logger,
) (*SyncOrchestrator, error) {
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create sync pool: %w", err)
	}
	return &SyncOrchestrator{
		service:       service,
		resolver:      resolver,
		translator:    translator,
		jobs:          jobs,
		msgMappings:   msgMappings,
		waStore:       waStore,
		clientFactory: clientFactory,
		pool:          pool,
		logger:        log.WithModule("chatwoot-sync"),
	}, nil
}

// Start claims a job for the session and schedules it on the worker pool.
// windowDays narrows the history window for this run; zero falls back to
// the configured window. Returns ConflictError when a job is already
// running.
func (o *SyncOrchestrator) Start(ctx context.Context, sessionID, syncType string, windowDays int) (*ports.SyncJob, error) {
	cfg, err := o.service.GetEnabledConfig(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		windowDays = cfg.SyncWindowDays
	}

	now := time.Now()
	job := &ports.SyncJob{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      syncType,
		Status:    ports.SyncStatusRunning,
		StartedAt: &now,
		UpdatedAt: now,
	}
	if err := o.jobs.Claim(ctx, job); err != nil {
		if errors.Is(err, ports.ErrSyncAlreadyRunning) {
			return nil, domain.NewConflictError("sync", "a sync job is already running for this session")
		}
		return nil, fmt.Errorf("failed to claim sync job: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), syncJobTimeout)
	o.cancels.Store(sessionID, cancel)

	if err := o.pool.Submit(func() {
		defer cancel()
		defer o.cancels.Delete(sessionID)
		o.run(jobCtx, cfg, job, windowDays)
	}); err != nil {
		cancel()
		o.cancels.Delete(sessionID)
		msg := "worker pool rejected the job"
		_ = o.jobs.Finish(context.Background(), job.ID, ports.SyncStatusFailed, &msg)
		return nil, fmt.Errorf("failed to schedule sync job: %w", err)
	}

	o.logger.InfoWithFields("Sync job started", map[string]interface{}{
		"session_id": sessionID,
		"job_id":     job.ID,
		"type":       syncType,
	})
	return job, nil
}

// Cancel requests the running job stop at its next checkpoint.
func (o *SyncOrchestrator) Cancel(sessionID string) bool {
	if cancel, ok := o.cancels.Load(sessionID); ok {
		cancel.(context.CancelFunc)()
		return true
	}
	return false
}

func (o *SyncOrchestrator) Status(ctx context.Context, sessionID string) (*ports.SyncJob, error) {
	job, err := o.jobs.GetLatest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrSyncJobNotFound) {
			return nil, ports.ErrSyncJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ReconcileStale fails running jobs whose progress stopped before the
// cutoff. Called at startup so a crashed process does not block new jobs.
func (o *SyncOrchestrator) ReconcileStale(ctx context.Context, olderThan time.Time) error {
	n, err := o.jobs.FailStale(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("failed to reconcile stale sync jobs: %w", err)
	}
	if n > 0 {
		o.logger.WarnWithFields("Stale sync jobs failed", map[string]interface{}{
			"count": n,
		})
	}
	return nil
}

func (o *SyncOrchestrator) run(ctx context.Context, cfg *ports.ChatwootConfig, job *ports.SyncJob, windowDays int) {
	err := o.execute(ctx, cfg, job, windowDays)

	status := ports.SyncStatusCompleted
	var errMsg *string
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = ports.SyncStatusFailed
		msg := "cancelled"
		errMsg = &msg
	default:
		status = ports.SyncStatusFailed
		msg := err.Error()
		errMsg = &msg
		o.logger.WithError(err).ErrorWithFields("Sync job failed", map[string]interface{}{
			"session_id": job.SessionID,
			"job_id":     job.ID,
		})
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := o.jobs.Finish(finishCtx, job.ID, status, errMsg); ferr != nil {
		o.logger.WithError(ferr).Error("Failed to finish sync job")
	}
	o.logger.InfoWithFields("Sync job finished", map[string]interface{}{
		"session_id": job.SessionID,
		"job_id":     job.ID,
		"status":     status,
	})
}

func (o *SyncOrchestrator) execute(ctx context.Context, cfg *ports.ChatwootConfig, job *ports.SyncJob, windowDays int) error {
	client := o.clientFactory(cfg)
	since := time.Now().AddDate(0, 0, -windowDays)

	total := 0
	if job.Type != ports.SyncTypeMessages && cfg.SyncContacts {
		n, err := o.waStore.CountContactsSince(ctx, cfg.SessionID, since)
		if err != nil {
			return err
		}
		total += n
	}
	if job.Type != ports.SyncTypeContacts && cfg.SyncMessages {
		n, err := o.waStore.CountMessagesSince(ctx, cfg.SessionID, since)
		if err != nil {
			return err
		}
		total += n
	}
	if err := o.jobs.SetTotal(ctx, job.ID, total); err != nil {
		return err
	}

	progress := 0
	if job.Type != ports.SyncTypeMessages && cfg.SyncContacts {
		n, err := o.syncContacts(ctx, client, cfg, job, since, progress)
		if err != nil {
			return err
		}
		progress = n
	}
	if job.Type != ports.SyncTypeContacts && cfg.SyncMessages {
		if _, err := o.syncMessages(ctx, client, cfg, job, since, progress); err != nil {
			return err
		}
	}
	return nil
}

// syncContacts resolves every stored contact in batches, creating the
// Chatwoot side where missing. Returns the updated progress counter.
func (o *SyncOrchestrator) syncContacts(ctx context.Context, client ports.ChatwootClient, cfg *ports.ChatwootConfig, job *ports.SyncJob, since time.Time, progress int) (int, error) {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return progress, err
		}
		contacts, err := o.waStore.ListContactsSince(ctx, cfg.SessionID, since, offset, syncBatchSize)
		if err != nil {
			return progress, err
		}
		if len(contacts) == 0 {
			return progress, nil
		}
		for _, contact := range contacts {
			if cfg.IsIgnored(contact.JID) {
				progress++
				continue
			}
			if _, _, err := o.resolver.Resolve(ctx, client, cfg, contact.JID, contact.Name); err != nil {
				o.logger.WithError(err).WarnWithFields("Contact sync skipped", map[string]interface{}{
					"session_id": cfg.SessionID,
					"jid":        contact.JID,
				})
			}
			progress++
		}
		if err := o.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			return progress, err
		}
		offset += len(contacts)
	}
}

// syncMessages replays stored history per chat in timestamp order so the
// Chatwoot conversation reads chronologically. Messages already mapped
// are counted but not re-pushed.
func (o *SyncOrchestrator) syncMessages(ctx context.Context, client ports.ChatwootClient, cfg *ports.ChatwootConfig, job *ports.SyncJob, since time.Time, progress int) (int, error) {
	chats, err := o.waStore.ListChatsSince(ctx, cfg.SessionID, since)
	if err != nil {
		return progress, err
	}

	for _, chatJID := range chats {
		if err := ctx.Err(); err != nil {
			return progress, err
		}
		if cfg.IsIgnored(chatJID) || !IsValidJID(chatJID) {
			continue
		}

		messages, err := o.waStore.ListChatMessagesSince(ctx, cfg.SessionID, chatJID, since)
		if err != nil {
			return progress, err
		}
		if len(messages) == 0 {
			continue
		}

		_, conversationID, err := o.resolver.Resolve(ctx, client, cfg, chatJID, messages[0].SenderName)
		if err != nil {
			o.logger.WithError(err).WarnWithFields("Chat sync skipped", map[string]interface{}{
				"session_id": cfg.SessionID,
				"jid":        chatJID,
			})
			progress += len(messages)
			if err := o.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
				return progress, err
			}
			continue
		}

		for _, stored := range messages {
			if err := ctx.Err(); err != nil {
				return progress, err
			}
			if err := o.pushStoredMessage(ctx, client, cfg, conversationID, stored); err != nil {
				o.logger.WithError(err).WarnWithFields("Message sync skipped", map[string]interface{}{
					"session_id": cfg.SessionID,
					"message_id": stored.MessageID,
				})
			}
			progress++
		}
		if err := o.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			return progress, err
		}
	}
	return progress, nil
}

func (o *SyncOrchestrator) pushStoredMessage(ctx context.Context, client ports.ChatwootClient, cfg *ports.ChatwootConfig, conversationID int, stored *ports.WaStoredMessage) error {
	if existing, err := o.msgMappings.GetByWaID(ctx, cfg.SessionID, stored.MessageID); err == nil && existing.CwMessageID != nil {
		return nil
	}
	if stored.Content == "" {
		return nil
	}

	draft := &ports.MessageDraft{
		Content:     stored.Content,
		MessageType: domain.MessageTypeIncoming,
		SourceID:    stored.MessageID,
	}
	if stored.FromMe {
		draft.MessageType = domain.MessageTypeOutgoing
	} else if IsGroupJID(stored.ChatJID) {
		draft.Content = groupSenderPrefix(stored.SenderName, stored.SenderJID) + draft.Content
	}
	if stored.QuotedID != "" {
		draft.InReplyToExternalID = stored.QuotedID
		if quoted, err := o.msgMappings.GetByWaID(ctx, cfg.SessionID, stored.QuotedID); err == nil && quoted.CwMessageID != nil {
			draft.InReplyTo = quoted.CwMessageID
		}
	}

	created, err := client.CreateMessage(ctx, conversationID, draft)
	if err != nil {
		return domain.NewDeliveryError("chatwoot", err)
	}

	now := time.Now()
	return o.msgMappings.Create(ctx, &ports.MessageMapping{
		ID:               uuid.New().String(),
		SessionID:        cfg.SessionID,
		WaMessageID:      stored.MessageID,
		ChatJID:          stored.ChatJID,
		CwMessageID:      &created.ID,
		CwConversationID: &conversationID,
		EchoPending:      true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

// ResolveAllConversations marks every mapped conversation resolved, both
// in Chatwoot and locally. Returns how many were resolved.
func (o *SyncOrchestrator) ResolveAllConversations(ctx context.Context, sessionID string) (int, error) {
	cfg, err := o.service.GetEnabledConfig(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	client := o.clientFactory(cfg)

	mappings, err := o.resolverMappings(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, mapping := range mappings {
		if mapping.Status == ports.ConversationStatusResolved {
			continue
		}
		if err := client.ToggleConversationStatus(ctx, mapping.CwConversationID, ports.ConversationStatusResolved); err != nil {
			o.logger.WithError(err).WarnWithFields("Failed to resolve conversation", map[string]interface{}{
				"session_id":      sessionID,
				"conversation_id": mapping.CwConversationID,
			})
			continue
		}
		if err := o.resolverUpdateStatus(ctx, mapping); err != nil {
			return resolved, err
		}
		o.resolver.InvalidateConversation(sessionID, mapping.WhatsappJID)
		resolved++
	}
	o.logger.InfoWithFields("Conversations bulk resolved", map[string]interface{}{
		"session_id": sessionID,
		"resolved":   resolved,
	})
	return resolved, nil
}

func (o *SyncOrchestrator) resolverMappings(ctx context.Context, sessionID string) ([]*ports.ConversationMapping, error) {
	return o.resolver.mappings.ListConversationMappings(ctx, sessionID)
}

func (o *SyncOrchestrator) resolverUpdateStatus(ctx context.Context, mapping *ports.ConversationMapping) error {
	return o.resolver.mappings.UpdateConversationStatus(ctx, mapping.ID, ports.ConversationStatusResolved)
}

// Release shuts the worker pool down.
func (o *SyncOrchestrator) Release() {
	o.pool.Release()
}
