package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

const (
	webhookDedupTTL   = 10 * time.Minute
	webhookDedupSweep = 30 * time.Minute
)

// WebhookProcessor turns Chatwoot webhook deliveries into WhatsApp sends.
// Loop prevention is layered: echo tags written by the event handler catch
// API-created messages, source ids catch anything that originated on
// WhatsApp, and a dedup cache absorbs Chatwoot's occasional double fire.
type WebhookProcessor struct {
	service       *domain.Service
	translator    *Translator
	resolver      *Resolver
	mappings      ports.MappingRepository
	msgMappings   ports.MessageMappingRepository
	sender        ports.MessageSender
	clientFactory domain.ClientFactory
	dedup         *gocache.Cache
	logger        *logger.Logger
}

func NewWebhookProcessor(
	service *domain.Service,
	translator *Translator,
	resolver *Resolver,
	mappings ports.MappingRepository,
	msgMappings ports.MessageMappingRepository,
	sender ports.MessageSender,
	clientFactory domain.ClientFactory,
	log *logger.Logger,
) *WebhookProcessor {
	return &WebhookProcessor{
		service:       service,
		translator:    translator,
		resolver:      resolver,
		mappings:      mappings,
		msgMappings:   msgMappings,
		sender:        sender,
		clientFactory: clientFactory,
		dedup:         gocache.New(webhookDedupTTL, webhookDedupSweep),
		logger:        log.WithModule("chatwoot-webhook"),
	}
}

// Process handles one webhook delivery. Discards are silent successes:
// Chatwoot retries on non-2xx, and a retried echo would double-send.
func (p *WebhookProcessor) Process(ctx context.Context, sessionID string, payload *domain.WebhookPayload) error {
	if !domain.IsHandledWebhookEvent(payload.Event) {
		return nil
	}

	cfg, err := p.service.GetEnabledConfig(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) || errors.Is(err, domain.ErrIntegrationDisabled) {
			return nil
		}
		return err
	}

	dedupKey := fmt.Sprintf("%s|%s|%d", sessionID, payload.Event, payload.ID)
	if _, seen := p.dedup.Get(dedupKey); seen {
		p.logger.DebugWithFields("Duplicate webhook discarded", map[string]interface{}{
			"session_id": sessionID,
			"event":      payload.Event,
			"message_id": payload.ID,
		})
		return nil
	}
	p.dedup.Set(dedupKey, struct{}{}, gocache.DefaultExpiration)

	switch payload.Event {
	case domain.EventConversationStatus:
		return p.handleStatusChange(ctx, sessionID, payload)
	case domain.EventMessageUpdated:
		return p.handleMessageUpdated(ctx, sessionID, cfg, payload)
	case domain.EventMessageCreated:
		return p.handleMessageCreated(ctx, sessionID, cfg, payload)
	}
	return nil
}

func (p *WebhookProcessor) handleMessageCreated(ctx context.Context, sessionID string, cfg *ports.ChatwootConfig, payload *domain.WebhookPayload) error {
	if payload.Private || payload.MessageType != domain.MessageTypeOutgoing {
		return nil
	}

	// Echo of a message this engine pushed via the API.
	if consumed, err := p.msgMappings.ConsumeEchoTag(ctx, sessionID, payload.ID); err != nil {
		return fmt.Errorf("failed to check echo tag: %w", err)
	} else if consumed {
		p.logger.DebugWithFields("Echo webhook discarded", map[string]interface{}{
			"session_id":    sessionID,
			"cw_message_id": payload.ID,
		})
		return nil
	}

	// A source id means the message already lives on WhatsApp.
	if payload.SourceID != "" {
		return nil
	}

	chatJID, err := p.resolveChatJID(ctx, sessionID, payload)
	if err != nil {
		return err
	}
	if chatJID == "" {
		p.logger.WarnWithFields("Agent message dropped, destination unresolved", map[string]interface{}{
			"session_id":      sessionID,
			"cw_message_id":   payload.ID,
			"conversation_id": conversationID(payload),
		})
		return fmt.Errorf("conversation %d: %w", conversationID(payload), domain.ErrUnresolvedDestination)
	}
	if cfg.IsIgnored(chatJID) {
		return nil
	}

	quotedID := p.resolveQuotedID(ctx, sessionID, payload)
	content := p.translator.OutboundText(cfg, payload)

	var sentIDs []string
	if len(payload.Attachments) == 0 {
		if content == "" {
			return nil
		}
		sentID, err := p.sender.SendText(ctx, sessionID, chatJID, content, quotedID)
		if err != nil {
			return domain.NewDeliveryError("whatsapp", err)
		}
		sentIDs = append(sentIDs, sentID)
	} else {
		client := p.clientFactory(cfg)
		caption := content
		for i := range payload.Attachments {
			att := &payload.Attachments[i]
			data, err := client.FetchAttachment(ctx, att.DataURL)
			if err != nil {
				return domain.NewDeliveryError("whatsapp", fmt.Errorf("failed to fetch attachment: %w", err))
			}
			media, err := p.translator.OutboundMedia(att, data, caption)
			if err != nil {
				p.logger.WithError(err).Warn("Skipping unsupported attachment")
				continue
			}
			sentID, err := p.sender.SendMedia(ctx, sessionID, chatJID, media, quotedID)
			if err != nil {
				return domain.NewDeliveryError("whatsapp", err)
			}
			sentIDs = append(sentIDs, sentID)
			caption = "" // caption rides the first attachment only
			quotedID = ""
		}
	}

	for _, sentID := range sentIDs {
		p.recordOutbound(ctx, sessionID, chatJID, sentID, payload.ID, conversationID(payload))
	}

	p.logger.InfoWithFields("Agent message delivered to WhatsApp", map[string]interface{}{
		"session_id":    sessionID,
		"chat_jid":      chatJID,
		"cw_message_id": payload.ID,
		"sent":          len(sentIDs),
	})
	return nil
}

// handleMessageUpdated propagates agent-side deletions to WhatsApp.
func (p *WebhookProcessor) handleMessageUpdated(ctx context.Context, sessionID string, cfg *ports.ChatwootConfig, payload *domain.WebhookPayload) error {
	if payload.ContentAttributes == nil || !payload.ContentAttributes.Deleted {
		return nil
	}
	mapping, err := p.msgMappings.GetByCwID(ctx, sessionID, payload.ID)
	if err != nil {
		if errors.Is(err, ports.ErrMappingNotFound) {
			return nil
		}
		return err
	}
	if err := p.sender.RevokeMessage(ctx, sessionID, mapping.ChatJID, mapping.WaMessageID); err != nil {
		return domain.NewDeliveryError("whatsapp", err)
	}
	p.logger.InfoWithFields("Deleted agent message revoked on WhatsApp", map[string]interface{}{
		"session_id":    sessionID,
		"cw_message_id": payload.ID,
		"wa_message_id": mapping.WaMessageID,
	})
	return nil
}

func (p *WebhookProcessor) handleStatusChange(ctx context.Context, sessionID string, payload *domain.WebhookPayload) error {
	if payload.Conversation == nil {
		return nil
	}
	mapping, err := p.mappings.GetConversationMappingByCwID(ctx, sessionID, payload.Conversation.ID)
	if err != nil {
		if errors.Is(err, ports.ErrMappingNotFound) {
			return nil
		}
		return err
	}
	if mapping.Status == payload.Conversation.Status {
		return nil
	}
	if err := p.mappings.UpdateConversationStatus(ctx, mapping.ID, payload.Conversation.Status); err != nil {
		return err
	}
	p.resolver.InvalidateConversation(sessionID, mapping.WhatsappJID)
	p.logger.DebugWithFields("Conversation status mirrored", map[string]interface{}{
		"session_id":      sessionID,
		"conversation_id": payload.Conversation.ID,
		"status":          payload.Conversation.Status,
	})
	return nil
}

// resolveChatJID prefers the persisted conversation mapping over the
// webhook's contact metadata.
func (p *WebhookProcessor) resolveChatJID(ctx context.Context, sessionID string, payload *domain.WebhookPayload) (string, error) {
	if payload.Conversation != nil {
		mapping, err := p.mappings.GetConversationMappingByCwID(ctx, sessionID, payload.Conversation.ID)
		if err == nil {
			return mapping.WhatsappJID, nil
		}
		if !errors.Is(err, ports.ErrMappingNotFound) {
			return "", err
		}
	}
	raw := payload.ChatJID()
	if raw == "" {
		return "", nil
	}
	chatJID := raw
	if !IsValidJID(raw) {
		chatJID = JIDFromPhone(raw)
	}
	p.rememberConversation(ctx, sessionID, chatJID, payload.Conversation)
	return chatJID, nil
}

// rememberConversation backfills the conversation mapping when a send was
// resolved from webhook contact metadata alone. Without it, later status
// changes for the conversation would find no mapping and be dropped.
func (p *WebhookProcessor) rememberConversation(ctx context.Context, sessionID, chatJID string, conv *domain.WebhookConversation) {
	if conv == nil {
		return
	}
	status := conv.Status
	if status == "" {
		status = ports.ConversationStatusOpen
	}
	now := time.Now()
	err := p.mappings.CreateConversationMapping(ctx, &ports.ConversationMapping{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		WhatsappJID:      chatJID,
		CwConversationID: conv.ID,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		p.logger.WithError(err).Warn("Failed to backfill conversation mapping")
	}
}

func (p *WebhookProcessor) resolveQuotedID(ctx context.Context, sessionID string, payload *domain.WebhookPayload) string {
	if payload.ContentAttributes == nil {
		return ""
	}
	if ext := payload.ContentAttributes.InReplyToExternalID; ext != "" {
		return ext
	}
	if payload.ContentAttributes.InReplyTo == nil {
		return ""
	}
	mapping, err := p.msgMappings.GetByCwID(ctx, sessionID, *payload.ContentAttributes.InReplyTo)
	if err != nil {
		return ""
	}
	return mapping.WaMessageID
}

// recordOutbound maps the sent WhatsApp message back to its Chatwoot
// origin so replies and deletions can follow it later.
func (p *WebhookProcessor) recordOutbound(ctx context.Context, sessionID, chatJID, waMessageID string, cwMessageID, cwConversationID int) {
	now := time.Now()
	mapping := &ports.MessageMapping{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		WaMessageID: waMessageID,
		ChatJID:     chatJID,
		CwMessageID: &cwMessageID,
		EchoPending: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cwConversationID != 0 {
		mapping.CwConversationID = &cwConversationID
	}
	if err := p.msgMappings.Create(ctx, mapping); err != nil {
		p.logger.WithError(err).Warn("Failed to record outbound mapping")
	}
}

func conversationID(payload *domain.WebhookPayload) int {
	if payload.Conversation == nil {
		return 0
	}
	return payload.Conversation.ID
}
