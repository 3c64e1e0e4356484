package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// EventHandler pushes inbound WhatsApp messages into Chatwoot. One handler
// serves all sessions; per-session config is loaded on each event so config
// changes apply without restart.
type EventHandler struct {
	service       *domain.Service
	resolver      *Resolver
	translator    *Translator
	msgMappings   ports.MessageMappingRepository
	waStore       ports.WaStore
	clientFactory domain.ClientFactory
	logger        *logger.Logger
}

func NewEventHandler(
	service *domain.Service,
	resolver *Resolver,
	translator *Translator,
	msgMappings ports.MessageMappingRepository,
	waStore ports.WaStore,
	clientFactory domain.ClientFactory,
	log *logger.Logger,
) *EventHandler {
	return &EventHandler{
		service:       service,
		resolver:      resolver,
		translator:    translator,
		msgMappings:   msgMappings,
		waStore:       waStore,
		clientFactory: clientFactory,
		logger:        log.WithModule("chatwoot-events"),
	}
}

// HandleMessage processes one normalized WhatsApp event. Disabled or
// unconfigured sessions and ignored chats are skipped silently; the echo
// tag for the pushed Chatwoot message is persisted before returning so the
// resulting webhook cannot loop back to WhatsApp.
func (h *EventHandler) HandleMessage(ctx context.Context, msg *ports.WhatsAppMessage) error {
	cfg, err := h.service.GetEnabledConfig(ctx, msg.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) || errors.Is(err, domain.ErrIntegrationDisabled) {
			return nil
		}
		return err
	}
	if !cfg.SyncMessages || !IsValidJID(msg.ChatJID) || cfg.IsIgnored(msg.ChatJID) {
		return nil
	}

	h.storeMessage(ctx, msg)

	if msg.Kind == ports.MessageKindRevoke {
		return h.handleRevoke(ctx, cfg, msg)
	}

	// Skip messages already pushed (bulk sync and live delivery can race).
	if existing, err := h.msgMappings.GetByWaID(ctx, msg.SessionID, msg.ID); err == nil && existing.CwMessageID != nil {
		return nil
	}

	client := h.clientFactory(cfg)
	displayName := msg.SenderName
	if IsGroupJID(msg.ChatJID) && msg.ChatName != "" {
		displayName = msg.ChatName
	}
	_, conversationID, err := h.resolver.Resolve(ctx, client, cfg, msg.ChatJID, displayName)
	if err != nil {
		return err
	}

	draft, err := h.translator.ToChatwoot(msg)
	if err != nil {
		var te *domain.TranslationError
		if errors.As(err, &te) {
			h.logger.WarnWithFields("Skipping untranslatable message", map[string]interface{}{
				"session_id": msg.SessionID,
				"message_id": msg.ID,
				"kind":       msg.Kind,
			})
			return nil
		}
		return err
	}
	h.linkReply(ctx, msg.SessionID, draft)

	created, err := client.CreateMessage(ctx, conversationID, draft)
	if err != nil {
		return domain.NewDeliveryError("chatwoot", err)
	}

	if err := h.recordMapping(ctx, msg, created.ID, conversationID); err != nil {
		// The message is in Chatwoot but the echo tag is not: surface the
		// error so the caller can alert, the webhook side will at worst
		// re-deliver one echo.
		return fmt.Errorf("message delivered but mapping not persisted: %w", err)
	}

	h.logger.DebugWithFields("Message pushed to Chatwoot", map[string]interface{}{
		"session_id":      msg.SessionID,
		"message_id":      msg.ID,
		"conversation_id": conversationID,
		"cw_message_id":   created.ID,
	})
	return nil
}

// linkReply resolves a quoted WhatsApp id to the Chatwoot message id so
// the reply renders threaded in the agent view.
func (h *EventHandler) linkReply(ctx context.Context, sessionID string, draft *ports.MessageDraft) {
	if draft.InReplyToExternalID == "" {
		return
	}
	mapping, err := h.msgMappings.GetByWaID(ctx, sessionID, draft.InReplyToExternalID)
	if err != nil || mapping.CwMessageID == nil {
		return
	}
	draft.InReplyTo = mapping.CwMessageID
}

func (h *EventHandler) handleRevoke(ctx context.Context, cfg *ports.ChatwootConfig, msg *ports.WhatsAppMessage) error {
	target := msg.QuotedMessageID
	if target == "" {
		return nil
	}
	mapping, err := h.msgMappings.GetByWaID(ctx, msg.SessionID, target)
	if err != nil || mapping.CwMessageID == nil || mapping.CwConversationID == nil {
		return nil
	}
	client := h.clientFactory(cfg)
	draft := &ports.MessageDraft{
		Content:     "🚫 This message was deleted",
		MessageType: domain.MessageTypeIncoming,
		Private:     true,
		InReplyTo:   mapping.CwMessageID,
	}
	if _, err := client.CreateMessage(ctx, *mapping.CwConversationID, draft); err != nil {
		return domain.NewDeliveryError("chatwoot", err)
	}
	return nil
}

func (h *EventHandler) recordMapping(ctx context.Context, msg *ports.WhatsAppMessage, cwMessageID, cwConversationID int) error {
	if existing, err := h.msgMappings.GetByWaID(ctx, msg.SessionID, msg.ID); err == nil {
		return h.msgMappings.MarkSynced(ctx, existing.ID, cwMessageID, cwConversationID, true)
	}
	now := time.Now()
	return h.msgMappings.Create(ctx, &ports.MessageMapping{
		ID:               uuid.New().String(),
		SessionID:        msg.SessionID,
		WaMessageID:      msg.ID,
		ChatJID:          msg.ChatJID,
		CwMessageID:      &cwMessageID,
		CwConversationID: &cwConversationID,
		EchoPending:      true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

// storeMessage persists the event into the host store for later bulk sync.
// Store failures are logged, not fatal: live delivery matters more.
func (h *EventHandler) storeMessage(ctx context.Context, msg *ports.WhatsAppMessage) {
	if !msg.FromMe && !IsGroupJID(msg.ChatJID) {
		if err := h.waStore.UpsertContact(ctx, &ports.WaContact{
			SessionID: msg.SessionID,
			JID:       msg.ChatJID,
			Name:      msg.SenderName,
			FirstSeen: msg.Timestamp,
			UpdatedAt: time.Now(),
		}); err != nil {
			h.logger.WithError(err).Warn("Failed to store contact")
		}
	}
	if msg.Kind == ports.MessageKindRevoke {
		return
	}
	content := h.translator.StoredContent(msg)
	if err := h.waStore.SaveMessage(ctx, &ports.WaStoredMessage{
		SessionID:  msg.SessionID,
		MessageID:  msg.ID,
		ChatJID:    msg.ChatJID,
		SenderJID:  msg.SenderJID,
		SenderName: msg.SenderName,
		FromMe:     msg.FromMe,
		Kind:       msg.Kind,
		Content:    content,
		QuotedID:   msg.QuotedMessageID,
		Timestamp:  msg.Timestamp,
		StoredAt:   time.Now(),
	}); err != nil {
		h.logger.WithError(err).Warn("Failed to store message")
	}
}
