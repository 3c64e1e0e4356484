package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

const (
	identityCacheTTL   = 10 * time.Minute
	identityCacheSweep = 30 * time.Minute
)

// keyedMutex serializes work per key. Acquire blocks until the key is
// free, the timeout elapses, or the context is cancelled.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]chan struct{})}
}

func (k *keyedMutex) Acquire(ctx context.Context, key string, timeout time.Duration) (release func(), err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		k.mu.Lock()
		ch, held := k.locks[key]
		if !held {
			k.locks[key] = make(chan struct{})
			k.mu.Unlock()
			return func() {
				k.mu.Lock()
				close(k.locks[key])
				delete(k.locks, key)
				k.mu.Unlock()
			}, nil
		}
		k.mu.Unlock()

		select {
		case <-ch:
			// holder released; retry the claim
		case <-timer.C:
			return nil, fmt.Errorf("lock acquisition timed out after %s", timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// identity is a resolved contact/conversation pair.
type identity struct {
	ContactID      int
	ConversationID int
}

// Resolver maps a WhatsApp chat to its Chatwoot contact and conversation,
// creating both on first contact. Resolution for the same (session, jid)
// is serialized under a keyed lock so concurrent messages from a new chat
// produce exactly one contact and one conversation.
type Resolver struct {
	mappings    ports.MappingRepository
	normalizer  PhoneNormalizer
	locks       *keyedMutex
	lockTimeout time.Duration
	cache       *gocache.Cache
	logger      *logger.Logger
}

func NewResolver(mappings ports.MappingRepository, normalizer PhoneNormalizer, lockTimeout time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		mappings:    mappings,
		normalizer:  normalizer,
		locks:       newKeyedMutex(),
		lockTimeout: lockTimeout,
		cache:       gocache.New(identityCacheTTL, identityCacheSweep),
		logger:      log.WithModule("chatwoot-resolver"),
	}
}

// Resolve returns the contact and conversation ids for a chat, creating
// whatever is missing. A resolved conversation is reopened when the config
// allows it, otherwise replaced with a fresh one.
func (r *Resolver) Resolve(ctx context.Context, client ports.ChatwootClient, cfg *ports.ChatwootConfig, chatJID, displayName string) (int, int, error) {
	if !IsValidJID(chatJID) {
		return 0, 0, domain.NewResolutionError(chatJID, errors.New("jid is not syncable"))
	}

	cacheKey := cfg.SessionID + "|" + chatJID
	if cached, ok := r.cache.Get(cacheKey); ok {
		id := cached.(identity)
		return id.ContactID, id.ConversationID, nil
	}

	release, err := r.locks.Acquire(ctx, cacheKey, r.lockTimeout)
	if err != nil {
		return 0, 0, domain.NewResolutionError(chatJID, err)
	}
	defer release()

	// Another goroutine may have resolved while we waited.
	if cached, ok := r.cache.Get(cacheKey); ok {
		id := cached.(identity)
		return id.ContactID, id.ConversationID, nil
	}

	contactID, err := r.resolveContact(ctx, client, cfg, chatJID, displayName)
	if err != nil {
		return 0, 0, domain.NewResolutionError(chatJID, err)
	}

	conversationID, err := r.resolveConversation(ctx, client, cfg, chatJID, contactID)
	if err != nil {
		return 0, 0, domain.NewResolutionError(chatJID, err)
	}

	r.cache.Set(cacheKey, identity{ContactID: contactID, ConversationID: conversationID}, gocache.DefaultExpiration)
	return contactID, conversationID, nil
}

// InvalidateConversation drops the cached pair so the next resolution
// re-reads the mapping. Called when a webhook reports a status change.
func (r *Resolver) InvalidateConversation(sessionID, chatJID string) {
	r.cache.Delete(sessionID + "|" + chatJID)
}

func (r *Resolver) resolveContact(ctx context.Context, client ports.ChatwootClient, cfg *ports.ChatwootConfig, chatJID, displayName string) (int, error) {
	mapping, err := r.mappings.GetContactMapping(ctx, cfg.SessionID, chatJID)
	if err == nil {
		return mapping.CwContactID, nil
	}
	if !errors.Is(err, ports.ErrMappingNotFound) {
		return 0, fmt.Errorf("failed to load contact mapping: %w", err)
	}

	contact, identifier, err := r.findOrCreateContact(ctx, client, cfg, chatJID, displayName)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if err := r.mappings.CreateContactMapping(ctx, &ports.ContactMapping{
		ID:           uuid.New().String(),
		SessionID:    cfg.SessionID,
		WhatsappJID:  chatJID,
		CwContactID:  contact.ID,
		CwIdentifier: identifier,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return 0, fmt.Errorf("failed to save contact mapping: %w", err)
	}
	return contact.ID, nil
}

// findOrCreateContact searches Chatwoot before creating: by JID identifier
// first, then by each merge variant of the phone number.
func (r *Resolver) findOrCreateContact(ctx context.Context, client ports.ChatwootClient, cfg *ports.ChatwootConfig, chatJID, displayName string) (*ports.ChatwootContact, string, error) {
	name := contactName(chatJID, displayName)

	if IsGroupJID(chatJID) {
		contact, err := client.SearchContactByIdentifier(ctx, chatJID)
		if err != nil {
			return nil, "", err
		}
		if contact == nil {
			contact, err = client.CreateContact(ctx, inboxID(cfg), chatJID, "", name)
			if err != nil {
				return nil, "", err
			}
			r.logger.InfoWithFields("Chatwoot group contact created", map[string]interface{}{
				"session_id": cfg.SessionID,
				"jid":        chatJID,
				"contact_id": contact.ID,
			})
		}
		return contact, chatJID, nil
	}

	digits := PhoneFromJID(chatJID)
	candidates := []string{digits}
	if cfg.MergeLocalPhones {
		candidates = r.normalizer.MergeVariants(digits)
	}

	for _, candidate := range candidates {
		for _, q := range []string{candidate, "+" + candidate} {
			contact, err := client.SearchContactByIdentifier(ctx, q)
			if err != nil {
				return nil, "", err
			}
			if contact != nil {
				return contact, chatJID, nil
			}
		}
	}

	phone := r.normalizer.Normalize(digits)
	contact, err := client.CreateContact(ctx, inboxID(cfg), chatJID, phone, name)
	if err != nil {
		return nil, "", err
	}
	r.logger.InfoWithFields("Chatwoot contact created", map[string]interface{}{
		"session_id": cfg.SessionID,
		"jid":        chatJID,
		"phone":      phone,
		"contact_id": contact.ID,
	})
	return contact, chatJID, nil
}

func (r *Resolver) resolveConversation(ctx context.Context, client ports.ChatwootClient, cfg *ports.ChatwootConfig, chatJID string, contactID int) (int, error) {
	mapping, err := r.mappings.GetConversationMapping(ctx, cfg.SessionID, chatJID)
	if err != nil && !errors.Is(err, ports.ErrMappingNotFound) {
		return 0, fmt.Errorf("failed to load conversation mapping: %w", err)
	}

	if mapping != nil {
		if mapping.Status != ports.ConversationStatusResolved {
			return mapping.CwConversationID, nil
		}
		if cfg.AutoReopen {
			if err := client.ToggleConversationStatus(ctx, mapping.CwConversationID, ports.ConversationStatusOpen); err != nil {
				return 0, fmt.Errorf("failed to reopen conversation: %w", err)
			}
			if err := r.mappings.UpdateConversationStatus(ctx, mapping.ID, ports.ConversationStatusOpen); err != nil {
				return 0, err
			}
			return mapping.CwConversationID, nil
		}
		// Resolved and reopening disabled: start a fresh conversation.
		conversation, err := client.CreateConversation(ctx, contactID, inboxID(cfg), cfg.ConvPending)
		if err != nil {
			return 0, err
		}
		now := time.Now()
		if err := r.mappings.ReplaceConversationMapping(ctx, &ports.ConversationMapping{
			ID:               uuid.New().String(),
			SessionID:        cfg.SessionID,
			WhatsappJID:      chatJID,
			CwConversationID: conversation.ID,
			Status:           conversation.Status,
			CreatedAt:        now,
			UpdatedAt:        now,
		}); err != nil {
			return 0, err
		}
		return conversation.ID, nil
	}

	// No mapping: reuse an open conversation Chatwoot already has for the
	// contact before creating a new one.
	existing, err := client.ListContactConversations(ctx, contactID)
	if err != nil {
		return 0, err
	}
	for _, conv := range existing {
		if conv.Status != ports.ConversationStatusResolved && matchesInbox(cfg, conv.InboxID) {
			if err := r.saveConversationMapping(ctx, cfg.SessionID, chatJID, conv.ID, conv.Status); err != nil {
				return 0, err
			}
			return conv.ID, nil
		}
	}

	conversation, err := client.CreateConversation(ctx, contactID, inboxID(cfg), cfg.ConvPending)
	if err != nil {
		return 0, err
	}
	if err := r.saveConversationMapping(ctx, cfg.SessionID, chatJID, conversation.ID, conversation.Status); err != nil {
		return 0, err
	}
	r.logger.InfoWithFields("Chatwoot conversation created", map[string]interface{}{
		"session_id":      cfg.SessionID,
		"jid":             chatJID,
		"conversation_id": conversation.ID,
	})
	return conversation.ID, nil
}

func (r *Resolver) saveConversationMapping(ctx context.Context, sessionID, chatJID string, conversationID int, status string) error {
	now := time.Now()
	return r.mappings.CreateConversationMapping(ctx, &ports.ConversationMapping{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		WhatsappJID:      chatJID,
		CwConversationID: conversationID,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func contactName(chatJID, displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = PhoneFromJID(chatJID)
		if name == "" {
			name = chatJID
		}
	}
	if IsGroupJID(chatJID) && !strings.HasSuffix(name, "(GROUP)") {
		name += " (GROUP)"
	}
	return name
}

func inboxID(cfg *ports.ChatwootConfig) int {
	if cfg.InboxID != nil {
		return *cfg.InboxID
	}
	return 0
}

func matchesInbox(cfg *ports.ChatwootConfig, id int) bool {
	return cfg.InboxID == nil || *cfg.InboxID == id
}
