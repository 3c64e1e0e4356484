package chatwoot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.TestConfig())
}

func testConfig() *ports.ChatwootConfig {
	inboxID := 7
	return &ports.ChatwootConfig{
		ID:             "cfg-1",
		SessionID:      "session-1",
		URL:            "https://chatwoot.example.com",
		Token:          "secret-token-123",
		AccountID:      "1",
		InboxID:        &inboxID,
		Enabled:        true,
		AutoReopen:     true,
		SignSeparator:  ":\n",
		SyncContacts:   true,
		SyncMessages:   true,
		SyncWindowDays: 30,
	}
}

// fakeChatwootClient is an in-memory Chatwoot double. Counters let tests
// assert how many remote calls a flow performed.
type fakeChatwootClient struct {
	mu sync.Mutex

	contacts      map[string]*ports.ChatwootContact
	conversations map[int]*ports.ChatwootConversation
	messages      []createdMessage
	attachments   map[string][]byte

	nextContactID      int
	nextConversationID int
	nextMessageID      int

	searchCalls        int
	createContactCalls int
	createConvCalls    int
	toggleCalls        []toggleCall

	validateErr error
	createErr   error
}

type createdMessage struct {
	ConversationID int
	Draft          ports.MessageDraft
}

type toggleCall struct {
	ConversationID int
	Status         string
}

func newFakeClient() *fakeChatwootClient {
	return &fakeChatwootClient{
		contacts:           make(map[string]*ports.ChatwootContact),
		conversations:      make(map[int]*ports.ChatwootConversation),
		attachments:        make(map[string][]byte),
		nextContactID:      100,
		nextConversationID: 200,
		nextMessageID:      300,
	}
}

func (f *fakeChatwootClient) ValidateCredentials(ctx context.Context) (*ports.ChatwootAccount, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &ports.ChatwootAccount{ID: 1, Name: "Acme Support"}, nil
}

func (f *fakeChatwootClient) ListInboxes(ctx context.Context) ([]ports.ChatwootInbox, error) {
	return []ports.ChatwootInbox{{ID: 7, Name: "WhatsApp"}}, nil
}

func (f *fakeChatwootClient) CreateInbox(ctx context.Context, name, webhookURL string) (*ports.ChatwootInbox, error) {
	return &ports.ChatwootInbox{ID: 8, Name: name}, nil
}

func (f *fakeChatwootClient) SearchContactByIdentifier(ctx context.Context, identifier string) (*ports.ChatwootContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if contact, ok := f.contacts[identifier]; ok {
		return contact, nil
	}
	return nil, nil
}

func (f *fakeChatwootClient) CreateContact(ctx context.Context, inboxID int, identifier, phoneNumber, name string) (*ports.ChatwootContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createContactCalls++
	f.nextContactID++
	contact := &ports.ChatwootContact{
		ID:          f.nextContactID,
		Name:        name,
		PhoneNumber: phoneNumber,
		Identifier:  identifier,
	}
	f.contacts[identifier] = contact
	return contact, nil
}

func (f *fakeChatwootClient) UpdateContactAttributes(ctx context.Context, contactID int, attributes map[string]interface{}) error {
	return nil
}

func (f *fakeChatwootClient) CountContacts(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contacts), nil
}

func (f *fakeChatwootClient) ListContactConversations(ctx context.Context, contactID int) ([]ports.ChatwootConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.ChatwootConversation
	for _, conv := range f.conversations {
		out = append(out, *conv)
	}
	return out, nil
}

func (f *fakeChatwootClient) CreateConversation(ctx context.Context, contactID, inboxID int, pending bool) (*ports.ChatwootConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createConvCalls++
	f.nextConversationID++
	status := ports.ConversationStatusOpen
	if pending {
		status = ports.ConversationStatusPending
	}
	conv := &ports.ChatwootConversation{ID: f.nextConversationID, InboxID: inboxID, Status: status}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeChatwootClient) ToggleConversationStatus(ctx context.Context, conversationID int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggleCalls = append(f.toggleCalls, toggleCall{ConversationID: conversationID, Status: status})
	if conv, ok := f.conversations[conversationID]; ok {
		conv.Status = status
	}
	return nil
}

func (f *fakeChatwootClient) CountConversations(ctx context.Context, status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, conv := range f.conversations {
		if conv.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *fakeChatwootClient) CreateMessage(ctx context.Context, conversationID int, draft *ports.MessageDraft) (*ports.ChatwootMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextMessageID++
	f.messages = append(f.messages, createdMessage{ConversationID: conversationID, Draft: *draft})
	return &ports.ChatwootMessage{
		ID:             f.nextMessageID,
		ConversationID: conversationID,
		Content:        draft.Content,
		MessageType:    draft.MessageType,
		SourceID:       draft.SourceID,
	}, nil
}

func (f *fakeChatwootClient) FetchAttachment(ctx context.Context, dataURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachments[dataURL], nil
}

// fakeMappingRepo is an in-memory MappingRepository.
type fakeMappingRepo struct {
	mu            sync.Mutex
	contacts      map[string]*ports.ContactMapping
	conversations map[string]*ports.ConversationMapping
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{
		contacts:      make(map[string]*ports.ContactMapping),
		conversations: make(map[string]*ports.ConversationMapping),
	}
}

func mappingKey(sessionID, jid string) string { return sessionID + "|" + jid }

func (f *fakeMappingRepo) GetContactMapping(ctx context.Context, sessionID, jid string) (*ports.ContactMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.contacts[mappingKey(sessionID, jid)]; ok {
		return m, nil
	}
	return nil, ports.ErrMappingNotFound
}

func (f *fakeMappingRepo) CreateContactMapping(ctx context.Context, mapping *ports.ContactMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts[mappingKey(mapping.SessionID, mapping.WhatsappJID)] = mapping
	return nil
}

func (f *fakeMappingRepo) UpdateContactMappingContact(ctx context.Context, id string, cwContactID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.contacts {
		if m.ID == id {
			m.CwContactID = cwContactID
			return nil
		}
	}
	return ports.ErrMappingNotFound
}

func (f *fakeMappingRepo) CountContactMappings(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.contacts {
		if m.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (f *fakeMappingRepo) GetConversationMapping(ctx context.Context, sessionID, jid string) (*ports.ConversationMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.conversations[mappingKey(sessionID, jid)]; ok {
		return m, nil
	}
	return nil, ports.ErrMappingNotFound
}

func (f *fakeMappingRepo) GetConversationMappingByCwID(ctx context.Context, sessionID string, cwConversationID int) (*ports.ConversationMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.conversations {
		if m.SessionID == sessionID && m.CwConversationID == cwConversationID {
			return m, nil
		}
	}
	return nil, ports.ErrMappingNotFound
}

func (f *fakeMappingRepo) CreateConversationMapping(ctx context.Context, mapping *ports.ConversationMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[mappingKey(mapping.SessionID, mapping.WhatsappJID)] = mapping
	return nil
}

func (f *fakeMappingRepo) ReplaceConversationMapping(ctx context.Context, mapping *ports.ConversationMapping) error {
	return f.CreateConversationMapping(ctx, mapping)
}

func (f *fakeMappingRepo) UpdateConversationStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.conversations {
		if m.ID == id {
			m.Status = status
			return nil
		}
	}
	return ports.ErrMappingNotFound
}

func (f *fakeMappingRepo) ListConversationMappings(ctx context.Context, sessionID string) ([]*ports.ConversationMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ports.ConversationMapping
	for _, m := range f.conversations {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMappingRepo) DeleteSessionMappings(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, m := range f.contacts {
		if m.SessionID == sessionID {
			delete(f.contacts, k)
		}
	}
	for k, m := range f.conversations {
		if m.SessionID == sessionID {
			delete(f.conversations, k)
		}
	}
	return nil
}

// fakeMessageMappingRepo is an in-memory MessageMappingRepository.
type fakeMessageMappingRepo struct {
	mu       sync.Mutex
	mappings map[string]*ports.MessageMapping
}

func newFakeMessageMappingRepo() *fakeMessageMappingRepo {
	return &fakeMessageMappingRepo{mappings: make(map[string]*ports.MessageMapping)}
}

func (f *fakeMessageMappingRepo) Create(ctx context.Context, mapping *ports.MessageMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := mappingKey(mapping.SessionID, mapping.WaMessageID)
	if _, exists := f.mappings[key]; exists {
		return nil
	}
	f.mappings[key] = mapping
	return nil
}

func (f *fakeMessageMappingRepo) GetByWaID(ctx context.Context, sessionID, waMessageID string) (*ports.MessageMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.mappings[mappingKey(sessionID, waMessageID)]; ok {
		return m, nil
	}
	return nil, ports.ErrMappingNotFound
}

func (f *fakeMessageMappingRepo) GetByCwID(ctx context.Context, sessionID string, cwMessageID int) (*ports.MessageMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		if m.SessionID == sessionID && m.CwMessageID != nil && *m.CwMessageID == cwMessageID {
			return m, nil
		}
	}
	return nil, ports.ErrMappingNotFound
}

func (f *fakeMessageMappingRepo) MarkSynced(ctx context.Context, id string, cwMessageID, cwConversationID int, echoPending bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		if m.ID == id {
			m.CwMessageID = &cwMessageID
			m.CwConversationID = &cwConversationID
			m.EchoPending = echoPending
			return nil
		}
	}
	return ports.ErrMappingNotFound
}

func (f *fakeMessageMappingRepo) ConsumeEchoTag(ctx context.Context, sessionID string, cwMessageID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		if m.SessionID == sessionID && m.CwMessageID != nil && *m.CwMessageID == cwMessageID && m.EchoPending {
			m.EchoPending = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessageMappingRepo) ExpireEchoTags(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.mappings {
		if m.EchoPending && m.CreatedAt.Before(olderThan) {
			m.EchoPending = false
			n++
		}
	}
	return n, nil
}

func (f *fakeMessageMappingRepo) DeleteSessionMappings(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, m := range f.mappings {
		if m.SessionID == sessionID {
			delete(f.mappings, k)
		}
	}
	return nil
}

// fakeConfigRepo is an in-memory ConfigRepository.
type fakeConfigRepo struct {
	mu      sync.Mutex
	configs map[string]*ports.ChatwootConfig
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: make(map[string]*ports.ChatwootConfig)}
}

func (f *fakeConfigRepo) Create(ctx context.Context, config *ports.ChatwootConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[config.SessionID] = config
	return nil
}

func (f *fakeConfigRepo) GetBySessionID(ctx context.Context, sessionID string) (*ports.ChatwootConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.configs[sessionID]; ok {
		return cfg, nil
	}
	return nil, ports.ErrConfigNotFound
}

func (f *fakeConfigRepo) Update(ctx context.Context, config *ports.ChatwootConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[config.SessionID]; !ok {
		return ports.ErrConfigNotFound
	}
	f.configs[config.SessionID] = config
	return nil
}

func (f *fakeConfigRepo) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[sessionID]; !ok {
		return ports.ErrConfigNotFound
	}
	delete(f.configs, sessionID)
	return nil
}

// fakeWaStore is an in-memory WaStore.
type fakeWaStore struct {
	mu       sync.Mutex
	contacts []*ports.WaContact
	messages []*ports.WaStoredMessage
}

func newFakeWaStore() *fakeWaStore { return &fakeWaStore{} }

func (f *fakeWaStore) UpsertContact(ctx context.Context, contact *ports.WaContact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.contacts {
		if c.SessionID == contact.SessionID && c.JID == contact.JID {
			f.contacts[i] = contact
			return nil
		}
	}
	f.contacts = append(f.contacts, contact)
	return nil
}

func (f *fakeWaStore) CountContactsSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.contacts {
		if c.SessionID == sessionID && !c.UpdatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeWaStore) ListContactsSince(ctx context.Context, sessionID string, since time.Time, offset, limit int) ([]*ports.WaContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*ports.WaContact
	for _, c := range f.contacts {
		if c.SessionID == sessionID && !c.UpdatedAt.Before(since) {
			all = append(all, c)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeWaStore) SaveMessage(ctx context.Context, msg *ports.WaStoredMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.SessionID == msg.SessionID && m.MessageID == msg.MessageID {
			return nil
		}
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeWaStore) CountMessagesSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.messages {
		if m.SessionID == sessionID && !m.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeWaStore) ListChatsSince(ctx context.Context, sessionID string, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var chats []string
	for _, m := range f.messages {
		if m.SessionID == sessionID && !m.Timestamp.Before(since) && !seen[m.ChatJID] {
			seen[m.ChatJID] = true
			chats = append(chats, m.ChatJID)
		}
	}
	return chats, nil
}

func (f *fakeWaStore) ListChatMessagesSince(ctx context.Context, sessionID, chatJID string, since time.Time) ([]*ports.WaStoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ports.WaStoredMessage
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.ChatJID == chatJID && !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeSender records WhatsApp sends.
type fakeSender struct {
	mu      sync.Mutex
	texts   []sentText
	media   []sentMedia
	revoked []string
	nextID  int
	sendErr error
}

type sentText struct {
	SessionID string
	ChatJID   string
	Body      string
	QuotedID  string
}

type sentMedia struct {
	SessionID string
	ChatJID   string
	Media     ports.OutboundMedia
	QuotedID  string
}

func newFakeSender() *fakeSender { return &fakeSender{nextID: 500} }

func (f *fakeSender) SendText(ctx context.Context, sessionID, chatJID, body, quotedID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.texts = append(f.texts, sentText{SessionID: sessionID, ChatJID: chatJID, Body: body, QuotedID: quotedID})
	f.nextID++
	return waID(f.nextID), nil
}

func (f *fakeSender) SendMedia(ctx context.Context, sessionID, chatJID string, media *ports.OutboundMedia, quotedID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.media = append(f.media, sentMedia{SessionID: sessionID, ChatJID: chatJID, Media: *media, QuotedID: quotedID})
	f.nextID++
	return waID(f.nextID), nil
}

func (f *fakeSender) RevokeMessage(ctx context.Context, sessionID, chatJID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, messageID)
	return nil
}

func waID(n int) string {
	return fmt.Sprintf("WAMSG-%d", n)
}
