package chatwoot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
)

type webhookFixture struct {
	processor   *WebhookProcessor
	client      *fakeChatwootClient
	configs     *fakeConfigRepo
	mappings    *fakeMappingRepo
	msgMappings *fakeMessageMappingRepo
	sender      *fakeSender
	resolver    *Resolver
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	log := testLogger()
	client := newFakeClient()
	configs := newFakeConfigRepo()
	mappings := newFakeMappingRepo()
	msgMappings := newFakeMessageMappingRepo()
	sender := newFakeSender()

	factory := func(*ports.ChatwootConfig) ports.ChatwootClient { return client }
	service := domain.NewService(configs, mappings, msgMappings, factory, log)
	resolver := NewResolver(mappings, NewBrazilianNormalizer(), 2*time.Second, log)
	processor := NewWebhookProcessor(service, NewTranslator(), resolver, mappings, msgMappings, sender, factory, log)

	require.NoError(t, configs.Create(context.Background(), testConfig()))
	return &webhookFixture{
		processor:   processor,
		client:      client,
		configs:     configs,
		mappings:    mappings,
		msgMappings: msgMappings,
		sender:      sender,
		resolver:    resolver,
	}
}

func agentMessage(id int, content string) *domain.WebhookPayload {
	return &domain.WebhookPayload{
		Event:       domain.EventMessageCreated,
		ID:          id,
		Content:     content,
		MessageType: domain.MessageTypeOutgoing,
		Sender:      &domain.WebhookSender{Name: "Agent"},
		Conversation: &domain.WebhookConversation{
			ID: 201,
		},
	}
}

func (f *webhookFixture) seedConversation(t *testing.T, jid string, conversationID int) {
	t.Helper()
	now := time.Now()
	require.NoError(t, f.mappings.CreateConversationMapping(context.Background(), &ports.ConversationMapping{
		ID: "vm-1", SessionID: "session-1", WhatsappJID: jid,
		CwConversationID: conversationID, Status: ports.ConversationStatusOpen,
		CreatedAt: now, UpdatedAt: now,
	}))
}

func TestWebhook_DeliversAgentMessage(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	err := f.processor.Process(context.Background(), "session-1", agentMessage(301, "how can I help?"))
	require.NoError(t, err)

	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, "5511999999999@s.whatsapp.net", f.sender.texts[0].ChatJID)
	assert.Equal(t, "how can I help?", f.sender.texts[0].Body)
}

func TestWebhook_EchoTagPreventsLoop(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	// Simulate the event handler having pushed WA-1 as cw message 301.
	cwID := 301
	convID := 201
	now := time.Now()
	require.NoError(t, f.msgMappings.Create(context.Background(), &ports.MessageMapping{
		ID: "mm-1", SessionID: "session-1", WaMessageID: "WA-1",
		ChatJID: "5511999999999@s.whatsapp.net", CwMessageID: &cwID,
		CwConversationID: &convID, EchoPending: true, CreatedAt: now, UpdatedAt: now,
	}))

	err := f.processor.Process(context.Background(), "session-1", agentMessage(301, "echo of WA-1"))
	require.NoError(t, err)
	assert.Empty(t, f.sender.texts, "echo must not be sent back to WhatsApp")

	// The tag is consumed: a genuine duplicate id later would deliver.
	mapping, err := f.msgMappings.GetByWaID(context.Background(), "session-1", "WA-1")
	require.NoError(t, err)
	assert.False(t, mapping.EchoPending)
}

func TestWebhook_SourceIDMessagesAreNotResent(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	payload := agentMessage(302, "already on whatsapp")
	payload.SourceID = "WA-7"

	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	assert.Empty(t, f.sender.texts)
}

func TestWebhook_PrivateNotesStayInChatwoot(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	payload := agentMessage(303, "internal note")
	payload.Private = true

	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	assert.Empty(t, f.sender.texts)
}

func TestWebhook_IncomingMessagesAreIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	payload := agentMessage(304, "customer text")
	payload.MessageType = domain.MessageTypeIncoming

	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	assert.Empty(t, f.sender.texts)
}

func TestWebhook_DuplicateDeliveryIsDedupMasked(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	payload := agentMessage(305, "double fire")
	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))

	assert.Len(t, f.sender.texts, 1)
}

func TestWebhook_FallsBackToContactIdentifier(t *testing.T) {
	f := newWebhookFixture(t)

	payload := agentMessage(306, "no mapping yet")
	payload.Conversation.Meta.Sender.Identifier = "5511988887777@s.whatsapp.net"

	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, "5511988887777@s.whatsapp.net", f.sender.texts[0].ChatJID)
}

func TestWebhook_FallbackBackfillsConversationMapping(t *testing.T) {
	f := newWebhookFixture(t)

	payload := agentMessage(320, "first contact from agent side")
	payload.Conversation.ID = 555
	payload.Conversation.Meta.Sender.Identifier = "5511988887777@s.whatsapp.net"

	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	require.Len(t, f.sender.texts, 1)

	mapping, err := f.mappings.GetConversationMappingByCwID(context.Background(), "session-1", 555)
	require.NoError(t, err)
	assert.Equal(t, "5511988887777@s.whatsapp.net", mapping.WhatsappJID)
	assert.Equal(t, ports.ConversationStatusOpen, mapping.Status)

	// A later status change for the same conversation must land too.
	statusChange := &domain.WebhookPayload{
		Event: domain.EventConversationStatus,
		Conversation: &domain.WebhookConversation{
			ID:     555,
			Status: ports.ConversationStatusResolved,
		},
	}
	require.NoError(t, f.processor.Process(context.Background(), "session-1", statusChange))
	mapping, err = f.mappings.GetConversationMappingByCwID(context.Background(), "session-1", 555)
	require.NoError(t, err)
	assert.Equal(t, ports.ConversationStatusResolved, mapping.Status)
}

func TestWebhook_UnresolvedDestinationIsReported(t *testing.T) {
	f := newWebhookFixture(t)

	// No conversation mapping and no contact metadata to fall back on.
	payload := agentMessage(321, "nowhere to go")
	payload.Conversation.ID = 999

	err := f.processor.Process(context.Background(), "session-1", payload)
	require.ErrorIs(t, err, domain.ErrUnresolvedDestination)
	assert.Empty(t, f.sender.texts)
}

func TestWebhook_ReplyResolvesQuotedWhatsAppID(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	cwID := 310
	now := time.Now()
	require.NoError(t, f.msgMappings.Create(context.Background(), &ports.MessageMapping{
		ID: "mm-2", SessionID: "session-1", WaMessageID: "WA-10",
		ChatJID: "5511999999999@s.whatsapp.net", CwMessageID: &cwID,
		EchoPending: false, CreatedAt: now, UpdatedAt: now,
	}))

	payload := agentMessage(311, "responding to that")
	inReplyTo := 310
	payload.ContentAttributes = &domain.WebhookContentAttrs{InReplyTo: &inReplyTo}

	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, "WA-10", f.sender.texts[0].QuotedID)
}

func TestWebhook_OutboundMappingRecordedForDeletion(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	require.NoError(t, f.processor.Process(context.Background(), "session-1", agentMessage(312, "to be deleted")))
	require.Len(t, f.sender.texts, 1)

	mapping, err := f.msgMappings.GetByCwID(context.Background(), "session-1", 312)
	require.NoError(t, err)
	assert.False(t, mapping.EchoPending)

	deletion := &domain.WebhookPayload{
		Event:             domain.EventMessageUpdated,
		ID:                312,
		MessageType:       domain.MessageTypeOutgoing,
		ContentAttributes: &domain.WebhookContentAttrs{Deleted: true},
		Conversation:      &domain.WebhookConversation{ID: 201},
	}
	require.NoError(t, f.processor.Process(context.Background(), "session-1", deletion))
	require.Len(t, f.sender.revoked, 1)
	assert.Equal(t, mapping.WaMessageID, f.sender.revoked[0])
}

func TestWebhook_AttachmentsDeliveredWithCaptionOnFirst(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)
	f.client.attachments["https://cw/a.png"] = []byte{1, 2}
	f.client.attachments["https://cw/b.pdf"] = []byte{3, 4}

	payload := agentMessage(313, "two files")
	payload.Attachments = []domain.WebhookAttachment{
		{ID: 1, FileType: "image", DataURL: "https://cw/a.png", FileName: "a.png"},
		{ID: 2, FileType: "file", DataURL: "https://cw/b.pdf", FileName: "b.pdf"},
	}

	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	require.Len(t, f.sender.media, 2)
	assert.Equal(t, "two files", f.sender.media[0].Media.Caption)
	assert.Empty(t, f.sender.media[1].Media.Caption)
	assert.Empty(t, f.sender.texts)
}

func TestWebhook_StatusChangeUpdatesMapping(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedConversation(t, "5511999999999@s.whatsapp.net", 201)

	payload := &domain.WebhookPayload{
		Event: domain.EventConversationStatus,
		Conversation: &domain.WebhookConversation{
			ID:     201,
			Status: ports.ConversationStatusResolved,
		},
	}
	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))

	mapping, err := f.mappings.GetConversationMappingByCwID(context.Background(), "session-1", 201)
	require.NoError(t, err)
	assert.Equal(t, ports.ConversationStatusResolved, mapping.Status)
}

func TestWebhook_UnhandledEventIsNoop(t *testing.T) {
	f := newWebhookFixture(t)

	payload := &domain.WebhookPayload{Event: "contact_updated"}
	require.NoError(t, f.processor.Process(context.Background(), "session-1", payload))
	assert.Empty(t, f.sender.texts)
}
