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

type eventsFixture struct {
	handler     *EventHandler
	client      *fakeChatwootClient
	configs     *fakeConfigRepo
	mappings    *fakeMappingRepo
	msgMappings *fakeMessageMappingRepo
	waStore     *fakeWaStore
}

func newEventsFixture(t *testing.T) *eventsFixture {
	t.Helper()
	log := testLogger()
	client := newFakeClient()
	configs := newFakeConfigRepo()
	mappings := newFakeMappingRepo()
	msgMappings := newFakeMessageMappingRepo()
	waStore := newFakeWaStore()

	factory := func(*ports.ChatwootConfig) ports.ChatwootClient { return client }
	service := domain.NewService(configs, mappings, msgMappings, factory, log)
	resolver := NewResolver(mappings, NewBrazilianNormalizer(), 2*time.Second, log)
	handler := NewEventHandler(service, resolver, NewTranslator(), msgMappings, waStore, factory, log)

	require.NoError(t, configs.Create(context.Background(), testConfig()))
	return &eventsFixture{
		handler:     handler,
		client:      client,
		configs:     configs,
		mappings:    mappings,
		msgMappings: msgMappings,
		waStore:     waStore,
	}
}

func inboundText(id, text string) *ports.WhatsAppMessage {
	return &ports.WhatsAppMessage{
		ID:         id,
		SessionID:  "session-1",
		ChatJID:    "5511999999999@s.whatsapp.net",
		SenderJID:  "5511999999999@s.whatsapp.net",
		SenderName: "Maria",
		Timestamp:  time.Now(),
		Kind:       ports.MessageKindText,
		Text:       text,
	}
}

func TestEventHandler_PushesMessageAndWritesEchoTag(t *testing.T) {
	f := newEventsFixture(t)

	err := f.handler.HandleMessage(context.Background(), inboundText("WA-1", "hello"))
	require.NoError(t, err)

	require.Len(t, f.client.messages, 1)
	assert.Equal(t, "hello", f.client.messages[0].Draft.Content)
	assert.Equal(t, "WA-1", f.client.messages[0].Draft.SourceID)

	mapping, err := f.msgMappings.GetByWaID(context.Background(), "session-1", "WA-1")
	require.NoError(t, err)
	assert.True(t, mapping.EchoPending)
	require.NotNil(t, mapping.CwMessageID)
}

func TestEventHandler_SkipsWhenIntegrationDisabled(t *testing.T) {
	f := newEventsFixture(t)
	cfg, _ := f.configs.GetBySessionID(context.Background(), "session-1")
	cfg.Enabled = false

	err := f.handler.HandleMessage(context.Background(), inboundText("WA-1", "hello"))
	require.NoError(t, err)
	assert.Empty(t, f.client.messages)
}

func TestEventHandler_SkipsUnconfiguredSession(t *testing.T) {
	f := newEventsFixture(t)
	msg := inboundText("WA-1", "hello")
	msg.SessionID = "other-session"

	err := f.handler.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, f.client.messages)
}

func TestEventHandler_SkipsIgnoredChat(t *testing.T) {
	f := newEventsFixture(t)
	cfg, _ := f.configs.GetBySessionID(context.Background(), "session-1")
	cfg.IgnoreJids = []string{"5511999999999@s.whatsapp.net"}

	err := f.handler.HandleMessage(context.Background(), inboundText("WA-1", "hello"))
	require.NoError(t, err)
	assert.Empty(t, f.client.messages)
}

func TestEventHandler_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newEventsFixture(t)

	require.NoError(t, f.handler.HandleMessage(context.Background(), inboundText("WA-1", "hello")))
	require.NoError(t, f.handler.HandleMessage(context.Background(), inboundText("WA-1", "hello")))

	assert.Len(t, f.client.messages, 1)
}

func TestEventHandler_ReplyLinksChatwootMessage(t *testing.T) {
	f := newEventsFixture(t)

	require.NoError(t, f.handler.HandleMessage(context.Background(), inboundText("WA-1", "original")))
	first, err := f.msgMappings.GetByWaID(context.Background(), "session-1", "WA-1")
	require.NoError(t, err)

	reply := inboundText("WA-2", "the reply")
	reply.QuotedMessageID = "WA-1"
	require.NoError(t, f.handler.HandleMessage(context.Background(), reply))

	require.Len(t, f.client.messages, 2)
	draft := f.client.messages[1].Draft
	assert.Equal(t, "WA-1", draft.InReplyToExternalID)
	require.NotNil(t, draft.InReplyTo)
	assert.Equal(t, *first.CwMessageID, *draft.InReplyTo)
}

func TestEventHandler_ReplyToUnmappedQuoteStillDelivered(t *testing.T) {
	f := newEventsFixture(t)

	// The quoted message predates the integration, so no mapping exists.
	reply := inboundText("WA-2", "replying to ancient history")
	reply.QuotedMessageID = "WA-unknown"
	require.NoError(t, f.handler.HandleMessage(context.Background(), reply))

	require.Len(t, f.client.messages, 1)
	draft := f.client.messages[0].Draft
	assert.Equal(t, "WA-unknown", draft.InReplyToExternalID)
	assert.Nil(t, draft.InReplyTo)
}

func TestEventHandler_GroupContactNamedAfterSubject(t *testing.T) {
	f := newEventsFixture(t)

	msg := inboundText("WA-1", "hello from the group")
	msg.ChatJID = "120363012345678901@g.us"
	msg.ChatName = "Support Team"
	msg.SenderJID = "5511999999999@s.whatsapp.net"
	require.NoError(t, f.handler.HandleMessage(context.Background(), msg))

	require.Len(t, f.client.messages, 1)
	contact, ok := f.client.contacts["120363012345678901@g.us"]
	require.True(t, ok)
	assert.Equal(t, "Support Team (GROUP)", contact.Name)
}

func TestEventHandler_RevokePostsPrivateNote(t *testing.T) {
	f := newEventsFixture(t)

	require.NoError(t, f.handler.HandleMessage(context.Background(), inboundText("WA-1", "oops")))

	revoke := inboundText("WA-2", "")
	revoke.Kind = ports.MessageKindRevoke
	revoke.QuotedMessageID = "WA-1"
	require.NoError(t, f.handler.HandleMessage(context.Background(), revoke))

	require.Len(t, f.client.messages, 2)
	note := f.client.messages[1].Draft
	assert.True(t, note.Private)
	assert.Contains(t, note.Content, "deleted")
}

func TestEventHandler_UnsupportedKindIsSkippedNotFatal(t *testing.T) {
	f := newEventsFixture(t)
	msg := inboundText("WA-1", "")
	msg.Kind = ports.MessageKindUnsupported

	err := f.handler.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, f.client.messages)
}

func TestEventHandler_StoresContactAndMessage(t *testing.T) {
	f := newEventsFixture(t)

	require.NoError(t, f.handler.HandleMessage(context.Background(), inboundText("WA-1", "hello")))

	count, err := f.waStore.CountContactsSince(context.Background(), "session-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	msgs, err := f.waStore.ListChatMessagesSince(context.Background(), "session-1", "5511999999999@s.whatsapp.net", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}
