package chatwoot

import (
	"time"

	"wootsync/internal/ports"
)

// Webhook event types emitted by Chatwoot that the integration handles.
const (
	EventMessageCreated      = "message_created"
	EventMessageUpdated      = "message_updated"
	EventConversationStatus  = "conversation_status_changed"
	EventConversationCreated = "conversation_created"
)

// MessageTypeIncoming/Outgoing are Chatwoot's message directions: incoming
// is from the end customer, outgoing is from an agent.
const (
	MessageTypeIncoming = "incoming"
	MessageTypeOutgoing = "outgoing"
)

func IsHandledWebhookEvent(event string) bool {
	switch event {
	case EventMessageCreated, EventMessageUpdated, EventConversationStatus:
		return true
	}
	return false
}

// CreateConfigRequest creates the per-session integration configuration.
type CreateConfigRequest struct {
	URL              string   `json:"url" validate:"required,url"`
	Token            string   `json:"token" validate:"required,min=10"`
	AccountID        string   `json:"accountId" validate:"required"`
	InboxID          *int     `json:"inboxId,omitempty"`
	InboxName        *string  `json:"inboxName,omitempty"`
	Enabled          *bool    `json:"enabled,omitempty"`
	SignAgentName    *bool    `json:"signAgentName,omitempty"`
	SignSeparator    *string  `json:"signSeparator,omitempty"`
	AutoReopen       *bool    `json:"autoReopen,omitempty"`
	ConvPending      *bool    `json:"convPending,omitempty"`
	MergeLocalPhones *bool    `json:"mergeLocalPhones,omitempty"`
	SyncContacts     *bool    `json:"syncContacts,omitempty"`
	SyncMessages     *bool    `json:"syncMessages,omitempty"`
	SyncWindowDays   *int     `json:"syncWindowDays,omitempty" validate:"omitempty,min=0,max=365"`
	IgnoreJids       []string `json:"ignoreJids,omitempty"`
}

// UpdateConfigRequest patches the configuration; nil fields are untouched.
type UpdateConfigRequest struct {
	URL              *string  `json:"url,omitempty" validate:"omitempty,url"`
	Token            *string  `json:"token,omitempty" validate:"omitempty,min=10"`
	AccountID        *string  `json:"accountId,omitempty"`
	InboxID          *int     `json:"inboxId,omitempty"`
	InboxName        *string  `json:"inboxName,omitempty"`
	Enabled          *bool    `json:"enabled,omitempty"`
	SignAgentName    *bool    `json:"signAgentName,omitempty"`
	SignSeparator    *string  `json:"signSeparator,omitempty"`
	AutoReopen       *bool    `json:"autoReopen,omitempty"`
	ConvPending      *bool    `json:"convPending,omitempty"`
	MergeLocalPhones *bool    `json:"mergeLocalPhones,omitempty"`
	SyncContacts     *bool    `json:"syncContacts,omitempty"`
	SyncMessages     *bool    `json:"syncMessages,omitempty"`
	SyncWindowDays   *int     `json:"syncWindowDays,omitempty" validate:"omitempty,min=0,max=365"`
	IgnoreJids       []string `json:"ignoreJids,omitempty"`
}

// ConfigResponse is the API representation of a config; token redacted.
type ConfigResponse struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	URL              string    `json:"url"`
	AccountID        string    `json:"accountId"`
	InboxID          *int      `json:"inboxId,omitempty"`
	InboxName        *string   `json:"inboxName,omitempty"`
	Enabled          bool      `json:"enabled"`
	SignAgentName    bool      `json:"signAgentName"`
	SignSeparator    string    `json:"signSeparator"`
	AutoReopen       bool      `json:"autoReopen"`
	ConvPending      bool      `json:"convPending"`
	MergeLocalPhones bool      `json:"mergeLocalPhones"`
	SyncContacts     bool      `json:"syncContacts"`
	SyncMessages     bool      `json:"syncMessages"`
	SyncWindowDays   int       `json:"syncWindowDays"`
	IgnoreJids       []string  `json:"ignoreJids,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func ConfigResponseFrom(c *ports.ChatwootConfig) *ConfigResponse {
	return &ConfigResponse{
		ID:               c.ID,
		SessionID:        c.SessionID,
		URL:              c.URL,
		AccountID:        c.AccountID,
		InboxID:          c.InboxID,
		InboxName:        c.InboxName,
		Enabled:          c.Enabled,
		SignAgentName:    c.SignAgentName,
		SignSeparator:    c.SignSeparator,
		AutoReopen:       c.AutoReopen,
		ConvPending:      c.ConvPending,
		MergeLocalPhones: c.MergeLocalPhones,
		SyncContacts:     c.SyncContacts,
		SyncMessages:     c.SyncMessages,
		SyncWindowDays:   c.SyncWindowDays,
		IgnoreJids:       c.IgnoreJids,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

// WebhookPayload is the body Chatwoot posts to the integration webhook.
// Only the fields the handler reads are decoded.
type WebhookPayload struct {
	Event             string                 `json:"event"`
	ID                int                    `json:"id"`
	Content           string                 `json:"content"`
	MessageType       string                 `json:"message_type"`
	Private           bool                   `json:"private"`
	SourceID          string                 `json:"source_id"`
	ContentAttributes *WebhookContentAttrs   `json:"content_attributes,omitempty"`
	Attachments       []WebhookAttachment    `json:"attachments,omitempty"`
	Sender            *WebhookSender         `json:"sender,omitempty"`
	Conversation      *WebhookConversation   `json:"conversation,omitempty"`
	Account           map[string]interface{} `json:"account,omitempty"`
}

type WebhookContentAttrs struct {
	InReplyTo           *int   `json:"in_reply_to,omitempty"`
	InReplyToExternalID string `json:"in_reply_to_external_id,omitempty"`
	Deleted             bool   `json:"deleted,omitempty"`
}

type WebhookAttachment struct {
	ID       int    `json:"id"`
	FileType string `json:"file_type"`
	DataURL  string `json:"data_url"`
	FileName string `json:"file_name,omitempty"`
}

type WebhookSender struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	AvailableName string `json:"available_name,omitempty"`
	Type          string `json:"type,omitempty"`
}

type WebhookConversation struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Meta   struct {
		Sender struct {
			Identifier  string `json:"identifier"`
			PhoneNumber string `json:"phone_number"`
		} `json:"sender"`
	} `json:"meta"`
}

// ChatJID returns the WhatsApp JID the webhook conversation targets,
// preferring the contact identifier over the phone number.
func (p *WebhookPayload) ChatJID() string {
	if p.Conversation == nil {
		return ""
	}
	if id := p.Conversation.Meta.Sender.Identifier; id != "" {
		return id
	}
	return p.Conversation.Meta.Sender.PhoneNumber
}

// AgentName returns the display name to sign outgoing messages with.
func (p *WebhookPayload) AgentName() string {
	if p.Sender == nil {
		return ""
	}
	if p.Sender.AvailableName != "" {
		return p.Sender.AvailableName
	}
	return p.Sender.Name
}

// TestConnectionRequest validates a set of credentials without persisting.
type TestConnectionRequest struct {
	URL       string `json:"url" validate:"required,url"`
	Token     string `json:"token" validate:"required"`
	AccountID string `json:"accountId" validate:"required"`
}

type TestConnectionResponse struct {
	OK          bool   `json:"ok"`
	AccountName string `json:"accountName,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SyncRequest starts a bulk sync job. WindowDays overrides the configured
// history window for this run only.
type SyncRequest struct {
	Type       string `json:"type" validate:"required,oneof=contacts messages all"`
	WindowDays int    `json:"windowDays,omitempty" validate:"omitempty,min=1,max=365"`
}

// OverviewResponse compares WhatsApp-side and Chatwoot-side totals so an
// operator can see how far reconciliation has drifted.
type OverviewResponse struct {
	SessionID             string         `json:"sessionId"`
	Enabled               bool           `json:"enabled"`
	WhatsappContacts      int            `json:"whatsappContacts"`
	MappedContacts        int            `json:"mappedContacts"`
	ChatwootContacts      int            `json:"chatwootContacts"`
	ConversationsByStatus map[string]int `json:"conversationsByStatus"`
	LastSync              *ports.SyncJob `json:"lastSync,omitempty"`
	GeneratedAt           time.Time      `json:"generatedAt"`
}
