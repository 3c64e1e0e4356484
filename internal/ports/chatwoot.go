package ports

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConfigNotFound      = errors.New("chatwoot config not found")
	ErrMappingNotFound     = errors.New("mapping not found")
	ErrSyncAlreadyRunning  = errors.New("sync job already running")
	ErrSyncJobNotFound     = errors.New("sync job not found")
	ErrContactNotFound     = errors.New("chatwoot contact not found")
	ErrConversationMissing = errors.New("chatwoot conversation not found")
)

// ChatwootClient is the typed surface of the Chatwoot REST API the engine
// consumes. Implementations are stateless; one client per configured account.
type ChatwootClient interface {
	// ValidateCredentials fetches the account behind the configured token.
	ValidateCredentials(ctx context.Context) (*ChatwootAccount, error)

	ListInboxes(ctx context.Context) ([]ChatwootInbox, error)
	CreateInbox(ctx context.Context, name, webhookURL string) (*ChatwootInbox, error)

	// SearchContactByIdentifier returns (nil, nil) when no contact matches.
	SearchContactByIdentifier(ctx context.Context, identifier string) (*ChatwootContact, error)
	CreateContact(ctx context.Context, inboxID int, identifier, phoneNumber, name string) (*ChatwootContact, error)
	UpdateContactAttributes(ctx context.Context, contactID int, attributes map[string]interface{}) error
	CountContacts(ctx context.Context) (int, error)

	ListContactConversations(ctx context.Context, contactID int) ([]ChatwootConversation, error)
	CreateConversation(ctx context.Context, contactID, inboxID int, pending bool) (*ChatwootConversation, error)
	ToggleConversationStatus(ctx context.Context, conversationID int, status string) error
	CountConversations(ctx context.Context, status string) (int, error)

	CreateMessage(ctx context.Context, conversationID int, draft *MessageDraft) (*ChatwootMessage, error)
	FetchAttachment(ctx context.Context, dataURL string) ([]byte, error)
}

// MessageDraft is the payload for creating a message in Chatwoot. At most
// one attachment; a caption-only media message stays a single draft.
type MessageDraft struct {
	Content             string
	MessageType         string // incoming or outgoing
	SourceID            string // originating WhatsApp message id
	InReplyTo           *int   // chatwoot message id of the quoted message
	InReplyToExternalID string // WhatsApp id of the quoted message
	Private             bool
	Attachment          *AttachmentDraft
}

type AttachmentDraft struct {
	FileName string
	MimeType string
	Data     []byte
}

type ChatwootAccount struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

type ChatwootInbox struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
	WebhookURL  string `json:"webhook_url,omitempty"`
}

type ChatwootContact struct {
	ID                   int                    `json:"id"`
	Name                 string                 `json:"name"`
	PhoneNumber          string                 `json:"phone_number"`
	Identifier           string                 `json:"identifier,omitempty"`
	Email                string                 `json:"email,omitempty"`
	AdditionalAttributes map[string]interface{} `json:"additional_attributes,omitempty"`
	CustomAttributes     map[string]interface{} `json:"custom_attributes,omitempty"`
}

type ChatwootConversation struct {
	ID      int    `json:"id"`
	InboxID int    `json:"inbox_id"`
	Status  string `json:"status"`
	Meta    struct {
		Sender struct {
			ID          int    `json:"id"`
			Name        string `json:"name"`
			Identifier  string `json:"identifier"`
			PhoneNumber string `json:"phone_number"`
		} `json:"sender"`
	} `json:"meta"`
}

type ChatwootMessage struct {
	ID                int                    `json:"id"`
	ConversationID    int                    `json:"conversation_id"`
	Content           string                 `json:"content"`
	MessageType       string                 `json:"message_type"`
	Private           bool                   `json:"private"`
	SourceID          string                 `json:"source_id,omitempty"`
	ContentAttributes map[string]interface{} `json:"content_attributes,omitempty"`
	Attachments       []ChatwootAttachment   `json:"attachments,omitempty"`
	CreatedAt         int64                  `json:"created_at"`
}

type ChatwootAttachment struct {
	ID       int    `json:"id"`
	FileType string `json:"file_type"`
	DataURL  string `json:"data_url"`
	ThumbURL string `json:"thumb_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// Conversation status values mirrored from Chatwoot.
const (
	ConversationStatusOpen     = "open"
	ConversationStatusPending  = "pending"
	ConversationStatusResolved = "resolved"
)

// ContactMapping links a WhatsApp JID to a Chatwoot contact. At most one
// per (session, jid); the mapping is the source of truth for routing.
type ContactMapping struct {
	ID           string    `db:"id"`
	SessionID    string    `db:"sessionId"`
	WhatsappJID  string    `db:"whatsappJid"`
	CwContactID  int       `db:"cwContactId"`
	CwIdentifier string    `db:"cwIdentifier"`
	CreatedAt    time.Time `db:"createdAt"`
	UpdatedAt    time.Time `db:"updatedAt"`
}

// ConversationMapping links a WhatsApp JID to a Chatwoot conversation.
// Status mirrors the last known Chatwoot state.
type ConversationMapping struct {
	ID               string    `db:"id"`
	SessionID        string    `db:"sessionId"`
	WhatsappJID      string    `db:"whatsappJid"`
	CwConversationID int       `db:"cwConversationId"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"createdAt"`
	UpdatedAt        time.Time `db:"updatedAt"`
}

// MessageMapping links a WhatsApp message id to the Chatwoot message it
// became. Rows with EchoPending set act as echo tags: the next webhook
// reporting that Chatwoot message is an echo of our own push and must be
// discarded. Tags are consumed on match and garbage-collected by TTL.
type MessageMapping struct {
	ID               string    `db:"id"`
	SessionID        string    `db:"sessionId"`
	WaMessageID      string    `db:"waMessageId"`
	ChatJID          string    `db:"chatJid"`
	CwMessageID      *int      `db:"cwMessageId"`
	CwConversationID *int      `db:"cwConversationId"`
	EchoPending      bool      `db:"echoPending"`
	CreatedAt        time.Time `db:"createdAt"`
	UpdatedAt        time.Time `db:"updatedAt"`
}

// Sync job types and statuses.
const (
	SyncTypeContacts = "contacts"
	SyncTypeMessages = "messages"
	SyncTypeAll      = "all"

	SyncStatusIdle      = "idle"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

type SyncJob struct {
	ID         string     `db:"id" json:"id"`
	SessionID  string     `db:"sessionId" json:"sessionId"`
	Type       string     `db:"type" json:"type"`
	Status     string     `db:"status" json:"status"`
	Progress   int        `db:"progress" json:"progress"`
	Total      int        `db:"total" json:"total"`
	Error      *string    `db:"error" json:"error,omitempty"`
	StartedAt  *time.Time `db:"startedAt" json:"startedAt,omitempty"`
	FinishedAt *time.Time `db:"finishedAt" json:"finishedAt,omitempty"`
	UpdatedAt  time.Time  `db:"updatedAt" json:"updatedAt"`
}

type ConfigRepository interface {
	Create(ctx context.Context, config *ChatwootConfig) error
	GetBySessionID(ctx context.Context, sessionID string) (*ChatwootConfig, error)
	Update(ctx context.Context, config *ChatwootConfig) error
	Delete(ctx context.Context, sessionID string) error
}

// ChatwootConfig is the persisted per-session integration configuration.
type ChatwootConfig struct {
	ID               string    `db:"id"`
	SessionID        string    `db:"sessionId"`
	URL              string    `db:"url"`
	Token            string    `db:"token"`
	AccountID        string    `db:"accountId"`
	InboxID          *int      `db:"inboxId"`
	InboxName        *string   `db:"inboxName"`
	Enabled          bool      `db:"enabled"`
	SignAgentName    bool      `db:"signAgentName"`
	SignSeparator    string    `db:"signSeparator"`
	AutoReopen       bool      `db:"autoReopen"`
	ConvPending      bool      `db:"convPending"`
	MergeLocalPhones bool      `db:"mergeLocalPhones"`
	SyncContacts     bool      `db:"syncContacts"`
	SyncMessages     bool      `db:"syncMessages"`
	SyncWindowDays   int       `db:"syncWindowDays"`
	IgnoreJids       []string  `db:"-"`
	CreatedAt        time.Time `db:"createdAt"`
	UpdatedAt        time.Time `db:"updatedAt"`
}

// IsIgnored reports whether a chat JID is on the ignore list.
func (c *ChatwootConfig) IsIgnored(jid string) bool {
	for _, ignored := range c.IgnoreJids {
		if ignored == jid {
			return true
		}
	}
	return false
}

func (c *ChatwootConfig) IsConfigured() bool {
	return c.URL != "" && c.Token != "" && c.AccountID != ""
}

type MappingRepository interface {
	GetContactMapping(ctx context.Context, sessionID, jid string) (*ContactMapping, error)
	CreateContactMapping(ctx context.Context, mapping *ContactMapping) error
	UpdateContactMappingContact(ctx context.Context, id string, cwContactID int) error
	CountContactMappings(ctx context.Context, sessionID string) (int, error)

	GetConversationMapping(ctx context.Context, sessionID, jid string) (*ConversationMapping, error)
	GetConversationMappingByCwID(ctx context.Context, sessionID string, cwConversationID int) (*ConversationMapping, error)
	CreateConversationMapping(ctx context.Context, mapping *ConversationMapping) error
	ReplaceConversationMapping(ctx context.Context, mapping *ConversationMapping) error
	UpdateConversationStatus(ctx context.Context, id, status string) error
	ListConversationMappings(ctx context.Context, sessionID string) ([]*ConversationMapping, error)

	DeleteSessionMappings(ctx context.Context, sessionID string) error
}

type MessageMappingRepository interface {
	Create(ctx context.Context, mapping *MessageMapping) error
	GetByWaID(ctx context.Context, sessionID, waMessageID string) (*MessageMapping, error)
	GetByCwID(ctx context.Context, sessionID string, cwMessageID int) (*MessageMapping, error)
	MarkSynced(ctx context.Context, id string, cwMessageID, cwConversationID int, echoPending bool) error
	// ConsumeEchoTag atomically clears a pending echo tag for the given
	// Chatwoot message id, reporting whether one was pending.
	ConsumeEchoTag(ctx context.Context, sessionID string, cwMessageID int) (bool, error)
	ExpireEchoTags(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteSessionMappings(ctx context.Context, sessionID string) error
}

type SyncJobRepository interface {
	// Claim inserts a running job; returns ErrSyncAlreadyRunning when the
	// session already has one (enforced by a partial unique index).
	Claim(ctx context.Context, job *SyncJob) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	SetTotal(ctx context.Context, id string, total int) error
	Finish(ctx context.Context, id, status string, errMsg *string) error
	GetLatest(ctx context.Context, sessionID string) (*SyncJob, error)
	// FailStale marks running jobs without recent progress as failed.
	FailStale(ctx context.Context, olderThan time.Time) (int64, error)
}
