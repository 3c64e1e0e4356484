package ports

import (
	"context"
	"time"
)

// WhatsApp message kinds as classified by the event extractor.
const (
	MessageKindText        = "text"
	MessageKindImage       = "image"
	MessageKindAudio       = "audio"
	MessageKindVideo       = "video"
	MessageKindDocument    = "document"
	MessageKindSticker     = "sticker"
	MessageKindLocation    = "location"
	MessageKindContact     = "contact"
	MessageKindReaction    = "reaction"
	MessageKindPoll        = "poll"
	MessageKindInteractive = "interactive"
	MessageKindRevoke      = "revoke"
	MessageKindUnsupported = "unsupported"
)

// WhatsAppMessage is a normalized inbound WhatsApp event, independent of
// the underlying protocol types.
type WhatsAppMessage struct {
	ID              string
	SessionID       string
	ChatJID         string
	ChatName        string // group subject, empty for direct chats
	SenderJID       string
	SenderName      string
	FromMe          bool
	Timestamp       time.Time
	Kind            string
	Text            string
	Media           *MediaContent
	Location        *LocationContent
	ContactCard     *ContactCardContent
	Reaction        *ReactionContent
	Poll            *PollContent
	SelectedOption  string // interactive replies: the chosen row/button text
	QuotedMessageID string
}

type MediaContent struct {
	Data     []byte
	MimeType string
	FileName string
	Caption  string
	Seconds  int  // audio/video duration
	Voice    bool // push-to-talk audio
}

type LocationContent struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type ContactCardContent struct {
	DisplayName string
	VCard       string
}

type ReactionContent struct {
	Emoji           string
	TargetMessageID string
}

type PollContent struct {
	Title   string
	Options []string
}

// OutboundMedia is media to deliver to WhatsApp, already decoded.
type OutboundMedia struct {
	Kind     string // image, audio, video, document, sticker
	Data     []byte
	MimeType string
	FileName string
	Caption  string
}

// MessageSender delivers agent replies to WhatsApp. Implementations return
// the WhatsApp id of the sent message.
type MessageSender interface {
	SendText(ctx context.Context, sessionID, chatJID, body string, quotedID string) (string, error)
	SendMedia(ctx context.Context, sessionID, chatJID string, media *OutboundMedia, quotedID string) (string, error)
	RevokeMessage(ctx context.Context, sessionID, chatJID, messageID string) error
}

// WaContact is a WhatsApp contact persisted by the gateway.
type WaContact struct {
	SessionID string    `db:"sessionId"`
	JID       string    `db:"jid"`
	Name      string    `db:"name"`
	FirstSeen time.Time `db:"firstSeen"`
	UpdatedAt time.Time `db:"updatedAt"`
}

// WaStoredMessage is an inbound WhatsApp message persisted for history sync.
type WaStoredMessage struct {
	SessionID  string    `db:"sessionId"`
	MessageID  string    `db:"messageId"`
	ChatJID    string    `db:"chatJid"`
	SenderJID  string    `db:"senderJid"`
	SenderName string    `db:"senderName"`
	FromMe     bool      `db:"fromMe"`
	Kind       string    `db:"kind"`
	Content    string    `db:"content"`
	QuotedID   string    `db:"quotedId"`
	Timestamp  time.Time `db:"timestamp"`
	StoredAt   time.Time `db:"storedAt"`
}

// WaStore persists WhatsApp contacts and messages so bulk sync can replay
// history without the protocol connection.
type WaStore interface {
	UpsertContact(ctx context.Context, contact *WaContact) error
	CountContactsSince(ctx context.Context, sessionID string, since time.Time) (int, error)
	ListContactsSince(ctx context.Context, sessionID string, since time.Time, offset, limit int) ([]*WaContact, error)

	SaveMessage(ctx context.Context, msg *WaStoredMessage) error
	CountMessagesSince(ctx context.Context, sessionID string, since time.Time) (int, error)
	ListChatsSince(ctx context.Context, sessionID string, since time.Time) ([]string, error)
	// ListChatMessagesSince returns a chat's messages ascending by timestamp.
	ListChatMessagesSince(ctx context.Context, sessionID, chatJID string, since time.Time) ([]*WaStoredMessage, error)
}
