package chatwoot

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	domain "wootsync/internal/domain/chatwoot"
	"wootsync/internal/ports"
)

// Translator converts messages between the WhatsApp and Chatwoot shapes.
// It is stateless; reply linkage ids are filled in by the handlers that
// own the message mappings.
type Translator struct{}

func NewTranslator() *Translator { return &Translator{} }

// ToChatwoot builds the Chatwoot message draft for an inbound WhatsApp
// message. Revoke events carry no content and are rejected; handlers treat
// them as deletions instead.
func (t *Translator) ToChatwoot(msg *ports.WhatsAppMessage) (*ports.MessageDraft, error) {
	draft := &ports.MessageDraft{
		MessageType: domain.MessageTypeIncoming,
		SourceID:    msg.ID,
	}
	if msg.FromMe {
		draft.MessageType = domain.MessageTypeOutgoing
	}
	if msg.QuotedMessageID != "" {
		draft.InReplyToExternalID = msg.QuotedMessageID
	}

	prefix := ""
	if IsGroupJID(msg.ChatJID) && !msg.FromMe {
		prefix = groupSenderPrefix(msg.SenderName, msg.SenderJID)
	}

	switch msg.Kind {
	case ports.MessageKindText:
		draft.Content = prefix + toChatwootMarkup(msg.Text)

	case ports.MessageKindImage, ports.MessageKindAudio, ports.MessageKindVideo,
		ports.MessageKindDocument, ports.MessageKindSticker:
		if msg.Media == nil || len(msg.Media.Data) == 0 {
			return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("media payload is empty"))
		}
		draft.Attachment = &ports.AttachmentDraft{
			FileName: attachmentFileName(msg.Kind, msg.Media),
			MimeType: msg.Media.MimeType,
			Data:     msg.Media.Data,
		}
		if msg.Media.Caption != "" {
			draft.Content = prefix + toChatwootMarkup(msg.Media.Caption)
		} else if prefix != "" {
			draft.Content = strings.TrimSuffix(prefix, "\n")
		}

	case ports.MessageKindLocation:
		if msg.Location == nil {
			return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("location payload is empty"))
		}
		draft.Content = prefix + formatLocation(msg.Location.Latitude, msg.Location.Longitude, msg.Location.Name, msg.Location.Address)

	case ports.MessageKindContact:
		if msg.ContactCard == nil {
			return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("contact payload is empty"))
		}
		draft.Content = prefix + formatContactCard(msg.ContactCard.DisplayName, msg.ContactCard.VCard)

	case ports.MessageKindReaction:
		if msg.Reaction == nil {
			return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("reaction payload is empty"))
		}
		draft.Content = prefix + formatReaction(msg.Reaction.Emoji)
		draft.InReplyToExternalID = msg.Reaction.TargetMessageID

	case ports.MessageKindPoll:
		if msg.Poll == nil {
			return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("poll payload is empty"))
		}
		draft.Content = prefix + formatPoll(msg.Poll.Title, msg.Poll.Options)

	case ports.MessageKindInteractive:
		draft.Content = prefix + toChatwootMarkup(msg.SelectedOption)

	case ports.MessageKindRevoke:
		return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("revocations are handled as deletions"))

	default:
		return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("unsupported message kind"))
	}

	if draft.Content == "" && draft.Attachment == nil {
		return nil, domain.NewTranslationError(msg.ID, msg.Kind, errors.New("translated message is empty"))
	}
	return draft, nil
}

// OutboundText renders the webhook's text content for WhatsApp, applying
// the agent signature when the config asks for it.
func (t *Translator) OutboundText(cfg *ports.ChatwootConfig, payload *domain.WebhookPayload) string {
	content := toWhatsAppMarkup(payload.Content)
	if cfg.SignAgentName {
		content = signContent(content, payload.AgentName(), cfg.SignSeparator)
	}
	return content
}

// OutboundMedia builds the WhatsApp media payload for a webhook attachment.
func (t *Translator) OutboundMedia(att *domain.WebhookAttachment, data []byte, caption string) (*ports.OutboundMedia, error) {
	kind := mediaKindFromFileType(att.FileType)
	if kind == "" {
		return nil, domain.NewTranslationError(att.DataURL, att.FileType, errors.New("unsupported attachment type"))
	}
	mimeType := mimeTypeFor(att)
	fileName := att.FileName
	if fileName == "" {
		fileName = fallbackFileName(kind, mimeType)
	}
	return &ports.OutboundMedia{
		Kind:     kind,
		Data:     data,
		MimeType: mimeType,
		FileName: fileName,
		Caption:  caption,
	}, nil
}

func mediaKindFromFileType(fileType string) string {
	switch fileType {
	case "image":
		return ports.MessageKindImage
	case "audio":
		return ports.MessageKindAudio
	case "video":
		return ports.MessageKindVideo
	case "file":
		return ports.MessageKindDocument
	}
	return ""
}

func mimeTypeFor(att *domain.WebhookAttachment) string {
	if att.FileName != "" {
		if idx := strings.LastIndex(att.FileName, "."); idx >= 0 {
			if mt := mime.TypeByExtension(att.FileName[idx:]); mt != "" {
				return mt
			}
		}
	}
	switch att.FileType {
	case "image":
		return "image/jpeg"
	case "audio":
		return "audio/ogg"
	case "video":
		return "video/mp4"
	}
	return "application/octet-stream"
}

func attachmentFileName(kind string, media *ports.MediaContent) string {
	if media.FileName != "" {
		return media.FileName
	}
	return fallbackFileName(kind, media.MimeType)
}

func fallbackFileName(kind, mimeType string) string {
	ext := extensionFor(mimeType)
	switch kind {
	case ports.MessageKindImage, ports.MessageKindSticker:
		return "image" + ext
	case ports.MessageKindAudio:
		return "audio" + ext
	case ports.MessageKindVideo:
		return "video" + ext
	}
	return "file" + ext
}

func extensionFor(mimeType string) string {
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	switch strings.TrimSpace(base) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// StoredContent renders a compact text form of a message for the host
// store, used when replaying history during bulk sync.
func (t *Translator) StoredContent(msg *ports.WhatsAppMessage) string {
	switch msg.Kind {
	case ports.MessageKindText:
		return msg.Text
	case ports.MessageKindImage, ports.MessageKindAudio, ports.MessageKindVideo,
		ports.MessageKindDocument, ports.MessageKindSticker:
		caption := ""
		if msg.Media != nil {
			caption = msg.Media.Caption
		}
		if caption != "" {
			return fmt.Sprintf("[%s] %s", msg.Kind, caption)
		}
		return fmt.Sprintf("[%s]", msg.Kind)
	case ports.MessageKindLocation:
		if msg.Location != nil {
			return formatLocation(msg.Location.Latitude, msg.Location.Longitude, msg.Location.Name, msg.Location.Address)
		}
	case ports.MessageKindContact:
		if msg.ContactCard != nil {
			return formatContactCard(msg.ContactCard.DisplayName, msg.ContactCard.VCard)
		}
	case ports.MessageKindReaction:
		if msg.Reaction != nil {
			return formatReaction(msg.Reaction.Emoji)
		}
	case ports.MessageKindPoll:
		if msg.Poll != nil {
			return formatPoll(msg.Poll.Title, msg.Poll.Options)
		}
	case ports.MessageKindInteractive:
		return msg.SelectedOption
	}
	return ""
}
