package wameow

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wootsync/internal/ports"
)

// Extract normalizes a whatsmeow message event. Media payloads are
// downloaded eagerly so downstream handlers never touch protocol types.
func (g *Gateway) Extract(ctx context.Context, sessionID string, evt *events.Message) (*ports.WhatsAppMessage, error) {
	if evt.Message == nil {
		return nil, fmt.Errorf("event carries no message")
	}

	msg := &ports.WhatsAppMessage{
		ID:         string(evt.Info.ID),
		SessionID:  sessionID,
		ChatJID:    evt.Info.Chat.String(),
		SenderJID:  evt.Info.Sender.String(),
		SenderName: evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp,
	}
	if evt.Info.IsGroup {
		msg.ChatName = g.groupSubject(ctx, sessionID, evt.Info.Chat)
	}

	content := evt.Message
	switch {
	case content.GetConversation() != "":
		msg.Kind = ports.MessageKindText
		msg.Text = content.GetConversation()

	case content.ExtendedTextMessage != nil:
		ext := content.ExtendedTextMessage
		msg.Kind = ports.MessageKindText
		msg.Text = ext.GetText()
		msg.QuotedMessageID = ext.GetContextInfo().GetStanzaID()

	case content.ImageMessage != nil:
		img := content.ImageMessage
		msg.Kind = ports.MessageKindImage
		msg.QuotedMessageID = img.GetContextInfo().GetStanzaID()
		msg.Media = g.downloadMedia(ctx, sessionID, img, img.GetMimetype(), img.GetCaption(), "")

	case content.AudioMessage != nil:
		audio := content.AudioMessage
		msg.Kind = ports.MessageKindAudio
		msg.QuotedMessageID = audio.GetContextInfo().GetStanzaID()
		msg.Media = g.downloadMedia(ctx, sessionID, audio, audio.GetMimetype(), "", "")
		if msg.Media != nil {
			msg.Media.Seconds = int(audio.GetSeconds())
			msg.Media.Voice = audio.GetPTT()
		}

	case content.VideoMessage != nil:
		video := content.VideoMessage
		msg.Kind = ports.MessageKindVideo
		msg.QuotedMessageID = video.GetContextInfo().GetStanzaID()
		msg.Media = g.downloadMedia(ctx, sessionID, video, video.GetMimetype(), video.GetCaption(), "")
		if msg.Media != nil {
			msg.Media.Seconds = int(video.GetSeconds())
		}

	case content.DocumentMessage != nil:
		doc := content.DocumentMessage
		msg.Kind = ports.MessageKindDocument
		msg.QuotedMessageID = doc.GetContextInfo().GetStanzaID()
		msg.Media = g.downloadMedia(ctx, sessionID, doc, doc.GetMimetype(), doc.GetCaption(), doc.GetFileName())

	case content.StickerMessage != nil:
		sticker := content.StickerMessage
		msg.Kind = ports.MessageKindSticker
		msg.QuotedMessageID = sticker.GetContextInfo().GetStanzaID()
		msg.Media = g.downloadMedia(ctx, sessionID, sticker, sticker.GetMimetype(), "", "")

	case content.LocationMessage != nil:
		loc := content.LocationMessage
		msg.Kind = ports.MessageKindLocation
		msg.Location = &ports.LocationContent{
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Name:      loc.GetName(),
			Address:   loc.GetAddress(),
		}

	case content.ContactMessage != nil:
		contact := content.ContactMessage
		msg.Kind = ports.MessageKindContact
		msg.ContactCard = &ports.ContactCardContent{
			DisplayName: contact.GetDisplayName(),
			VCard:       contact.GetVcard(),
		}

	case content.ReactionMessage != nil:
		reaction := content.ReactionMessage
		msg.Kind = ports.MessageKindReaction
		msg.Reaction = &ports.ReactionContent{
			Emoji:           reaction.GetText(),
			TargetMessageID: reaction.GetKey().GetID(),
		}

	case content.PollCreationMessage != nil:
		msg.Kind = ports.MessageKindPoll
		msg.Poll = pollContent(content.PollCreationMessage)

	case content.PollCreationMessageV3 != nil:
		msg.Kind = ports.MessageKindPoll
		msg.Poll = pollContent(content.PollCreationMessageV3)

	case content.ListResponseMessage != nil:
		list := content.ListResponseMessage
		msg.Kind = ports.MessageKindInteractive
		msg.SelectedOption = list.GetTitle()
		msg.QuotedMessageID = list.GetContextInfo().GetStanzaID()

	case content.ButtonsResponseMessage != nil:
		buttons := content.ButtonsResponseMessage
		msg.Kind = ports.MessageKindInteractive
		msg.SelectedOption = buttons.GetSelectedDisplayText()
		msg.QuotedMessageID = buttons.GetContextInfo().GetStanzaID()

	case content.TemplateButtonReplyMessage != nil:
		tmpl := content.TemplateButtonReplyMessage
		msg.Kind = ports.MessageKindInteractive
		msg.SelectedOption = tmpl.GetSelectedDisplayText()
		msg.QuotedMessageID = tmpl.GetContextInfo().GetStanzaID()

	case content.ProtocolMessage != nil && content.ProtocolMessage.GetType() == waE2E.ProtocolMessage_REVOKE:
		msg.Kind = ports.MessageKindRevoke
		msg.QuotedMessageID = content.ProtocolMessage.GetKey().GetID()

	default:
		msg.Kind = ports.MessageKindUnsupported
	}

	return msg, nil
}

func pollContent(poll *waE2E.PollCreationMessage) *ports.PollContent {
	options := make([]string, 0, len(poll.GetOptions()))
	for _, opt := range poll.GetOptions() {
		options = append(options, opt.GetOptionName())
	}
	return &ports.PollContent{
		Title:   poll.GetName(),
		Options: options,
	}
}

// groupSubject looks the group name up so the chat is not labelled after
// whoever happened to speak first. Lookup failures degrade to an empty
// name.
func (g *Gateway) groupSubject(ctx context.Context, sessionID string, jid types.JID) string {
	client, err := g.client(sessionID)
	if err != nil {
		return ""
	}
	info, err := client.GetGroupInfo(jid)
	if err != nil {
		g.logger.WithError(err).WarnWithFields("Group info lookup failed", map[string]interface{}{
			"session_id": sessionID,
			"group_jid":  jid.String(),
		})
		return ""
	}
	return info.Name
}

// downloadMedia fetches the encrypted payload. Failures return nil media;
// the handler drops the message rather than sync a broken attachment.
func (g *Gateway) downloadMedia(ctx context.Context, sessionID string, downloadable whatsmeow.DownloadableMessage, mimeType, caption, fileName string) *ports.MediaContent {
	client, err := g.client(sessionID)
	if err != nil {
		g.logger.WithError(err).Warn("Media download skipped: no client")
		return nil
	}
	data, err := client.Download(ctx, downloadable)
	if err != nil {
		g.logger.WithError(err).WarnWithFields("Media download failed", map[string]interface{}{
			"session_id": sessionID,
			"mime_type":  mimeType,
		})
		return nil
	}
	return &ports.MediaContent{
		Data:     data,
		MimeType: mimeType,
		FileName: fileName,
		Caption:  caption,
	}
}
