package wameow

import (
	"context"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// Gateway bridges the sync engine and whatsmeow. It keeps one client per
// session and implements ports.MessageSender for the webhook side.
type Gateway struct {
	mu      sync.RWMutex
	clients map[string]*whatsmeow.Client
	logger  *logger.Logger
}

func NewGateway(log *logger.Logger) *Gateway {
	return &Gateway{
		clients: make(map[string]*whatsmeow.Client),
		logger:  log.WithModule("wameow-gateway"),
	}
}

// Register attaches a connected client to a session id.
func (g *Gateway) Register(sessionID string, client *whatsmeow.Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[sessionID] = client
}

func (g *Gateway) Unregister(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, sessionID)
}

func (g *Gateway) client(sessionID string) (*whatsmeow.Client, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	client, ok := g.clients[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s has no connected client", sessionID)
	}
	if !client.IsLoggedIn() {
		return nil, fmt.Errorf("session %s is not logged in", sessionID)
	}
	return client, nil
}

func (g *Gateway) SendText(ctx context.Context, sessionID, chatJID, body, quotedID string) (string, error) {
	client, err := g.client(sessionID)
	if err != nil {
		return "", err
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("invalid JID %q: %w", chatJID, err)
	}

	message := &waE2E.Message{Conversation: &body}
	if quotedID != "" {
		message = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text:        &body,
				ContextInfo: quotedContext(quotedID, chatJID),
			},
		}
	}

	resp, err := client.SendMessage(ctx, jid, message)
	if err != nil {
		return "", fmt.Errorf("failed to send text message: %w", err)
	}
	g.logger.DebugWithFields("Text message sent", map[string]interface{}{
		"session_id": sessionID,
		"to":         chatJID,
		"message_id": resp.ID,
	})
	return string(resp.ID), nil
}

func (g *Gateway) SendMedia(ctx context.Context, sessionID, chatJID string, media *ports.OutboundMedia, quotedID string) (string, error) {
	client, err := g.client(sessionID)
	if err != nil {
		return "", err
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("invalid JID %q: %w", chatJID, err)
	}

	uploaded, err := client.Upload(ctx, media.Data, uploadType(media.Kind))
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", err)
	}

	message := buildMediaMessage(media, uploaded, quotedContext(quotedID, chatJID))
	resp, err := client.SendMessage(ctx, jid, message)
	if err != nil {
		return "", fmt.Errorf("failed to send media message: %w", err)
	}
	g.logger.DebugWithFields("Media message sent", map[string]interface{}{
		"session_id": sessionID,
		"to":         chatJID,
		"kind":       media.Kind,
		"size":       len(media.Data),
		"message_id": resp.ID,
	})
	return string(resp.ID), nil
}

func (g *Gateway) RevokeMessage(ctx context.Context, sessionID, chatJID, messageID string) error {
	client, err := g.client(sessionID)
	if err != nil {
		return err
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", chatJID, err)
	}
	if _, err := client.SendMessage(ctx, jid, client.BuildRevoke(jid, types.EmptyJID, types.MessageID(messageID))); err != nil {
		return fmt.Errorf("failed to revoke message: %w", err)
	}
	return nil
}

func quotedContext(quotedID, chatJID string) *waE2E.ContextInfo {
	if quotedID == "" {
		return nil
	}
	return &waE2E.ContextInfo{
		StanzaID:      proto.String(quotedID),
		Participant:   proto.String(chatJID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
	}
}

func uploadType(kind string) whatsmeow.MediaType {
	switch kind {
	case ports.MessageKindAudio:
		return whatsmeow.MediaAudio
	case ports.MessageKindVideo:
		return whatsmeow.MediaVideo
	case ports.MessageKindDocument:
		return whatsmeow.MediaDocument
	default:
		return whatsmeow.MediaImage
	}
}

func buildMediaMessage(media *ports.OutboundMedia, uploaded whatsmeow.UploadResponse, contextInfo *waE2E.ContextInfo) *waE2E.Message {
	mimetype := media.MimeType
	switch media.Kind {
	case ports.MessageKindAudio:
		if mimetype == "" {
			mimetype = "audio/ogg; codecs=opus"
		}
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      &mimetype,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				ContextInfo:   contextInfo,
			},
		}
	case ports.MessageKindVideo:
		if mimetype == "" {
			mimetype = "video/mp4"
		}
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				Caption:       &media.Caption,
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      &mimetype,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				ContextInfo:   contextInfo,
			},
		}
	case ports.MessageKindDocument:
		if mimetype == "" {
			mimetype = "application/octet-stream"
		}
		filename := media.FileName
		if filename == "" {
			filename = "document"
		}
		documentMessage := &waE2E.DocumentMessage{
			Title:         &filename,
			FileName:      &filename,
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			Mimetype:      &mimetype,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
			ContextInfo:   contextInfo,
		}
		if media.Caption != "" {
			documentMessage.Caption = &media.Caption
		}
		return &waE2E.Message{DocumentMessage: documentMessage}
	default:
		if mimetype == "" {
			mimetype = "image/jpeg"
		}
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       &media.Caption,
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      &mimetype,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				ContextInfo:   contextInfo,
			},
		}
	}
}
