package wameow

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wootsync/platform/logger"
)

// Bootstrap connects every WhatsApp device stored in the whatsmeow device
// store and attaches the dispatcher to each. Session ids are the device's
// phone number, matching the ids used in mappings and webhook paths.
type Bootstrap struct {
	container  *sqlstore.Container
	dispatcher *Dispatcher
	attached   map[string]attachedSession
	logger     *logger.Logger
}

type attachedSession struct {
	client    *whatsmeow.Client
	handlerID uint32
}

func NewBootstrap(ctx context.Context, databaseURL string, dispatcher *Dispatcher, log *logger.Logger) (*Bootstrap, error) {
	container, err := sqlstore.New(ctx, "postgres", databaseURL, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsmeow store: %w", err)
	}
	return &Bootstrap{
		container:  container,
		dispatcher: dispatcher,
		attached:   make(map[string]attachedSession),
		logger:     log.WithModule("wameow-bootstrap"),
	}, nil
}

// ConnectAll brings up every registered device. Devices that fail to
// connect are logged and skipped; the rest of the fleet still comes up.
func (b *Bootstrap) ConnectAll(ctx context.Context) error {
	devices, err := b.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	for _, device := range devices {
		if device.ID == nil {
			continue
		}
		sessionID := device.ID.User
		client := whatsmeow.NewClient(device, waLog.Noop)
		handlerID := b.dispatcher.Attach(sessionID, client)
		if err := client.Connect(); err != nil {
			b.dispatcher.Detach(sessionID, client, handlerID)
			b.logger.WithError(err).WarnWithFields("Device connect failed", map[string]interface{}{
				"session_id": sessionID,
			})
			continue
		}
		b.attached[sessionID] = attachedSession{client: client, handlerID: handlerID}
		b.logger.InfoWithFields("Session connected", map[string]interface{}{
			"session_id": sessionID,
		})
	}
	return nil
}

// Disconnect tears down every attached session.
func (b *Bootstrap) Disconnect() {
	for sessionID, session := range b.attached {
		b.dispatcher.Detach(sessionID, session.client, session.handlerID)
		session.client.Disconnect()
		delete(b.attached, sessionID)
	}
}
