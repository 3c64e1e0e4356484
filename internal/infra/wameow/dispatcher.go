package wameow

import (
	"context"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

const eventHandleTimeout = 2 * time.Minute

// MessageHandler consumes normalized inbound messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *ports.WhatsAppMessage) error
}

// Dispatcher feeds a session's whatsmeow events into the message handler.
// Events are processed on whatsmeow's per-client dispatch goroutine, which
// keeps messages from the same chat in arrival order.
type Dispatcher struct {
	gateway  *Gateway
	handler  MessageHandler
	failures atomic.Uint64
	logger   *logger.Logger
}

func NewDispatcher(gateway *Gateway, handler MessageHandler, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		gateway: gateway,
		handler: handler,
		logger:  log.WithModule("wameow-dispatcher"),
	}
}

// Attach registers the session's client with the gateway and subscribes to
// its events. Returns the handler id for later removal.
func (d *Dispatcher) Attach(sessionID string, client *whatsmeow.Client) uint32 {
	d.gateway.Register(sessionID, client)
	return client.AddEventHandler(func(rawEvt interface{}) {
		evt, ok := rawEvt.(*events.Message)
		if !ok {
			return
		}
		d.dispatch(sessionID, evt)
	})
}

func (d *Dispatcher) Detach(sessionID string, client *whatsmeow.Client, handlerID uint32) {
	client.RemoveEventHandler(handlerID)
	d.gateway.Unregister(sessionID)
}

func (d *Dispatcher) dispatch(sessionID string, evt *events.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), eventHandleTimeout)
	defer cancel()

	msg, err := d.gateway.Extract(ctx, sessionID, evt)
	if err != nil {
		d.logger.WithError(err).WarnWithFields("Event extraction failed", map[string]interface{}{
			"session_id":     sessionID,
			"message_id":     string(evt.Info.ID),
			"total_failures": d.failures.Add(1),
		})
		return
	}
	if err := d.handler.HandleMessage(ctx, msg); err != nil {
		d.logger.WithError(err).ErrorWithFields("Message handling failed", map[string]interface{}{
			"session_id":     sessionID,
			"message_id":     msg.ID,
			"chat_jid":       msg.ChatJID,
			"total_failures": d.failures.Add(1),
		})
	}
}

// Failures reports how many events failed extraction or handling since the
// process started.
func (d *Dispatcher) Failures() uint64 {
	return d.failures.Load()
}
