package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// WaStoreRepository persists WhatsApp contacts and messages observed by
// the gateway so bulk sync can replay history later.
type WaStoreRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewWaStoreRepository(db *sqlx.DB, log *logger.Logger) *WaStoreRepository {
	return &WaStoreRepository{
		db:     db,
		logger: log.WithModule("wastore-repository"),
	}
}

func (r *WaStoreRepository) UpsertContact(ctx context.Context, contact *ports.WaContact) error {
	query := `
		INSERT INTO "wsWaContact" ("sessionId", "jid", "name", "firstSeen", "updatedAt")
		VALUES (:sessionId, :jid, :name, :firstSeen, :updatedAt)
		ON CONFLICT ("sessionId", "jid") DO UPDATE SET
			"name" = CASE WHEN EXCLUDED."name" <> '' THEN EXCLUDED."name" ELSE "wsWaContact"."name" END,
			"updatedAt" = EXCLUDED."updatedAt"`
	if _, err := r.db.NamedExecContext(ctx, query, contact); err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func (r *WaStoreRepository) CountContactsSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM "wsWaContact" WHERE "sessionId" = $1 AND "updatedAt" >= $2`
	if err := r.db.GetContext(ctx, &count, query, sessionID, since); err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return count, nil
}

func (r *WaStoreRepository) ListContactsSince(ctx context.Context, sessionID string, since time.Time, offset, limit int) ([]*ports.WaContact, error) {
	var contacts []*ports.WaContact
	query := `
		SELECT * FROM "wsWaContact"
		WHERE "sessionId" = $1 AND "updatedAt" >= $2
		ORDER BY "jid"
		OFFSET $3 LIMIT $4`
	if err := r.db.SelectContext(ctx, &contacts, query, sessionID, since, offset, limit); err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

func (r *WaStoreRepository) SaveMessage(ctx context.Context, msg *ports.WaStoredMessage) error {
	query := `
		INSERT INTO "wsWaMessage" (
			"sessionId", "messageId", "chatJid", "senderJid", "senderName",
			"fromMe", "kind", "content", "quotedId", "timestamp", "storedAt"
		) VALUES (
			:sessionId, :messageId, :chatJid, :senderJid, :senderName,
			:fromMe, :kind, :content, :quotedId, :timestamp, :storedAt
		)
		ON CONFLICT ("sessionId", "messageId") DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *WaStoreRepository) CountMessagesSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM "wsWaMessage" WHERE "sessionId" = $1 AND "timestamp" >= $2`
	if err := r.db.GetContext(ctx, &count, query, sessionID, since); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (r *WaStoreRepository) ListChatsSince(ctx context.Context, sessionID string, since time.Time) ([]string, error) {
	var chats []string
	query := `
		SELECT DISTINCT "chatJid" FROM "wsWaMessage"
		WHERE "sessionId" = $1 AND "timestamp" >= $2
		ORDER BY "chatJid"`
	if err := r.db.SelectContext(ctx, &chats, query, sessionID, since); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (r *WaStoreRepository) ListChatMessagesSince(ctx context.Context, sessionID, chatJID string, since time.Time) ([]*ports.WaStoredMessage, error) {
	var messages []*ports.WaStoredMessage
	query := `
		SELECT * FROM "wsWaMessage"
		WHERE "sessionId" = $1 AND "chatJid" = $2 AND "timestamp" >= $3
		ORDER BY "timestamp" ASC`
	if err := r.db.SelectContext(ctx, &messages, query, sessionID, chatJID, since); err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return messages, nil
}
