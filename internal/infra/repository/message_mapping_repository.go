package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// MessageMappingRepository persists message mappings, which double as
// echo tags while their echoPending flag is set.
type MessageMappingRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewMessageMappingRepository(db *sqlx.DB, log *logger.Logger) *MessageMappingRepository {
	return &MessageMappingRepository{
		db:     db,
		logger: log.WithModule("message-mapping-repository"),
	}
}

func (r *MessageMappingRepository) Create(ctx context.Context, mapping *ports.MessageMapping) error {
	query := `
		INSERT INTO "wsMessageMapping" (
			"id", "sessionId", "waMessageId", "chatJid", "cwMessageId",
			"cwConversationId", "echoPending", "createdAt", "updatedAt"
		) VALUES (
			:id, :sessionId, :waMessageId, :chatJid, :cwMessageId,
			:cwConversationId, :echoPending, :createdAt, :updatedAt
		)
		ON CONFLICT ("sessionId", "waMessageId") DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("failed to create message mapping: %w", err)
	}
	return nil
}

func (r *MessageMappingRepository) GetByWaID(ctx context.Context, sessionID, waMessageID string) (*ports.MessageMapping, error) {
	var mapping ports.MessageMapping
	query := `SELECT * FROM "wsMessageMapping" WHERE "sessionId" = $1 AND "waMessageId" = $2`
	if err := r.db.GetContext(ctx, &mapping, query, sessionID, waMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get message mapping: %w", err)
	}
	return &mapping, nil
}

func (r *MessageMappingRepository) GetByCwID(ctx context.Context, sessionID string, cwMessageID int) (*ports.MessageMapping, error) {
	var mapping ports.MessageMapping
	query := `SELECT * FROM "wsMessageMapping" WHERE "sessionId" = $1 AND "cwMessageId" = $2`
	if err := r.db.GetContext(ctx, &mapping, query, sessionID, cwMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get message mapping: %w", err)
	}
	return &mapping, nil
}

func (r *MessageMappingRepository) MarkSynced(ctx context.Context, id string, cwMessageID, cwConversationID int, echoPending bool) error {
	query := `
		UPDATE "wsMessageMapping"
		SET "cwMessageId" = $1, "cwConversationId" = $2, "echoPending" = $3, "updatedAt" = NOW()
		WHERE "id" = $4`
	result, err := r.db.ExecContext(ctx, query, cwMessageID, cwConversationID, echoPending, id)
	if err != nil {
		return fmt.Errorf("failed to mark message synced: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ports.ErrMappingNotFound
	}
	return nil
}

// ConsumeEchoTag atomically clears the pending flag for the Chatwoot
// message. The row count tells whether a tag was pending, so concurrent
// webhook deliveries can consume it at most once.
func (r *MessageMappingRepository) ConsumeEchoTag(ctx context.Context, sessionID string, cwMessageID int) (bool, error) {
	query := `
		UPDATE "wsMessageMapping"
		SET "echoPending" = FALSE, "updatedAt" = NOW()
		WHERE "sessionId" = $1 AND "cwMessageId" = $2 AND "echoPending" = TRUE`
	result, err := r.db.ExecContext(ctx, query, sessionID, cwMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to consume echo tag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check echo tag result: %w", err)
	}
	return rows > 0, nil
}

// ExpireEchoTags clears pending flags older than the cutoff. The mapping
// rows stay for reply linkage; only the echo semantics expire.
func (r *MessageMappingRepository) ExpireEchoTags(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE "wsMessageMapping"
		SET "echoPending" = FALSE, "updatedAt" = NOW()
		WHERE "echoPending" = TRUE AND "createdAt" < $1`
	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to expire echo tags: %w", err)
	}
	return result.RowsAffected()
}

func (r *MessageMappingRepository) DeleteSessionMappings(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM "wsMessageMapping" WHERE "sessionId" = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete message mappings: %w", err)
	}
	return nil
}
