package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// MappingRepository persists contact and conversation mappings.
type MappingRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewMappingRepository(db *sqlx.DB, log *logger.Logger) *MappingRepository {
	return &MappingRepository{
		db:     db,
		logger: log.WithModule("mapping-repository"),
	}
}

func (r *MappingRepository) GetContactMapping(ctx context.Context, sessionID, jid string) (*ports.ContactMapping, error) {
	var mapping ports.ContactMapping
	query := `SELECT * FROM "wsContactMapping" WHERE "sessionId" = $1 AND "whatsappJid" = $2`
	if err := r.db.GetContext(ctx, &mapping, query, sessionID, jid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get contact mapping: %w", err)
	}
	return &mapping, nil
}

func (r *MappingRepository) CreateContactMapping(ctx context.Context, mapping *ports.ContactMapping) error {
	query := `
		INSERT INTO "wsContactMapping" (
			"id", "sessionId", "whatsappJid", "cwContactId", "cwIdentifier", "createdAt", "updatedAt"
		) VALUES (
			:id, :sessionId, :whatsappJid, :cwContactId, :cwIdentifier, :createdAt, :updatedAt
		)`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("failed to create contact mapping: %w", err)
	}
	return nil
}

func (r *MappingRepository) UpdateContactMappingContact(ctx context.Context, id string, cwContactID int) error {
	query := `UPDATE "wsContactMapping" SET "cwContactId" = $1, "updatedAt" = NOW() WHERE "id" = $2`
	result, err := r.db.ExecContext(ctx, query, cwContactID, id)
	if err != nil {
		return fmt.Errorf("failed to update contact mapping: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ports.ErrMappingNotFound
	}
	return nil
}

func (r *MappingRepository) CountContactMappings(ctx context.Context, sessionID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM "wsContactMapping" WHERE "sessionId" = $1`
	if err := r.db.GetContext(ctx, &count, query, sessionID); err != nil {
		return 0, fmt.Errorf("failed to count contact mappings: %w", err)
	}
	return count, nil
}

func (r *MappingRepository) GetConversationMapping(ctx context.Context, sessionID, jid string) (*ports.ConversationMapping, error) {
	var mapping ports.ConversationMapping
	query := `SELECT * FROM "wsConversationMapping" WHERE "sessionId" = $1 AND "whatsappJid" = $2`
	if err := r.db.GetContext(ctx, &mapping, query, sessionID, jid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get conversation mapping: %w", err)
	}
	return &mapping, nil
}

func (r *MappingRepository) GetConversationMappingByCwID(ctx context.Context, sessionID string, cwConversationID int) (*ports.ConversationMapping, error) {
	var mapping ports.ConversationMapping
	query := `SELECT * FROM "wsConversationMapping" WHERE "sessionId" = $1 AND "cwConversationId" = $2`
	if err := r.db.GetContext(ctx, &mapping, query, sessionID, cwConversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get conversation mapping: %w", err)
	}
	return &mapping, nil
}

func (r *MappingRepository) CreateConversationMapping(ctx context.Context, mapping *ports.ConversationMapping) error {
	query := `
		INSERT INTO "wsConversationMapping" (
			"id", "sessionId", "whatsappJid", "cwConversationId", "status", "createdAt", "updatedAt"
		) VALUES (
			:id, :sessionId, :whatsappJid, :cwConversationId, :status, :createdAt, :updatedAt
		)`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("failed to create conversation mapping: %w", err)
	}
	return nil
}

// ReplaceConversationMapping swaps the chat's mapping for a new
// conversation in one statement, keyed on the (session, jid) uniqueness.
func (r *MappingRepository) ReplaceConversationMapping(ctx context.Context, mapping *ports.ConversationMapping) error {
	query := `
		INSERT INTO "wsConversationMapping" (
			"id", "sessionId", "whatsappJid", "cwConversationId", "status", "createdAt", "updatedAt"
		) VALUES (
			:id, :sessionId, :whatsappJid, :cwConversationId, :status, :createdAt, :updatedAt
		)
		ON CONFLICT ("sessionId", "whatsappJid") DO UPDATE SET
			"cwConversationId" = EXCLUDED."cwConversationId",
			"status" = EXCLUDED."status",
			"updatedAt" = EXCLUDED."updatedAt"`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("failed to replace conversation mapping: %w", err)
	}
	return nil
}

func (r *MappingRepository) UpdateConversationStatus(ctx context.Context, id, status string) error {
	query := `UPDATE "wsConversationMapping" SET "status" = $1, "updatedAt" = NOW() WHERE "id" = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ports.ErrMappingNotFound
	}
	return nil
}

func (r *MappingRepository) ListConversationMappings(ctx context.Context, sessionID string) ([]*ports.ConversationMapping, error) {
	var mappings []*ports.ConversationMapping
	query := `SELECT * FROM "wsConversationMapping" WHERE "sessionId" = $1 ORDER BY "createdAt"`
	if err := r.db.SelectContext(ctx, &mappings, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list conversation mappings: %w", err)
	}
	return mappings, nil
}

func (r *MappingRepository) DeleteSessionMappings(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM "wsContactMapping" WHERE "sessionId" = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete contact mappings: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM "wsConversationMapping" WHERE "sessionId" = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete conversation mappings: %w", err)
	}
	return nil
}
