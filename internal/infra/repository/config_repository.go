package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// ConfigRepository persists per-session Chatwoot configurations.
type ConfigRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewConfigRepository(db *sqlx.DB, log *logger.Logger) *ConfigRepository {
	return &ConfigRepository{
		db:     db,
		logger: log.WithModule("config-repository"),
	}
}

type configModel struct {
	ID               string         `db:"id"`
	SessionID        string         `db:"sessionId"`
	URL              string         `db:"url"`
	Token            string         `db:"token"`
	AccountID        string         `db:"accountId"`
	InboxID          sql.NullInt64  `db:"inboxId"`
	InboxName        sql.NullString `db:"inboxName"`
	Enabled          bool           `db:"enabled"`
	SignAgentName    bool           `db:"signAgentName"`
	SignSeparator    string         `db:"signSeparator"`
	AutoReopen       bool           `db:"autoReopen"`
	ConvPending      bool           `db:"convPending"`
	MergeLocalPhones bool           `db:"mergeLocalPhones"`
	SyncContacts     bool           `db:"syncContacts"`
	SyncMessages     bool           `db:"syncMessages"`
	SyncWindowDays   int            `db:"syncWindowDays"`
	IgnoreJids       pq.StringArray `db:"ignoreJids"`
	CreatedAt        time.Time      `db:"createdAt"`
	UpdatedAt        time.Time      `db:"updatedAt"`
}

func (r *ConfigRepository) Create(ctx context.Context, config *ports.ChatwootConfig) error {
	model := configToModel(config)
	query := `
		INSERT INTO "wsChatwootConfig" (
			"id", "sessionId", "url", "token", "accountId", "inboxId", "inboxName",
			"enabled", "signAgentName", "signSeparator", "autoReopen", "convPending",
			"mergeLocalPhones", "syncContacts", "syncMessages", "syncWindowDays",
			"ignoreJids", "createdAt", "updatedAt"
		) VALUES (
			:id, :sessionId, :url, :token, :accountId, :inboxId, :inboxName,
			:enabled, :signAgentName, :signSeparator, :autoReopen, :convPending,
			:mergeLocalPhones, :syncContacts, :syncMessages, :syncWindowDays,
			:ignoreJids, :createdAt, :updatedAt
		)`
	if _, err := r.db.NamedExecContext(ctx, query, model); err != nil {
		return fmt.Errorf("failed to create chatwoot config: %w", err)
	}
	return nil
}

func (r *ConfigRepository) GetBySessionID(ctx context.Context, sessionID string) (*ports.ChatwootConfig, error) {
	var model configModel
	query := `SELECT * FROM "wsChatwootConfig" WHERE "sessionId" = $1`
	if err := r.db.GetContext(ctx, &model, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get chatwoot config: %w", err)
	}
	return configFromModel(&model), nil
}

func (r *ConfigRepository) Update(ctx context.Context, config *ports.ChatwootConfig) error {
	model := configToModel(config)
	query := `
		UPDATE "wsChatwootConfig" SET
			"url" = :url, "token" = :token, "accountId" = :accountId,
			"inboxId" = :inboxId, "inboxName" = :inboxName, "enabled" = :enabled,
			"signAgentName" = :signAgentName, "signSeparator" = :signSeparator,
			"autoReopen" = :autoReopen, "convPending" = :convPending,
			"mergeLocalPhones" = :mergeLocalPhones, "syncContacts" = :syncContacts,
			"syncMessages" = :syncMessages, "syncWindowDays" = :syncWindowDays,
			"ignoreJids" = :ignoreJids, "updatedAt" = :updatedAt
		WHERE "sessionId" = :sessionId`
	result, err := r.db.NamedExecContext(ctx, query, model)
	if err != nil {
		return fmt.Errorf("failed to update chatwoot config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ports.ErrConfigNotFound
	}
	return nil
}

func (r *ConfigRepository) Delete(ctx context.Context, sessionID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM "wsChatwootConfig" WHERE "sessionId" = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete chatwoot config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return ports.ErrConfigNotFound
	}
	return nil
}

func configToModel(c *ports.ChatwootConfig) *configModel {
	model := &configModel{
		ID:               c.ID,
		SessionID:        c.SessionID,
		URL:              c.URL,
		Token:            c.Token,
		AccountID:        c.AccountID,
		Enabled:          c.Enabled,
		SignAgentName:    c.SignAgentName,
		SignSeparator:    c.SignSeparator,
		AutoReopen:       c.AutoReopen,
		ConvPending:      c.ConvPending,
		MergeLocalPhones: c.MergeLocalPhones,
		SyncContacts:     c.SyncContacts,
		SyncMessages:     c.SyncMessages,
		SyncWindowDays:   c.SyncWindowDays,
		IgnoreJids:       pq.StringArray(c.IgnoreJids),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if c.InboxID != nil {
		model.InboxID = sql.NullInt64{Int64: int64(*c.InboxID), Valid: true}
	}
	if c.InboxName != nil {
		model.InboxName = sql.NullString{String: *c.InboxName, Valid: true}
	}
	return model
}

func configFromModel(m *configModel) *ports.ChatwootConfig {
	config := &ports.ChatwootConfig{
		ID:               m.ID,
		SessionID:        m.SessionID,
		URL:              m.URL,
		Token:            m.Token,
		AccountID:        m.AccountID,
		Enabled:          m.Enabled,
		SignAgentName:    m.SignAgentName,
		SignSeparator:    m.SignSeparator,
		AutoReopen:       m.AutoReopen,
		ConvPending:      m.ConvPending,
		MergeLocalPhones: m.MergeLocalPhones,
		SyncContacts:     m.SyncContacts,
		SyncMessages:     m.SyncMessages,
		SyncWindowDays:   m.SyncWindowDays,
		IgnoreJids:       []string(m.IgnoreJids),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.InboxID.Valid {
		inboxID := int(m.InboxID.Int64)
		config.InboxID = &inboxID
	}
	if m.InboxName.Valid {
		inboxName := m.InboxName.String
		config.InboxName = &inboxName
	}
	return config
}
