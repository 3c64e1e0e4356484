package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	t.Cleanup(func() { _ = sqlxDB.Close() })
	return sqlxDB, mock
}

func testRepoLogger() *logger.Logger {
	return logger.New(logger.TestConfig())
}

func messageMappingColumns() []string {
	return []string{
		"id", "sessionId", "waMessageId", "chatJid", "cwMessageId",
		"cwConversationId", "echoPending", "createdAt", "updatedAt",
	}
}

func TestMessageMappingRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageMappingRepository(db, testRepoLogger())

	cwID := 301
	convID := 201
	now := time.Now()
	mapping := &ports.MessageMapping{
		ID:               "mm-1",
		SessionID:        "session-1",
		WaMessageID:      "WAMSG-1",
		ChatJID:          "5511999999999@s.whatsapp.net",
		CwMessageID:      &cwID,
		CwConversationID: &convID,
		EchoPending:      true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "wsMessageMapping"`)).
		WithArgs(
			mapping.ID, mapping.SessionID, mapping.WaMessageID, mapping.ChatJID,
			cwID, convID, true, now, now,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), mapping)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageMappingRepository_GetByWaID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageMappingRepository(db, testRepoLogger())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "wsMessageMapping" WHERE "sessionId" = $1 AND "waMessageId" = $2`)).
		WithArgs("session-1", "WAMSG-missing").
		WillReturnRows(sqlmock.NewRows(messageMappingColumns()))

	_, err := repo.GetByWaID(context.Background(), "session-1", "WAMSG-missing")
	assert.ErrorIs(t, err, ports.ErrMappingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageMappingRepository_GetByCwID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageMappingRepository(db, testRepoLogger())

	now := time.Now()
	rows := sqlmock.NewRows(messageMappingColumns()).
		AddRow("mm-1", "session-1", "WAMSG-1", "5511999999999@s.whatsapp.net", 301, 201, false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "wsMessageMapping" WHERE "sessionId" = $1 AND "cwMessageId" = $2`)).
		WithArgs("session-1", 301).
		WillReturnRows(rows)

	mapping, err := repo.GetByCwID(context.Background(), "session-1", 301)
	require.NoError(t, err)
	assert.Equal(t, "WAMSG-1", mapping.WaMessageID)
	require.NotNil(t, mapping.CwConversationID)
	assert.Equal(t, 201, *mapping.CwConversationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageMappingRepository_ConsumeEchoTag(t *testing.T) {
	t.Run("pending tag is consumed once", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewMessageMappingRepository(db, testRepoLogger())

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "wsMessageMapping"`)).
			WithArgs("session-1", 301).
			WillReturnResult(sqlmock.NewResult(0, 1))

		consumed, err := repo.ConsumeEchoTag(context.Background(), "session-1", 301)
		require.NoError(t, err)
		assert.True(t, consumed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already consumed tag reports false", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewMessageMappingRepository(db, testRepoLogger())

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "wsMessageMapping"`)).
			WithArgs("session-1", 301).
			WillReturnResult(sqlmock.NewResult(0, 0))

		consumed, err := repo.ConsumeEchoTag(context.Background(), "session-1", 301)
		require.NoError(t, err)
		assert.False(t, consumed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMessageMappingRepository_MarkSynced_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageMappingRepository(db, testRepoLogger())

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "wsMessageMapping"`)).
		WithArgs(301, 201, true, "mm-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSynced(context.Background(), "mm-missing", 301, 201, true)
	assert.ErrorIs(t, err, ports.ErrMappingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageMappingRepository_ExpireEchoTags(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageMappingRepository(db, testRepoLogger())

	cutoff := time.Now().Add(-10 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "wsMessageMapping"`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	expired, err := repo.ExpireEchoTags(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}
