package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wootsync/internal/ports"
)

func TestWaStoreRepository_UpsertContact(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWaStoreRepository(db, testRepoLogger())

	now := time.Now()
	contact := &ports.WaContact{
		SessionID: "session-1",
		JID:       "5511999999999@s.whatsapp.net",
		Name:      "Maria",
		FirstSeen: now,
		UpdatedAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "wsWaContact" ("sessionId", "jid", "name", "firstSeen", "updatedAt")`)).
		WithArgs(contact.SessionID, contact.JID, contact.Name, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertContact(context.Background(), contact)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaStoreRepository_SaveMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWaStoreRepository(db, testRepoLogger())

	now := time.Now()
	msg := &ports.WaStoredMessage{
		SessionID:  "session-1",
		MessageID:  "WAMSG-1",
		ChatJID:    "5511999999999@s.whatsapp.net",
		SenderJID:  "5511999999999@s.whatsapp.net",
		SenderName: "Maria",
		FromMe:     false,
		Kind:       "text",
		Content:    "hello",
		QuotedID:   "WAMSG-0",
		Timestamp:  now,
		StoredAt:   now,
	}

	mock.ExpectExec(regexp.QuoteMeta(`"fromMe", "kind", "content", "quotedId", "timestamp", "storedAt"`)).
		WithArgs(
			msg.SessionID, msg.MessageID, msg.ChatJID, msg.SenderJID, msg.SenderName,
			msg.FromMe, msg.Kind, msg.Content, msg.QuotedID, now, now,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveMessage(context.Background(), msg)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaStoreRepository_ListChatMessagesSince(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWaStoreRepository(db, testRepoLogger())

	now := time.Now()
	since := now.Add(-time.Hour)
	columns := []string{
		"sessionId", "messageId", "chatJid", "senderJid", "senderName",
		"fromMe", "kind", "content", "quotedId", "timestamp", "storedAt",
	}
	rows := sqlmock.NewRows(columns).
		AddRow("session-1", "WAMSG-1", "a@s.whatsapp.net", "a@s.whatsapp.net", "Maria",
			false, "text", "hello", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "wsWaMessage"`)).
		WithArgs("session-1", "a@s.whatsapp.net", since).
		WillReturnRows(rows)

	messages, err := repo.ListChatMessagesSince(context.Background(), "session-1", "a@s.whatsapp.net", since)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "WAMSG-1", messages[0].MessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
