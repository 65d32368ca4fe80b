package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-ai/zen-backend/internal/apperr"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strptr(s string) *string { return &s }

func TestChatCRUD(t *testing.T) {
	s := newTestStore(t)

	prompt := "be brief"
	chat, err := s.CreateChat("u1", "New chat", &prompt)
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, chat.CreatedAt, chat.UpdatedAt)

	t.Run("get by id", func(t *testing.T) {
		got, err := s.GetChatByID(chat.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u1", got.UID)
		require.NotNil(t, got.SystemPrompt)
		assert.Equal(t, "be brief", *got.SystemPrompt)
	})

	t.Run("absent chat is nil, not an error", func(t *testing.T) {
		got, err := s.GetChatByID("missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("list ordered by updated_at descending", func(t *testing.T) {
		second, err := s.CreateChat("u1", "Second", nil)
		require.NoError(t, err)
		require.NoError(t, s.TouchChat(second.ID, time.Now().UTC().Add(time.Hour)))

		chats, err := s.ListChatsByUID("u1")
		require.NoError(t, err)
		require.Len(t, chats, 2)
		assert.Equal(t, second.ID, chats[0].ID)
	})

	t.Run("list is scoped to the owner", func(t *testing.T) {
		chats, err := s.ListChatsByUID("someone-else")
		require.NoError(t, err)
		assert.Empty(t, chats)
	})

	t.Run("update title only", func(t *testing.T) {
		updated, err := s.UpdateChat(chat.ID, strptr("Renamed"), nil, false)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Title)
		require.NotNil(t, updated.SystemPrompt, "system prompt untouched")
	})

	t.Run("clear system prompt", func(t *testing.T) {
		updated, err := s.UpdateChat(chat.ID, nil, nil, true)
		require.NoError(t, err)
		assert.Nil(t, updated.SystemPrompt)
	})

	t.Run("update of missing chat returns nil", func(t *testing.T) {
		updated, err := s.UpdateChat("missing", strptr("x"), nil, false)
		require.NoError(t, err)
		assert.Nil(t, updated)
	})
}

func TestMessageOrdering(t *testing.T) {
	s := newTestStore(t)
	chat, err := s.CreateChat("u1", "New chat", nil)
	require.NoError(t, err)

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, s.CreateMessage(&Message{
			ChatID: chat.ID, UID: "u1", Role: "user", Content: content,
		}))
	}

	messages, err := s.ListMessagesByChat(chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
}

func TestMessageFileIDsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	chat, err := s.CreateChat("u1", "New chat", nil)
	require.NoError(t, err)

	msg := &Message{ChatID: chat.ID, UID: "u1", Role: "user", Content: "see files", FileIDs: []string{"f1", "f2"}}
	require.NoError(t, s.CreateMessage(msg))

	messages, err := s.ListMessagesByChat(chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"f1", "f2"}, messages[0].FileIDs)
}

func TestDeleteChatCascade(t *testing.T) {
	s := newTestStore(t)
	chat, err := s.CreateChat("u1", "New chat", nil)
	require.NoError(t, err)

	require.NoError(t, s.CreateMessage(&Message{ChatID: chat.ID, UID: "u1", Role: "user", Content: "hi"}))
	file := &File{ChatID: chat.ID, UID: "u1", FileName: "a.txt", MIMEType: "text/plain", Size: 1, StoragePath: chat.ID + "/a.txt"}
	require.NoError(t, s.CreateFile(file))

	paths, err := s.DeleteChatCascade(chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{chat.ID + "/a.txt"}, paths)

	got, err := s.GetChatByID(chat.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	messages, err := s.ListMessagesByChat(chat.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	files, err := s.ListFilesByChat(chat.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestGetFilesMetadata(t *testing.T) {
	s := newTestStore(t)
	chat, err := s.CreateChat("u1", "New chat", nil)
	require.NoError(t, err)

	file := &File{ChatID: chat.ID, UID: "u1", FileName: "a.txt", MIMEType: "text/plain", Size: 1, StoragePath: "p", TextPreview: "hello"}
	require.NoError(t, s.CreateFile(file))

	meta, err := s.GetFilesMetadata(chat.ID, []string{file.ID, "unknown", "", file.ID})
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, "hello", meta[file.ID].TextPreview)

	t.Run("file from another chat is invisible", func(t *testing.T) {
		other, err := s.CreateChat("u1", "Other", nil)
		require.NoError(t, err)
		meta, err := s.GetFilesMetadata(other.ID, []string{file.ID})
		require.NoError(t, err)
		assert.Empty(t, meta)
	})
}

func TestUpsertUserProfileMergeSemantics(t *testing.T) {
	s := newTestStore(t)

	created, err := s.UpsertUserProfile("u1", strptr("a@example.com"), strptr("Alice"), nil)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", created.Email)
	assert.Equal(t, "Alice", created.DisplayName)

	// Nil fields leave stored values untouched.
	updated, err := s.UpsertUserProfile("u1", nil, nil, strptr("https://example.com/a.png"))
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", updated.Email)
	assert.Equal(t, "Alice", updated.DisplayName)
	assert.Equal(t, "https://example.com/a.png", updated.PhotoURL)

	stored, err := s.GetUserProfile("u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Alice", stored.DisplayName)
	assert.Equal(t, created.CreatedAt, stored.CreatedAt)

	t.Run("absent profile is nil", func(t *testing.T) {
		got, err := s.GetUserProfile("missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestTranslateStoreErr(t *testing.T) {
	t.Run("missing schema", func(t *testing.T) {
		err := translateStoreErr(errors.New("no such table: chats"))
		assert.Equal(t, apperr.Upstream, err.Kind)
		assert.Equal(t, "store_unavailable", err.Code)
		assert.Contains(t, err.Message, "schema is missing")
	})

	t.Run("unopenable database file", func(t *testing.T) {
		err := translateStoreErr(errors.New("unable to open database file: out of memory (14)"))
		assert.Contains(t, err.Message, "DATABASE_PATH")
	})

	t.Run("unrecognized errors pass through generically", func(t *testing.T) {
		cause := errors.New("disk I/O error")
		err := translateStoreErr(cause)
		assert.Equal(t, "store_unavailable", err.Code)
		assert.ErrorIs(t, err, cause)
	})
}
