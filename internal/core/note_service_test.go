package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-ai/zen-backend/internal/apperr"
	"github.com/zen-ai/zen-backend/internal/store"
)

func newNoteService(t *testing.T) *NoteService {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewNoteService(db)
}

func TestCreateNote(t *testing.T) {
	svc := newNoteService(t)

	t.Run("normalizes fields", func(t *testing.T) {
		note, err := svc.CreateNote("u1", "  Wifi  ", "  The password is hunter2.  ",
			[]string{" Network ", ""}, []string{"WiFi", "wifi", "Router"})
		require.NoError(t, err)
		assert.Equal(t, "Wifi", note.Title)
		assert.Equal(t, "The password is hunter2.", note.Content)
		assert.Equal(t, []string{"Network"}, note.Keywords)
		assert.Equal(t, []string{"network"}, note.KeywordsLower)
		assert.Equal(t, []string{"WiFi", "Router"}, note.TriggerWords)
		assert.Equal(t, []string{"wifi", "router"}, note.TriggerWordsLower)
	})

	t.Run("blank title falls back", func(t *testing.T) {
		note, err := svc.CreateNote("u1", "   ", "body", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultNoteTitle, note.Title)
	})

	t.Run("uid is mandatory", func(t *testing.T) {
		_, err := svc.CreateNote("", "t", "c", nil, nil)
		assert.True(t, apperr.IsKind(err, apperr.Validation))
	})
}

func TestGetNoteOwnership(t *testing.T) {
	svc := newNoteService(t)
	note, err := svc.CreateNote("u1", "Mine", "body", nil, nil)
	require.NoError(t, err)

	_, err = svc.GetNote(note.ID, "intruder")
	assert.True(t, apperr.IsKind(err, apperr.Forbidden))

	_, err = svc.GetNote("missing-id", "u1")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestUpdateNote(t *testing.T) {
	svc := newNoteService(t)
	note, err := svc.CreateNote("u1", "Original", "body", []string{"old"}, []string{"old"})
	require.NoError(t, err)

	t.Run("empty patch is rejected", func(t *testing.T) {
		_, err := svc.UpdateNote(note.ID, "u1", NoteUpdate{})
		require.True(t, apperr.IsKind(err, apperr.Validation))
		assert.Contains(t, apperr.As(err).Message, "at least one updatable field")
	})

	t.Run("partial patch leaves other fields alone", func(t *testing.T) {
		title := "Renamed"
		updated, err := svc.UpdateNote(note.ID, "u1", NoteUpdate{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Title)
		assert.Equal(t, "body", updated.Content)
		assert.Equal(t, []string{"old"}, updated.Keywords)
	})

	t.Run("explicit empty list clears triggers", func(t *testing.T) {
		empty := []string{}
		updated, err := svc.UpdateNote(note.ID, "u1", NoteUpdate{TriggerWords: &empty})
		require.NoError(t, err)
		assert.Empty(t, updated.TriggerWords)
		assert.Empty(t, updated.TriggerWordsLower)
	})

	t.Run("foreign note is refused", func(t *testing.T) {
		title := "Stolen"
		_, err := svc.UpdateNote(note.ID, "intruder", NoteUpdate{Title: &title})
		assert.True(t, apperr.IsKind(err, apperr.Forbidden))
	})
}

func TestDeleteNote(t *testing.T) {
	svc := newNoteService(t)
	note, err := svc.CreateNote("u1", "Doomed", "body", nil, nil)
	require.NoError(t, err)

	require.Error(t, svc.DeleteNote(note.ID, "intruder"))
	require.NoError(t, svc.DeleteNote(note.ID, "u1"))

	_, err = svc.GetNote(note.ID, "u1")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestFindNotesForText(t *testing.T) {
	svc := newNoteService(t)
	_, err := svc.CreateNote("u1", "Wifi note", "hunter2", nil, []string{"wifi", "password"})
	require.NoError(t, err)
	_, err = svc.CreateNote("u1", "Unrelated", "nothing", nil, []string{"groceries"})
	require.NoError(t, err)

	t.Run("matches extracted candidates", func(t *testing.T) {
		notes, err := svc.FindNotesForText("u1", "What is the wifi password again?", 3)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, "Wifi note", notes[0].Title)
	})

	t.Run("no candidates means no lookup", func(t *testing.T) {
		notes, err := svc.FindNotesForText("u1", "!!! ??", 3)
		require.NoError(t, err)
		assert.Nil(t, notes)
	})

	t.Run("scoped to the owner", func(t *testing.T) {
		notes, err := svc.FindNotesForText("someone-else", "wifi password", 3)
		require.NoError(t, err)
		assert.Empty(t, notes)
	})
}

func TestSearchNotesValidation(t *testing.T) {
	svc := newNoteService(t)
	_, err := svc.SearchNotes("", "q", nil, nil, 10)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}
