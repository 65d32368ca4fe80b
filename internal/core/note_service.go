package core

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zen-ai/zen-backend/internal/apperr"
	"github.com/zen-ai/zen-backend/internal/store"
	"github.com/zen-ai/zen-backend/internal/utils"
)

const (
	// DefaultNoteTitle fills in when a note is created or patched without one.
	DefaultNoteTitle = "New note"

	maxTriggerCandidates = 10
	minTriggerLength     = 2
)

// NoteService owns note CRUD and trigger-word retrieval.
type NoteService struct {
	db *store.SQLiteStore
}

func NewNoteService(db *store.SQLiteStore) *NoteService {
	return &NoteService{db: db}
}

func (s *NoteService) CreateNote(uid, title, content string, keywords, triggerWords []string) (*store.Note, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid is required.")
	}

	note := &store.Note{
		UID:     uid,
		Title:   cleanNoteTitle(title),
		Content: strings.TrimSpace(content),
	}
	applyKeywords(note, keywords)
	applyTriggerWords(note, triggerWords)

	if err := s.db.CreateNote(note); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *NoteService) ListNotes(uid string, limit int) ([]store.Note, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid query parameter is required.")
	}
	return s.db.ListNotesByUID(uid, limit)
}

func (s *NoteService) GetNote(noteID, uid string) (*store.Note, error) {
	note, err := s.db.GetNote(noteID)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, apperr.NotFoundf("Note '%s' was not found", noteID)
	}
	if note.UID != uid {
		return nil, apperr.Forbiddenf("Note '%s' does not belong to uid '%s'.", noteID, uid)
	}
	return note, nil
}

// NoteUpdate carries a PATCH body; nil pointers mean the field was absent.
type NoteUpdate struct {
	Title        *string
	Content      *string
	Keywords     *[]string
	TriggerWords *[]string
}

func (u NoteUpdate) empty() bool {
	return u.Title == nil && u.Content == nil && u.Keywords == nil && u.TriggerWords == nil
}

func (s *NoteService) UpdateNote(noteID, uid string, update NoteUpdate) (*store.Note, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid is required.")
	}
	if update.empty() {
		return nil, apperr.Validationf("Provide at least one updatable field: title, content, keywords, triggerWords.")
	}

	note, err := s.GetNote(noteID, uid)
	if err != nil {
		return nil, err
	}

	if update.Title != nil {
		note.Title = cleanNoteTitle(*update.Title)
	}
	if update.Content != nil {
		note.Content = strings.TrimSpace(*update.Content)
	}
	if update.Keywords != nil {
		applyKeywords(note, *update.Keywords)
	}
	if update.TriggerWords != nil {
		applyTriggerWords(note, *update.TriggerWords)
	}

	if err := s.db.UpdateNote(note); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *NoteService) DeleteNote(noteID, uid string) error {
	if uid == "" {
		return apperr.Validationf("uid is required.")
	}
	if _, err := s.GetNote(noteID, uid); err != nil {
		return err
	}
	return s.db.DeleteNote(noteID)
}

// SearchNotes filters the owner's notes by trigger overlap, keyword overlap,
// and free-text substring match.
func (s *NoteService) SearchNotes(uid, query string, triggerTerms, keywordTerms []string, limit int) ([]store.Note, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid query parameter is required.")
	}
	return s.db.SearchNotes(store.NoteSearch{
		UID:          uid,
		Query:        strings.ToLower(strings.TrimSpace(query)),
		TriggerTerms: utils.NormalizeStringList(triggerTerms, true, maxTriggerCandidates),
		KeywordTerms: utils.NormalizeStringList(keywordTerms, true, 0),
		Limit:        limit,
	})
}

// FindNotesForText extracts candidate trigger words from free text and
// returns the owner's notes whose trigger index overlaps them. Used for
// context injection, so failures degrade to "no notes" rather than erroring.
func (s *NoteService) FindNotesForText(uid, text string, limit int) ([]store.Note, error) {
	triggers := utils.ExtractTriggerCandidates(text, maxTriggerCandidates, minTriggerLength)
	if len(triggers) == 0 {
		return nil, nil
	}

	notes, err := s.db.SearchNotes(store.NoteSearch{
		UID:          uid,
		TriggerTerms: triggers,
		Limit:        limit,
	})
	if err != nil {
		log.Warn().Err(err).Str("uid", uid).Msg("failed to search notes for triggers")
		return nil, nil
	}
	return notes, nil
}

func cleanNoteTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultNoteTitle
	}
	return title
}

func applyKeywords(note *store.Note, values []string) {
	note.Keywords = utils.NormalizeStringList(values, false, 0)
	note.KeywordsLower = utils.NormalizeStringList(values, true, 0)
}

func applyTriggerWords(note *store.Note, values []string) {
	note.TriggerWords = utils.NormalizeStringList(values, false, 0)
	note.TriggerWordsLower = utils.NormalizeStringList(values, true, 0)
}
