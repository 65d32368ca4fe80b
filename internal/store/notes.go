package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxSearchScan bounds how many of a user's notes one search examines.
const maxSearchScan = 500

func (s *SQLiteStore) CreateNote(note *Note) error {
	note.ID = uuid.NewString()
	note.CreatedAt = now()
	note.UpdatedAt = note.CreatedAt

	cols, err := noteListColumns(note)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO notes (id, uid, title, content, keywords_json, keywords_lower_json,
		    trigger_words_json, trigger_words_lower_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.UID, note.Title, note.Content,
		cols[0], cols[1], cols[2], cols[3], note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return translateStoreErr(err)
	}
	return nil
}

// GetNote returns nil when the note does not exist; ownership is the caller's
// concern.
func (s *SQLiteStore) GetNote(noteID string) (*Note, error) {
	row := s.db.QueryRow(noteSelect+" WHERE id = ?", noteID)
	note, err := scanNote(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, translateStoreErr(err)
	}
	return note, nil
}

func (s *SQLiteStore) ListNotesByUID(uid string, limit int) ([]Note, error) {
	query := noteSelect + " WHERE uid = ? ORDER BY updated_at DESC"
	args := []any{uid}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryNotes(query, args...)
}

// UpdateNote rewrites the provided fields and both lowered index columns, and
// bumps updated_at. Returns the stored note.
func (s *SQLiteStore) UpdateNote(note *Note) error {
	note.UpdatedAt = now()
	cols, err := noteListColumns(note)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE notes SET title = ?, content = ?, keywords_json = ?, keywords_lower_json = ?,
		    trigger_words_json = ?, trigger_words_lower_json = ?, updated_at = ?
		 WHERE id = ?`,
		note.Title, note.Content, cols[0], cols[1], cols[2], cols[3], note.UpdatedAt, note.ID)
	if err != nil {
		return translateStoreErr(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("note %s vanished during update", note.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteNote(noteID string) error {
	_, err := s.db.Exec("DELETE FROM notes WHERE id = ?", noteID)
	if err != nil {
		return translateStoreErr(err)
	}
	return nil
}

// NoteSearch filters an owner's notes. All provided criteria must match:
// triggerTerms and keywordTerms intersect the lowered index lists, query is a
// case-insensitive substring across title/content/keywords/triggers.
type NoteSearch struct {
	UID          string
	Query        string
	TriggerTerms []string
	KeywordTerms []string
	Limit        int
}

// SearchNotes scans at most maxSearchScan of the owner's notes, most recently
// updated first. If the ordered query fails the scan retries unordered, so a
// degraded index still yields results.
func (s *SQLiteStore) SearchNotes(search NoteSearch) ([]Note, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 50
	}
	scanLimit := limit * 3
	if scanLimit < limit {
		scanLimit = limit
	}
	if scanLimit > maxSearchScan {
		scanLimit = maxSearchScan
	}

	candidates, err := s.queryNotes(noteSelect+" WHERE uid = ? ORDER BY updated_at DESC LIMIT ?", search.UID, scanLimit)
	if err != nil {
		log.Warn().Err(err).Str("uid", search.UID).Msg("ordered notes scan failed, retrying unordered")
		candidates, err = s.queryNotes(noteSelect+" WHERE uid = ? LIMIT ?", search.UID, scanLimit)
		if err != nil {
			return nil, err
		}
	}

	queryText := strings.ToLower(strings.TrimSpace(search.Query))
	triggerSet := toSet(search.TriggerTerms)
	keywordSet := toSet(search.KeywordTerms)

	var results []Note
	for _, note := range candidates {
		if len(triggerSet) > 0 && !intersects(triggerSet, note.TriggerWordsLower) {
			continue
		}
		if len(keywordSet) > 0 && !intersects(keywordSet, note.KeywordsLower) {
			continue
		}
		if queryText != "" {
			haystack := strings.ToLower(strings.Join([]string{
				note.Title,
				note.Content,
				strings.Join(note.Keywords, " "),
				strings.Join(note.TriggerWords, " "),
			}, " "))
			if !strings.Contains(haystack, queryText) {
				continue
			}
		}
		results = append(results, note)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

const noteSelect = `SELECT id, uid, title, content, keywords_json, keywords_lower_json,
    trigger_words_json, trigger_words_lower_json, created_at, updated_at FROM notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var note Note
	var keywords, keywordsLower, triggers, triggersLower sql.NullString
	err := row.Scan(&note.ID, &note.UID, &note.Title, &note.Content,
		&keywords, &keywordsLower, &triggers, &triggersLower,
		&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return nil, err
	}
	note.Keywords = unmarshalList(keywords)
	note.KeywordsLower = unmarshalList(keywordsLower)
	note.TriggerWords = unmarshalList(triggers)
	note.TriggerWordsLower = unmarshalList(triggersLower)
	return &note, nil
}

func (s *SQLiteStore) queryNotes(query string, args ...any) ([]Note, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

func noteListColumns(note *Note) ([4]string, error) {
	var cols [4]string
	for i, list := range [][]string{note.Keywords, note.KeywordsLower, note.TriggerWords, note.TriggerWordsLower} {
		raw, err := marshalList(list)
		if err != nil {
			return cols, err
		}
		cols[i] = raw
	}
	return cols, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func intersects(set map[string]struct{}, values []string) bool {
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
