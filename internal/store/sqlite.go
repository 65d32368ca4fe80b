package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/zen-ai/zen-backend/internal/apperr"
)

// SQLiteStore persists the document model. Sub-collections of the original
// layout (chats→messages, chats→files) become parent-keyed tables; referential
// integrity between messages and their attachments is enforced by the
// orchestrator, not the schema.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS user_profiles (
        uid TEXT PRIMARY KEY,
        email TEXT,
        display_name TEXT,
        photo_url TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        uid TEXT NOT NULL,
        title TEXT NOT NULL,
        system_prompt TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        uid TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        file_ids_json TEXT,
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );

    CREATE TABLE IF NOT EXISTS files (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        uid TEXT NOT NULL,
        file_name TEXT NOT NULL,
        mime_type TEXT NOT NULL,
        size INTEGER NOT NULL,
        storage_path TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        text_preview TEXT,
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );

    CREATE TABLE IF NOT EXISTS notes (
        id TEXT PRIMARY KEY, -- UUID
        uid TEXT NOT NULL,
        title TEXT NOT NULL,
        content TEXT NOT NULL,
        keywords_json TEXT,
        keywords_lower_json TEXT,
        trigger_words_json TEXT,
        trigger_words_lower_json TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, created_at);
    CREATE INDEX IF NOT EXISTS idx_chats_uid_updated ON chats (uid, updated_at);
    CREATE INDEX IF NOT EXISTS idx_notes_uid_updated ON notes (uid, updated_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func marshalList(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(raw), nil
}

func unmarshalList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

// translateStoreErr rewrites "database not provisioned" driver failures into
// actionable operator guidance. Best-effort pattern matching on known driver
// messages; anything unrecognized passes through as a generic upstream error.
func translateStoreErr(err error) *apperr.Error {
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "no such table"):
		return apperr.Wrap(apperr.Upstream, "store_unavailable",
			"The document store schema is missing. Delete the database file and restart the service so the schema is recreated, or point DATABASE_PATH at an initialized database.", err)
	case strings.Contains(text, "unable to open database file"):
		return apperr.Wrap(apperr.Upstream, "store_unavailable",
			"The document store could not be opened. Check that the DATABASE_PATH directory exists and is writable by the service.", err)
	default:
		return apperr.Wrap(apperr.Upstream, "store_unavailable",
			"The document store rejected the request.", err)
	}
}

// ---- Chats ----

func (s *SQLiteStore) CreateChat(uid, title string, systemPrompt *string) (*Chat, error) {
	chat := &Chat{
		ID:           uuid.NewString(),
		UID:          uid,
		Title:        title,
		SystemPrompt: systemPrompt,
		CreatedAt:    now(),
	}
	chat.UpdatedAt = chat.CreatedAt

	_, err := s.db.Exec(
		"INSERT INTO chats (id, uid, title, system_prompt, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		chat.ID, chat.UID, chat.Title, chat.SystemPrompt, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return chat, nil
}

// GetChatByID returns nil when the chat does not exist. Ownership is checked
// by the caller so not-found and forbidden stay distinguishable.
func (s *SQLiteStore) GetChatByID(chatID string) (*Chat, error) {
	var chat Chat
	var systemPrompt sql.NullString
	err := s.db.QueryRow(
		"SELECT id, uid, title, system_prompt, created_at, updated_at FROM chats WHERE id = ?", chatID).
		Scan(&chat.ID, &chat.UID, &chat.Title, &systemPrompt, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, translateStoreErr(err)
	}
	if systemPrompt.Valid {
		chat.SystemPrompt = &systemPrompt.String
	}
	return &chat, nil
}

func (s *SQLiteStore) ListChatsByUID(uid string) ([]Chat, error) {
	rows, err := s.db.Query(
		"SELECT id, uid, title, system_prompt, created_at, updated_at FROM chats WHERE uid = ? ORDER BY updated_at DESC", uid)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		var systemPrompt sql.NullString
		if err := rows.Scan(&chat.ID, &chat.UID, &chat.Title, &systemPrompt, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if systemPrompt.Valid {
			chat.SystemPrompt = &systemPrompt.String
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// UpdateChat applies the non-nil fields and bumps updated_at.
func (s *SQLiteStore) UpdateChat(chatID string, title *string, systemPrompt *string, setSystemPrompt bool) (*Chat, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now()}
	if title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *title)
	}
	if setSystemPrompt {
		sets = append(sets, "system_prompt = ?")
		args = append(args, systemPrompt)
	}
	args = append(args, chatID)

	res, err := s.db.Exec("UPDATE chats SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetChatByID(chatID)
}

// TouchChat bumps updated_at after a message or file write.
func (s *SQLiteStore) TouchChat(chatID string, at time.Time) error {
	_, err := s.db.Exec("UPDATE chats SET updated_at = ? WHERE id = ?", at, chatID)
	if err != nil {
		return translateStoreErr(err)
	}
	return nil
}

// DeleteChatCascade removes the chat with its messages and file metadata in a
// single transaction, keeping the multi-document delete atomic.
func (s *SQLiteStore) DeleteChatCascade(chatID string) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, translateStoreErr(err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT storage_path FROM files WHERE chat_id = ?", chatID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	var storagePaths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan file path: %w", err)
		}
		storagePaths = append(storagePaths, path)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translateStoreErr(err)
	}

	for _, stmt := range []string{
		"DELETE FROM messages WHERE chat_id = ?",
		"DELETE FROM files WHERE chat_id = ?",
		"DELETE FROM chats WHERE id = ?",
	} {
		if _, err := tx.Exec(stmt, chatID); err != nil {
			return nil, translateStoreErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateStoreErr(err)
	}
	return storagePaths, nil
}

// ---- Messages ----

func (s *SQLiteStore) CreateMessage(msg *Message) error {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}

	fileIDs, err := marshalList(msg.FileIDs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		"INSERT INTO messages (id, chat_id, uid, role, content, created_at, file_ids_json) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, msg.UID, msg.Role, msg.Content, msg.CreatedAt, fileIDs)
	if err != nil {
		return translateStoreErr(err)
	}
	return nil
}

func (s *SQLiteStore) ListMessagesByChat(chatID string) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT id, chat_id, uid, role, content, created_at, file_ids_json FROM messages WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC", chatID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var fileIDs sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.UID, &msg.Role, &msg.Content, &msg.CreatedAt, &fileIDs); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.FileIDs = unmarshalList(fileIDs)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ---- Files ----

func (s *SQLiteStore) CreateFile(file *File) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now()
	}

	var preview sql.NullString
	if file.TextPreview != "" {
		preview = sql.NullString{String: file.TextPreview, Valid: true}
	}

	_, err := s.db.Exec(
		"INSERT INTO files (id, chat_id, uid, file_name, mime_type, size, storage_path, created_at, text_preview) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		file.ID, file.ChatID, file.UID, file.FileName, file.MIMEType, file.Size, file.StoragePath, file.CreatedAt, preview)
	if err != nil {
		return translateStoreErr(err)
	}
	return nil
}

func (s *SQLiteStore) GetFile(chatID, fileID string) (*File, error) {
	var file File
	var preview sql.NullString
	err := s.db.QueryRow(
		"SELECT id, chat_id, uid, file_name, mime_type, size, storage_path, created_at, text_preview FROM files WHERE id = ? AND chat_id = ?",
		fileID, chatID).
		Scan(&file.ID, &file.ChatID, &file.UID, &file.FileName, &file.MIMEType, &file.Size, &file.StoragePath, &file.CreatedAt, &preview)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, translateStoreErr(err)
	}
	if preview.Valid {
		file.TextPreview = preview.String
	}
	return &file, nil
}

func (s *SQLiteStore) ListFilesByChat(chatID string) ([]File, error) {
	rows, err := s.db.Query(
		"SELECT id, chat_id, uid, file_name, mime_type, size, storage_path, created_at, text_preview FROM files WHERE chat_id = ? ORDER BY created_at ASC", chatID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var file File
		var preview sql.NullString
		if err := rows.Scan(&file.ID, &file.ChatID, &file.UID, &file.FileName, &file.MIMEType, &file.Size, &file.StoragePath, &file.CreatedAt, &preview); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		if preview.Valid {
			file.TextPreview = preview.String
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// GetFilesMetadata fetches metadata for a set of attachment ids within a chat.
// Unknown ids are simply absent from the result map.
func (s *SQLiteStore) GetFilesMetadata(chatID string, fileIDs []string) (map[string]*File, error) {
	result := make(map[string]*File, len(fileIDs))
	for _, id := range fileIDs {
		if id == "" {
			continue
		}
		if _, ok := result[id]; ok {
			continue
		}
		file, err := s.GetFile(chatID, id)
		if err != nil {
			return nil, err
		}
		if file != nil {
			result[id] = file
		}
	}
	return result, nil
}

// ---- User profiles ----

// UpsertUserProfile merges the non-empty fields into the stored profile,
// creating it when absent. Timestamps are store-assigned.
func (s *SQLiteStore) UpsertUserProfile(uid string, email, displayName, photoURL *string) (*UserProfile, error) {
	existing, err := s.GetUserProfile(uid)
	if err != nil {
		return nil, err
	}

	ts := now()
	if existing == nil {
		profile := &UserProfile{UID: uid, CreatedAt: ts, UpdatedAt: ts}
		applyProfileFields(profile, email, displayName, photoURL)
		_, err = s.db.Exec(
			"INSERT INTO user_profiles (uid, email, display_name, photo_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			profile.UID, nullable(profile.Email), nullable(profile.DisplayName), nullable(profile.PhotoURL), profile.CreatedAt, profile.UpdatedAt)
		if err != nil {
			return nil, translateStoreErr(err)
		}
		return profile, nil
	}

	applyProfileFields(existing, email, displayName, photoURL)
	existing.UpdatedAt = ts
	_, err = s.db.Exec(
		"UPDATE user_profiles SET email = ?, display_name = ?, photo_url = ?, updated_at = ? WHERE uid = ?",
		nullable(existing.Email), nullable(existing.DisplayName), nullable(existing.PhotoURL), existing.UpdatedAt, uid)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return existing, nil
}

func applyProfileFields(profile *UserProfile, email, displayName, photoURL *string) {
	if email != nil {
		profile.Email = *email
	}
	if displayName != nil {
		profile.DisplayName = *displayName
	}
	if photoURL != nil {
		profile.PhotoURL = *photoURL
	}
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (s *SQLiteStore) GetUserProfile(uid string) (*UserProfile, error) {
	var profile UserProfile
	var email, displayName, photoURL sql.NullString
	err := s.db.QueryRow(
		"SELECT uid, email, display_name, photo_url, created_at, updated_at FROM user_profiles WHERE uid = ?", uid).
		Scan(&profile.UID, &email, &displayName, &photoURL, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, translateStoreErr(err)
	}
	profile.Email = email.String
	profile.DisplayName = displayName.String
	profile.PhotoURL = photoURL.String
	return &profile, nil
}
