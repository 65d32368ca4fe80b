package store

import "time"

// Chat is a conversation owned by a single user. Title starts as "New chat"
// and is replaced once after the first successful exchange.
type Chat struct {
	ID           string    `json:"id"` // UUID
	UID          string    `json:"uid"`
	Title        string    `json:"title"`
	SystemPrompt *string   `json:"systemPrompt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message is immutable once created and ordered by CreatedAt within a chat.
type Message struct {
	ID        string    `json:"id"` // UUID
	ChatID    string    `json:"-"`
	UID       string    `json:"-"`
	Role      string    `json:"role"` // "user", "assistant" or "system"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	FileIDs   []string  `json:"fileIds"`
}

// File is attachment metadata; the bytes live in the filestore under
// StoragePath, relative to the uploads root.
type File struct {
	ID          string    `json:"id"` // UUID
	ChatID      string    `json:"-"`
	UID         string    `json:"-"`
	FileName    string    `json:"fileName"`
	MIMEType    string    `json:"mimeType"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	TextPreview string    `json:"textPreview,omitempty"`
}

// UserProfile mirrors the identity provider's view of a user, upserted with
// merge semantics whenever the identity changes.
type UserProfile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Note carries both display-case keyword/trigger lists and their lowercase
// index twins; the lowered lists are recomputed on every update.
type Note struct {
	ID                string    `json:"id"` // UUID
	UID               string    `json:"uid"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	Keywords          []string  `json:"keywords"`
	KeywordsLower     []string  `json:"-"`
	TriggerWords      []string  `json:"triggerWords"`
	TriggerWordsLower []string  `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
