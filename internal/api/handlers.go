package api

import (
	"github.com/zen-ai/zen-backend/internal/core"
	"github.com/zen-ai/zen-backend/internal/identity"
)

// APIHandler bundles the services the HTTP layer dispatches into.
type APIHandler struct {
	chats    *core.ChatService
	notes    *core.NoteService
	users    *core.UserService
	identity *identity.Client
}

func NewAPIHandler(chats *core.ChatService, notes *core.NoteService, users *core.UserService, identityClient *identity.Client) *APIHandler {
	return &APIHandler{
		chats:    chats,
		notes:    notes,
		users:    users,
		identity: identityClient,
	}
}

// itemsResponse wraps list payloads.
type itemsResponse[T any] struct {
	Items []T `json:"items"`
}
