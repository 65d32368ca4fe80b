package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zen-ai/zen-backend/internal/apperr"
	"github.com/zen-ai/zen-backend/internal/core"
	"github.com/zen-ai/zen-backend/internal/store"
)

type createChatRequest struct {
	UID          string  `json:"uid"`
	Title        string  `json:"title"`
	SystemPrompt *string `json:"systemPrompt"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.CreateChat(req.UID, req.Title, req.SystemPrompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.ListChats(r.URL.Query().Get("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[store.Chat]{Items: chats})
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.chats.GetChatDetails(chi.URLParam(r, "chatID"), r.URL.Query().Get("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type updateChatRequest struct {
	UID   string  `json:"uid"`
	Title *string `json:"title"`
	// RawMessage keeps "absent" and "explicitly null" apart.
	SystemPrompt json.RawMessage `json:"systemPrompt"`
}

func (h *APIHandler) UpdateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req updateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	update := core.ChatUpdate{Title: req.Title}
	if req.SystemPrompt != nil {
		update.SetSystemPrompt = true
		if string(req.SystemPrompt) != "null" {
			var prompt string
			if err := json.Unmarshal(req.SystemPrompt, &prompt); err != nil {
				writeError(w, apperr.Validationf("systemPrompt must be a string or null."))
				return
			}
			update.SystemPrompt = &prompt
		}
	}

	chat, err := h.chats.UpdateChat(chi.URLParam(r, "chatID"), req.UID, update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

type deleteChatRequest struct {
	UID string `json:"uid"`
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	var req deleteChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	uid := req.UID
	if uid == "" {
		uid = r.URL.Query().Get("uid")
	}

	if err := h.chats.DeleteChat(chi.URLParam(r, "chatID"), uid); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "multipart/form-data") {
		writeError(w, apperr.Validationf("Request must be multipart/form-data."))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validationf("file is required."))
		return
	}
	defer file.Close()

	uid := strings.TrimSpace(r.FormValue("uid"))
	saved, err := h.chats.UploadFile(
		chi.URLParam(r, "chatID"),
		uid,
		header.Filename,
		header.Header.Get("Content-Type"),
		file,
		header.Size,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file": saved})
}

func (h *APIHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	files, err := h.chats.ListFiles(chi.URLParam(r, "chatID"), r.URL.Query().Get("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[store.File]{Items: files})
}

func (h *APIHandler) DownloadFileHandler(w http.ResponseWriter, r *http.Request) {
	file, path, err := h.chats.DownloadFile(
		chi.URLParam(r, "chatID"),
		r.URL.Query().Get("uid"),
		chi.URLParam(r, "fileID"),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	if file.MIMEType != "" {
		w.Header().Set("Content-Type", file.MIMEType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	http.ServeFile(w, r, path)
}

type postMessageRequest struct {
	UID     string   `json:"uid"`
	Content string   `json:"content"`
	Role    string   `json:"role"`
	FileIDs []string `json:"fileIds"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.chats.AddMessage(r.Context(), chi.URLParam(r, "chatID"), core.MessageInput{
		UID:     req.UID,
		Content: req.Content,
		Role:    req.Role,
		FileIDs: req.FileIDs,
	})
	if err != nil {
		// A persisted user message rides along with the error so the client
		// knows that part of the work is durable.
		if result != nil && result.UserMessage != nil {
			writeErrorWith(w, err, map[string]any{"userMessage": result.UserMessage})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
