package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zen-ai/zen-backend/internal/apperr"
	"github.com/zen-ai/zen-backend/internal/core"
	"github.com/zen-ai/zen-backend/internal/store"
)

const maxNoteListLimit = 200

type noteRequest struct {
	UID          string   `json:"uid"`
	Title        *string  `json:"title"`
	Content      *string  `json:"content"`
	Keywords     []string `json:"keywords"`
	TriggerWords []string `json:"triggerWords"`
}

func (h *APIHandler) CreateNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var title, content string
	if req.Title != nil {
		title = *req.Title
	}
	if req.Content != nil {
		content = *req.Content
	}

	note, err := h.notes.CreateNote(req.UID, title, content, req.Keywords, req.TriggerWords)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *APIHandler) ListNotesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeError(w, err)
		return
	}

	notes, err := h.notes.ListNotes(r.URL.Query().Get("uid"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[store.Note]{Items: notes})
}

func (h *APIHandler) GetNoteHandler(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, apperr.Validationf("uid query parameter is required."))
		return
	}

	note, err := h.notes.GetNote(chi.URLParam(r, "noteID"), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *APIHandler) UpdateNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID          string    `json:"uid"`
		Title        *string   `json:"title"`
		Content      *string   `json:"content"`
		Keywords     *[]string `json:"keywords"`
		TriggerWords *[]string `json:"triggerWords"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	note, err := h.notes.UpdateNote(chi.URLParam(r, "noteID"), req.UID, core.NoteUpdate{
		Title:        req.Title,
		Content:      req.Content,
		Keywords:     req.Keywords,
		TriggerWords: req.TriggerWords,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *APIHandler) DeleteNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID string `json:"uid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	uid := req.UID
	if uid == "" {
		uid = r.URL.Query().Get("uid")
	}

	if err := h.notes.DeleteNote(chi.URLParam(r, "noteID"), uid); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SearchNotesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := parseLimit(query.Get("limit"), 50)
	if err != nil {
		writeError(w, err)
		return
	}

	triggerTerms := query["trigger"]
	if len(triggerTerms) == 0 {
		triggerTerms = query["triggerWords"]
	}
	keywordTerms := query["keyword"]
	if len(keywordTerms) == 0 {
		keywordTerms = query["keywords"]
	}

	notes, err := h.notes.SearchNotes(query.Get("uid"), query.Get("q"), triggerTerms, keywordTerms, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse[store.Note]{Items: notes})
}

func parseLimit(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validationf("limit must be an integer.")
	}
	if value <= 0 {
		return 0, apperr.Validationf("limit must be a positive integer.")
	}
	if value > maxNoteListLimit {
		value = maxNoteListLimit
	}
	return value, nil
}
