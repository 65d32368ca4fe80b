package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zen-ai/zen-backend/internal/apperr"
	"github.com/zen-ai/zen-backend/internal/core"
)

// StreamMessageHandler is PostMessageHandler's server-sent-events variant.
// Validation and persistence failures before the stream opens answer as
// plain JSON; once streaming starts, failures arrive as an "error" event.
func (h *APIHandler) StreamMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, result, err := h.chats.StreamMessage(r.Context(), chi.URLParam(r, "chatID"), core.MessageInput{
		UID:     req.UID,
		Content: req.Content,
		Role:    req.Role,
		FileIDs: req.FileIDs,
	})
	if err != nil {
		if result != nil && result.UserMessage != nil {
			writeErrorWith(w, err, map[string]any{"userMessage": result.UserMessage})
			return
		}
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		session.Close()
		writeError(w, apperr.New(apperr.Internal, "streaming_unsupported", "Response writer does not support streaming."))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sendEvent(w, flusher, "start", map[string]any{"userMessage": session.UserMessage})

	var full strings.Builder
	for {
		chunk, err := session.Stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			session.Close()
			appErr := apperr.As(err)
			sendEvent(w, flusher, "error", errorEnvelope{
				Error:   appErr.Code,
				Message: appErr.Message,
				Detail:  appErr.Detail,
			})
			return
		}
		full.WriteString(chunk)
		sendEvent(w, flusher, "token", map[string]any{"text": chunk})
	}

	assistant, err := session.Finish(r.Context(), full.String())
	if err != nil {
		appErr := apperr.As(err)
		sendEvent(w, flusher, "error", errorEnvelope{
			Error:   appErr.Code,
			Message: appErr.Message,
			Detail:  appErr.Detail,
		})
		return
	}
	sendEvent(w, flusher, "done", map[string]any{"assistantMessage": assistant})
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode stream event")
		return
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		log.Debug().Err(err).Msg("client dropped stream")
		return
	}
	flusher.Flush()
}
