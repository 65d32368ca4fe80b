package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zen-ai/zen-backend/internal/apperr"
)

// errorEnvelope is the uniform error body: a machine code, a human message,
// and an optional detail.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorWith(w, err, nil)
}

// writeErrorWith adds extra top-level fields to the error envelope, for
// responses that carry partial state alongside the error. Extras attached to
// the error itself are carried too.
func writeErrorWith(w http.ResponseWriter, err error, extras map[string]any) {
	appErr := apperr.As(err)
	if appErr.Kind == apperr.Internal {
		log.Error().Err(err).Msg("request failed")
	}
	body := map[string]any{
		"error":   appErr.Code,
		"message": appErr.Message,
	}
	if appErr.Detail != "" {
		body["detail"] = appErr.Detail
	}
	for key, value := range appErr.Extras {
		body[key] = value
	}
	for key, value := range extras {
		body[key] = value
	}
	writeJSON(w, appErr.HTTPStatus(), body)
}

// decodeJSON tolerates an empty body, decoding it as the zero value.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Validationf("Request body must be valid JSON.")
}
