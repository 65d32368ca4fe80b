package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	profile, err := h.users.GetProfile(chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoUrl"`
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.users.UpdateProfile(r.Context(), chi.URLParam(r, "uid"), req.DisplayName, req.PhotoURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
