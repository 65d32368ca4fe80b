package api

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zen-ai/zen-backend/internal/apperr"
)

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := requireFields(map[string]string{"email": req.Email, "password": req.Password}); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.identity.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"uid":           account.UID,
		"email":         account.Email,
		"displayName":   account.DisplayName,
		"emailVerified": account.EmailVerified,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := requireFields(map[string]string{"email": req.Email, "password": req.Password}); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.identity.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"idToken":      session.IDToken,
		"refreshToken": session.RefreshToken,
		"expiresIn":    session.ExpiresIn,
		"localId":      session.UID,
		"email":        session.Email,
	})
}

type googleSignInRequest struct {
	IDToken    string `json:"idToken"`
	RequestURI string `json:"requestUri"`
}

// GoogleSignInHandler exchanges a Google ID token for a provider session and
// mirrors the account's profile fields into the local profile collection.
func (h *APIHandler) GoogleSignInHandler(w http.ResponseWriter, r *http.Request) {
	var req googleSignInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IDToken == "" {
		writeError(w, apperr.Validationf("idToken is required."))
		return
	}

	session, err := h.identity.SignInWithGoogle(r.Context(), req.IDToken, req.RequestURI)
	if err != nil {
		writeError(w, err)
		return
	}

	// Best-effort profile sync; the sign-in succeeded regardless.
	if _, err := h.users.UpsertProfile(session.UID,
		optional(session.Email), optional(session.DisplayName), optional(session.PhotoURL)); err != nil {
		log.Warn().Err(err).Str("uid", session.UID).Msg("failed to sync profile after google sign-in")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"idToken":      session.IDToken,
		"refreshToken": session.RefreshToken,
		"expiresIn":    session.ExpiresIn,
		"localId":      session.UID,
		"email":        session.Email,
		"displayName":  session.DisplayName,
		"photoUrl":     session.PhotoURL,
	})
}

type verifyTokenRequest struct {
	IDToken string `json:"idToken"`
}

func (h *APIHandler) VerifyTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IDToken == "" {
		writeError(w, apperr.Validationf("idToken is required."))
		return
	}

	claims, err := h.identity.VerifyToken(r.Context(), req.IDToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func requireFields(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"email", "password"} {
		if value, ok := fields[name]; ok && value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperr.Validationf("Missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
