// Package identity relays account operations to the external identity
// provider's REST API. The provider owns credentials and token issuance; this
// client only shapes requests, verifies tokens, and maps provider error codes
// into the service taxonomy.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zen-ai/zen-backend/internal/apperr"
)

const defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

type Client struct {
	apiKey    string
	baseURL   string
	projectID string
	httpc     *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at a different provider endpoint, used by
// tests and emulators.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

func NewClient(apiKey, projectID string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		baseURL:   defaultBaseURL,
		projectID: projectID,
		httpc:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account is the provider's view of a user.
type Account struct {
	UID           string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoUrl"`
	EmailVerified bool   `json:"emailVerified"`
}

// Session carries the tokens returned by a sign-in.
type Session struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	UID          string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`
}

func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*Account, error) {
	body := map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	if displayName != "" {
		body["displayName"] = displayName
	}

	var resp struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	}
	if err := c.post(ctx, "accounts:signUp", body, &resp); err != nil {
		return nil, err
	}
	return &Account{UID: resp.LocalID, Email: resp.Email, DisplayName: resp.DisplayName}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	var session Session
	if err := c.post(ctx, "accounts:signInWithPassword", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignInWithGoogle exchanges a Google-issued id token for a provider session.
func (c *Client) SignInWithGoogle(ctx context.Context, googleIDToken, requestURI string) (*Session, error) {
	if requestURI == "" {
		requestURI = "http://localhost"
	}
	body := map[string]any{
		"postBody":            fmt.Sprintf("id_token=%s&providerId=google.com", googleIDToken),
		"requestUri":          requestURI,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}
	var session Session
	if err := c.post(ctx, "accounts:signInWithIdp", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// TokenClaims is the verified subset of a bearer token.
type TokenClaims struct {
	UID    string         `json:"uid"`
	Email  string         `json:"email"`
	Claims map[string]any `json:"claims"`
}

// VerifyToken checks the token locally for shape and expiry, then confirms it
// with the provider's lookup call. The local pass gives precise invalid/
// expired answers without a round-trip.
func (c *Client) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	claims, err := precheckToken(idToken)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Users []Account `json:"users"`
	}
	if err := c.post(ctx, "accounts:lookup", map[string]any{"idToken": idToken}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, apperr.New(apperr.Unauthorized, "invalid_token", "Token does not match a known account.")
	}

	account := resp.Users[0]
	return &TokenClaims{UID: account.UID, Email: account.Email, Claims: claims}, nil
}

// UpdateAccount relays profile changes to the provider by account id. Nil
// fields are left untouched.
func (c *Client) UpdateAccount(ctx context.Context, uid string, displayName, photoURL *string) error {
	body := map[string]any{"localId": uid}
	if displayName != nil {
		body["displayName"] = *displayName
	}
	if photoURL != nil {
		body["photoUrl"] = *photoURL
	}
	return c.post(ctx, "accounts:update", body, &struct{}{})
}

// precheckToken validates structure and expiry without checking the
// signature; authenticity is the provider lookup's job.
func precheckToken(idToken string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, apperr.New(apperr.Unauthorized, "invalid_token", "Token format is invalid.")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "invalid_token", "Token format is invalid.")
	}
	if exp != nil && exp.Before(time.Now()) {
		return nil, apperr.New(apperr.Unauthorized, "token_expired", "Token has expired.")
	}
	return claims, nil
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, action string, body any, out any) error {
	if c.apiKey == "" {
		return apperr.New(apperr.NotConfigured, "not_configured", "IDENTITY_WEB_API_KEY is not set.")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", action, err)
	}

	url := fmt.Sprintf("%s/%s?key=%s", c.baseURL, action, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "network_error", "Identity provider is unreachable.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var perr providerError
		_ = json.NewDecoder(resp.Body).Decode(&perr)
		return c.mapProviderError(action, perr.Error.Message, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.Upstream, "identity_error", "Identity provider returned an unreadable response.", err)
	}
	return nil
}

// mapProviderError translates provider error codes into the taxonomy. The
// codes are stable strings documented by the identity toolkit API.
func (c *Client) mapProviderError(action, code string, status int) error {
	base := code
	if i := strings.IndexAny(base, " :"); i > 0 {
		base = base[:i]
	}
	switch base {
	case "EMAIL_EXISTS":
		return apperr.New(apperr.Conflict, "email_in_use", "Email already registered.")
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return apperr.New(apperr.Unauthorized, "identity_auth_error", messageOr(code, "Invalid credentials."))
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "USER_NOT_FOUND":
		return apperr.New(apperr.Unauthorized, "invalid_token", messageOr(code, "Token is invalid or expired."))
	case "WEAK_PASSWORD":
		return apperr.Validationf("%s", messageOr(code, "Password is too weak."))
	case "INVALID_EMAIL", "MISSING_PASSWORD", "MISSING_EMAIL":
		return apperr.Validationf("%s", messageOr(code, "Request was rejected by the identity provider."))
	default:
		msg := fmt.Sprintf("Identity provider rejected %s (status %d).", action, status)
		if c.projectID != "" {
			msg += fmt.Sprintf(" Check the identity configuration for project %q.", c.projectID)
		}
		e := apperr.New(apperr.Upstream, "identity_error", msg)
		e.Detail = code
		return e
	}
}

func messageOr(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}
