package server

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/signin-gate/internal/auth"
	"github.com/dgellow/signin-gate/internal/config"
	"github.com/dgellow/signin-gate/internal/cookie"
	jsonwriter "github.com/dgellow/signin-gate/internal/json"
	"github.com/dgellow/signin-gate/internal/log"
	"github.com/dgellow/signin-gate/internal/usercontext"
)

// SessionCookieWriter writes an issued session value to the response
type SessionCookieWriter interface {
	SetCookie(w http.ResponseWriter, value string)
}

// AuthHandlers provides the login, callback and logout endpoints
type AuthHandlers struct {
	orchestrator *auth.Orchestrator
	sessions     SessionCookieWriter
	paths        config.ServerConfig
	stateTTL     time.Duration
}

// NewAuthHandlers creates new auth handlers. stateTTL bounds the lifetime of
// the login binding cookie and should match the state store TTL.
func NewAuthHandlers(orchestrator *auth.Orchestrator, sessions SessionCookieWriter, paths config.ServerConfig, stateTTL time.Duration) *AuthHandlers {
	return &AuthHandlers{
		orchestrator: orchestrator,
		sessions:     sessions,
		paths:        paths,
		stateTTL:     stateTTL,
	}
}

// LoginHandler starts a login and redirects the browser to the provider
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	redirect, err := h.orchestrator.BeginLogin(r.Context(), r.URL.Query().Get("returnUrl"))
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to start login", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to start sign-in")
		return
	}

	cookie.SetState(w, redirect.State, h.paths.CallbackPath, h.stateTTL)
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// CallbackHandler completes a login when the provider redirects back
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	query := r.URL.Query()
	params := auth.CallbackParams{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	}

	// The binding cookie is single use, whatever the outcome
	bound := stateBound(r, params.State)
	cookie.ClearState(w, params.State, h.paths.CallbackPath)

	if params.Error == "" && !bound {
		log.LogWarnWithFields("auth", "Callback state not bound to this browser", map[string]any{
			"remote_addr": r.RemoteAddr,
		})
		h.writeFailure(w, r, auth.KindInvalidState)
		return
	}

	result, err := h.orchestrator.HandleCallback(r.Context(), params)
	if err != nil {
		kind, ok := auth.KindOf(err)
		if !ok {
			kind = auth.KindSessionIssueFailed
		}
		h.writeFailure(w, r, kind)
		return
	}

	h.sessions.SetCookie(w, result.SessionValue)
	http.Redirect(w, r, result.ReturnURL, http.StatusFound)
}

// LogoutHandler clears the session and sends the browser back to login
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}

	h.orchestrator.Logout(w, r)
	http.Redirect(w, r, h.paths.LoginPath, http.StatusFound)
}

// MeHandler returns the signed-in identity. Must run inside the identity
// middleware.
func (h *AuthHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := usercontext.GetIdentity(r.Context())
	if !ok {
		jsonwriter.WriteError(w, http.StatusUnauthorized, string(auth.KindInvalidSession), auth.KindInvalidSession.Message())
		return
	}
	_ = jsonwriter.Write(w, identity)
}

// HomeHandler is the default landing page after login
func (h *AuthHandlers) HomeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonwriter.WriteNotFound(w)
		return
	}
	identity, _ := usercontext.GetIdentity(r.Context())
	_ = jsonwriter.Write(w, map[string]any{
		"message":  "Signed in",
		"identity": identity,
		"logout":   h.paths.LogoutPath,
	})
}

// ErrorPageHandler serves the configured errorPath. Only known kinds are
// echoed back.
func (h *AuthHandlers) ErrorPageHandler(w http.ResponseWriter, r *http.Request) {
	kind := auth.ErrorKind(r.URL.Query().Get("error"))
	if !kind.Known() {
		kind = auth.KindSessionIssueFailed
	}
	jsonwriter.WriteError(w, failureStatus(kind), string(kind), kind.Message())
}

func stateBound(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	expected, err := cookie.GetState(r, state)
	if err != nil || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(state)) == 1
}

func (h *AuthHandlers) writeFailure(w http.ResponseWriter, r *http.Request, kind auth.ErrorKind) {
	if h.paths.ErrorPath != "" {
		target := h.paths.ErrorPath + "?error=" + url.QueryEscape(string(kind))
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	jsonwriter.WriteError(w, failureStatus(kind), string(kind), kind.Message())
}

func failureStatus(kind auth.ErrorKind) int {
	switch kind {
	case auth.KindInvalidState:
		return http.StatusBadRequest
	case auth.KindProviderDenied:
		return http.StatusForbidden
	case auth.KindTokenExchangeFailed, auth.KindProfileFetchFailed, auth.KindMissingRequiredClaim:
		return http.StatusBadGateway
	case auth.KindInvalidSession:
		return http.StatusUnauthorized
	case auth.KindStateStoreFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
