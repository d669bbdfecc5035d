package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/signin-gate/internal/envutil"
	"github.com/dgellow/signin-gate/internal/log"
)

const (
	// StateCookiePrefix names the cookies binding pending logins to the
	// browser that started them
	StateCookiePrefix = "oauth_state_"
	stateNameLength   = 16
)

// Attributes are the cookie attributes shared by Set and Clear. Cookies set
// here are always HttpOnly.
type Attributes struct {
	Path     string
	MaxAge   time.Duration
	SameSite http.SameSite
	Secure   bool
}

// Set sets an HttpOnly cookie
func Set(w http.ResponseWriter, name, value string, attrs Attributes) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     attrs.Path,
		HttpOnly: true,
		Secure:   attrs.Secure,
		SameSite: attrs.SameSite,
		MaxAge:   int(attrs.MaxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Cookie set", map[string]any{
		"name":   name,
		"path":   attrs.Path,
		"maxAge": attrs.MaxAge.String(),
		"secure": attrs.Secure,
	})
}

// Clear removes a cookie by setting MaxAge to -1. Name and path must match
// the cookie being removed.
func Clear(w http.ResponseWriter, name string, attrs Attributes) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     attrs.Path,
		HttpOnly: true,
		Secure:   attrs.Secure,
		SameSite: attrs.SameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	log.LogTraceWithFields("cookie", "Cookie cleared", map[string]any{
		"name": name,
		"path": attrs.Path,
	})
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func stateAttributes(path string, maxAge time.Duration) Attributes {
	return Attributes{
		Path:     path,
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode, // must survive the top-level redirect back from the provider
		Secure:   !envutil.IsDev(),
	}
}

// StateCookieName returns the binding cookie name for state. Each pending
// login gets its own cookie so parallel logins in one browser do not evict
// each other. ok is false when state cannot name a cookie.
func StateCookieName(state string) (string, bool) {
	if len(state) < stateNameLength {
		return "", false
	}
	key := state[:stateNameLength]
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '-' || c == '_') {
			return "", false
		}
	}
	return StateCookiePrefix + key, true
}

// SetState sets the login binding cookie for state, scoped to the callback path
func SetState(w http.ResponseWriter, state, callbackPath string, maxAge time.Duration) {
	name, ok := StateCookieName(state)
	if !ok {
		return
	}
	Set(w, name, state, stateAttributes(callbackPath, maxAge))
}

// ClearState removes the binding cookie for state, if state can name one
func ClearState(w http.ResponseWriter, state, callbackPath string) {
	name, ok := StateCookieName(state)
	if !ok {
		return
	}
	Clear(w, name, stateAttributes(callbackPath, 0))
}

// GetState retrieves the binding cookie value for state
func GetState(r *http.Request, state string) (string, error) {
	name, ok := StateCookieName(state)
	if !ok {
		return "", http.ErrNoCookie
	}
	return Get(r, name)
}
