package config

import (
	"time"

	"github.com/dgellow/signin-gate/internal/urlutil"
	"golang.org/x/oauth2/github"
)

const (
	DefaultAddr            = ":8080"
	DefaultLoginPath       = "/auth/login"
	DefaultLogoutPath      = "/auth/logout"
	DefaultCallbackPath    = "/signin-oauth"
	DefaultProviderTimeout = 30 * time.Second
	DefaultCookieName      = "session"
	DefaultSessionMaxAge   = time.Hour
	DefaultStateTTL        = 10 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// GitHubUserInfoEndpoint is the user API queried for the "github" provider
const GitHubUserInfoEndpoint = "https://api.github.com/user"

// ApplyDefaults fills unset fields. A provider named "github" gets the GitHub
// endpoints and claim paths so only credentials need configuring.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if s.LoginPath == "" {
		s.LoginPath = DefaultLoginPath
	}
	if s.LogoutPath == "" {
		s.LogoutPath = DefaultLogoutPath
	}
	if s.CallbackPath == "" {
		s.CallbackPath = DefaultCallbackPath
	}

	p := &cfg.Provider
	if p.Name == "github" {
		if p.AuthorizationEndpoint == "" {
			p.AuthorizationEndpoint = github.Endpoint.AuthURL
		}
		if p.TokenEndpoint == "" {
			p.TokenEndpoint = github.Endpoint.TokenURL
		}
		if p.UserInfoEndpoint == "" {
			p.UserInfoEndpoint = GitHubUserInfoEndpoint
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"read:user"}
		}
		if p.Claims.Subject == "" {
			p.Claims = ClaimsConfig{Subject: "id", DisplayName: "name", ProfileURL: "html_url"}
		}
	}
	if p.Claims.Subject == "" {
		p.Claims.Subject = "sub"
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultProviderTimeout
	}

	sess := &cfg.Session
	if sess.CookieName == "" {
		sess.CookieName = DefaultCookieName
	}
	if sess.MaxAge == 0 {
		sess.MaxAge = DefaultSessionMaxAge
	}
	if sess.SameSite == "" {
		sess.SameSite = "lax"
	}

	st := &cfg.State
	if st.Store == "" {
		st.Store = StateStoreMemory
	}
	if st.TTL == 0 {
		st.TTL = DefaultStateTTL
	}
	if st.CleanupInterval == 0 {
		st.CleanupInterval = DefaultCleanupInterval
	}
	if st.Redis != nil && st.Redis.KeyPrefix == "" {
		st.Redis.KeyPrefix = "signin-gate:"
	}
	if st.Firestore != nil {
		if st.Firestore.Database == "" {
			st.Firestore.Database = "(default)"
		}
		if st.Firestore.Collection == "" {
			st.Firestore.Collection = "signin_gate_states"
		}
	}
}

// CallbackURL is the absolute redirect_uri registered with the provider
func (c *Config) CallbackURL() (string, error) {
	return urlutil.JoinPath(c.Server.BaseURL, c.Server.CallbackPath)
}
