package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/signin-gate/internal/cookie"
	"github.com/dgellow/signin-gate/internal/crypto"
	"github.com/dgellow/signin-gate/internal/envutil"
	"github.com/dgellow/signin-gate/internal/idp"
	"github.com/dgellow/signin-gate/internal/log"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for any cookie that is missing, malformed,
// tampered with, signed by an unknown key or expired
var ErrInvalidSession = errors.New("invalid session")

// Claims is the payload of the session cookie
type Claims struct {
	Name    string `json:"name,omitempty"`
	Profile string `json:"profile,omitempty"`
	jwt.RegisteredClaims
}

// Config configures the session cookie
type Config struct {
	CookieName string
	MaxAge     time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used for iat, exp and validation
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager issues, validates and revokes the signed session cookie. The cookie
// is the whole session; nothing is stored server side.
type Manager struct {
	keys       *crypto.Keyring
	cookieName string
	maxAge     time.Duration
	attrs      cookie.Attributes
	now        func() time.Time
	parser     *jwt.Parser
}

// NewManager creates a session manager signing with keys.Current()
func NewManager(cfg Config, keys *crypto.Keyring, opts ...Option) (*Manager, error) {
	if keys == nil || keys.Len() == 0 {
		return nil, fmt.Errorf("signing keys are required")
	}
	if cfg.CookieName == "" {
		return nil, fmt.Errorf("cookie name is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("session max age must be positive")
	}

	m := &Manager{
		keys:       keys,
		cookieName: cfg.CookieName,
		maxAge:     cfg.MaxAge,
		attrs: cookie.Attributes{
			Path:     "/",
			MaxAge:   cfg.MaxAge,
			SameSite: http.SameSiteLaxMode, // issued at the end of the provider redirect chain
			Secure:   !envutil.IsDev(),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	return m, nil
}

// Issue signs a session for identity. The subject must be non-empty.
func (m *Manager) Issue(identity idp.Identity) (string, error) {
	if strings.TrimSpace(identity.Subject) == "" {
		return "", fmt.Errorf("cannot issue session without subject")
	}

	now := m.now()
	claims := Claims{
		Name:    identity.DisplayName,
		Profile: identity.ProfileURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}

	key := m.keys.Current()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID

	signed, err := token.SignedString(key.Key)
	if err != nil {
		return "", fmt.Errorf("signing session: %w", err)
	}
	return signed, nil
}

// SetCookie writes the session cookie
func (m *Manager) SetCookie(w http.ResponseWriter, value string) {
	cookie.Set(w, m.cookieName, value, m.attrs)
}

// Validate verifies the cookie value and returns its identity
func (m *Manager) Validate(value string) (idp.Identity, error) {
	if value == "" {
		return idp.Identity{}, ErrInvalidSession
	}

	var claims Claims
	if _, err := m.parser.ParseWithClaims(value, &claims, m.verificationKey); err != nil {
		return idp.Identity{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return idp.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}

	return idp.Identity{
		Subject:     claims.Subject,
		DisplayName: claims.Name,
		ProfileURL:  claims.Profile,
	}, nil
}

func (m *Manager) verificationKey(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	key, ok := m.keys.Lookup(kid)
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key.Key, nil
}

// FromRequest reads and validates the session cookie of r
func (m *Manager) FromRequest(r *http.Request) (idp.Identity, error) {
	value, err := cookie.Get(r, m.cookieName)
	if err != nil {
		return idp.Identity{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	identity, err := m.Validate(value)
	if err != nil {
		log.LogTraceWithFields("session", "Rejected session cookie", map[string]any{
			"error": err.Error(),
		})
		return idp.Identity{}, err
	}
	return identity, nil
}

// Revoke tells the browser to drop the session cookie. It does not depend on
// any cookie being present.
func (m *Manager) Revoke(w http.ResponseWriter) {
	cookie.Clear(w, m.cookieName, m.attrs)
}
