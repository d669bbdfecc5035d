package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgellow/signin-gate/internal/idp"
	"github.com/dgellow/signin-gate/internal/log"
	"github.com/dgellow/signin-gate/internal/storage"
	"github.com/dgellow/signin-gate/internal/urlutil"
)

// DefaultReturnURL is used when the login request has no usable return URL
const DefaultReturnURL = "/"

// StateStore issues and consumes login state
type StateStore interface {
	Issue(ctx context.Context, returnURL string) (string, error)
	Consume(ctx context.Context, state string) (*storage.AuthorizationRequest, error)
}

// TokenExchanger builds authorization URLs and exchanges codes
type TokenExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*idp.Token, error)
}

// ProfileFetcher retrieves the raw user-info profile
type ProfileFetcher interface {
	Fetch(ctx context.Context, accessToken string) (idp.RawProfile, error)
}

// ClaimsMapper extracts an identity from a raw profile
type ClaimsMapper interface {
	Map(profile idp.RawProfile) (idp.Identity, error)
}

// SessionManager issues, reads and revokes sessions
type SessionManager interface {
	Issue(identity idp.Identity) (string, error)
	FromRequest(r *http.Request) (idp.Identity, error)
	Revoke(w http.ResponseWriter)
}

// State is a step of the login flow
type State int

const (
	StateUnauthenticated State = iota
	StateRedirecting
	StateAwaitingCallback
	StateExchanging
	StateFetchingProfile
	StateMappingClaims
	StateSessionEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRedirecting:
		return "redirecting"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchanging:
		return "exchanging"
	case StateFetchingProfile:
		return "fetching_profile"
	case StateMappingClaims:
		return "mapping_claims"
	case StateSessionEstablished:
		return "session_established"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LoginRedirect is where to send the browser to start a login
type LoginRedirect struct {
	URL   string
	State string
}

// CallbackParams are the query parameters the provider redirects back with
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// CallbackResult is a completed login
type CallbackResult struct {
	ReturnURL    string
	SessionValue string
	Identity     idp.Identity
}

// Orchestrator drives the login flow from redirect to established session
type Orchestrator struct {
	states   StateStore
	exchange TokenExchanger
	profiles ProfileFetcher
	claims   ClaimsMapper
	sessions SessionManager
}

// NewOrchestrator creates an orchestrator from its components
func NewOrchestrator(states StateStore, exchange TokenExchanger, profiles ProfileFetcher, claims ClaimsMapper, sessions SessionManager) *Orchestrator {
	return &Orchestrator{
		states:   states,
		exchange: exchange,
		profiles: profiles,
		claims:   claims,
		sessions: sessions,
	}
}

// flow tracks the state of one login attempt for logging
type flow struct {
	current State
}

func (f *flow) to(next State) {
	log.LogTraceWithFields("auth", "Login state transition", map[string]any{
		"from": f.current.String(),
		"to":   next.String(),
	})
	f.current = next
}

func (f *flow) fail(kind ErrorKind, err error) error {
	log.LogTraceWithFields("auth", "Login state transition", map[string]any{
		"from":   f.current.String(),
		"to":     StateFailed.String(),
		"reason": string(kind),
	})
	log.LogWarnWithFields("auth", "Login failed", map[string]any{
		"step":  f.current.String(),
		"kind":  string(kind),
		"error": err.Error(),
	})
	f.current = StateFailed
	return &Error{Kind: kind, Err: err}
}

// BeginLogin issues a state and returns the provider authorization URL.
// returnURL must be a local path; anything else is replaced by "/".
func (o *Orchestrator) BeginLogin(ctx context.Context, returnURL string) (*LoginRedirect, error) {
	f := &flow{current: StateUnauthenticated}

	safe := urlutil.SafeReturnPath(returnURL, DefaultReturnURL)
	if safe != returnURL && returnURL != "" {
		log.LogWarnWithFields("auth", "Ignoring non-local return URL", map[string]any{
			"returnUrl": returnURL,
		})
	}

	f.to(StateRedirecting)
	state, err := o.states.Issue(ctx, safe)
	if err != nil {
		return nil, fmt.Errorf("issuing state: %w", err)
	}

	redirect := &LoginRedirect{
		URL:   o.exchange.AuthURL(state),
		State: state,
	}
	f.to(StateAwaitingCallback)
	return redirect, nil
}

// HandleCallback completes a login. Steps run strictly in sequence and any
// failure aborts the rest; no session value exists unless all of them succeed.
func (o *Orchestrator) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	f := &flow{current: StateAwaitingCallback}

	if params.Error != "" {
		// The state is dead either way; drop it so it cannot be replayed
		if params.State != "" {
			_, _ = o.states.Consume(ctx, params.State)
		}
		return nil, f.fail(KindProviderDenied, fmt.Errorf("%w: %s", ErrProviderDenied, params.Error))
	}

	req, err := o.states.Consume(ctx, params.State)
	if errors.Is(err, storage.ErrInvalidOrExpiredState) {
		return nil, f.fail(KindInvalidState, err)
	}
	if err != nil {
		return nil, f.fail(KindStateStoreFailed, err)
	}

	if params.Code == "" {
		return nil, f.fail(KindTokenExchangeFailed, fmt.Errorf("%w: missing authorization code", idp.ErrTokenExchangeFailed))
	}

	f.to(StateExchanging)
	if err := ctx.Err(); err != nil {
		return nil, f.fail(KindTokenExchangeFailed, err)
	}
	token, err := o.exchange.Exchange(ctx, params.Code)
	if err != nil {
		return nil, f.fail(KindTokenExchangeFailed, err)
	}

	f.to(StateFetchingProfile)
	if err := ctx.Err(); err != nil {
		return nil, f.fail(KindProfileFetchFailed, err)
	}
	profile, err := o.profiles.Fetch(ctx, token.AccessToken)
	if err != nil {
		return nil, f.fail(KindProfileFetchFailed, err)
	}

	f.to(StateMappingClaims)
	if err := ctx.Err(); err != nil {
		return nil, f.fail(KindMissingRequiredClaim, err)
	}
	identity, err := o.claims.Map(profile)
	if err != nil {
		return nil, f.fail(KindMissingRequiredClaim, err)
	}

	value, err := o.sessions.Issue(identity)
	if err != nil {
		return nil, f.fail(KindSessionIssueFailed, err)
	}

	f.to(StateSessionEstablished)
	log.LogInfoWithFields("auth", "Session established", map[string]any{
		"subject": identity.Subject,
	})

	return &CallbackResult{
		ReturnURL:    urlutil.SafeReturnPath(req.ReturnURL, DefaultReturnURL),
		SessionValue: value,
		Identity:     identity,
	}, nil
}

// CurrentIdentity returns the identity of the request's session. Any invalid,
// expired or missing cookie is reported as absence, never as an error.
func (o *Orchestrator) CurrentIdentity(r *http.Request) (*idp.Identity, bool) {
	identity, err := o.sessions.FromRequest(r)
	if err != nil {
		return nil, false
	}
	return &identity, true
}

// Logout revokes the session cookie. Calling it without a session is a no-op.
func (o *Orchestrator) Logout(w http.ResponseWriter, r *http.Request) {
	_, hadSession := o.CurrentIdentity(r)
	o.sessions.Revoke(w)
	log.LogDebugWithFields("auth", "Logged out", map[string]any{
		"had_session": hadSession,
	})
}
