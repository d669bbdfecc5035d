package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/signin-gate/internal/crypto"
)

// ErrInvalidOrExpiredState is returned when a state is unknown, already
// consumed or past its expiry
var ErrInvalidOrExpiredState = errors.New("invalid or expired state")

// AuthorizationRequest is a pending login, created when the browser is sent to
// the provider and consumed exactly once when it comes back
type AuthorizationRequest struct {
	State     string    `json:"-"`
	ReturnURL string    `json:"return_url"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the request is past its expiry at now
func (r *AuthorizationRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// StateStore issues and single-use consumes OAuth state values
type StateStore interface {
	// Issue records a new pending request bound to returnURL and returns its state
	Issue(ctx context.Context, returnURL string) (string, error)
	// Consume atomically looks up and removes the request for state.
	// At most one caller ever succeeds for a given state.
	Consume(ctx context.Context, state string) (*AuthorizationRequest, error)
	// DeleteExpired removes expired requests and returns how many were removed
	DeleteExpired(ctx context.Context) (int, error)
	Close() error
}

// Option configures a state store
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		o.now = now
	}
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newAuthorizationRequest(returnURL string, now time.Time, ttl time.Duration) (*AuthorizationRequest, error) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}
	return &AuthorizationRequest{
		State:     state,
		ReturnURL: returnURL,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}
