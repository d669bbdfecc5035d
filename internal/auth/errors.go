package auth

import (
	"errors"
)

// ErrorKind classifies login failures. It is safe to show to the browser.
type ErrorKind string

const (
	KindInvalidState         ErrorKind = "invalid_state"
	KindProviderDenied       ErrorKind = "provider_denied"
	KindTokenExchangeFailed  ErrorKind = "token_exchange_failed"
	KindProfileFetchFailed   ErrorKind = "profile_fetch_failed"
	KindMissingRequiredClaim ErrorKind = "missing_required_claim"
	KindSessionIssueFailed   ErrorKind = "session_issue_failed"
	KindInvalidSession       ErrorKind = "invalid_session"
	KindStateStoreFailed     ErrorKind = "state_store_unavailable"
)

// ErrProviderDenied is returned when the provider redirects back with an error
var ErrProviderDenied = errors.New("provider denied authorization")

// Known reports whether k is one of the kinds above
func (k ErrorKind) Known() bool {
	switch k {
	case KindInvalidState, KindProviderDenied, KindTokenExchangeFailed, KindProfileFetchFailed,
		KindMissingRequiredClaim, KindSessionIssueFailed, KindInvalidSession, KindStateStoreFailed:
		return true
	}
	return false
}

// Message is a generic description suitable for end users
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidState:
		return "The sign-in request expired or was already used. Please sign in again."
	case KindProviderDenied:
		return "Sign-in was cancelled or refused by the identity provider."
	case KindTokenExchangeFailed, KindProfileFetchFailed:
		return "The identity provider could not complete the sign-in. Please try again."
	case KindMissingRequiredClaim:
		return "The identity provider did not return a usable account identifier."
	case KindInvalidSession:
		return "Your session is invalid or has expired. Please sign in again."
	case KindStateStoreFailed:
		return "Sign-in is temporarily unavailable. Please try again shortly."
	default:
		return "Sign-in failed. Please try again."
	}
}

// Error is a failed login step. Err carries the component error and stays
// server side.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an *Error anywhere in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}
