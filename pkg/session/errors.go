package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when login is rejected by the backend
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNetwork is returned when the backend could not be reached or
	// answered with something other than an auth decision
	ErrNetwork = errors.New("network error")

	// ErrSessionExpired is returned when the session cannot be recovered and
	// the principal must log in again
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthorized is returned when an operation needs a session and none exists
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when login attempts exceed the local limit
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoSession is returned by a TokenStore holding no session
	ErrNoSession = errors.New("no stored session")
)

// AuthError describes a failed session operation. Kind is one of the
// sentinel errors above; Err is the underlying cause, if any.
type AuthError struct {
	Op         string // login, refresh, execute, logout, restore
	Kind       error
	StatusCode int // HTTP status when the backend answered
	Err        error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("session %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newAuthError(op string, kind error, status int, cause error) *AuthError {
	return &AuthError{Op: op, Kind: kind, StatusCode: status, Err: cause}
}
