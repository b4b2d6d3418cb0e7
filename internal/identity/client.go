// Package identity talks to the identity backend that turns a provider
// credential into an authenticated user session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"socialauth/internal/oauth"
)

// Session is the backend's view of one authenticated user.
type Session struct {
	UserID          string
	LinkedProviders oauth.ProviderSet
	// Token is the backend-issued session token, if the backend issues one.
	Token     string
	ExpiresAt time.Time
}

// IsZero reports whether s carries no user.
func (s Session) IsZero() bool {
	return s.UserID == ""
}

// Client is the narrow interface to the identity backend.
// Implementations never retry internally; callers apply their own timeouts through ctx.
type Client interface {
	// Exchange trades a credential for a session.
	Exchange(ctx context.Context, cred oauth.Credential) (Session, error)
	// SignOut invalidates the backend-side session. Signing out an
	// already-invalidated session is not an error.
	SignOut(ctx context.Context, session Session) error
}

// BackendErrorKind classifies backend failures.
type BackendErrorKind int

const (
	NetworkFailure BackendErrorKind = iota
	Rejected
	Unknown
)

func (k BackendErrorKind) String() string {
	switch k {
	case NetworkFailure:
		return "network failure"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// BackendError is returned by Client implementations.
type BackendError struct {
	Kind BackendErrorKind
	Err  error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return "identity backend: " + e.Kind.String()
	}
	return fmt.Sprintf("identity backend: %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether a new attempt may succeed. Rejected credentials never are.
func (e *BackendError) Retryable() bool {
	return e.Kind == NetworkFailure
}

// IsRejected reports whether err is a BackendError of kind Rejected.
func IsRejected(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == Rejected
}

func networkFailure(err error) error { return &BackendError{Kind: NetworkFailure, Err: err} }
func rejected(err error) error       { return &BackendError{Kind: Rejected, Err: err} }
func unknown(err error) error        { return &BackendError{Kind: Unknown, Err: err} }
