package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"socialauth/internal/identity"
	"socialauth/internal/oauth"
)

// Status is the phase of the process session.
type Status int

const (
	StatusLoggedOut Status = iota
	StatusAuthenticating
	StatusLoggedIn
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoggedOut:
		return "logged_out"
	case StatusAuthenticating:
		return "authenticating"
	case StatusLoggedIn:
		return "logged_in"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// SessionState is a read-only snapshot of the coordinator's state.
// Session is set only for StatusLoggedIn and Err only for StatusError.
type SessionState struct {
	Status  Status
	Session identity.Session
	Err     error
}

func loggedOut() SessionState      { return SessionState{Status: StatusLoggedOut} }
func authenticating() SessionState { return SessionState{Status: StatusAuthenticating} }

func loggedIn(session identity.Session) SessionState {
	return SessionState{Status: StatusLoggedIn, Session: session}
}

func failed(err error) SessionState {
	return SessionState{Status: StatusError, Err: err}
}

// LoggedIn reports whether the state holds an active session.
func (s SessionState) LoggedIn() bool {
	return s.Status == StatusLoggedIn
}

// MarshalJSON omits the backend session token.
func (s SessionState) MarshalJSON() ([]byte, error) {
	out := stateJSON{Status: s.Status.String()}
	if s.Status == StatusLoggedIn {
		out.UserID = s.Session.UserID
		out.LinkedProviders = &s.Session.LinkedProviders
		if !s.Session.ExpiresAt.IsZero() {
			exp := s.Session.ExpiresAt
			out.ExpiresAt = &exp
		}
	}
	if s.Err != nil {
		out.Reason = s.Err.Error()
	}
	return json.Marshal(out)
}

type stateJSON struct {
	Status          string             `json:"status"`
	UserID          string             `json:"userId,omitempty"`
	LinkedProviders *oauth.ProviderSet `json:"linkedProviders,omitempty"`
	ExpiresAt       *time.Time         `json:"expiresAt,omitempty"`
	Reason          string             `json:"reason,omitempty"`
}
