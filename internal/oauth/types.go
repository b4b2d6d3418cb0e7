package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderKind identifies the external identity provider that produced a result.
type ProviderKind string

const (
	ProviderGoogle   ProviderKind = "google.com"
	ProviderFacebook ProviderKind = "facebook.com"
	ProviderTwitter  ProviderKind = "twitter.com"
)

// Kinds lists every supported provider in a fixed order.
var Kinds = []ProviderKind{ProviderGoogle, ProviderFacebook, ProviderTwitter}

var (
	// ErrInvalidCredential indicates the upstream credential is invalid or expired.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrProviderUnavailable indicates the upstream provider cannot be reached.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrUnknownProvider is returned for a provider kind outside Kinds.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ParseProviderKind accepts either the provider id ("google.com") or its short name ("google").
func ParseProviderKind(s string) (ProviderKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if s == string(k) || s == k.Short() {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Short returns the provider name without the domain suffix.
func (k ProviderKind) Short() string {
	return strings.TrimSuffix(string(k), ".com")
}

func (k ProviderKind) String() string {
	return string(k)
}

// Valid reports whether k is one of Kinds.
func (k ProviderKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Outcome is the terminal status of a provider sign-in flow.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Payload is the provider-specific proof carried by a successful result.
// It is implemented only by TokenPayload and TokenSecretPayload.
type Payload interface {
	isPayload()
}

// TokenPayload carries a single opaque token (Google ID token, Facebook access token).
type TokenPayload struct {
	Token string
}

// TokenSecretPayload carries an OAuth 1.0a token and its secret (Twitter).
type TokenSecretPayload struct {
	Token  string
	Secret string
}

func (TokenPayload) isPayload()       {}
func (TokenSecretPayload) isPayload() {}

// ProviderResult is produced once per completed provider flow and consumed by Normalize.
type ProviderResult struct {
	Kind    ProviderKind
	Outcome Outcome
	Payload Payload
	// Reason describes a failed outcome.
	Reason string
}

// Success builds a successful result for kind.
func Success(kind ProviderKind, payload Payload) ProviderResult {
	return ProviderResult{Kind: kind, Outcome: OutcomeSuccess, Payload: payload}
}

// Cancelled builds a result for a flow the user backed out of.
func Cancelled(kind ProviderKind) ProviderResult {
	return ProviderResult{Kind: kind, Outcome: OutcomeCancelled}
}

// Failed builds a result for a flow that ended in a provider error.
func Failed(kind ProviderKind, reason string) ProviderResult {
	return ProviderResult{Kind: kind, Outcome: OutcomeFailed, Reason: reason}
}

// UserProfile is the normalized identity data shared by all providers.
type UserProfile struct {
	ID       string
	Email    string
	Name     string
	Picture  string
	Provider ProviderKind
}

// Verifier checks a credential with its provider and returns the profile behind it.
type Verifier interface {
	Verify(ctx context.Context, cred Credential) (*UserProfile, error)
}
