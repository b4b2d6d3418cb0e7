package oauth

import (
	"encoding/json"
	"fmt"
	"slices"
)

// NormalizationErrorKind classifies why a ProviderResult produced no Credential.
type NormalizationErrorKind int

const (
	UserCancelled NormalizationErrorKind = iota
	ProviderFailure
)

func (k NormalizationErrorKind) String() string {
	if k == UserCancelled {
		return "user cancelled"
	}
	return "provider failure"
}

// NormalizationError is returned by Normalize for results that carry no usable credential.
// It is a user-facing "no session change" condition, never a fatal one.
type NormalizationError struct {
	Kind     NormalizationErrorKind
	Provider ProviderKind
	Reason   string
}

func (e *NormalizationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Provider.Short(), e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider.Short(), e.Kind, e.Reason)
}

// Credential is the canonical, provider-agnostic value exchanged with the identity backend.
// Only Normalize constructs one; primary is never empty.
type Credential struct {
	kind      ProviderKind
	primary   string
	secondary string
}

func (c Credential) Kind() ProviderKind { return c.kind }
func (c Credential) Primary() string    { return c.primary }

// Secondary returns the secret half of a token+secret pair; ok is false for single-token providers.
func (c Credential) Secondary() (string, bool) {
	return c.secondary, c.secondary != ""
}

// String never includes token material.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{%s}", c.kind)
}

// Normalize maps a provider result to a Credential. It performs no I/O.
func Normalize(result ProviderResult) (Credential, error) {
	switch result.Outcome {
	case OutcomeSuccess:
	case OutcomeCancelled:
		return Credential{}, &NormalizationError{Kind: UserCancelled, Provider: result.Kind}
	default:
		return Credential{}, &NormalizationError{Kind: ProviderFailure, Provider: result.Kind, Reason: result.Reason}
	}

	fail := func(reason string) (Credential, error) {
		return Credential{}, &NormalizationError{Kind: ProviderFailure, Provider: result.Kind, Reason: reason}
	}

	switch result.Kind {
	case ProviderGoogle, ProviderFacebook:
		p, ok := result.Payload.(TokenPayload)
		if !ok {
			return fail(fmt.Sprintf("unexpected payload %T", result.Payload))
		}
		if p.Token == "" {
			return fail("empty token")
		}
		return Credential{kind: result.Kind, primary: p.Token}, nil
	case ProviderTwitter:
		p, ok := result.Payload.(TokenSecretPayload)
		if !ok {
			return fail(fmt.Sprintf("unexpected payload %T", result.Payload))
		}
		if p.Token == "" || p.Secret == "" {
			return fail("token and secret required")
		}
		return Credential{kind: result.Kind, primary: p.Token, secondary: p.Secret}, nil
	default:
		return fail(ErrUnknownProvider.Error())
	}
}

// ProviderSet is an immutable set of provider kinds. Iteration follows Kinds order.
type ProviderSet struct {
	kinds []ProviderKind
}

// NewProviderSet builds a set from kinds, dropping duplicates.
func NewProviderSet(kinds ...ProviderKind) ProviderSet {
	var out []ProviderKind
	for _, k := range Kinds {
		if slices.Contains(kinds, k) {
			out = append(out, k)
		}
	}
	return ProviderSet{kinds: out}
}

func (s ProviderSet) Contains(kind ProviderKind) bool {
	return slices.Contains(s.kinds, kind)
}

func (s ProviderSet) Len() int { return len(s.kinds) }

// Kinds returns a copy of the members.
func (s ProviderSet) Kinds() []ProviderKind {
	return slices.Clone(s.kinds)
}

// Equal reports whether both sets hold the same kinds.
func (s ProviderSet) Equal(other ProviderSet) bool {
	return slices.Equal(s.kinds, other.kinds)
}

func (s ProviderSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s.kinds))
	for _, k := range s.kinds {
		names = append(names, string(k))
	}
	return json.Marshal(names)
}
