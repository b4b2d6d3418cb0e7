package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"socialauth/internal/oauth"
	"socialauth/internal/storage"
)

var userNamespace = uuid.MustParse("5b4f5a4e-2f63-4c1e-9a57-0c5d7a1c9e21")

// ErrUnverifiable is wrapped in the rejection of a credential whose provider
// has no verifier while unverified providers are not trusted.
var ErrUnverifiable = errors.New("no verifier configured for provider")

// LocalBackend is an in-process identity backend. It verifies credentials with
// the configured provider verifiers, maps each provider subject to a stable
// user id and issues signed session tokens.
type LocalBackend struct {
	tokens    *TokenManager
	store     storage.SessionStore
	verifiers map[oauth.ProviderKind]oauth.Verifier

	trustUnverified bool
}

var _ Client = (*LocalBackend)(nil)

// LocalOption configures a LocalBackend.
type LocalOption func(*LocalBackend)

// TrustUnverified accepts credentials from providers without a verifier,
// taking the subject from the token itself. For development only.
func TrustUnverified() LocalOption {
	return func(b *LocalBackend) {
		b.trustUnverified = true
	}
}

// NewLocalBackend builds a backend. Providers without a verifier are rejected
// unless TrustUnverified is given.
func NewLocalBackend(tokens *TokenManager, store storage.SessionStore, verifiers map[oauth.ProviderKind]oauth.Verifier, opts ...LocalOption) *LocalBackend {
	b := &LocalBackend{
		tokens:    tokens,
		store:     store,
		verifiers: verifiers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Unverified returns the providers among kinds that have no verifier.
func (b *LocalBackend) Unverified(kinds ...oauth.ProviderKind) []oauth.ProviderKind {
	var out []oauth.ProviderKind
	for _, kind := range kinds {
		if v, ok := b.verifiers[kind]; !ok || v == nil {
			out = append(out, kind)
		}
	}
	return out
}

// Exchange implements Client.
func (b *LocalBackend) Exchange(ctx context.Context, cred oauth.Credential) (Session, error) {
	if cred.Primary() == "" || !cred.Kind().Valid() {
		return Session{}, rejected(errors.New("malformed credential"))
	}

	subject, err := b.subject(ctx, cred)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnverifiable):
			return Session{}, rejected(err)
		case errors.Is(err, oauth.ErrProviderUnavailable):
			return Session{}, networkFailure(err)
		case errors.Is(err, oauth.ErrInvalidCredential):
			return Session{}, rejected(err)
		default:
			return Session{}, unknown(err)
		}
	}

	userID := UserID(cred.Kind(), subject)
	sessionID := uuid.NewString()

	token, expiresAt, err := b.tokens.Issue(sessionID, userID, cred.Kind().String())
	if err != nil {
		return Session{}, unknown(fmt.Errorf("issue session token: %w", err))
	}

	record := storage.SessionRecord{
		ID:        sessionID,
		UserID:    userID,
		Provider:  cred.Kind().String(),
		Subject:   subject,
		ExpiresAt: expiresAt,
	}
	if err := b.store.Save(ctx, record); err != nil {
		return Session{}, unknown(fmt.Errorf("persist session: %w", err))
	}

	return Session{
		UserID:          userID,
		LinkedProviders: oauth.NewProviderSet(cred.Kind()),
		Token:           token,
		ExpiresAt:       expiresAt,
	}, nil
}

// SignOut implements Client.
func (b *LocalBackend) SignOut(ctx context.Context, session Session) error {
	if session.Token == "" {
		return nil
	}

	// Tokens this backend cannot read were never issued by it; there is nothing to invalidate.
	sessionID, err := b.tokens.SessionID(session.Token)
	if err != nil {
		return nil
	}

	if _, err := b.store.Get(ctx, sessionID); errors.Is(err, storage.ErrNotFound) {
		return nil
	} else if err != nil {
		return unknown(fmt.Errorf("lookup session: %w", err))
	}

	if err := b.store.Delete(ctx, sessionID); err != nil {
		return unknown(fmt.Errorf("delete session: %w", err))
	}
	return nil
}

func (b *LocalBackend) subject(ctx context.Context, cred oauth.Credential) (string, error) {
	if v, ok := b.verifiers[cred.Kind()]; ok && v != nil {
		profile, err := v.Verify(ctx, cred)
		if err != nil {
			return "", err
		}
		return profile.ID, nil
	}

	if !b.trustUnverified {
		return "", fmt.Errorf("%s: %w", cred.Kind(), ErrUnverifiable)
	}

	// Twitter access tokens are "<user id>-<random>".
	subject, _, _ := strings.Cut(cred.Primary(), "-")
	return subject, nil
}

// UserID returns the stable user id for a provider subject.
func UserID(kind oauth.ProviderKind, subject string) string {
	return uuid.NewSHA1(userNamespace, []byte(kind.String()+":"+subject)).String()
}
