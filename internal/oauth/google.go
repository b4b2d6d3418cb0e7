package oauth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

const googleIssuer = "https://accounts.google.com"

// GoogleVerifier validates Google ID tokens and builds a normalized profile.
type GoogleVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*GoogleVerifier)(nil)

// NewGoogleVerifier discovers Google's signing keys and checks tokens against clientID.
func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google: discovery failed: %w: %v", ErrProviderUnavailable, err)
	}

	return newGoogleVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

func newGoogleVerifier(v *oidc.IDTokenVerifier) *GoogleVerifier {
	return &GoogleVerifier{verifier: v}
}

// Verify implements Verifier.
func (v *GoogleVerifier) Verify(ctx context.Context, cred Credential) (*UserProfile, error) {
	if cred.Kind() != ProviderGoogle {
		return nil, fmt.Errorf("google: unexpected %s credential: %w", cred.Kind(), ErrInvalidCredential)
	}

	idToken, err := v.verifier.Verify(ctx, cred.Primary())
	if err != nil {
		return nil, fmt.Errorf("google: id token rejected: %w", ErrInvalidCredential)
	}

	if idToken.Subject == "" {
		return nil, fmt.Errorf("google: missing subject: %w", ErrInvalidCredential)
	}

	var claims googleIDTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google: decode claims: %w", err)
	}

	return &UserProfile{
		ID:       idToken.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Picture:  claims.Picture,
		Provider: ProviderGoogle,
	}, nil
}

type googleIDTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}
