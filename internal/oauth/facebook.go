package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const facebookGraphMeEndpoint = "https://graph.facebook.com/me"

// FacebookVerifier resolves the Graph API profile behind a Facebook access token.
type FacebookVerifier struct {
	endpoint   string
	httpClient *http.Client
}

var _ Verifier = (*FacebookVerifier)(nil)

// NewFacebookVerifier builds a verifier that calls the Graph API.
func NewFacebookVerifier() *FacebookVerifier {
	return &FacebookVerifier{
		endpoint:   facebookGraphMeEndpoint,
		httpClient: http.DefaultClient,
	}
}

// Verify implements Verifier.
func (v *FacebookVerifier) Verify(ctx context.Context, cred Credential) (*UserProfile, error) {
	if cred.Kind() != ProviderFacebook {
		return nil, fmt.Errorf("facebook: unexpected %s credential: %w", cred.Kind(), ErrInvalidCredential)
	}

	endpoint, err := url.Parse(v.endpoint)
	if err != nil {
		return nil, err
	}
	query := endpoint.Query()
	query.Set("fields", "id,name,email")
	query.Set("access_token", cred.Primary())
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}

	res, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facebook: graph request failed: %w", ErrProviderUnavailable)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("facebook: graph status %d: %w", res.StatusCode, ErrProviderUnavailable)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("facebook: graph status %d: %w", res.StatusCode, ErrInvalidCredential)
	}

	var payload facebookMeResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, err
	}

	if payload.ID == "" {
		return nil, fmt.Errorf("facebook: missing id: %w", ErrInvalidCredential)
	}

	return &UserProfile{
		ID:       payload.ID,
		Email:    payload.Email,
		Name:     payload.Name,
		Provider: ProviderFacebook,
	}, nil
}

type facebookMeResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
