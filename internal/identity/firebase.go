package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"socialauth/internal/oauth"
)

const firebaseIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

// FirebaseClient exchanges provider credentials through the Identity Toolkit
// signInWithIdp REST endpoint.
type FirebaseClient struct {
	apiKey     string
	baseURL    string
	requestURI string
	httpClient *http.Client
}

var _ Client = (*FirebaseClient)(nil)

// NewFirebaseClient builds a client for the project owning apiKey.
// requestURI is the continue URI registered for the project's IdP configuration.
func NewFirebaseClient(apiKey, requestURI string) *FirebaseClient {
	if requestURI == "" {
		requestURI = "http://localhost"
	}
	return &FirebaseClient{
		apiKey:     apiKey,
		baseURL:    firebaseIdentityToolkitURL,
		requestURI: requestURI,
		httpClient: http.DefaultClient,
	}
}

// Exchange implements Client.
func (c *FirebaseClient) Exchange(ctx context.Context, cred oauth.Credential) (Session, error) {
	postBody, err := idpPostBody(cred)
	if err != nil {
		return Session{}, rejected(err)
	}

	body, err := json.Marshal(signInWithIdpRequest{
		PostBody:            postBody,
		RequestURI:          c.requestURI,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	})
	if err != nil {
		return Session{}, unknown(err)
	}

	endpoint := c.baseURL + "/v1/accounts:signInWithIdp?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, unknown(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, networkFailure(fmt.Errorf("signInWithIdp request failed: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var payload firebaseErrorResponse
		_ = json.NewDecoder(res.Body).Decode(&payload)
		err := fmt.Errorf("signInWithIdp status %d: %s", res.StatusCode, payload.Error.Message)
		if res.StatusCode >= 400 && res.StatusCode < 500 {
			return Session{}, rejected(err)
		}
		return Session{}, unknown(err)
	}

	var payload signInWithIdpResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Session{}, unknown(fmt.Errorf("decode signInWithIdp response: %w", err))
	}

	if payload.LocalID == "" {
		return Session{}, unknown(errors.New("signInWithIdp response has no localId"))
	}

	session := Session{
		UserID:          payload.LocalID,
		LinkedProviders: oauth.NewProviderSet(cred.Kind()),
		Token:           payload.IDToken,
	}
	if secs, err := strconv.Atoi(payload.ExpiresIn); err == nil {
		session.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return session, nil
}

// SignOut implements Client. Firebase ID tokens are held by the client, so
// there is no server-side session to invalidate.
func (c *FirebaseClient) SignOut(context.Context, Session) error {
	return nil
}

func idpPostBody(cred oauth.Credential) (string, error) {
	values := url.Values{}
	values.Set("providerId", cred.Kind().String())

	switch cred.Kind() {
	case oauth.ProviderGoogle:
		values.Set("id_token", cred.Primary())
	case oauth.ProviderFacebook:
		values.Set("access_token", cred.Primary())
	case oauth.ProviderTwitter:
		secret, ok := cred.Secondary()
		if !ok {
			return "", errors.New("twitter credential without secret")
		}
		values.Set("access_token", cred.Primary())
		values.Set("oauth_token_secret", secret)
	default:
		return "", fmt.Errorf("%w: %q", oauth.ErrUnknownProvider, cred.Kind())
	}

	if cred.Primary() == "" {
		return "", errors.New("empty credential")
	}
	return values.Encode(), nil
}

type signInWithIdpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

type signInWithIdpResponse struct {
	LocalID      string `json:"localId"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	ProviderID   string `json:"providerId"`
	Email        string `json:"email"`
}

type firebaseErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
