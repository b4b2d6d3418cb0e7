package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
)

const (
	googleRevokeEndpoint        = "https://oauth2.googleapis.com/revoke"
	facebookPermissionsEndpoint = "https://graph.facebook.com/me/permissions"
)

// ErrNoFlow is returned when no flow is registered for a provider.
var ErrNoFlow = errors.New("no flow registered for provider")

// Flow is the provider-side half of a sign-in: it remembers what the provider
// handed out and knows how to sign the user out of that provider again.
type Flow interface {
	Kind() ProviderKind
	// Record keeps the provider-side session carried by a delivered result.
	Record(result ProviderResult)
	// SignOut ends the provider-side session. Calling it with nothing held is a no-op.
	SignOut(ctx context.Context) error
}

// WebFlow is a Flow that can be started from a browser redirect.
type WebFlow interface {
	Flow
	AuthCodeURL(state string) string
	// Complete converts the provider's redirect parameters into a Completion.
	// It holds nothing; call Commit once the login it carries has succeeded.
	Complete(ctx context.Context, code, errCode string) Completion
	// Commit keeps the provider token of a completion whose login succeeded.
	Commit(c Completion)
}

// Completion is a finished browser sign-in: the result to log in with and the
// provider access token to hold if that login succeeds.
type Completion struct {
	Result      ProviderResult
	AccessToken string
}

// FlowOption configures an OAuth2Flow.
type FlowOption func(*OAuth2Flow)

// WithEndpoint overrides the provider's authorization and token endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) FlowOption {
	return func(f *OAuth2Flow) {
		f.config.Endpoint = endpoint
	}
}

// WithRevokeURL overrides the URL used to revoke held tokens.
func WithRevokeURL(u string) FlowOption {
	return func(f *OAuth2Flow) {
		f.revokeURL = u
	}
}

// WithHTTPClient sets the client used for token exchange and revocation.
func WithHTTPClient(c *http.Client) FlowOption {
	return func(f *OAuth2Flow) {
		f.httpClient = c
	}
}

// ProviderSignOutError reports a failed provider sign-out hook.
type ProviderSignOutError struct {
	Provider ProviderKind
	Err      error
}

func (e *ProviderSignOutError) Error() string {
	return fmt.Sprintf("%s sign-out: %v", e.Provider.Short(), e.Err)
}

func (e *ProviderSignOutError) Unwrap() error { return e.Err }

// OAuth2Flow drives an authorization-code sign-in (Google, Facebook).
type OAuth2Flow struct {
	kind       ProviderKind
	config     *oauth2.Config
	httpClient *http.Client

	// proof picks the credential the backend expects out of the exchanged token.
	proof func(*oauth2.Token) string

	// revoke invalidates a held token at revokeURL.
	revoke    func(ctx context.Context, token string) error
	revokeURL string

	// recordRevocable marks tokens delivered through Record as revocable.
	recordRevocable bool

	mu        sync.Mutex
	token     string
	revocable bool
}

var _ WebFlow = (*OAuth2Flow)(nil)

// NewGoogleFlow builds a Google Sign-In flow that yields ID tokens.
func NewGoogleFlow(clientID, clientSecret, redirectURL string, scopes []string, opts ...FlowOption) *OAuth2Flow {
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	f := newOAuth2Flow(ProviderGoogle, &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	})
	f.revokeURL = googleRevokeEndpoint
	f.proof = func(t *oauth2.Token) string {
		idToken, _ := t.Extra("id_token").(string)
		return idToken
	}
	f.revoke = func(ctx context.Context, token string) error {
		form := url.Values{"token": {token}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.revokeURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return f.send(req)
	}
	return f.apply(opts)
}

// NewFacebookFlow builds a Facebook Login flow that yields access tokens.
func NewFacebookFlow(clientID, clientSecret, redirectURL string, scopes []string, opts ...FlowOption) *OAuth2Flow {
	if len(scopes) == 0 {
		scopes = []string{"email", "public_profile"}
	}

	f := newOAuth2Flow(ProviderFacebook, &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     facebook.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	})
	f.proof = func(t *oauth2.Token) string {
		return t.AccessToken
	}
	f.recordRevocable = true
	f.revokeURL = facebookPermissionsEndpoint
	f.revoke = func(ctx context.Context, token string) error {
		endpoint, err := url.Parse(f.revokeURL)
		if err != nil {
			return err
		}
		query := endpoint.Query()
		query.Set("access_token", token)
		endpoint.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint.String(), nil)
		if err != nil {
			return err
		}
		return f.send(req)
	}
	return f.apply(opts)
}

func newOAuth2Flow(kind ProviderKind, config *oauth2.Config) *OAuth2Flow {
	return &OAuth2Flow{
		kind:       kind,
		config:     config,
		httpClient: http.DefaultClient,
	}
}

func (f *OAuth2Flow) apply(opts []FlowOption) *OAuth2Flow {
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind implements Flow.
func (f *OAuth2Flow) Kind() ProviderKind {
	return f.kind
}

// AuthCodeURL returns the provider consent screen URL for state.
func (f *OAuth2Flow) AuthCodeURL(state string) string {
	return f.config.AuthCodeURL(state)
}

// Complete exchanges the authorization code. The access token is returned in
// the Completion, not held.
func (f *OAuth2Flow) Complete(ctx context.Context, code, errCode string) Completion {
	switch {
	case errCode == "access_denied":
		return Completion{Result: Cancelled(f.kind)}
	case errCode != "":
		return Completion{Result: Failed(f.kind, errCode)}
	case code == "":
		return Completion{Result: Failed(f.kind, "missing authorization code")}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	token, err := f.config.Exchange(ctx, code)
	if err != nil {
		return Completion{Result: Failed(f.kind, fmt.Sprintf("exchange failed: %v", err))}
	}

	proof := f.proof(token)
	if proof == "" {
		return Completion{Result: Failed(f.kind, "provider returned no usable token")}
	}

	return Completion{
		Result:      Success(f.kind, TokenPayload{Token: proof}),
		AccessToken: token.AccessToken,
	}
}

// Commit implements WebFlow.
func (f *OAuth2Flow) Commit(c Completion) {
	if c.Result.Kind != f.kind || c.Result.Outcome != OutcomeSuccess || c.AccessToken == "" {
		return
	}
	f.hold(c.AccessToken, true)
}

// Record implements Flow.
func (f *OAuth2Flow) Record(result ProviderResult) {
	if result.Kind != f.kind || result.Outcome != OutcomeSuccess {
		return
	}
	if p, ok := result.Payload.(TokenPayload); ok && p.Token != "" {
		f.hold(p.Token, f.recordRevocable)
	}
}

// SignOut revokes the held token when it is revocable, then forgets it.
func (f *OAuth2Flow) SignOut(ctx context.Context) error {
	f.mu.Lock()
	token, revocable := f.token, f.revocable
	f.token, f.revocable = "", false
	f.mu.Unlock()

	if token == "" || !revocable || f.revoke == nil {
		return nil
	}
	return f.revoke(ctx, token)
}

func (f *OAuth2Flow) hold(token string, revocable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token, f.revocable = token, revocable
}

func (f *OAuth2Flow) send(req *http.Request) error {
	res, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: revoke request failed: %w", f.kind.Short(), ErrProviderUnavailable)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%s: revoke status %d", f.kind.Short(), res.StatusCode)
	}
	return nil
}

// SessionFlow holds a token+secret pair delivered by a native SDK (Twitter).
// There is no web trigger; signing out clears the active session.
type SessionFlow struct {
	kind ProviderKind

	mu     sync.Mutex
	active *TokenSecretPayload
}

var _ Flow = (*SessionFlow)(nil)

// NewTwitterFlow returns the session holder for Twitter results.
func NewTwitterFlow() *SessionFlow {
	return &SessionFlow{kind: ProviderTwitter}
}

// Kind implements Flow.
func (f *SessionFlow) Kind() ProviderKind {
	return f.kind
}

// Record implements Flow.
func (f *SessionFlow) Record(result ProviderResult) {
	if result.Kind != f.kind || result.Outcome != OutcomeSuccess {
		return
	}
	if p, ok := result.Payload.(TokenSecretPayload); ok {
		f.mu.Lock()
		f.active = &p
		f.mu.Unlock()
	}
}

// Active reports whether a session is held.
func (f *SessionFlow) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active != nil
}

// SignOut implements Flow.
func (f *SessionFlow) SignOut(context.Context) error {
	f.mu.Lock()
	f.active = nil
	f.mu.Unlock()
	return nil
}

// Flows stores the configured provider flows and fans sign-out to them.
type Flows struct {
	flows map[ProviderKind]Flow
}

// NewFlows registers the given flows by kind. A later flow replaces an earlier one of the same kind.
func NewFlows(list ...Flow) *Flows {
	m := make(map[ProviderKind]Flow, len(list))
	for _, f := range list {
		m[f.Kind()] = f
	}
	return &Flows{flows: m}
}

// Get returns the flow registered for kind.
func (r *Flows) Get(kind ProviderKind) (Flow, bool) {
	f, ok := r.flows[kind]
	return f, ok
}

// Web returns the flow for kind if it supports browser redirects.
func (r *Flows) Web(kind ProviderKind) (WebFlow, bool) {
	f, ok := r.flows[kind].(WebFlow)
	return f, ok
}

// Record hands a delivered result to its provider's flow, if one is registered.
func (r *Flows) Record(result ProviderResult) {
	if f, ok := r.flows[result.Kind]; ok {
		f.Record(result)
	}
}

// SignOut invokes the sign-out hook for kind. Failures are *ProviderSignOutError.
func (r *Flows) SignOut(ctx context.Context, kind ProviderKind) error {
	f, ok := r.flows[kind]
	if !ok {
		return &ProviderSignOutError{Provider: kind, Err: ErrNoFlow}
	}
	if err := f.SignOut(ctx); err != nil {
		return &ProviderSignOutError{Provider: kind, Err: err}
	}
	return nil
}
