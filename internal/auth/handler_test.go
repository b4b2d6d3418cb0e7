package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"socialauth/internal/identity"
	"socialauth/internal/oauth"
)

func newJSONRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeState(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var response struct {
		Session map[string]any `json:"session"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, rr.Body.String())
	}
	response.Session["error"] = response.Error
	return response.Session
}

func TestHandleProviderResultSuccess(t *testing.T) {
	backend := &stubBackend{session: identity.Session{UserID: "u1", Token: "secret-session-token"}}
	twitter := oauth.NewTwitterFlow()
	coordinator, _ := newTestCoordinator(backend, nil)
	handler := NewHandler(coordinator, oauth.NewFlows(twitter), nil)

	req := newJSONRequest(t, http.MethodPost, "/auth/twitter", resultRequest{Outcome: "success", Token: "42-abc", Secret: "shh"})
	rr := httptest.NewRecorder()
	handler.HandleProviderResult(oauth.ProviderTwitter)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	state := decodeState(t, rr)
	if state["status"] != "logged_in" || state["userId"] != "u1" {
		t.Fatalf("unexpected state %v", state)
	}
	if strings.Contains(rr.Body.String(), "secret-session-token") || strings.Contains(rr.Body.String(), "shh") {
		t.Fatalf("response must not leak tokens: %s", rr.Body.String())
	}

	secret, ok := backend.exchanges[0].Secondary()
	if !ok || secret != "shh" || backend.exchanges[0].Primary() != "42-abc" {
		t.Fatalf("expected token+secret credential, got %v", backend.exchanges[0])
	}
	if !twitter.Active() {
		t.Fatalf("expected twitter session to be recorded after login")
	}
}

func TestHandleProviderResultStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		body       resultRequest
		backendErr error
		expectCode int
		expectStat string
	}{
		{
			name:       "cancelled",
			body:       resultRequest{Outcome: "cancelled"},
			expectCode: http.StatusOK,
			expectStat: "logged_out",
		},
		{
			name:       "provider failure",
			body:       resultRequest{Outcome: "failed", Reason: "sdk error"},
			expectCode: http.StatusUnprocessableEntity,
			expectStat: "logged_out",
		},
		{
			name:       "empty token",
			body:       resultRequest{Outcome: "success"},
			expectCode: http.StatusUnprocessableEntity,
			expectStat: "logged_out",
		},
		{
			name:       "rejected",
			body:       resultRequest{Outcome: "success", Token: "t"},
			backendErr: &identity.BackendError{Kind: identity.Rejected},
			expectCode: http.StatusUnauthorized,
			expectStat: "error",
		},
		{
			name:       "network failure",
			body:       resultRequest{Outcome: "success", Token: "t"},
			backendErr: &identity.BackendError{Kind: identity.NetworkFailure},
			expectCode: http.StatusBadGateway,
			expectStat: "error",
		},
		{
			name:       "unknown",
			body:       resultRequest{Outcome: "success", Token: "t"},
			backendErr: errors.New("boom"),
			expectCode: http.StatusInternalServerError,
			expectStat: "error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coordinator, _ := newTestCoordinator(&stubBackend{err: tc.backendErr, session: identity.Session{UserID: "u1"}}, nil)
			handler := NewHandler(coordinator, nil, nil)

			rr := httptest.NewRecorder()
			handler.HandleProviderResult(oauth.ProviderFacebook)(rr, newJSONRequest(t, http.MethodPost, "/auth/facebook", tc.body))

			if rr.Code != tc.expectCode {
				t.Fatalf("expected status %d, got %d (%s)", tc.expectCode, rr.Code, rr.Body.String())
			}
			if state := decodeState(t, rr); state["status"] != tc.expectStat {
				t.Fatalf("expected status %s, got %v", tc.expectStat, state)
			}
		})
	}
}

func TestHandleProviderResultBadRequests(t *testing.T) {
	coordinator, _ := newTestCoordinator(&stubBackend{}, nil)
	handler := NewHandler(coordinator, nil, nil)

	t.Run("invalid payload", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/google", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		handler.HandleProviderResult(oauth.ProviderGoogle)(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("unknown outcome", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.HandleProviderResult(oauth.ProviderGoogle)(rr, newJSONRequest(t, http.MethodPost, "/auth/google", resultRequest{Outcome: "maybe"}))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestHandleLogoutAndSession(t *testing.T) {
	backend := &stubBackend{session: identity.Session{UserID: "u1"}}
	hooks := &stubHooks{}
	coordinator, _ := newTestCoordinator(backend, hooks)
	handler := NewHandler(coordinator, nil, nil)

	rr := httptest.NewRecorder()
	handler.HandleProviderResult(oauth.ProviderGoogle)(rr, newJSONRequest(t, http.MethodPost, "/auth/google", resultRequest{Outcome: "success", Token: "id"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d (%s)", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	handler.HandleSession()(rr, httptest.NewRequest(http.MethodGet, "/session", nil))
	state := decodeState(t, rr)
	providers, _ := state["linkedProviders"].([]any)
	if state["status"] != "logged_in" || len(providers) != 1 || providers[0] != "google.com" {
		t.Fatalf("unexpected session %v", state)
	}

	rr = httptest.NewRecorder()
	handler.HandleLogout()(rr, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if state := decodeState(t, rr); state["status"] != "logged_out" {
		t.Fatalf("expected logged_out, got %v", state)
	}
	if len(hooks.calls) != 1 {
		t.Fatalf("expected provider sign-out, got %v", hooks.calls)
	}
}

func TestHandleLoginRedirectsWithState(t *testing.T) {
	coordinator, _ := newTestCoordinator(&stubBackend{}, nil)
	flows := oauth.NewFlows(oauth.NewGoogleFlow("client-id", "secret", "http://localhost/auth/google/callback", nil))
	handler := NewHandler(coordinator, flows, nil)

	rr := httptest.NewRecorder()
	handler.HandleLogin(oauth.ProviderGoogle)(rr, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "socialauth_state_google" || cookies[0].Value == "" {
		t.Fatalf("expected state cookie, got %v", cookies)
	}

	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect: %v", err)
	}
	if location.Query().Get("state") != cookies[0].Value {
		t.Fatalf("expected redirect state to match cookie")
	}

	rr = httptest.NewRecorder()
	handler.HandleLogin(oauth.ProviderTwitter)(rr, httptest.NewRequest(http.MethodGet, "/auth/twitter/login", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for provider without web flow, got %d", rr.Code)
	}
}

func TestHandleCallback(t *testing.T) {
	backend := &stubBackend{}
	coordinator, rec := newTestCoordinator(backend, nil)
	flows := oauth.NewFlows(oauth.NewFacebookFlow("client-id", "secret", "http://localhost/auth/facebook/callback", nil))
	handler := NewHandler(coordinator, flows, nil)

	t.Run("state mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/facebook/callback?state=abc&code=c", nil)
		req.AddCookie(&http.Cookie{Name: "socialauth_state_facebook", Value: "xyz"})
		rr := httptest.NewRecorder()
		handler.HandleCallback(oauth.ProviderFacebook)(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("missing cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/facebook/callback?state=abc&code=c", nil)
		rr := httptest.NewRecorder()
		handler.HandleCallback(oauth.ProviderFacebook)(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("user denied consent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/facebook/callback?state=abc&error=access_denied", nil)
		req.AddCookie(&http.Cookie{Name: "socialauth_state_facebook", Value: "abc"})
		rr := httptest.NewRecorder()
		handler.HandleCallback(oauth.ProviderFacebook)(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
		}
		if backend.exchangeCount() != 0 {
			t.Fatalf("backend must not be called after a denied consent")
		}
		var normErr *oauth.NormalizationError
		if !errors.As(rec.last().Err, &normErr) || normErr.Kind != oauth.UserCancelled {
			t.Fatalf("expected a UserCancelled report, got %v", rec.last().Err)
		}
	})
}

func TestHandleLogoutWhileBusy(t *testing.T) {
	backend := &stubBackend{
		session: identity.Session{UserID: "u1"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	coordinator, _ := newTestCoordinator(backend, nil)
	handler := NewHandler(coordinator, nil, nil)

	first := newJSONRequest(t, http.MethodPost, "/auth/google", resultRequest{Outcome: "success", Token: "id"})
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleProviderResult(oauth.ProviderGoogle)(httptest.NewRecorder(), first)
	}()
	<-backend.started

	rr := httptest.NewRecorder()
	handler.HandleLogout()(rr, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.HandleProviderResult(oauth.ProviderFacebook)(rr, newJSONRequest(t, http.MethodPost, "/auth/facebook", resultRequest{Outcome: "success", Token: "fb"}))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	close(backend.release)
	<-done
}

func TestHandleCallbackRejectedLoginKeepsWinningProviderToken(t *testing.T) {
	var mu sync.Mutex
	var revoked []string

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"access-%s","token_type":"Bearer"}`, r.Form.Get("code"))
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		revoked = append(revoked, r.URL.Query().Get("access_token"))
		mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flows := oauth.NewFlows(oauth.NewFacebookFlow("client-id", "secret", "http://localhost/auth/facebook/callback", nil,
		oauth.WithEndpoint(oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}),
		oauth.WithHTTPClient(srv.Client()),
		oauth.WithRevokeURL(srv.URL+"/revoke"),
	))
	backend := &stubBackend{
		session: identity.Session{UserID: "u1"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	coordinator := NewCoordinator(backend, flows)
	handler := NewHandler(coordinator, flows, nil)

	callback := func(code string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/auth/facebook/callback?state=s-"+code+"&code="+code, nil)
		req.AddCookie(&http.Cookie{Name: "socialauth_state_facebook", Value: "s-" + code})
		return req
	}

	first := httptest.NewRecorder()
	firstReq := callback("A")
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleCallback(oauth.ProviderFacebook)(first, firstReq)
	}()
	<-backend.started

	second := httptest.NewRecorder()
	handler.HandleCallback(oauth.ProviderFacebook)(second, callback("B"))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 for the overlapping callback, got %d (%s)", second.Code, second.Body.String())
	}

	close(backend.release)
	<-done
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 for the first callback, got %d (%s)", first.Code, first.Body.String())
	}

	rr := httptest.NewRecorder()
	handler.HandleLogout()(rr, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(revoked) != 1 || revoked[0] != "access-A" {
		t.Fatalf("expected logout to revoke access-A only, got %v", revoked)
	}
}

func TestHandleCallbackFailedLoginHoldsNoProviderToken(t *testing.T) {
	var mu sync.Mutex
	var revoked []string

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"access-%s","token_type":"Bearer"}`, r.Form.Get("code"))
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		revoked = append(revoked, r.URL.Query().Get("access_token"))
		mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := oauth.NewFacebookFlow("client-id", "secret", "http://localhost/auth/facebook/callback", nil,
		oauth.WithEndpoint(oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}),
		oauth.WithHTTPClient(srv.Client()),
		oauth.WithRevokeURL(srv.URL+"/revoke"),
	)
	backend := &stubBackend{err: &identity.BackendError{Kind: identity.Rejected}}
	handler := NewHandler(NewCoordinator(backend, oauth.NewFlows(flow)), oauth.NewFlows(flow), nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/facebook/callback?state=s&code=A", nil)
	req.AddCookie(&http.Cookie{Name: "socialauth_state_facebook", Value: "s"})
	rr := httptest.NewRecorder()
	handler.HandleCallback(oauth.ProviderFacebook)(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (%s)", rr.Code, rr.Body.String())
	}

	if err := flow.SignOut(req.Context()); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(revoked) != 0 {
		t.Fatalf("a rejected login must not leave a provider token behind, got %v", revoked)
	}
}
