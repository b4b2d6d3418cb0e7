package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"socialauth/internal/identity"
	"socialauth/internal/oauth"
)

const (
	stateCookiePrefix = "socialauth_state_"
	stateCookieTTL    = 10 * time.Minute
)

// Handler wires HTTP requests to the provider flows and the session coordinator.
type Handler struct {
	coordinator *Coordinator
	flows       *oauth.Flows
	logger      *slog.Logger
}

// NewHandler builds a new auth HTTP handler bundle.
func NewHandler(coordinator *Coordinator, flows *oauth.Flows, logger *slog.Logger) *Handler {
	if flows == nil {
		flows = oauth.NewFlows()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		coordinator: coordinator,
		flows:       flows,
		logger:      logger,
	}
}

// HandleLogin redirects the browser to the provider's consent screen.
func (h *Handler) HandleLogin(kind oauth.ProviderKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow, ok := h.flows.Web(kind)
		if !ok {
			http.Error(w, "unsupported provider", http.StatusNotFound)
			return
		}

		state := uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookiePrefix + kind.Short(),
			Value:    state,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(stateCookieTTL),
			Secure:   r.TLS != nil,
		})

		http.Redirect(w, r, flow.AuthCodeURL(state), http.StatusFound)
	}
}

// HandleCallback completes a browser sign-in and logs the result in.
func (h *Handler) HandleCallback(kind oauth.ProviderKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow, ok := h.flows.Web(kind)
		if !ok {
			http.Error(w, "unsupported provider", http.StatusNotFound)
			return
		}

		cookieName := stateCookiePrefix + kind.Short()
		cookie, err := r.Cookie(cookieName)
		state := r.URL.Query().Get("state")
		if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) != 1 {
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})

		query := r.URL.Query()
		completion := flow.Complete(r.Context(), query.Get("code"), query.Get("error"))
		if h.login(w, r, completion.Result) == nil {
			flow.Commit(completion)
		}
	}
}

// HandleProviderResult accepts a result delivered by a native provider SDK.
func (h *Handler) HandleProviderResult(kind oauth.ProviderKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body resultRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		result, err := body.toResult(kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if h.login(w, r, result) == nil {
			h.flows.Record(result)
		}
	}
}

// HandleLogout ends the current session.
func (h *Handler) HandleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.coordinator.Logout(r.Context())
		if errors.Is(err, ErrSessionBusy) {
			writeState(w, http.StatusConflict, h.coordinator.CurrentState(), err)
			return
		}
		// Fan-out failures are reported, but the local session is gone either way.
		writeState(w, http.StatusOK, h.coordinator.CurrentState(), err)
	}
}

// HandleSession returns the current session state.
func (h *Handler) HandleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeState(w, http.StatusOK, h.coordinator.CurrentState(), nil)
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, result oauth.ProviderResult) error {
	err := h.coordinator.Login(r.Context(), result)
	if err != nil {
		h.logger.InfoContext(r.Context(), "login did not establish a session", "provider", result.Kind, "error", err)
	}
	writeState(w, statusFor(err), h.coordinator.CurrentState(), err)
	return err
}

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	if errors.Is(err, ErrConcurrentLogin) || errors.Is(err, ErrSessionBusy) {
		return http.StatusConflict
	}

	var normErr *oauth.NormalizationError
	if errors.As(err, &normErr) {
		if normErr.Kind == oauth.UserCancelled {
			return http.StatusOK
		}
		return http.StatusUnprocessableEntity
	}

	var backendErr *identity.BackendError
	if errors.As(err, &backendErr) {
		switch backendErr.Kind {
		case identity.Rejected:
			return http.StatusUnauthorized
		case identity.NetworkFailure:
			return http.StatusBadGateway
		}
	}

	return http.StatusInternalServerError
}

type resultRequest struct {
	Outcome string `json:"outcome"`
	Token   string `json:"token"`
	Secret  string `json:"secret"`
	Reason  string `json:"reason"`
}

// toResult is the platform adapter: it shapes the payload the way kind delivers it.
func (b resultRequest) toResult(kind oauth.ProviderKind) (oauth.ProviderResult, error) {
	switch b.Outcome {
	case "success":
		if kind == oauth.ProviderTwitter {
			return oauth.Success(kind, oauth.TokenSecretPayload{Token: b.Token, Secret: b.Secret}), nil
		}
		return oauth.Success(kind, oauth.TokenPayload{Token: b.Token}), nil
	case "cancelled":
		return oauth.Cancelled(kind), nil
	case "failed":
		return oauth.Failed(kind, b.Reason), nil
	default:
		return oauth.ProviderResult{}, errors.New("outcome must be success, cancelled or failed")
	}
}

type stateResponse struct {
	Session SessionState `json:"session"`
	Error   string       `json:"error,omitempty"`
}

func writeState(w http.ResponseWriter, status int, state SessionState, err error) {
	resp := stateResponse{Session: state}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
