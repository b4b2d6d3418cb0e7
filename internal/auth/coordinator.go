package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"socialauth/internal/identity"
	"socialauth/internal/oauth"
)

var (
	// ErrConcurrentLogin is returned by Login while another login or logout is in flight.
	ErrConcurrentLogin = errors.New("login already in progress")
	// ErrSessionBusy is returned by Logout while a login or logout is in flight.
	ErrSessionBusy = errors.New("session operation in progress")
)

// SignOuter is the provider sign-out capability used during logout fan-out.
type SignOuter interface {
	SignOut(ctx context.Context, kind oauth.ProviderKind) error
}

// Coordinator is the single authority over the process session.
//
// At most one login exchange or logout runs at a time; competing calls are
// rejected rather than queued. Observers are notified while the state lock is
// held, so they see transitions in the order they happened.
type Coordinator struct {
	backend identity.Client
	hooks   SignOuter
	logger  *slog.Logger
	tracer  trace.Tracer

	mu        sync.Mutex
	inFlight  bool
	observers []Observer

	state atomic.Pointer[SessionState]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithObserver subscribes o from construction on.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, o)
	}
}

// NewCoordinator returns a coordinator in the LoggedOut state.
// hooks may be nil when no provider keeps its own session.
func NewCoordinator(backend identity.Client, hooks SignOuter, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: backend,
		hooks:   hooks,
		logger:  slog.Default(),
		tracer:  otel.Tracer("socialauth/internal/auth"),
	}
	for _, opt := range opts {
		opt(c)
	}

	initial := loggedOut()
	c.state.Store(&initial)
	return c
}

// Subscribe adds an observer for subsequent transitions.
func (c *Coordinator) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// CurrentState returns the latest snapshot. It never blocks.
func (c *Coordinator) CurrentState() SessionState {
	return *c.state.Load()
}

// LinkedProviders returns the providers linked to the active session, empty when logged out.
func (c *Coordinator) LinkedProviders() oauth.ProviderSet {
	return c.CurrentState().Session.LinkedProviders
}

// Login normalizes result and, if it carries a credential, exchanges it with
// the backend. The returned error mirrors what observers were told; a
// rejected concurrent attempt returns ErrConcurrentLogin and changes nothing.
func (c *Coordinator) Login(ctx context.Context, result oauth.ProviderResult) error {
	ctx, span := c.tracer.Start(ctx, "session.login", trace.WithAttributes(
		attribute.String("provider", result.Kind.String()),
		attribute.String("outcome", result.Outcome.String()),
	))
	defer span.End()

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.logger.Debug("login rejected", "provider", result.Kind, "reason", "operation in flight")
		span.SetStatus(codes.Error, ErrConcurrentLogin.Error())
		return ErrConcurrentLogin
	}

	cred, err := oauth.Normalize(result)
	if err != nil {
		next := c.CurrentState()
		if !next.LoggedIn() {
			next = loggedOut()
		}
		c.transition(next, err)
		c.mu.Unlock()
		span.RecordError(err)
		return err
	}

	c.inFlight = true
	c.transition(authenticating(), nil)
	c.mu.Unlock()

	session, err := c.exchange(ctx, cred)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if err != nil {
		c.transition(failed(err), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// The session is linked to exactly the provider that authenticated it.
	session.LinkedProviders = oauth.NewProviderSet(cred.Kind())
	c.transition(loggedIn(session), nil)
	return nil
}

// Logout signs out of every linked provider, then the backend, and always
// ends LoggedOut. It is a silent no-op unless the state is LoggedIn. Provider
// and backend failures are joined, reported to observers and returned.
func (c *Coordinator) Logout(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "session.logout")
	defer span.End()

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		span.SetStatus(codes.Error, ErrSessionBusy.Error())
		return ErrSessionBusy
	}
	current := c.CurrentState()
	if !current.LoggedIn() {
		c.mu.Unlock()
		return nil
	}
	c.inFlight = true
	c.mu.Unlock()

	session := current.Session
	var errs []error

	for _, kind := range session.LinkedProviders.Kinds() {
		if err := c.signOutProvider(ctx, kind); err != nil {
			c.logger.Warn("provider sign-out failed", "provider", kind, "error", err)
			errs = append(errs, err)
		}
	}

	if err := c.signOutBackend(ctx, session); err != nil {
		c.logger.Warn("backend sign-out failed", "user_id", session.UserID, "error", err)
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	c.transition(loggedOut(), err)
	return err
}

// transition must be called with mu held.
func (c *Coordinator) transition(next SessionState, report error) {
	c.state.Store(&next)

	c.logger.Debug("session transition", "status", next.Status.String(), "report", report)

	e := Event{State: next, Err: report}
	for _, o := range c.observers {
		o.SessionChanged(e)
	}
}

func (c *Coordinator) exchange(ctx context.Context, cred oauth.Credential) (session identity.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &identity.BackendError{Kind: identity.Unknown, Err: fmt.Errorf("exchange panicked: %v", r)}
		}
	}()
	return c.backend.Exchange(ctx, cred)
}

func (c *Coordinator) signOutProvider(ctx context.Context, kind oauth.ProviderKind) (err error) {
	if c.hooks == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sign-out panicked: %v", r)
		}
		var signOutErr *oauth.ProviderSignOutError
		if err != nil && !errors.As(err, &signOutErr) {
			err = &oauth.ProviderSignOutError{Provider: kind, Err: err}
		}
	}()
	return c.hooks.SignOut(ctx, kind)
}

func (c *Coordinator) signOutBackend(ctx context.Context, session identity.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &identity.BackendError{Kind: identity.Unknown, Err: fmt.Errorf("sign-out panicked: %v", r)}
		}
	}()
	return c.backend.SignOut(ctx, session)
}
