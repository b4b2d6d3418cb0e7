package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialauth/internal/auth"
	"socialauth/internal/config"
	"socialauth/internal/identity"
	"socialauth/internal/logger"
	"socialauth/internal/oauth"
	"socialauth/internal/server"
	"socialauth/internal/storage"
)

const cleanupInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flows := newFlows(cfg)
	store := storage.NewMemorySessionStore()

	backend, err := newBackend(ctx, cfg, store, log)
	if err != nil {
		log.Error("build identity backend", "error", err)
		os.Exit(1)
	}

	coordinator := auth.NewCoordinator(backend, flows,
		auth.WithLogger(log),
		auth.WithObserver(auth.LogObserver(log)),
	)

	handler := auth.NewHandler(coordinator, flows, log)
	router := server.NewRouter(handler, log)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go cleanupSessions(ctx, store, log)

	go func() {
		log.Info("session server listening", "addr", cfg.HTTPAddr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func newFlows(cfg config.Config) *oauth.Flows {
	list := []oauth.Flow{oauth.NewTwitterFlow()}
	if g := cfg.Google; g.Enabled() {
		list = append(list, oauth.NewGoogleFlow(g.ClientID, g.ClientSecret, g.RedirectURL, g.Scopes))
	}
	if f := cfg.Facebook; f.Enabled() {
		list = append(list, oauth.NewFacebookFlow(f.ClientID, f.ClientSecret, f.RedirectURL, f.Scopes))
	}
	return oauth.NewFlows(list...)
}

func newBackend(ctx context.Context, cfg config.Config, store storage.SessionStore, log *slog.Logger) (identity.Client, error) {
	if cfg.Backend == config.BackendFirebase {
		return identity.NewFirebaseClient(cfg.FirebaseAPIKey, cfg.FirebaseRequestURI), nil
	}

	verifiers := map[oauth.ProviderKind]oauth.Verifier{
		oauth.ProviderFacebook: oauth.NewFacebookVerifier(),
	}
	if cfg.Google.Enabled() {
		google, err := oauth.NewGoogleVerifier(ctx, cfg.Google.ClientID)
		if err != nil {
			return nil, err
		}
		verifiers[oauth.ProviderGoogle] = google
	}

	var opts []identity.LocalOption
	if cfg.AllowUnverified {
		opts = append(opts, identity.TrustUnverified())
	}

	tokens := identity.NewTokenManager(cfg.SessionSecret, cfg.SessionTTL)
	backend := identity.NewLocalBackend(tokens, store, verifiers, opts...)

	for _, kind := range backend.Unverified(oauth.Kinds...) {
		if cfg.AllowUnverified {
			log.Warn("provider credentials are trusted without verification", "provider", kind)
		} else {
			log.Warn("provider has no verifier, its logins will be rejected", "provider", kind)
		}
	}
	return backend, nil
}

func cleanupSessions(ctx context.Context, store *storage.MemorySessionStore, log *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := store.CleanupExpired(ctx, now); n > 0 {
				log.Debug("expired sessions removed", "count", n)
			}
		}
	}
}
