package server

import (
	"log/slog"
	"net/http"
	"time"

	"socialauth/internal/auth"
	"socialauth/internal/oauth"
)

// NewRouter wires HTTP routes to handlers.
func NewRouter(handler *auth.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	for _, kind := range oauth.Kinds {
		base := "/auth/" + kind.Short()
		mux.Handle("GET "+base+"/login", handler.HandleLogin(kind))
		mux.Handle("GET "+base+"/callback", handler.HandleCallback(kind))
		mux.Handle("POST "+base, handler.HandleProviderResult(kind))
	}
	mux.Handle("POST /auth/logout", handler.HandleLogout())
	mux.Handle("GET /session", handler.HandleSession())

	return logRequests(mux, logger)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
