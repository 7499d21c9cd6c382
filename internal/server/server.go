package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"atlasbridge/pkg/logging"
)

// Server is the HTTP front end. It owns route registration and the
// listener lifecycle; request semantics live in Handler.
type Server struct {
	addr       string
	httpServer *http.Server
}

// New creates the server with all routes registered.
func New(addr string, handler *Handler) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.handleHealth)

	mux.HandleFunc("GET /auth/login", handler.handleLogin)
	mux.HandleFunc("GET /auth/callback", handler.handleCallback)
	// Alias paths for app registrations that use a different redirect path.
	mux.HandleFunc("GET /callback", handler.handleCallback)
	mux.HandleFunc("GET /oauth/callback", handler.handleCallback)
	mux.HandleFunc("GET /auth/status", handler.handleAuthStatus)
	mux.HandleFunc("POST /auth/logout", handler.handleLogout)

	mux.HandleFunc("POST /atlassian/query", handler.handleQuery)
	mux.HandleFunc("GET /atlassian/tools", handler.handleTools)
	mux.HandleFunc("/atlassian/history", handler.handleHistory)
	mux.HandleFunc("GET /atlassian/stats", handler.handleStats)
	mux.HandleFunc("GET /atlassian/user-info", handler.handleUserInfo)

	mux.HandleFunc("/", handler.handleHome)

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           recoverMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP", "Listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logging.Info("HTTP", "Shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// recoverMiddleware converts handler panics into 500 responses so one bad
// request cannot take the process down.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error("HTTP", nil, "Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
