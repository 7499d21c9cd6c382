package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"atlasbridge/internal/agent"
	"atlasbridge/internal/oauth"
	"atlasbridge/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"
)

// AuthService is the authentication surface the handlers need.
type AuthService interface {
	BeginAuthorization(userID string) (authURL, state string, err error)
	CompleteAuthorization(ctx context.Context, userID, code, state string) (*oauth2.Token, error)
	IsAuthenticated(ctx context.Context, userID string) bool
	GetUserInfo(ctx context.Context, userID string) *oauth.UserInfo
	Logout(userID string)
}

// QueryService is the query execution surface the handlers need.
type QueryService interface {
	Execute(ctx context.Context, userID, query string) (*agent.Result, error)
	Tools(ctx context.Context, userID string) []mcp.Tool
	History(userID string, limit int) []agent.Record
	ClearHistory(userID string) bool
	Stats() agent.Stats
}

// Handler serves the web surface: session-scoped OAuth endpoints and the
// Atlassian query API.
type Handler struct {
	auth     AuthService
	queries  QueryService
	sessions *SessionCodec
}

// NewHandler wires the handler to its services.
func NewHandler(auth AuthService, queries QueryService, sessions *SessionCodec) *Handler {
	return &Handler{
		auth:     auth,
		queries:  queries,
		sessions: sessions,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("HTTP", err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth reports liveness.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "atlasbridge",
	})
}

// handleLogin starts the OAuth flow and redirects to the provider.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.EnsureUser(w, r)

	authURL, _, err := h.auth.BeginAuthorization(userID)
	if err != nil {
		logging.Error("HTTP", err, "Failed to start authorization")
		writeError(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the OAuth flow. Registered under several paths
// because Atlassian app registrations vary in the redirect path they use.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.EnsureUser(w, r)
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		desc := query.Get("error_description")
		logging.Warn("HTTP", "Provider returned error on callback: %s (%s)", errCode, desc)
		writeError(w, http.StatusBadRequest, "authorization failed: "+errCode)
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	_, err := h.auth.CompleteAuthorization(r.Context(), userID, code, query.Get("state"))
	switch {
	case errors.Is(err, oauth.ErrNoSession):
		writeError(w, http.StatusBadRequest, "no authorization in progress")
		return
	case errors.Is(err, oauth.ErrStateMismatch):
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	case err != nil:
		logging.Error("HTTP", err, "Token exchange failed")
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleAuthStatus reports the session's authentication state. Never
// errors; an absent or invalid session simply reads as unauthenticated
// with a nil user_info.
func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.EnsureUser(w, r)

	info := h.auth.GetUserInfo(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": info != nil,
		"user_id":       userID,
		"user_info":     info,
	})
}

// handleLogout drops the server-side session and expires the cookie.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if userID, ok := h.sessions.Decode(cookie.Value); ok {
			h.auth.Logout(userID)
		}
	}
	h.sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleUserInfo returns the session's authentication details.
func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.EnsureUser(w, r)

	info := h.auth.GetUserInfo(r.Context(), userID)
	if info == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleQuery executes one natural-language query for the session.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.EnsureUser(w, r)

	if !h.auth.IsAuthenticated(r.Context(), userID) {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form data")
		return
	}
	query := strings.TrimSpace(r.FormValue("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.queries.Execute(r.Context(), userID, query)
	if err != nil {
		logging.Error("HTTP", err, "Query execution failed")
		writeError(w, http.StatusInternalServerError, "query execution failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleTools lists the MCP tools available to the session.
func (h *Handler) handleTools(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.EnsureUser(w, r)

	if !h.auth.IsAuthenticated(r.Context(), userID) {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	tools := h.queries.Tools(r.Context(), userID)
	summaries := make([]map[string]string, 0, len(tools))
	for _, t := range tools {
		summaries = append(summaries, map[string]string{
			"name":        t.Name,
			"description": t.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": summaries,
		"count": len(summaries),
	})
}

// handleHistory serves GET (recent queries) and DELETE (clear).
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.EnsureUser(w, r)

	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		records := h.queries.History(userID, limit)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"history": records,
			"count":   len(records),
		})
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]bool{
			"cleared": h.queries.ClearHistory(userID),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleStats returns activity counters across all users.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.Stats())
}
