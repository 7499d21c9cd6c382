package oauth

import (
	"sync"
	"time"

	"atlasbridge/pkg/logging"

	"golang.org/x/oauth2"
)

// SessionStore provides thread-safe in-memory storage for per-user OAuth
// sessions, keyed by the opaque user identifier carried in the browser
// cookie. Nothing is persisted: all state is lost on process restart.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*UserSession

	// now is injectable for tests.
	now func() time.Time
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*UserSession),
		now:      time.Now,
	}
}

// BeginAuth records a pending authorization flow for the user, replacing
// any previous session state. Starting a new login invalidates whatever
// was there before.
func (s *SessionStore) BeginAuth(userID string, pending *PendingAuth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[userID] = &UserSession{
		Pending:   pending,
		CreatedAt: s.now(),
	}
	logging.Debug("OAuth", "Stored pending authorization for user=%s", logging.TruncateUserID(userID))
}

// Get returns a snapshot of the user's session. The returned value must
// not be mutated; all writes go through the store.
func (s *SessionStore) Get(userID string) (UserSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return UserSession{}, false
	}
	return *sess, true
}

// SetToken attaches an obtained token to the user's session and clears the
// pending flow. No-op if the session no longer exists (swept mid-flow).
func (s *SessionStore) SetToken(userID string, token *oauth2.Token, obtainedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return
	}
	sess.Pending = nil
	sess.Token = token
	sess.TokenObtainedAt = obtainedAt
	logging.Debug("OAuth", "Stored token for user=%s (expires: %v)",
		logging.TruncateUserID(userID), token.Expiry)
}

// ClearToken drops the user's token but keeps the session entry, forcing
// the next request down the re-authentication path.
func (s *SessionStore) ClearToken(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		sess.Token = nil
		sess.TokenObtainedAt = time.Time{}
	}
}

// Delete removes the user's session entirely.
func (s *SessionStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	logging.Debug("OAuth", "Deleted session for user=%s", logging.TruncateUserID(userID))
}

// Sweep deletes every session older than maxAge and reports how many were
// removed. Age is measured from session creation, not token freshness.
func (s *SessionStore) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	count := 0
	for userID, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, userID)
			count++
		}
	}

	if count > 0 {
		logging.Info("OAuth", "Swept %d expired sessions", count)
	}
	return count
}

// Count returns the number of sessions in the store.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
