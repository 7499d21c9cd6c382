package oauth

import (
	"context"
	"fmt"
	"time"

	"atlasbridge/pkg/logging"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// tokenExpiryMargin is subtracted from a token's own expiry when
	// deciding staleness, to absorb clock skew and network latency.
	tokenExpiryMargin = 30 * time.Second

	// tokenStalenessWindow is the fallback freshness window for tokens
	// that carry no expiry metadata: refresh once they have been held
	// longer than this.
	tokenStalenessWindow = time.Hour

	// sessionMaxAge is how long a session may live before the periodic
	// sweep removes it, token or not.
	sessionMaxAge = 24 * time.Hour
)

// FlowClient is the narrow contract the service needs from the OAuth
// client. *Client satisfies it; tests substitute fakes.
type FlowClient interface {
	AuthorizationURL() (authURL, state string, err error)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

// UserInfo is the authentication summary exposed on the status endpoint.
type UserInfo struct {
	UserID          string    `json:"user_id"`
	Authenticated   bool      `json:"authenticated"`
	TokenObtainedAt time.Time `json:"token_obtained_at,omitempty"`
}

// Service multiplexes the single OAuth client across many concurrent
// browser users, each identified by an opaque id. It owns the per-user
// session store and the token staleness policy.
type Service struct {
	flow  FlowClient
	store *SessionStore

	// refreshGroup deduplicates concurrent refreshes for the same user.
	refreshGroup singleflight.Group

	// now is injectable for tests.
	now func() time.Time
}

// NewService creates the per-user OAuth service.
func NewService(flow FlowClient, store *SessionStore) *Service {
	return &Service{
		flow:  flow,
		store: store,
		now:   time.Now,
	}
}

// BeginAuthorization starts an authorization flow for the user and returns
// the provider URL to redirect to plus the issued state.
func (s *Service) BeginAuthorization(userID string) (authURL, state string, err error) {
	authURL, state, err = s.flow.AuthorizationURL()
	if err != nil {
		return "", "", fmt.Errorf("failed to build authorization URL: %w", err)
	}

	s.store.BeginAuth(userID, &PendingAuth{
		State:     state,
		AuthURL:   authURL,
		CreatedAt: s.now(),
	})

	logging.Info("OAuth", "Started authorization flow for user=%s", logging.TruncateUserID(userID))
	return authURL, state, nil
}

// CompleteAuthorization validates the callback against the pending flow
// and exchanges the code for a token. The state comparison happens before
// the exchange is ever attempted: a forged or replayed callback never
// reaches the provider.
func (s *Service) CompleteAuthorization(ctx context.Context, userID, code, state string) (*oauth2.Token, error) {
	sess, ok := s.store.Get(userID)
	if !ok || sess.Pending == nil {
		return nil, ErrNoSession
	}
	if state == "" || state != sess.Pending.State {
		logging.Warn("OAuth", "State mismatch on callback for user=%s", logging.TruncateUserID(userID))
		return nil, ErrStateMismatch
	}

	token, err := s.flow.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	s.store.SetToken(userID, token, s.now())
	logging.Info("OAuth", "Completed authorization for user=%s", logging.TruncateUserID(userID))
	return token, nil
}

// ValidToken returns a fresh token for the user, refreshing it first when
// stale. Returns nil when the user holds no token or the refresh fails;
// the caller sends the user back through the login flow rather than
// receiving an error.
func (s *Service) ValidToken(ctx context.Context, userID string) *oauth2.Token {
	sess, ok := s.store.Get(userID)
	if !ok || sess.Token == nil {
		return nil
	}

	if !s.isStale(sess.Token, sess.TokenObtainedAt) {
		return sess.Token
	}

	// Two simultaneous requests for the same user share one refresh.
	v, _, _ := s.refreshGroup.Do(userID, func() (interface{}, error) {
		return s.refreshLocked(ctx, userID), nil
	})

	token, _ := v.(*oauth2.Token)
	return token
}

// refreshLocked re-reads the session (another request may have finished a
// refresh while this one waited) and performs the refresh. On failure the
// stored token is cleared, forcing re-authentication.
func (s *Service) refreshLocked(ctx context.Context, userID string) *oauth2.Token {
	sess, ok := s.store.Get(userID)
	if !ok || sess.Token == nil {
		return nil
	}
	if !s.isStale(sess.Token, sess.TokenObtainedAt) {
		return sess.Token
	}

	newToken, err := s.flow.Refresh(ctx, sess.Token)
	if err != nil {
		logging.Warn("OAuth", "Token refresh failed for user=%s: %v", logging.TruncateUserID(userID), err)
		s.store.ClearToken(userID)
		return nil
	}

	s.store.SetToken(userID, newToken, s.now())
	return newToken
}

// isStale applies the freshness policy: honor the token's own expiry when
// the provider supplied one, fall back to the fixed one-hour window for
// tokens without expiry metadata.
func (s *Service) isStale(token *oauth2.Token, obtainedAt time.Time) bool {
	if !token.Expiry.IsZero() {
		return s.now().Add(tokenExpiryMargin).After(token.Expiry)
	}
	return s.now().Sub(obtainedAt) > tokenStalenessWindow
}

// IsAuthenticated reports whether the user currently holds a usable token.
func (s *Service) IsAuthenticated(ctx context.Context, userID string) bool {
	return s.ValidToken(ctx, userID) != nil
}

// GetUserInfo returns the authentication summary for the user, or nil if
// the user is not authenticated.
func (s *Service) GetUserInfo(ctx context.Context, userID string) *UserInfo {
	if s.ValidToken(ctx, userID) == nil {
		return nil
	}
	sess, _ := s.store.Get(userID)
	return &UserInfo{
		UserID:          userID,
		Authenticated:   true,
		TokenObtainedAt: sess.TokenObtainedAt,
	}
}

// Logout drops all server-side state for the user.
func (s *Service) Logout(userID string) {
	s.store.Delete(userID)
}

// CleanupExpiredSessions removes sessions older than 24 hours. Invoked
// periodically by the application run loop; the service does not schedule
// itself.
func (s *Service) CleanupExpiredSessions() int {
	return s.store.Sweep(sessionMaxAge)
}
