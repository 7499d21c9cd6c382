package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// fakeFlow implements FlowClient for tests without touching the network.
type fakeFlow struct {
	mu sync.Mutex

	authURL string
	state   string
	authErr error

	exchangeToken *oauth2.Token
	exchangeErr   error
	exchangeCalls int

	refreshToken *oauth2.Token
	refreshErr   error
	refreshCalls int32
	refreshDelay time.Duration
}

func (f *fakeFlow) AuthorizationURL() (string, string, error) {
	return f.authURL, f.state, f.authErr
}

func (f *fakeFlow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	f.mu.Lock()
	f.exchangeCalls++
	f.mu.Unlock()
	return f.exchangeToken, f.exchangeErr
}

func (f *fakeFlow) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	return f.refreshToken, f.refreshErr
}

func newTestService(flow *fakeFlow) (*Service, *SessionStore) {
	store := NewSessionStore()
	svc := NewService(flow, store)
	return svc, store
}

// seedToken creates a session holding a token, bypassing the auth flow.
func seedToken(store *SessionStore, userID string, token *oauth2.Token, obtainedAt time.Time) {
	store.BeginAuth(userID, &PendingAuth{State: "seed"})
	store.SetToken(userID, token, obtainedAt)
}

func TestBeginAuthorization(t *testing.T) {
	flow := &fakeFlow{authURL: "https://auth.example.com/authorize?state=s1", state: "s1"}
	svc, store := newTestService(flow)

	url, state, err := svc.BeginAuthorization("user-1")
	if err != nil {
		t.Fatalf("BeginAuthorization failed: %v", err)
	}
	if url != flow.authURL || state != "s1" {
		t.Errorf("unexpected url/state: %s %s", url, state)
	}

	sess, ok := store.Get("user-1")
	if !ok || sess.Pending == nil || sess.Pending.State != "s1" {
		t.Errorf("expected pending auth recorded, got %+v", sess.Pending)
	}
}

func TestCompleteAuthorizationNoSession(t *testing.T) {
	flow := &fakeFlow{exchangeToken: &oauth2.Token{AccessToken: "tok"}}
	svc, _ := newTestService(flow)

	_, err := svc.CompleteAuthorization(context.Background(), "unknown", "code", "state")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if flow.exchangeCalls != 0 {
		t.Error("exchange must not be attempted without a pending session")
	}
}

func TestCompleteAuthorizationStateMismatch(t *testing.T) {
	flow := &fakeFlow{authURL: "u", state: "expected", exchangeToken: &oauth2.Token{AccessToken: "tok"}}
	svc, _ := newTestService(flow)

	if _, _, err := svc.BeginAuthorization("user-1"); err != nil {
		t.Fatal(err)
	}

	for _, bad := range []string{"", "wrong"} {
		_, err := svc.CompleteAuthorization(context.Background(), "user-1", "code", bad)
		if !errors.Is(err, ErrStateMismatch) {
			t.Errorf("state %q: expected ErrStateMismatch, got %v", bad, err)
		}
	}
	if flow.exchangeCalls != 0 {
		t.Error("exchange must not be attempted on state mismatch")
	}
}

func TestCompleteAuthorizationSuccess(t *testing.T) {
	flow := &fakeFlow{authURL: "u", state: "s1", exchangeToken: &oauth2.Token{AccessToken: "tok"}}
	svc, store := newTestService(flow)

	if _, _, err := svc.BeginAuthorization("user-1"); err != nil {
		t.Fatal(err)
	}

	token, err := svc.CompleteAuthorization(context.Background(), "user-1", "code", "s1")
	if err != nil {
		t.Fatalf("CompleteAuthorization failed: %v", err)
	}
	if token.AccessToken != "tok" {
		t.Errorf("unexpected token: %+v", token)
	}

	sess, _ := store.Get("user-1")
	if sess.Pending != nil {
		t.Error("pending auth should be cleared after completion")
	}
	if !svc.IsAuthenticated(context.Background(), "user-1") {
		t.Error("user should be authenticated after completion")
	}
}

func TestValidTokenAbsent(t *testing.T) {
	svc, _ := newTestService(&fakeFlow{})
	if tok := svc.ValidToken(context.Background(), "nobody"); tok != nil {
		t.Errorf("expected nil token for unknown user, got %+v", tok)
	}
}

func TestValidTokenFreshWithinWindow(t *testing.T) {
	flow := &fakeFlow{refreshToken: &oauth2.Token{AccessToken: "refreshed"}}
	svc, store := newTestService(flow)

	base := time.Now()
	svc.now = func() time.Time { return base }
	seedToken(store, "user-1", &oauth2.Token{AccessToken: "tok"}, base)

	// 59 minutes in: still fresh, no refresh.
	svc.now = func() time.Time { return base.Add(59 * time.Minute) }
	tok := svc.ValidToken(context.Background(), "user-1")
	if tok == nil || tok.AccessToken != "tok" {
		t.Fatalf("expected original token, got %+v", tok)
	}
	if atomic.LoadInt32(&flow.refreshCalls) != 0 {
		t.Error("refresh must not run inside the freshness window")
	}
}

func TestValidTokenRefreshesWhenStale(t *testing.T) {
	flow := &fakeFlow{refreshToken: &oauth2.Token{AccessToken: "refreshed"}}
	svc, store := newTestService(flow)

	base := time.Now()
	seedToken(store, "user-1", &oauth2.Token{AccessToken: "tok"}, base)

	svc.now = func() time.Time { return base.Add(61 * time.Minute) }
	tok := svc.ValidToken(context.Background(), "user-1")
	if tok == nil || tok.AccessToken != "refreshed" {
		t.Fatalf("expected refreshed token, got %+v", tok)
	}
	if got := atomic.LoadInt32(&flow.refreshCalls); got != 1 {
		t.Errorf("expected exactly one refresh, got %d", got)
	}

	// The refreshed token resets the freshness window.
	svc.now = func() time.Time { return base.Add(90 * time.Minute) }
	if tok := svc.ValidToken(context.Background(), "user-1"); tok == nil || tok.AccessToken != "refreshed" {
		t.Errorf("expected refreshed token still fresh, got %+v", tok)
	}
	if got := atomic.LoadInt32(&flow.refreshCalls); got != 1 {
		t.Errorf("expected no second refresh, got %d", got)
	}
}

func TestValidTokenHonorsTokenExpiry(t *testing.T) {
	flow := &fakeFlow{refreshToken: &oauth2.Token{AccessToken: "refreshed"}}
	svc, store := newTestService(flow)

	base := time.Now()
	// Provider says the token expires in 10 minutes, well inside the
	// one-hour fallback window.
	seedToken(store, "user-1", &oauth2.Token{AccessToken: "tok", Expiry: base.Add(10 * time.Minute)}, base)

	svc.now = func() time.Time { return base.Add(11 * time.Minute) }
	tok := svc.ValidToken(context.Background(), "user-1")
	if tok == nil || tok.AccessToken != "refreshed" {
		t.Fatalf("expected refresh driven by token expiry, got %+v", tok)
	}
}

func TestValidTokenRefreshFailureClearsToken(t *testing.T) {
	flow := &fakeFlow{refreshErr: fmt.Errorf("invalid_grant")}
	svc, store := newTestService(flow)

	base := time.Now()
	seedToken(store, "user-1", &oauth2.Token{AccessToken: "tok"}, base)

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	if tok := svc.ValidToken(context.Background(), "user-1"); tok != nil {
		t.Errorf("expected nil token after refresh failure, got %+v", tok)
	}

	sess, _ := store.Get("user-1")
	if sess.Token != nil {
		t.Error("expected stored token cleared after refresh failure")
	}
	if svc.IsAuthenticated(context.Background(), "user-1") {
		t.Error("user should not be authenticated after refresh failure")
	}
}

func TestValidTokenConcurrentRefreshesShareOneCall(t *testing.T) {
	flow := &fakeFlow{
		refreshToken: &oauth2.Token{AccessToken: "refreshed"},
		refreshDelay: 50 * time.Millisecond,
	}
	svc, store := newTestService(flow)

	base := time.Now()
	seedToken(store, "user-1", &oauth2.Token{AccessToken: "tok"}, base)
	svc.now = func() time.Time { return base.Add(2 * time.Hour) }

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := svc.ValidToken(context.Background(), "user-1")
			if tok == nil || tok.AccessToken != "refreshed" {
				t.Errorf("expected refreshed token, got %+v", tok)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&flow.refreshCalls); got != 1 {
		t.Errorf("expected a single deduplicated refresh, got %d", got)
	}
}

func TestGetUserInfo(t *testing.T) {
	flow := &fakeFlow{}
	svc, store := newTestService(flow)

	if info := svc.GetUserInfo(context.Background(), "user-1"); info != nil {
		t.Errorf("expected nil info for unauthenticated user, got %+v", info)
	}

	base := time.Now()
	svc.now = func() time.Time { return base }
	seedToken(store, "user-1", &oauth2.Token{AccessToken: "tok"}, base)

	info := svc.GetUserInfo(context.Background(), "user-1")
	if info == nil {
		t.Fatal("expected user info")
	}
	if !info.Authenticated || info.UserID != "user-1" {
		t.Errorf("unexpected info: %+v", info)
	}
	if !info.TokenObtainedAt.Equal(base) {
		t.Errorf("expected obtained-at %v, got %v", base, info.TokenObtainedAt)
	}
}

func TestLogout(t *testing.T) {
	svc, store := newTestService(&fakeFlow{})
	seedToken(store, "user-1", &oauth2.Token{AccessToken: "tok"}, time.Now())

	svc.Logout("user-1")

	if _, ok := store.Get("user-1"); ok {
		t.Error("expected session removed on logout")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	flow := &fakeFlow{}
	svc, store := newTestService(flow)

	base := time.Now()
	store.now = func() time.Time { return base }
	store.BeginAuth("old", &PendingAuth{State: "a"})

	store.now = func() time.Time { return base.Add(25 * time.Hour) }
	store.BeginAuth("fresh", &PendingAuth{State: "b"})

	if removed := svc.CleanupExpiredSessions(); removed != 1 {
		t.Errorf("expected 1 session removed, got %d", removed)
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 surviving session, got %d", store.Count())
	}
}
