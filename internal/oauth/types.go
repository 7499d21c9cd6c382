package oauth

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoSession is returned when a callback arrives for a user that never
// started an authorization flow (or whose session was swept).
var ErrNoSession = errors.New("no authorization session found for user")

// ErrStateMismatch is returned when the state parameter on a callback does
// not match the value issued for the pending flow. A forged or replayed
// callback is rejected before any token exchange is attempted.
var ErrStateMismatch = errors.New("invalid state parameter")

// PendingAuth is the server-side record of an authorization flow in
// flight. It is a plain serializable value, not a live collaborator
// handle, so nothing here depends on object lifetime across the
// provider redirect round trip.
type PendingAuth struct {
	// State is the anti-forgery value round-tripped through the provider.
	State string

	// AuthURL is the authorization URL the user was sent to.
	AuthURL string

	// CreatedAt is when the flow was started.
	CreatedAt time.Time
}

// UserSession is everything the service holds for one browser user.
type UserSession struct {
	// Pending is the in-flight authorization flow, nil once completed.
	Pending *PendingAuth

	// Token is the obtained token, nil until the callback completes.
	// Tokens are replaced wholesale on refresh, never mutated in place.
	Token *oauth2.Token

	// TokenObtainedAt is when Token was last obtained or refreshed.
	TokenObtainedAt time.Time

	// CreatedAt is when the session was created. The 24-hour session
	// sweep keys off this, not off token freshness.
	CreatedAt time.Time
}
