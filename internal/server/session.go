package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// sessionCookieName identifies the browser session cookie.
const sessionCookieName = "atlasbridge_session"

// sessionMaxAgeSeconds matches the server-side session sweep horizon.
const sessionMaxAgeSeconds = 24 * 60 * 60

// SessionCodec signs and verifies browser session cookies. The cookie
// value is "<userID>.<signature>"; the user id is a random UUID with no
// meaning outside this process.
type SessionCodec struct {
	secret []byte
}

// NewSessionCodec creates a codec keyed with the given secret.
func NewSessionCodec(secret string) *SessionCodec {
	return &SessionCodec{secret: []byte(secret)}
}

// Encode produces the signed cookie value for a user id.
func (c *SessionCodec) Encode(userID string) string {
	return userID + "." + c.sign(userID)
}

// Decode verifies a cookie value and returns the user id. Returns false
// for malformed or tampered values.
func (c *SessionCodec) Decode(value string) (string, bool) {
	idx := strings.LastIndex(value, ".")
	if idx <= 0 {
		return "", false
	}

	userID, sig := value[:idx], value[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(c.sign(userID))) {
		return "", false
	}
	return userID, true
}

func (c *SessionCodec) sign(userID string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(userID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// EnsureUser returns the request's user id, minting a new identity and
// setting the cookie when the request has none or carries an invalid one.
func (c *SessionCodec) EnsureUser(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if userID, ok := c.Decode(cookie.Value); ok {
			return userID
		}
	}

	userID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    c.Encode(userID),
		Path:     "/",
		MaxAge:   sessionMaxAgeSeconds,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return userID
}

// ClearCookie expires the session cookie.
func (c *SessionCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
