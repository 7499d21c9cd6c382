package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"atlasbridge/internal/config"
	"atlasbridge/pkg/logging"

	"golang.org/x/oauth2"
)

// Atlassian OAuth 2.1 endpoints.
const (
	atlassianAuthURL  = "https://auth.atlassian.com/authorize"
	atlassianTokenURL = "https://auth.atlassian.com/oauth/token"

	// accessibleResourcesURL is the resource-discovery endpoint used as a
	// lightweight validity probe: a 401 here means the token is no longer
	// accepted by the provider.
	accessibleResourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"
)

// Scopes are the fixed Jira/Confluence scopes requested for every user.
// offline_access is required for the provider to issue a refresh token.
var Scopes = []string{
	"read:jira-user",
	"read:jira-work",
	"write:jira-work",
	"read:confluence-content.summary",
	"read:confluence-content.all",
	"write:confluence-content",
	"offline_access",
}

// Client speaks the Atlassian OAuth 2.1 authorization-code grant. It is a
// thin wrapper over golang.org/x/oauth2 with the Atlassian-specific
// authorization parameters baked in.
type Client struct {
	conf        *oauth2.Config
	httpClient  *http.Client
	resourceURL string
}

// NewClient creates an OAuth client for the configured Atlassian app.
// redirectURI must match the app registration exactly.
func NewClient(cfg config.AtlassianConfig, redirectURI string) *Client {
	return newClient(cfg, redirectURI, oauth2.Endpoint{
		AuthURL:  atlassianAuthURL,
		TokenURL: atlassianTokenURL,
	}, accessibleResourcesURL)
}

// newClient is the test seam: endpoints are injectable.
func newClient(cfg config.AtlassianConfig, redirectURI string, endpoint oauth2.Endpoint, resourceURL string) *Client {
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  redirectURI,
			Scopes:       Scopes,
		},
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		resourceURL: resourceURL,
	}
}

// AuthorizationURL builds the provider authorization URL with a freshly
// generated anti-forgery state. The state is returned to the caller for
// server-side storage; it is never trusted from the callback alone.
func (c *Client) AuthorizationURL() (authURL, state string, err error) {
	state, err = generateState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	authURL = c.conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	return authURL, state, nil
}

// Exchange trades an authorization code for a token. Provider errors are
// propagated to the caller.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.conf.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	logging.Debug("OAuth", "Exchanged authorization code for token (expires: %v)", token.Expiry)
	return token, nil
}

// Refresh obtains a new token using the refresh token. Fails if the
// refresh token is invalid or expired; the caller must fall back to
// re-authentication.
func (c *Client) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	src := c.conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: token.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	// Preserve the refresh token when the provider does not rotate it.
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = token.RefreshToken
	}

	logging.Debug("OAuth", "Refreshed token (expires: %v)", newToken.Expiry)
	return newToken, nil
}

// Probe checks whether the provider still accepts the access token by
// hitting the resource-discovery endpoint. Returns false on a 401; any
// other response means the token is still accepted.
func (c *Client) Probe(ctx context.Context, accessToken string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resourceURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("validity probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		logging.Debug("OAuth", "Validity probe returned 401, token expired")
		return false, nil
	}

	return true, nil
}

// withHTTPClient routes oauth2 exchanges through the client's own
// http.Client so its timeout applies.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// generateState creates a cryptographically random anti-forgery value.
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
