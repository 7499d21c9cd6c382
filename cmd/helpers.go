package cmd

import (
	"context"
	"time"

	"atlasbridge/internal/agent"
	"atlasbridge/internal/cli"
	"atlasbridge/internal/config"
	"atlasbridge/internal/llm"
	"atlasbridge/internal/mcpclient"
	"atlasbridge/internal/oauth"

	"golang.org/x/oauth2"
)

// cliUserID is the synthetic user id for terminal sessions. The CLI is
// single-user; the agent service still needs one for history keying.
const cliUserID = "cli"

// tokenFlow is the slice of the OAuth client the CLI token provider needs.
type tokenFlow interface {
	Probe(ctx context.Context, accessToken string) (bool, error)
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

// fileTokenProvider adapts the on-disk token store to the agent's token
// interface, refreshing and re-saving when the token no longer works.
type fileTokenProvider struct {
	flow  tokenFlow
	store *oauth.FileTokenStore
}

func (p *fileTokenProvider) ValidToken(ctx context.Context, userID string) *oauth2.Token {
	token, err := p.store.Load()
	if err != nil || token == nil {
		return nil
	}

	if !token.Expiry.IsZero() && time.Now().Add(30*time.Second).Before(token.Expiry) {
		return token
	}

	// No trustworthy expiry, or past it: ask the provider whether the
	// access token is still accepted before spending a refresh.
	if valid, err := p.flow.Probe(ctx, token.AccessToken); err == nil && valid {
		return token
	}

	refreshed, err := p.flow.Refresh(ctx, token)
	if err != nil {
		return nil
	}
	_ = p.store.Save(refreshed)
	return refreshed
}

// authError picks the right error for a failed CLI operation: a stored
// token that no longer works reads as expired, no token at all as missing.
func authError(cfg *config.Config) error {
	token, err := oauth.NewFileTokenStore(cfg.TokenFile).Load()
	if err == nil && token != nil {
		return &cli.AuthExpiredError{}
	}
	return &cli.AuthRequiredError{}
}

// newCLIAgent builds an agent service backed by the on-disk token.
func newCLIAgent(cfg *config.Config) *agent.Service {
	provider := &fileTokenProvider{
		// The redirect URI is unused for refreshes; any value works here.
		flow:  oauth.NewClient(cfg.Atlassian, cfg.Server.RedirectURI()),
		store: oauth.NewFileTokenStore(cfg.TokenFile),
	}

	return agent.NewService(
		cfg.Agent,
		cfg.MCP,
		llm.NewClient(cfg.LLM),
		mcpclient.NewDialer(cfg.MCP),
		provider,
	)
}
