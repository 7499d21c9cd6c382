package app

import (
	"context"
	"time"

	"atlasbridge/internal/agent"
	"atlasbridge/internal/config"
	"atlasbridge/internal/llm"
	"atlasbridge/internal/mcpclient"
	"atlasbridge/internal/oauth"
	"atlasbridge/internal/server"
	"atlasbridge/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
)

// sweepInterval is how often expired sessions are cleaned up. Sessions
// live for 24 hours; an hourly sweep keeps the store bounded without
// precise timing.
const sweepInterval = time.Hour

// App wires the services together and owns the run loop.
type App struct {
	cfg    *config.Config
	oauth  *oauth.Service
	agent  *agent.Service
	server *server.Server
}

// New builds the application from configuration.
func New(cfg *config.Config) *App {
	flow := oauth.NewClient(cfg.Atlassian, cfg.Server.RedirectURI())
	authSvc := oauth.NewService(flow, oauth.NewSessionStore())

	agentSvc := agent.NewService(
		cfg.Agent,
		cfg.MCP,
		llm.NewClient(cfg.LLM),
		mcpclient.NewDialer(cfg.MCP),
		authSvc,
	)

	codec := server.NewSessionCodec(cfg.Server.SessionSecret)
	handler := server.NewHandler(authSvc, agentSvc, codec)

	return &App{
		cfg:    cfg,
		oauth:  authSvc,
		agent:  agentSvc,
		server: server.New(cfg.Server.ListenAddr(), handler),
	}
}

// Run serves until the context is cancelled. It notifies systemd once the
// listener is up and sweeps expired sessions periodically.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})

	g.Go(func() error {
		a.runSweeper(ctx)
		return nil
	})

	// Best effort: fails silently outside systemd.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err == nil && sent {
		logging.Debug("App", "Notified systemd of readiness")
	}

	return g.Wait()
}

// runSweeper removes sessions older than 24 hours on a fixed interval.
func (a *App) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.oauth.CleanupExpiredSessions(); removed > 0 {
				logging.Info("App", "Swept %d expired sessions", removed)
			}
		}
	}
}
