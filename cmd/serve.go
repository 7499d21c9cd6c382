package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"atlasbridge/internal/app"

	"github.com/spf13/cobra"
)

// serveCmd starts the team web server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Atlassian assistant web server",
	Long: `Starts the web server that lets team members connect their own
Atlassian account and run natural-language queries against Jira and
Confluence.

Each visitor authenticates individually via OAuth; tokens are held in
memory for the lifetime of their session and never written to disk.

Required environment (or config file equivalents):
  ATLASSIAN_CLIENT_ID      OAuth app client id
  ATLASSIAN_CLIENT_SECRET  OAuth app client secret
  SESSION_SECRET_KEY       Secret for signing session cookies
  LLM_API_KEY              Key for the LLM provider`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.New(cfg).Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
