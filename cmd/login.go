package cmd

import (
	"context"
	"fmt"
	"time"

	"atlasbridge/internal/cli"
	"atlasbridge/internal/oauth"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var loginNoBrowser bool

// loginCmd authenticates the terminal user via the OAuth browser flow and
// stores the token on disk for ask/tools.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate to Atlassian",
	Long: `Authenticate to Atlassian using the OAuth browser flow.

A temporary local server receives the OAuth callback; the resulting token
is stored with owner-only permissions for use by 'atlasbridge ask' and
'atlasbridge tools'.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateCLI(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, oauth.CallbackTimeout)
	defer cancel()

	callback := oauth.NewCallbackServer(cfg.Server.Port)
	redirectURI, err := callback.Start(ctx)
	if err != nil {
		return &cli.AuthFailedError{Reason: err}
	}
	defer callback.Stop()

	flow := oauth.NewClient(cfg.Atlassian, redirectURI)
	authURL, state, err := flow.AuthorizationURL()
	if err != nil {
		return &cli.AuthFailedError{Reason: err}
	}

	if loginNoBrowser {
		fmt.Printf("Open this URL in your browser:\n\n  %s\n\n", authURL)
	} else if err := oauth.OpenBrowser(authURL); err != nil {
		fmt.Printf("Could not open browser. Open this URL manually:\n\n  %s\n\n", authURL)
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " Waiting for authentication in the browser..."
	spin.Start()
	result, err := callback.WaitForCallback(ctx)
	spin.Stop()
	if err != nil {
		return &cli.AuthFailedError{Reason: err}
	}

	if result.IsError() {
		return &cli.AuthFailedError{Reason: fmt.Errorf("%s: %s", result.Error, result.ErrorDescription)}
	}
	if result.State != state {
		return &cli.AuthFailedError{Reason: fmt.Errorf("state mismatch in callback")}
	}

	token, err := flow.Exchange(ctx, result.Code)
	if err != nil {
		return &cli.AuthFailedError{Reason: err}
	}

	if err := oauth.NewFileTokenStore(cfg.TokenFile).Save(token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	fmt.Println("Authentication successful.")
	return nil
}

func init() {
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	rootCmd.AddCommand(loginCmd)
}
