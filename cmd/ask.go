package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"atlasbridge/internal/agent"
	"atlasbridge/internal/cli"
	"atlasbridge/internal/config"
	"atlasbridge/internal/formatting"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

// askCmd runs one query, or an interactive session when no query is given.
var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Ask a question about your Jira and Confluence data",
	Long: `Ask a natural-language question about your team's Jira issues and
Confluence pages. With no arguments, starts an interactive session.

Requires a prior 'atlasbridge login'.

Examples:
  atlasbridge ask "what are my open tickets?"
  atlasbridge ask`,
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
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

	svc := newCLIAgent(cfg)

	if len(args) > 0 {
		return askOnce(ctx, cfg, svc, strings.Join(args, " "))
	}
	return askInteractive(ctx, cfg, svc)
}

// askOnce executes a single query and prints the response.
func askOnce(ctx context.Context, cfg *config.Config, svc *agent.Service, query string) error {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " Thinking..."
	spin.Start()
	result, err := svc.Execute(ctx, cliUserID, query)
	spin.Stop()
	if err != nil {
		return err
	}
	if !result.Success {
		if result.Error == agent.AuthFailureMessage {
			return authError(cfg)
		}
		return errors.New(result.Error)
	}

	fmt.Println(result.Result)
	return nil
}

// askInteractive runs a readline loop until EOF or "exit".
func askInteractive(ctx context.Context, cfg *config.Config, svc *agent.Service) error {
	rl, err := readline.New("atlassian> ")
	if err != nil {
		return fmt.Errorf("failed to start interactive session: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive Atlassian session. Type 'history', 'stats', 'exit', or Ctrl-D.")

	formatter := formatting.NewTableFormatter(os.Stdout)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		query := strings.TrimSpace(line)
		if query == "" {
			continue
		}
		switch query {
		case "exit", "quit":
			return nil
		case "history":
			formatter.FormatHistory(svc.History(cliUserID, 0))
			continue
		case "stats":
			formatter.FormatStats(svc.Stats())
			continue
		}

		if err := askOnce(ctx, cfg, svc, query); err != nil {
			// Keep the session alive; auth errors are terminal.
			if errors.Is(err, &cli.AuthRequiredError{}) || errors.Is(err, &cli.AuthExpiredError{}) {
				return err
			}
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
}
