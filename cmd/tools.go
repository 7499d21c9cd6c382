package cmd

import (
	"context"
	"fmt"
	"os"

	"atlasbridge/internal/formatting"

	"github.com/spf13/cobra"
)

// toolsCmd lists the MCP tools available with the stored credentials.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the Atlassian tools available to you",
	Long: `Lists the Jira and Confluence tools the Atlassian MCP server
exposes for your account. Requires a prior 'atlasbridge login'.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
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

	tools := newCLIAgent(cfg).Tools(ctx, cliUserID)
	if len(tools) == 0 {
		return authError(cfg)
	}

	formatting.NewTableFormatter(os.Stdout).FormatToolsList(tools)
	return nil
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
