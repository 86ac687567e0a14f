package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcpgate/internal/console"
)

var consoleEndpoint string

// consoleCmd starts the interactive REPL against a running gateway.
var consoleCmd = &cobra.Command{
	Use:   "console <upstream-id>",
	Short: "Open an interactive MCP console against a running gateway",
	Long: `Connects to a running gateway's /mcp/{upstreamId} endpoint and opens an
interactive prompt for listing and calling tools. The API key is read
from ` + console.EnvAPIKey + `.`,
	Args: cobra.ExactArgs(1),
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	apiKey := os.Getenv(console.EnvAPIKey)
	if apiKey == "" {
		fmt.Fprintf(os.Stderr, "warning: %s is not set; the gateway will reject requests unless auth bypass is active\n",
			console.EnvAPIKey)
	}

	endpoint := fmt.Sprintf("%s/mcp/%s", consoleEndpoint, args[0])
	return console.New(endpoint, apiKey).Run(cmd.Context())
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().StringVar(&consoleEndpoint, "endpoint", "http://localhost:3001",
		"Gateway base URL")
}
