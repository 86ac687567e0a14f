package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcpgate/internal/app"
)

var (
	servePort   int
	serveSilent bool
)

// serveCmd starts the gateway: upstream connectors, tool aggregation and the
// authenticated HTTP endpoint.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Starts the gateway: connects to every enabled upstream MCP server,
aggregates their tools, and serves the per-upstream MCP endpoints at
/mcp/{upstreamId} until interrupted.

Configuration is read from config.yaml in the configuration directory;
DATABASE_URL and PORT from the environment take precedence over file
values. A .env file in the working directory fills in unset variables.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(&app.Options{
		ConfigPath: rootConfigPath,
		Port:       servePort,
		Debug:      rootDebug,
		Silent:     serveSilent,
		Version:    rootCmd.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config and PORT)")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
}
