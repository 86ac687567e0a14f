package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mcpgate/internal/config"
	"mcpgate/internal/storage"
	"mcpgate/internal/upstream"
)

const checkTimeout = 30 * time.Second

var upstreamCmd = &cobra.Command{
	Use:   "upstream",
	Short: "Manage upstream MCP servers",
}

var upstreamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed upstream servers",
	Args:  cobra.NoArgs,
	RunE:  runUpstreamList,
}

var upstreamEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a managed upstream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUpstreamEnabled(cmd.Context(), args[0], true)
	},
}

var upstreamDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a managed upstream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUpstreamEnabled(cmd.Context(), args[0], false)
	},
}

var upstreamCheckCmd = &cobra.Command{
	Use:   "check <name>",
	Short: "Connect to an upstream and list its tools",
	Long: `Performs a one-shot connectivity check: connects to the named upstream
with its stored configuration, runs the MCP handshake and reports the
tool count. The running gateway is not involved.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpstreamCheck,
}

func runUpstreamList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	servers, err := store.ListServers(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing upstream servers: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "NAME", "TYPE", "ENABLED", "STATUS", "LAST ERROR"})
	for _, server := range servers {
		lastError := ""
		if server.LastError.Valid {
			lastError = server.LastError.String
		}
		t.AppendRow(table.Row{
			server.ID, server.Name, server.ServerType,
			server.IsEnabled, server.Status, lastError,
		})
	}
	t.Render()
	return nil
}

func setUpstreamEnabled(ctx context.Context, name string, enabled bool) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	server, err := store.GetServerByName(ctx, name)
	if err != nil {
		return fmt.Errorf("looking up upstream %q: %w", name, err)
	}
	if err := store.SetServerEnabled(ctx, server.ID, enabled); err != nil {
		return fmt.Errorf("updating upstream %q: %w", name, err)
	}

	verb := "Disabled"
	if enabled {
		verb = "Enabled"
	}
	fmt.Printf("%s upstream %s (%s). Restart the gateway to apply.\n", verb, name, server.ID)
	return nil
}

func runUpstreamCheck(cmd *cobra.Command, args []string) error {
	name := args[0]
	def, err := resolveUpstreamDefinition(cmd.Context(), name)
	if err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" connecting to %s", def.Label())
	s.Start()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	client, err := upstream.NewClient(def)
	if err != nil {
		s.Stop()
		return err
	}
	if err := client.Initialize(ctx); err != nil {
		s.Stop()
		return fmt.Errorf("upstream %q failed the handshake: %w", name, err)
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	s.Stop()
	if err != nil {
		return fmt.Errorf("upstream %q connected but tools/list failed: %w", name, err)
	}

	fmt.Printf("Upstream %s is healthy: %d tools\n", name, len(tools))
	for _, tool := range tools {
		fmt.Printf("  %s\n", tool.Name)
	}
	return nil
}

// resolveUpstreamDefinition finds the named upstream in the database first,
// then among the static config entries, mirroring the boot precedence.
func resolveUpstreamDefinition(ctx context.Context, name string) (upstream.Definition, error) {
	store, err := openStore(ctx)
	if err != nil {
		return upstream.Definition{}, err
	}
	defer store.Close()

	server, err := store.GetServerByName(ctx, name)
	if err == nil {
		return upstream.FromRecord(server)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return upstream.Definition{}, fmt.Errorf("looking up upstream %q: %w", name, err)
	}

	configPath := rootConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return upstream.Definition{}, fmt.Errorf("loading configuration: %w", err)
	}
	for _, uc := range cfg.Upstreams {
		if uc.Name == name {
			return upstream.FromConfig(uc), nil
		}
	}
	return upstream.Definition{}, fmt.Errorf("upstream %q is neither managed nor configured", name)
}

func init() {
	rootCmd.AddCommand(upstreamCmd)
	upstreamCmd.AddCommand(upstreamListCmd)
	upstreamCmd.AddCommand(upstreamEnableCmd)
	upstreamCmd.AddCommand(upstreamDisableCmd)
	upstreamCmd.AddCommand(upstreamCheckCmd)
}
