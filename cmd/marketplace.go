package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mcpgate/internal/marketplace"
	pkgstrings "mcpgate/pkg/strings"
)

var marketplaceSettings []string

var marketplaceCmd = &cobra.Command{
	Use:   "marketplace",
	Short: "Browse and install catalog MCP servers",
}

var marketplaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Args:  cobra.NoArgs,
	RunE:  runMarketplaceList,
}

var marketplaceInstallCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "Install a catalog entry as a managed upstream",
	Long: `Renders the entry's install template with the provided settings and
creates a disabled managed server from it. Enable the upstream with
'mcpgate upstream enable' once its settings are verified.`,
	Args: cobra.ExactArgs(1),
	RunE: runMarketplaceInstall,
}

func runMarketplaceList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := marketplace.NewManager(store).List(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing marketplace entries: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "CATEGORY", "TYPE", "DESCRIPTION"})
	for _, entry := range entries {
		t.AppendRow(table.Row{entry.Name, entry.Category, entry.ServerType,
			pkgstrings.TruncateDescription(entry.Description, pkgstrings.DefaultDescriptionMaxLen)})
	}
	t.Render()
	return nil
}

func runMarketplaceInstall(cmd *cobra.Command, args []string) error {
	settings := make(map[string]string, len(marketplaceSettings))
	for _, pair := range marketplaceSettings {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid --set value %q, expected key=value", pair)
		}
		settings[key] = value
	}

	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	server, err := marketplace.NewManager(store).Install(cmd.Context(), args[0], settings)
	if err != nil {
		return err
	}

	fmt.Printf("Installed %s as managed server %s (disabled)\n", args[0], server.ID)
	fmt.Printf("Enable it with: mcpgate upstream enable %s\n", server.Name)
	return nil
}

func init() {
	rootCmd.AddCommand(marketplaceCmd)
	marketplaceCmd.AddCommand(marketplaceListCmd)
	marketplaceCmd.AddCommand(marketplaceInstallCmd)

	marketplaceInstallCmd.Flags().StringArrayVar(&marketplaceSettings, "set", nil,
		"Template setting as key=value (repeatable)")
}
