package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mcpgate/internal/auth"
	"mcpgate/internal/storage"
)

var (
	apikeyName      string
	apikeyScopes    []string
	apikeyExpiresIn time.Duration
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage gateway API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	Long: `Creates an API key and prints the secret. The secret is shown exactly
once; only a salted hash is stored. Scopes default to full access.`,
	Args: cobra.NoArgs,
	RunE: runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	scopes := apikeyScopes
	if len(scopes) == 0 {
		scopes = []string{auth.ScopeConnect, auth.ScopeToolsList, auth.ScopeToolsCall}
	}
	for _, scope := range scopes {
		switch scope {
		case auth.ScopeConnect, auth.ScopeToolsList, auth.ScopeToolsCall:
		default:
			return fmt.Errorf("unknown scope %q", scope)
		}
	}

	generated, err := auth.GenerateKey()
	if err != nil {
		return err
	}

	var expiresAt sql.NullTime
	if apikeyExpiresIn > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(apikeyExpiresIn), Valid: true}
	}

	now := time.Now()
	key := &storage.APIKey{
		ID:           uuid.NewString(),
		Name:         apikeyName,
		HashedAPIKey: generated.Hash,
		Salt:         generated.Salt,
		Prefix:       generated.Prefix,
		Scopes:       scopes,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateAPIKey(cmd.Context(), key); err != nil {
		return fmt.Errorf("storing api key: %w", err)
	}

	fmt.Printf("Created API key %s (%s)\n\n", key.ID, key.Name)
	fmt.Printf("  %s\n\n", generated.Secret)
	fmt.Println("Store this secret now; it cannot be recovered later.")
	if expiresAt.Valid {
		fmt.Printf("Expires at %s\n", formatTime(expiresAt.Time))
	}
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing api keys: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "NAME", "PREFIX", "SCOPES", "STATUS", "LAST USED"})
	now := time.Now()
	for _, key := range keys {
		status := "active"
		switch {
		case key.RevokedAt.Valid:
			status = "revoked"
		case !key.IsActive(now):
			status = "expired"
		}
		lastUsed := "never"
		if key.LastUsedAt.Valid {
			lastUsed = formatTime(key.LastUsedAt.Time)
		}
		t.AppendRow(table.Row{
			key.ID, key.Name, key.Prefix + "...",
			strings.Join(key.Scopes, ","), status, lastUsed,
		})
	}
	t.Render()
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RevokeAPIKey(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("revoking api key %s: %w", args[0], err)
	}
	fmt.Printf("Revoked API key %s\n", args[0])
	return nil
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)

	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "Human-readable key name")
	apikeyCreateCmd.Flags().StringSliceVar(&apikeyScopes, "scopes", nil,
		"Granted scopes (mcp:connect, tools:list, tools:call); default all")
	apikeyCreateCmd.Flags().DurationVar(&apikeyExpiresIn, "expires-in", 0,
		"Key lifetime, e.g. 720h; 0 means no expiry")
	_ = apikeyCreateCmd.MarkFlagRequired("name")
}
