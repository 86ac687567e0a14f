// Package marketplace turns static catalog entries into managed upstream
// rows. An entry's install template renders the connection_details JSON with
// user-provided settings (plus the sprig function set, so templates can read
// the environment or manipulate paths); the result becomes a
// managed_mcp_server row plus an installation record linking the two.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"

	"mcpgate/internal/storage"
	"mcpgate/pkg/logging"
)

// Manager provides read access to the marketplace catalog and performs
// installs. It is a thin layer over storage; no remote fetching happens here.
type Manager struct {
	store *storage.Store
}

// NewManager creates a marketplace manager over the store.
func NewManager(store *storage.Store) *Manager {
	return &Manager{store: store}
}

// List returns the full catalog.
func (m *Manager) List(ctx context.Context) ([]*storage.MarketplaceServer, error) {
	return m.store.ListMarketplaceServers(ctx)
}

// Install renders the named catalog entry's install template with the given
// settings and creates a disabled managed server row from the result. The
// operator enables the upstream once credentials and settings are verified.
func (m *Manager) Install(ctx context.Context, name string, settings map[string]string) (*storage.ManagedServer, error) {
	entry, err := m.store.GetMarketplaceServerByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up marketplace entry %q: %w", name, err)
	}

	details, err := renderConnectionDetails(entry, settings)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	server := &storage.ManagedServer{
		ID:                uuid.NewString(),
		Name:              entry.Name,
		Description:       entry.Description,
		ServerType:        entry.ServerType,
		ConnectionDetails: *details,
		Status:            storage.ServerStatusStopped,
		IsEnabled:         false,
		Tags:              entry.Tags,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.store.CreateServer(ctx, server); err != nil {
		return nil, fmt.Errorf("creating managed server for %q: %w", name, err)
	}

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		settingsJSON = []byte("{}")
	}
	installation := &storage.ExtensionInstallation{
		ID:                  uuid.NewString(),
		ServerID:            server.ID,
		MarketplaceServerID: entry.ID,
		Settings:            string(settingsJSON),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.store.RecordInstallation(ctx, installation); err != nil {
		// The server row exists and is usable; the missing link row only
		// loses provenance.
		logging.Error("Marketplace", err, "Failed to record installation of %q", name)
	}

	logging.Info("Marketplace", "Installed %q as managed server %s (disabled)", name, server.ID)
	return server, nil
}

// renderConnectionDetails executes the entry's install template into the
// connection_details shape. Settings are exposed as template data; sprig
// provides env, default and friends.
func renderConnectionDetails(entry *storage.MarketplaceServer, settings map[string]string) (*storage.ConnectionDetails, error) {
	tmpl, err := template.New(entry.Name).
		Funcs(sprig.FuncMap()).
		Option("missingkey=error").
		Parse(entry.InstallTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing install template for %q: %w", entry.Name, err)
	}

	data := map[string]interface{}{"Settings": settings}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, data); err != nil {
		return nil, fmt.Errorf("rendering install template for %q: %w", entry.Name, err)
	}

	var details storage.ConnectionDetails
	if err := json.Unmarshal(rendered.Bytes(), &details); err != nil {
		return nil, fmt.Errorf("install template for %q did not render valid connection details: %w", entry.Name, err)
	}
	return &details, nil
}
