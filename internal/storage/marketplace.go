package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MarketplaceServer is one row of the mcp_marketplace_server table: an
// installable upstream definition whose install_template is rendered with
// user-provided settings at install time.
type MarketplaceServer struct {
	ID              string
	Name            string
	Description     string
	Category        string
	ServerType      string
	InstallTemplate string
	Homepage        string
	Tags            []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExtensionInstallation is one row of the server_extension_installation
// table, linking a managed server to the marketplace entry it was created
// from.
type ExtensionInstallation struct {
	ID                  string
	ServerID            string
	MarketplaceServerID string
	InstalledVersion    string
	Settings            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const marketplaceColumns = `id, name, description, category, server_type,
	install_template, homepage, tags, created_at, updated_at`

// UpsertMarketplaceServer inserts or replaces a catalog entry by name. Used
// when seeding the marketplace from a catalog file.
func (s *Store) UpsertMarketplaceServer(ctx context.Context, server *MarketplaceServer) error {
	tags, err := marshalStringList(server.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	// Portable upsert: delete-then-insert inside a transaction, since the
	// conflict syntaxes of PostgreSQL and SQLite only partially overlap.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning marketplace upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM mcp_marketplace_server WHERE name = $1`, server.Name); err != nil {
		return fmt.Errorf("replacing marketplace server: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mcp_marketplace_server
			(id, name, description, category, server_type, install_template,
			 homepage, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		server.ID, server.Name, server.Description, server.Category, server.ServerType,
		server.InstallTemplate, server.Homepage, tags, server.CreatedAt, server.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting marketplace server: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing marketplace upsert: %w", err)
	}
	return nil
}

func scanMarketplaceServer(row interface{ Scan(...interface{}) error }) (*MarketplaceServer, error) {
	var server MarketplaceServer
	var tags string
	err := row.Scan(&server.ID, &server.Name, &server.Description, &server.Category,
		&server.ServerType, &server.InstallTemplate, &server.Homepage, &tags,
		&server.CreatedAt, &server.UpdatedAt)
	if err != nil {
		return nil, err
	}
	server.Tags, err = unmarshalStringList(tags)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling tags for marketplace server %s: %w", server.ID, err)
	}
	return &server, nil
}

// ListMarketplaceServers returns the whole catalog ordered by name.
func (s *Store) ListMarketplaceServers(ctx context.Context) ([]*MarketplaceServer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+marketplaceColumns+` FROM mcp_marketplace_server ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying marketplace servers: %w", err)
	}
	defer rows.Close()

	var servers []*MarketplaceServer
	for rows.Next() {
		server, err := scanMarketplaceServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning marketplace server: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// GetMarketplaceServerByName fetches a catalog entry by its unique name.
func (s *Store) GetMarketplaceServerByName(ctx context.Context, name string) (*MarketplaceServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+marketplaceColumns+` FROM mcp_marketplace_server WHERE name = $1`, name)
	server, err := scanMarketplaceServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying marketplace server: %w", err)
	}
	return server, nil
}

// RecordInstallation writes the link between a managed server and the
// marketplace entry it was installed from.
func (s *Store) RecordInstallation(ctx context.Context, installation *ExtensionInstallation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO server_extension_installation
			(id, server_id, marketplace_server_id, installed_version, settings,
			 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		installation.ID, installation.ServerID, installation.MarketplaceServerID,
		installation.InstalledVersion, installation.Settings,
		installation.CreatedAt, installation.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting installation record: %w", err)
	}
	return nil
}

// ListInstallations returns every installation row, newest first.
func (s *Store) ListInstallations(ctx context.Context) ([]*ExtensionInstallation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, marketplace_server_id, installed_version, settings,
			created_at, updated_at
		 FROM server_extension_installation ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying installations: %w", err)
	}
	defer rows.Close()

	var installations []*ExtensionInstallation
	for rows.Next() {
		var inst ExtensionInstallation
		err := rows.Scan(&inst.ID, &inst.ServerID, &inst.MarketplaceServerID,
			&inst.InstalledVersion, &inst.Settings, &inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning installation: %w", err)
		}
		installations = append(installations, &inst)
	}
	return installations, rows.Err()
}
