package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Server lifecycle states persisted in the status column. They mirror the
// connector states so operators see the live picture in the database.
const (
	ServerStatusStopped      = "stopped"
	ServerStatusStarting     = "starting"
	ServerStatusRunning      = "running"
	ServerStatusReconnecting = "reconnecting"
	ServerStatusError        = "error"
)

// ConnectionDetails is the JSON payload of the connection_details column.
// Exactly one of Command or URL is set, depending on server_type.
type ConnectionDetails struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Alias   string            `json:"alias,omitempty"`
}

// ManagedServer is one row of the managed_mcp_server table.
type ManagedServer struct {
	ID                string
	Name              string
	Description       string
	ServerType        string
	ConnectionDetails ConnectionDetails
	MCPOptions        json.RawMessage
	Status            string
	IsEnabled         bool
	Tags              []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastPingedAt      sql.NullTime
	LastError         sql.NullString
}

const managedServerColumns = `id, name, description, server_type, connection_details,
	mcp_options, status, is_enabled, tags, created_at, updated_at, last_pinged_at, last_error`

// CreateServer inserts a new managed server row.
func (s *Store) CreateServer(ctx context.Context, server *ManagedServer) error {
	details, err := json.Marshal(server.ConnectionDetails)
	if err != nil {
		return fmt.Errorf("marshaling connection details: %w", err)
	}
	tags, err := marshalStringList(server.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	var options sql.NullString
	if len(server.MCPOptions) > 0 {
		options = sql.NullString{String: string(server.MCPOptions), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO managed_mcp_server
			(id, name, description, server_type, connection_details, mcp_options,
			 status, is_enabled, tags, created_at, updated_at, last_pinged_at, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		server.ID, server.Name, server.Description, server.ServerType, string(details),
		options, server.Status, server.IsEnabled, tags,
		server.CreatedAt, server.UpdatedAt, server.LastPingedAt, server.LastError)
	if err != nil {
		return fmt.Errorf("inserting managed server: %w", err)
	}
	return nil
}

func scanManagedServer(row interface{ Scan(...interface{}) error }) (*ManagedServer, error) {
	var server ManagedServer
	var details, tags string
	var options sql.NullString
	err := row.Scan(&server.ID, &server.Name, &server.Description, &server.ServerType,
		&details, &options, &server.Status, &server.IsEnabled, &tags,
		&server.CreatedAt, &server.UpdatedAt, &server.LastPingedAt, &server.LastError)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(details), &server.ConnectionDetails); err != nil {
		return nil, fmt.Errorf("unmarshaling connection details for server %s: %w", server.ID, err)
	}
	if options.Valid {
		server.MCPOptions = json.RawMessage(options.String)
	}
	server.Tags, err = unmarshalStringList(tags)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling tags for server %s: %w", server.ID, err)
	}
	return &server, nil
}

// GetServer fetches a managed server by id.
func (s *Store) GetServer(ctx context.Context, id string) (*ManagedServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+managedServerColumns+` FROM managed_mcp_server WHERE id = $1`, id)
	server, err := scanManagedServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying managed server: %w", err)
	}
	return server, nil
}

// GetServerByName fetches a managed server by its unique name.
func (s *Store) GetServerByName(ctx context.Context, name string) (*ManagedServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+managedServerColumns+` FROM managed_mcp_server WHERE name = $1`, name)
	server, err := scanManagedServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying managed server: %w", err)
	}
	return server, nil
}

// ListServers returns every managed server ordered by name.
func (s *Store) ListServers(ctx context.Context) ([]*ManagedServer, error) {
	return s.queryServers(ctx,
		`SELECT `+managedServerColumns+` FROM managed_mcp_server ORDER BY name`)
}

// ListEnabledServers returns the servers the registry should connect at boot.
func (s *Store) ListEnabledServers(ctx context.Context) ([]*ManagedServer, error) {
	return s.queryServers(ctx,
		`SELECT `+managedServerColumns+` FROM managed_mcp_server
		 WHERE is_enabled = $1 ORDER BY name`, true)
}

func (s *Store) queryServers(ctx context.Context, query string, args ...interface{}) ([]*ManagedServer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying managed servers: %w", err)
	}
	defer rows.Close()

	var servers []*ManagedServer
	for rows.Next() {
		server, err := scanManagedServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning managed server: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// UpdateServerStatus records a connector state transition. lastError may be
// empty to clear a previous error.
func (s *Store) UpdateServerStatus(ctx context.Context, id, status, lastError string) error {
	now := time.Now().UTC()
	lastErr := sql.NullString{String: lastError, Valid: lastError != ""}

	res, err := s.db.ExecContext(ctx,
		`UPDATE managed_mcp_server
		 SET status = $1, last_error = $2, last_pinged_at = $3, updated_at = $4
		 WHERE id = $5`,
		status, lastErr, now, now, id)
	if err != nil {
		return fmt.Errorf("updating server status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating server status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetServerEnabled flips the is_enabled flag.
func (s *Store) SetServerEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE managed_mcp_server SET is_enabled = $1, updated_at = $2 WHERE id = $3`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating server enabled flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating server enabled flag: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteServer removes a managed server row.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM managed_mcp_server WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting managed server: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting managed server: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
