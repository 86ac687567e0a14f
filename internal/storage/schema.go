package storage

import (
	"context"
	"fmt"
)

// The DDL sticks to types both PostgreSQL and SQLite understand: TEXT ids
// generated in Go, TEXT columns holding JSON, TIMESTAMP columns written in
// UTC. Statements are ordered so foreign keys resolve.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS api_key (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hashed_api_key TEXT NOT NULL UNIQUE,
		salt TEXT NOT NULL,
		prefix TEXT NOT NULL,
		scopes TEXT NOT NULL DEFAULT '[]',
		expires_at TIMESTAMP,
		last_used_at TIMESTAMP,
		revoked_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS managed_mcp_server (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		server_type TEXT NOT NULL,
		connection_details TEXT NOT NULL,
		mcp_options TEXT,
		status TEXT NOT NULL DEFAULT 'stopped',
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		last_pinged_at TIMESTAMP,
		last_error TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS traffic_log (
		id TEXT PRIMARY KEY,
		server_id TEXT REFERENCES managed_mcp_server(id),
		timestamp TIMESTAMP NOT NULL,
		mcp_method TEXT NOT NULL,
		mcp_request_id TEXT,
		source_ip TEXT NOT NULL DEFAULT '',
		request_size_bytes INTEGER NOT NULL DEFAULT 0,
		response_size_bytes INTEGER NOT NULL DEFAULT 0,
		http_status INTEGER NOT NULL DEFAULT 0,
		target_server_http_status INTEGER,
		is_success BOOLEAN NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		api_key_id TEXT REFERENCES api_key(id),
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_traffic_log_timestamp ON traffic_log(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_traffic_log_server_id ON traffic_log(server_id)`,

	`CREATE TABLE IF NOT EXISTS mcp_marketplace_server (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		server_type TEXT NOT NULL,
		install_template TEXT NOT NULL,
		homepage TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS server_extension_installation (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES managed_mcp_server(id),
		marketplace_server_id TEXT NOT NULL REFERENCES mcp_marketplace_server(id),
		installed_version TEXT NOT NULL DEFAULT '',
		settings TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// EnsureSchema creates all tables and indexes that do not exist yet. It is
// idempotent and runs on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}
