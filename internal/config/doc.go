// Package config loads and validates the mcpgate runtime configuration.
//
// Configuration is merged from three sources, lowest precedence first:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. config.yaml in the configuration directory (optional)
//  3. Process environment: DATABASE_URL, PORT, MCP_GATEWAY_AUTH_BYPASS
//
// A .env file in the working directory is loaded via godotenv before the
// environment is read, so local development can keep DATABASE_URL out of the
// shell profile. Real environment variables always win over .env values.
//
// # Configuration Directory
//
// The default directory is ~/.config/mcpgate. It holds config.yaml and, when
// DATABASE_URL is unset, the SQLite database file.
//
// # Static Upstreams
//
// config.yaml may declare upstream MCP servers that are not persisted in the
// database:
//
//	upstreams:
//	  - name: echo
//	    transport: stdio
//	    command: ./echo-server
//	    watchPaths:
//	      - ./echo-server
//	  - name: search
//	    transport: streamable-http
//	    url: https://search.internal/mcp
//	    headers:
//	      Authorization: Bearer ${SEARCH_TOKEN}
//	devWatcher:
//	  enabled: true
//
// Static upstreams are registered after the persisted ones at boot; name
// collisions are resolved in favor of the database.
package config
