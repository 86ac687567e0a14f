package config

// Config is the top-level runtime configuration for mcpgate, merged from
// defaults, the optional config.yaml and the process environment.
type Config struct {
	// Host and Port describe the gateway listen address. PORT from the
	// environment takes precedence over the file value.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// DatabaseURL selects the backing store. A postgres:// URL uses
	// PostgreSQL, anything else is treated as a SQLite path. Empty means
	// SQLite in the config directory.
	DatabaseURL string `yaml:"databaseUrl,omitempty"`

	// AuthBypass disables API key enforcement. Honored only in development
	// builds; release builds refuse to start with it set.
	AuthBypass bool `yaml:"-"`

	// Upstreams are statically configured MCP servers, registered after the
	// persisted ones at boot.
	Upstreams []UpstreamConfig `yaml:"upstreams,omitempty"`

	DevWatcher DevWatcherConfig `yaml:"devWatcher,omitempty"`
}

// TransportType identifies how the gateway reaches an upstream MCP server.
type TransportType string

const (
	// TransportStdio runs the upstream as a child process speaking MCP on
	// standard streams.
	TransportStdio TransportType = "stdio"
	// TransportSSE is the HTTP+SSE transport.
	TransportSSE TransportType = "sse"
	// TransportStreamableHTTP is the streamable HTTP transport.
	TransportStreamableHTTP TransportType = "streamable-http"
	// TransportWebSocket is a single bidirectional WebSocket connection.
	TransportWebSocket TransportType = "websocket"
)

// UpstreamConfig describes one upstream MCP server.
type UpstreamConfig struct {
	Name      string        `yaml:"name"`
	Alias     string        `yaml:"alias,omitempty"` // preferred namespacing prefix, defaults to Name
	Transport TransportType `yaml:"transport"`

	// Command, Args and Env apply to the stdio transport.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// URL and Headers apply to the network transports.
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	// WatchPaths lists filesystem paths whose changes restart this upstream.
	// Only meaningful for the stdio transport with the dev watcher enabled.
	WatchPaths []string `yaml:"watchPaths,omitempty"`
}

// IsEnabled resolves the Enabled pointer with its default.
func (u *UpstreamConfig) IsEnabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// NamespacePrefix returns the alias when set, otherwise the name.
func (u *UpstreamConfig) NamespacePrefix() string {
	if u.Alias != "" {
		return u.Alias
	}
	return u.Name
}

// DevWatcherConfig enables restart-on-change for stdio upstreams.
type DevWatcherConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}
