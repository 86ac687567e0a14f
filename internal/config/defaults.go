package config

const (
	// DefaultPort is the gateway listen port when PORT is unset.
	DefaultPort = 3001

	// DefaultHost binds to all interfaces, matching the product's role as a
	// network-facing gateway.
	DefaultHost = ""
)

// GetDefaultConfig returns the built-in configuration, before any file or
// environment values are applied.
func GetDefaultConfig() Config {
	return Config{
		Host: DefaultHost,
		Port: DefaultPort,
	}
}
