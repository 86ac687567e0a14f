package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvPort, "")
	t.Setenv(EnvAuthBypass, "")

	config, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, config.Port)
	assert.Empty(t, config.DatabaseURL)
	assert.False(t, config.AuthBypass)
	assert.Empty(t, config.Upstreams)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvPort, "")
	t.Setenv(EnvAuthBypass, "")

	dir := writeConfigFile(t, `
port: 8080
upstreams:
  - name: echo
    transport: stdio
    command: ./echo-server
    args: ["--fast"]
  - name: search
    alias: find
    transport: streamable-http
    url: https://search.internal/mcp
devWatcher:
  enabled: true
`)

	config, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Port)
	require.Len(t, config.Upstreams, 2)

	echo := config.Upstreams[0]
	assert.Equal(t, "echo", echo.Name)
	assert.Equal(t, TransportStdio, echo.Transport)
	assert.Equal(t, "./echo-server", echo.Command)
	assert.Equal(t, []string{"--fast"}, echo.Args)
	assert.True(t, echo.IsEnabled())
	assert.Equal(t, "echo", echo.NamespacePrefix())

	search := config.Upstreams[1]
	assert.Equal(t, TransportStreamableHTTP, search.Transport)
	assert.Equal(t, "find", search.NamespacePrefix())

	assert.True(t, config.DevWatcher.Enabled)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://gateway:secret@db/mcpgate")
	t.Setenv(EnvPort, "4100")
	t.Setenv(EnvAuthBypass, "true")

	dir := writeConfigFile(t, `
port: 8080
databaseUrl: sqlite-from-file.db
`)

	config, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 4100, config.Port)
	assert.Equal(t, "postgres://gateway:secret@db/mcpgate", config.DatabaseURL)
	assert.True(t, config.AuthBypass)
}

func TestLoadConfigInvalidPortEnvIgnored(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvPort, "not-a-port")
	t.Setenv(EnvAuthBypass, "")

	config, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, config.Port)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	dir := writeConfigFile(t, "port: [not an int\n")

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfigAuthBypassRequiresExactTrue(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvPort, "")
	t.Setenv(EnvAuthBypass, "1")

	config, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.False(t, config.AuthBypass)
}

func TestDefaultDatabaseURL(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/cfg", "mcpgate.db"), DefaultDatabaseURL("/tmp/cfg"))
}
