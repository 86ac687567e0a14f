package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"mcpgate/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcpgate"
	configFileName = "config.yaml"

	// EnvDatabaseURL selects the backing store.
	EnvDatabaseURL = "DATABASE_URL"
	// EnvPort overrides the gateway listen port.
	EnvPort = "PORT"
	// EnvAuthBypass disables API key enforcement in development builds.
	EnvAuthBypass = "MCP_GATEWAY_AUTH_BYPASS"
)

// GetDefaultConfigPathOrPanic returns the per-user configuration directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig merges defaults, the optional config.yaml in configPath, and the
// process environment. Environment values take precedence over file values.
// A missing config.yaml is not an error.
func LoadConfig(configPath string) (Config, error) {
	// A .env file in the working directory fills in unset variables; real
	// environment variables always win because godotenv never overwrites.
	if err := godotenv.Load(); err == nil {
		logging.Info("Config", "Loaded environment from .env")
	}

	config := GetDefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config from %s: %w", configFilePath, err)
		}
		logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("parsing config from %s: %w", configFilePath, err)
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		config.DatabaseURL = v
	}

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			logging.Warn("Config", "Ignoring invalid %s value %q", EnvPort, v)
		} else {
			config.Port = port
		}
	}

	config.AuthBypass = os.Getenv(EnvAuthBypass) == "true"
}

// DefaultDatabaseURL returns the SQLite location used when DATABASE_URL is
// unset: mcpgate.db inside the configuration directory.
func DefaultDatabaseURL(configPath string) string {
	return filepath.Join(configPath, "mcpgate.db")
}
