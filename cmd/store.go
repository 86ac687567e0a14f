package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/storage"
	"mcpgate/pkg/logging"
)

// openStore opens the backing store for the admin commands. Logging goes to
// stderr only when --debug is set, so table output stays clean for piping.
func openStore(ctx context.Context) (*storage.Store, error) {
	logLevel := logging.LevelInfo
	var logOutput io.Writer = io.Discard
	if rootDebug {
		logLevel = logging.LevelDebug
		logOutput = os.Stderr
	}
	logging.InitForCLI(logLevel, logOutput)

	configPath := rootConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = config.DefaultDatabaseURL(configPath)
	}
	store, err := storage.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// formatTime renders a timestamp for table output.
func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}
