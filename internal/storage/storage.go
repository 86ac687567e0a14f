package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcpgate/pkg/logging"

	// Both drivers are registered; Open picks one from the DATABASE_URL scheme.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

const (
	// DriverPostgres is used for postgres:// and postgresql:// URLs.
	DriverPostgres = "postgres"
	// DriverSQLite is used for everything else; the URL is treated as a file
	// path.
	DriverSQLite = "sqlite"
)

// Store provides access to the persisted gateway state. It is safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database selected by databaseURL and ensures the
// schema exists. A postgres:// or postgresql:// URL selects PostgreSQL;
// anything else is treated as a SQLite database path.
func Open(databaseURL string) (*Store, error) {
	driver, dsn := driverFor(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	switch driver {
	case DriverPostgres:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	case DriverSQLite:
		// SQLite allows a single writer; WAL keeps readers unblocked and the
		// busy timeout absorbs short write contention.
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA synchronous=NORMAL;",
			"PRAGMA busy_timeout=5000;",
			"PRAGMA foreign_keys=ON;",
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("applying %q: %w", strings.TrimSuffix(pragma, ";"), err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", driver, err)
	}

	store := &Store{db: db, driver: driver}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info("Storage", "Connected to %s database", driver)
	return store, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver reports which driver the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

func driverFor(databaseURL string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL
	default:
		return DriverSQLite, databaseURL
	}
}
