// Package app bootstraps and runs the gateway. It owns the wiring order:
// configuration, storage, event bus, upstream registry, aggregator, sessions,
// auth, audit, HTTP server — and the reverse order on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"mcpgate/internal/aggregator"
	"mcpgate/internal/audit"
	"mcpgate/internal/auth"
	"mcpgate/internal/config"
	"mcpgate/internal/events"
	"mcpgate/internal/gateway"
	"mcpgate/internal/session"
	"mcpgate/internal/storage"
	"mcpgate/internal/upstream"
	"mcpgate/internal/watcher"
	"mcpgate/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

// Options are the command-line level settings for one gateway process.
type Options struct {
	// ConfigPath overrides the default configuration directory.
	ConfigPath string
	// Port overrides the configured listen port when non-zero.
	Port int
	// Debug enables debug logging.
	Debug bool
	// Silent suppresses all log output. Used by tests and scripting.
	Silent bool
	// Version is the build version reported by /health and initialize.
	Version string
}

// Application holds the wired gateway components between bootstrap and Run.
//
// The two-phase pattern keeps failures cheap: NewApplication does everything
// that can fail fast (config, database, schema), Run starts the long-lived
// loops and blocks until the context is cancelled.
type Application struct {
	opts     *Options
	cfg      config.Config
	store    *storage.Store
	bus      *events.Bus
	registry *upstream.Registry
	catalog  *aggregator.Aggregator
	sessions *session.Store
	recorder *audit.Recorder
	gateway  *gateway.Server
	watcher  *watcher.Watcher
}

// NewApplication loads configuration, opens the store and wires every
// component. Nothing is started yet; Run does that.
func NewApplication(opts *Options) (*Application, error) {
	logLevel := logging.LevelInfo
	if opts.Debug {
		logLevel = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stdout
	if opts.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(logLevel, logOutput)

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = config.DefaultDatabaseURL(configPath)
	}
	store, err := storage.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	bus := events.NewBus()
	registry := upstream.NewRegistry(bus, store)
	catalog := aggregator.New(registry)
	sessions := session.NewStore()
	authenticator := auth.NewAuthenticator(store, cfg.AuthBypass)
	recorder := audit.NewRecorder(store)
	server := gateway.NewServer(registry, catalog, sessions, authenticator, recorder, bus, opts.Version)

	return &Application{
		opts:     opts,
		cfg:      cfg,
		store:    store,
		bus:      bus,
		registry: registry,
		catalog:  catalog,
		sessions: sessions,
		recorder: recorder,
		gateway:  server,
	}, nil
}

// Run starts the upstream connectors and the HTTP server, then blocks until
// ctx is cancelled. Shutdown drains in the reverse of the startup order so
// every component still has its dependencies while it closes.
func (a *Application) Run(ctx context.Context) error {
	if err := a.registry.Boot(ctx, &a.cfg); err != nil {
		return fmt.Errorf("starting upstreams: %w", err)
	}
	a.catalog.Bootstrap(ctx)

	if a.cfg.DevWatcher.Enabled {
		a.watcher = watcher.New(a.registry, a.watchRules())
	}

	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		a.catalog.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		a.gateway.RunPushFanout(groupCtx)
		return nil
	})
	group.Go(func() error {
		a.registry.RunStatusPersister(groupCtx)
		return nil
	})
	if a.watcher != nil {
		group.Go(func() error {
			return a.watcher.Run(groupCtx)
		})
	}
	group.Go(func() error {
		logging.Info("App", "Gateway listening on %s", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// No-op outside a systemd unit with Type=notify.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("App", "systemd readiness notification failed: %v", err)
	} else if sent {
		logging.Debug("App", "Notified systemd of readiness")
	}

	<-groupCtx.Done()
	logging.Info("App", "Shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("App", "HTTP server shutdown: %v", err)
	}

	cancel()
	err := group.Wait()

	a.registry.StopAll()
	a.sessions.Stop()
	a.recorder.Close()
	a.bus.Close()
	if closeErr := a.store.Close(); closeErr != nil {
		logging.Warn("App", "Closing storage: %v", closeErr)
	}

	logging.Info("App", "Shutdown complete")
	return err
}

// watchRules derives dev-watcher rules from the live connectors. Only stdio
// upstreams with configured watch paths produce a rule.
func (a *Application) watchRules() []watcher.Rule {
	var rules []watcher.Rule
	for _, connector := range a.registry.All() {
		def := connector.Definition()
		if def.Transport != config.TransportStdio || len(def.WatchPaths) == 0 {
			continue
		}
		rules = append(rules, watcher.Rule{UpstreamID: def.ID, Paths: def.WatchPaths})
	}
	return rules
}
