package upstream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/events"
	"mcpgate/internal/storage"
	"mcpgate/pkg/logging"
)

// Status is the registry's operator-facing view of one upstream.
type Status struct {
	ID        string
	Name      string
	Alias     string
	State     State
	ToolCount int
	LastError string
}

// Registry owns the upstreamId -> Connector map. It is the single writer:
// connectors are created here at boot or on Register, reconfigured on Update
// and dropped on Deregister. Everything else observes upstreams through the
// event bus or the read accessors.
type Registry struct {
	bus   *events.Bus
	store *storage.Store

	// newConnector builds a connector for a definition; tests swap in fakes.
	newConnector func(Definition, *events.Bus) *Connector

	// persistSub feeds RunStatusPersister. Subscribed at construction so
	// boot-time transitions are not missed.
	persistSub <-chan events.Event

	mu         sync.RWMutex
	connectors map[string]*Connector
}

// NewRegistry creates an empty registry publishing on bus. The store may be
// nil for purely file-configured setups; status persistence is then skipped.
func NewRegistry(bus *events.Bus, store *storage.Store) *Registry {
	return NewRegistryWithConnectorFactory(bus, store, NewConnector)
}

// NewRegistryWithConnectorFactory creates a registry whose connectors are
// built by factory. Tests substitute in-memory transports through it.
func NewRegistryWithConnectorFactory(bus *events.Bus, store *storage.Store,
	factory func(Definition, *events.Bus) *Connector) *Registry {
	r := &Registry{
		bus:          bus,
		store:        store,
		newConnector: factory,
		connectors:   make(map[string]*Connector),
	}
	if store != nil {
		r.persistSub = bus.Subscribe()
	}
	return r
}

// Bus returns the event bus the registry's connectors publish on.
func (r *Registry) Bus() *events.Bus {
	return r.bus
}

// Boot loads every enabled upstream from storage, merges in the static config
// entries whose names are not already taken by a row, and starts a connector
// for each. Database rows win over file entries with the same name.
func (r *Registry) Boot(ctx context.Context, cfg *config.Config) error {
	seen := make(map[string]bool)

	if r.store != nil {
		records, err := r.store.ListEnabledServers(ctx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			def, err := FromRecord(rec)
			if err != nil {
				logging.Error("Registry", err, "Skipping managed server %s", rec.Name)
				continue
			}
			if err := r.Register(def); err != nil {
				logging.Error("Registry", err, "Skipping managed server %s", rec.Name)
				continue
			}
			seen[rec.Name] = true
		}
	}

	for _, uc := range cfg.Upstreams {
		if seen[uc.Name] {
			logging.Info("Registry", "Static upstream %s shadowed by a managed server row", uc.Name)
			continue
		}
		if !uc.IsEnabled() {
			continue
		}
		if err := r.Register(FromConfig(uc)); err != nil {
			logging.Error("Registry", err, "Skipping static upstream %s", uc.Name)
		}
	}

	logging.Info("Registry", "Started %d upstream connectors", r.Count())
	return nil
}

// Register creates and starts a connector for the definition. Registering an
// id that already has a live connector reconfigures it instead, preserving
// the at-most-one-connector-per-id invariant.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if existing, ok := r.connectors[def.ID]; ok {
		r.mu.Unlock()
		existing.UpdateConfig(def)
		return nil
	}
	connector := r.newConnector(def, r.bus)
	r.connectors[def.ID] = connector
	r.mu.Unlock()

	connector.Start()
	return nil
}

// Update applies a changed definition to the connector for def.ID.
func (r *Registry) Update(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	connector, ok := r.connectors[def.ID]
	r.mu.RUnlock()
	if !ok {
		return &NotFoundError{ID: def.ID}
	}
	connector.UpdateConfig(def)
	return nil
}

// Deregister stops the connector for id and drops it from the registry.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	connector, ok := r.connectors[id]
	if ok {
		delete(r.connectors, id)
	}
	r.mu.Unlock()

	if !ok {
		return &NotFoundError{ID: id}
	}
	connector.Stop()
	return nil
}

// Get returns the connector for an upstream id.
func (r *Registry) Get(id string) (*Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connector, ok := r.connectors[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return connector, nil
}

// Exists reports whether an upstream id has a live connector.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connectors[id]
	return ok
}

// All returns a snapshot of the live connectors.
func (r *Registry) All() []*Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connectors := make([]*Connector, 0, len(r.connectors))
	for _, connector := range r.connectors {
		connectors = append(connectors, connector)
	}
	return connectors
}

// Count returns the number of live connectors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// Statuses returns the operator view of every upstream.
func (r *Registry) Statuses() []Status {
	statuses := make([]Status, 0, r.Count())
	for _, connector := range r.All() {
		def := connector.Definition()
		status := Status{
			ID:        def.ID,
			Name:      def.Name,
			Alias:     def.Alias,
			State:     connector.State(),
			ToolCount: len(connector.Tools()),
		}
		if err := connector.LastError(); err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// SendRequest routes one request to the connector for upstreamID.
func (r *Registry) SendRequest(ctx context.Context, upstreamID, method string, params json.RawMessage) (json.RawMessage, error) {
	connector, err := r.Get(upstreamID)
	if err != nil {
		return nil, err
	}
	return connector.SendRequest(ctx, method, params)
}

// ForwardNotification routes one fire-and-forget notification to the
// connector for upstreamID.
func (r *Registry) ForwardNotification(upstreamID, method string, params json.RawMessage) error {
	connector, err := r.Get(upstreamID)
	if err != nil {
		return err
	}
	return connector.ForwardNotification(method, params)
}

// Restart stops and restarts the connector for id. The dev watcher calls
// this after a watched path changes.
func (r *Registry) Restart(id string) error {
	connector, err := r.Get(id)
	if err != nil {
		return err
	}
	connector.Restart()
	return nil
}

// RunStatusPersister mirrors connector state transitions into the
// managed_mcp_server status columns until ctx is cancelled. Rows that do not
// exist (static file upstreams) are skipped silently; persistence is best
// effort and never affects the connectors.
func (r *Registry) RunStatusPersister(ctx context.Context) {
	if r.persistSub == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.persistSub:
			if !ok {
				return
			}
			if event.Type != events.TypeStatusChange {
				continue
			}
			lastError := ""
			if event.Err != nil {
				lastError = event.Err.Error()
			}
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := r.store.UpdateServerStatus(writeCtx, event.UpstreamID, event.NewState, lastError)
			cancel()
			if err != nil && err != storage.ErrNotFound {
				logging.Error("Registry", err, "Failed to persist status for upstream %s", event.UpstreamID)
			}
		}
	}
}

// WaitSettled blocks until every connector has left the starting state or the
// timeout elapses. The aggregator uses it to bound the boot-time wait before
// the first full catalog build.
func (r *Registry) WaitSettled(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		settled := true
		for _, connector := range r.All() {
			if state := connector.State(); state == StateStarting || state == StateReconnecting {
				settled = false
				break
			}
		}
		if settled {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// StopAll stops every connector. Used during shutdown.
func (r *Registry) StopAll() {
	var wg sync.WaitGroup
	for _, connector := range r.All() {
		wg.Add(1)
		go func(c *Connector) {
			defer wg.Done()
			c.Stop()
		}(connector)
	}
	wg.Wait()
}
