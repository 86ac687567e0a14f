package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgate/internal/events"
	"mcpgate/internal/upstream"
	"mcpgate/pkg/logging"
)

// bootSettleTimeout bounds how long the boot-time build waits for connectors
// to finish their first connection attempt.
const bootSettleTimeout = 10 * time.Second

// Aggregator maintains the namespaced tool catalog. Reads go through an
// atomically swapped snapshot; rebuilds are serialized by mu and sourced from
// the per-upstream tool sets collected off the event bus.
type Aggregator struct {
	registry *upstream.Registry
	sub      <-chan events.Event

	mu    sync.Mutex
	order []string
	byID  map[string]upstreamTools

	snapshot atomic.Pointer[catalog]
}

// New creates an aggregator reading upstream state from the registry. The
// catalog starts empty; call Bootstrap once connectors are starting, then Run
// to keep it current. The bus subscription is taken here, before any
// connector starts, so no tool change can slip between boot and the event
// loop.
func New(registry *upstream.Registry) *Aggregator {
	a := &Aggregator{
		registry: registry,
		sub:      registry.Bus().Subscribe(),
		byID:     make(map[string]upstreamTools),
	}
	a.snapshot.Store(emptyCatalog())
	return a
}

// Bootstrap performs the boot-time full build: wait (bounded) until every
// connector has settled, then collect tools from all running upstreams.
func (a *Aggregator) Bootstrap(ctx context.Context) {
	a.registry.WaitSettled(ctx, bootSettleTimeout)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, connector := range a.registry.All() {
		if connector.State() != upstream.StateRunning {
			continue
		}
		a.setUpstreamLocked(connector)
	}
	a.rebuildLocked()
	logging.Info("Aggregator", "Initial catalog: %d tools from %d upstreams",
		len(a.snapshot.Load().ordered), len(a.order))
}

// Run consumes registry events until ctx is cancelled or the bus closes.
// toolsChanged replaces the upstream's entries; a transition out of running
// removes them.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.sub:
			if !ok {
				return
			}
			a.handleEvent(event)
		}
	}
}

func (a *Aggregator) handleEvent(event events.Event) {
	switch event.Type {
	case events.TypeToolsChanged:
		connector, err := a.registry.Get(event.UpstreamID)
		if err != nil {
			// Deregistered between publish and receive; the status event
			// cleans up.
			return
		}
		a.mu.Lock()
		a.setUpstreamLocked(connector)
		a.rebuildLocked()
		a.mu.Unlock()

	case events.TypeStatusChange:
		if event.NewState == string(upstream.StateRunning) {
			return
		}
		a.mu.Lock()
		a.removeUpstreamLocked(event.UpstreamID)
		a.rebuildLocked()
		a.mu.Unlock()
	}
}

// setUpstreamLocked records the connector's current tool set, appending the
// upstream to the build order on first sight. Caller holds mu.
func (a *Aggregator) setUpstreamLocked(connector *upstream.Connector) {
	def := connector.Definition()
	if _, known := a.byID[def.ID]; !known {
		a.order = append(a.order, def.ID)
	}
	a.byID[def.ID] = upstreamTools{
		upstreamID: def.ID,
		prefix:     def.Label(),
		label:      def.Label(),
		tools:      connector.Tools(),
	}
}

// removeUpstreamLocked drops the upstream's entries. Caller holds mu.
func (a *Aggregator) removeUpstreamLocked(upstreamID string) {
	if _, known := a.byID[upstreamID]; !known {
		return
	}
	delete(a.byID, upstreamID)
	for i, id := range a.order {
		if id == upstreamID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// rebuildLocked assembles and publishes a fresh snapshot. Caller holds mu.
func (a *Aggregator) rebuildLocked() {
	inputs := make([]upstreamTools, 0, len(a.order))
	for _, id := range a.order {
		inputs = append(inputs, a.byID[id])
	}
	next := buildCatalog(inputs)
	a.snapshot.Store(next)
	logging.Debug("Aggregator", "Catalog rebuilt: %d tools from %d upstreams",
		len(next.ordered), len(inputs))
}

// Resolve maps a gateway tool name to its routing target.
func (a *Aggregator) Resolve(name string) (Mapping, bool) {
	mapping, ok := a.snapshot.Load().byName[name]
	return mapping, ok
}

// Tools returns the exposed tool descriptors of the current snapshot.
func (a *Aggregator) Tools() []mcp.Tool {
	return a.snapshot.Load().Tools()
}

// Count returns the number of aggregated tools.
func (a *Aggregator) Count() int {
	return len(a.snapshot.Load().ordered)
}
