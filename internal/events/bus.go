// Package events provides the in-process event bus connecting the upstream
// registry to the aggregator, gateway and audit components. The registry
// publishes; everyone else subscribes. This keeps the dependency graph
// acyclic: no component holds a reverse reference to its consumers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"mcpgate/pkg/logging"
)

// Type discriminates the events a connector can emit.
type Type string

const (
	// TypeStatusChange reports a connector state transition.
	TypeStatusChange Type = "statusChange"
	// TypeToolsChanged reports that an upstream's tool set changed and the
	// aggregator should rebuild that upstream's catalog entries.
	TypeToolsChanged Type = "toolsChanged"
	// TypePushMessage carries a server-initiated JSON-RPC message for
	// fan-out to the upstream's sessions.
	TypePushMessage Type = "pushMessage"
)

// Event is a single bus message. States travel as strings so subscribers do
// not need the connector types.
type Event struct {
	Type       Type
	UpstreamID string

	// OldState and NewState are set for TypeStatusChange.
	OldState string
	NewState string
	// Err carries the failure that drove an error transition, if any.
	Err error

	// Message is the JSON-RPC shaped payload of a TypePushMessage event.
	Message json.RawMessage

	Timestamp time.Time
}

const subscriberBufferSize = 100

// Bus is a fan-out publish/subscribe channel hub. Publish never blocks: a
// subscriber that cannot keep up loses events rather than stalling the
// publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its receive channel. The
// channel is buffered; it is closed when the bus shuts down.
func (b *Bus) Subscribe() <-chan Event {
	eventChan := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(eventChan)
		return eventChan
	}
	b.subscribers = append(b.subscribers, eventChan)
	return eventChan
}

// Publish delivers the event to every subscriber. Subscribers that cannot
// receive immediately are skipped.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subscribers := make([]chan Event, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Don't block the publisher on a slow subscriber.
			logging.Debug("Events", "Subscriber blocked, dropping %s event for upstream %s",
				event.Type, event.UpstreamID)
		}
	}
}

// Close shuts the bus down and closes every subscriber channel, letting
// consumer loops exit. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subscriber := range b.subscribers {
		close(subscriber)
	}
	b.subscribers = nil
}
