package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	first := bus.Subscribe()
	second := bus.Subscribe()

	bus.Publish(Event{Type: TypeToolsChanged, UpstreamID: "echo"})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case event := <-ch:
			assert.Equal(t, TypeToolsChanged, event.Type)
			assert.Equal(t, "echo", event.UpstreamID)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("expected event was not delivered")
		}
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe()

	// Fill the subscriber buffer without draining it.
	for i := 0; i < subscriberBufferSize+10; i++ {
		bus.Publish(Event{Type: TypeStatusChange, UpstreamID: "flooded"})
	}

	// The buffer holds exactly subscriberBufferSize events; the rest were
	// dropped rather than blocking Publish.
	assert.Equal(t, subscriberBufferSize, len(slow))
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Close()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Publish and repeat Close after shutdown are no-ops.
	bus.Publish(Event{Type: TypePushMessage})
	bus.Close()
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	ch := bus.Subscribe()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel from closed bus should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel from closed bus should be closed immediately")
	}
}

func TestStatusChangeEventCarriesStates(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(Event{
		Type:       TypeStatusChange,
		UpstreamID: "echo",
		OldState:   "running",
		NewState:   "reconnecting",
	})

	select {
	case event := <-ch:
		require.Equal(t, TypeStatusChange, event.Type)
		assert.Equal(t, "running", event.OldState)
		assert.Equal(t, "reconnecting", event.NewState)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}
