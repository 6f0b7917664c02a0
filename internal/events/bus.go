// Package events provides the in-process event bus linking the capture
// source to reactive subsystems (telemetry uplink, metrics, API clients).
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(SourceStateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the concrete type, so each event kind
	// goes through the generic Publish with its own instantiation.
	switch e := ev.(type) {
	case SourceStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceLostEvent:
		event.Publish(b.dispatcher, e)
	case EncoderExitedEvent:
		event.Publish(b.dispatcher, e)
	case SourceStatsEvent:
		event.Publish(b.dispatcher, e)
	case SourceRestartedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function. The handler's
// parameter type determines which events it receives. Returns an
// unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e SourceStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SourceStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceLostEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(EncoderExitedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourceStatsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourceRestartedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unknown handler signature: nothing will ever be delivered.
		return func() {}
	}
}
