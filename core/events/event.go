package events

import "nftmarket/core/types"

// Event represents a structured state change emitted by the marketplace
// engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that expose a serializable form for
// downstream consumers (RPC, websocket stream, indexers).
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while
// discarding all events. It is useful when a component wants to optionally
// expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
