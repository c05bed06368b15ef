package events

import (
	"sync"

	"github.com/google/uuid"

	"nftmarket/core/types"
)

const defaultBacklog = 256

// Bus fans emitted events out to subscribers and keeps a bounded backlog so
// late subscribers can catch up. Slow subscribers never block the engine;
// sends that would block are dropped for that subscriber.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan *types.Event
	backlog []*types.Event
	limit   int
}

// NewBus constructs a bus retaining up to limit historical events. A
// non-positive limit falls back to the default.
func NewBus(limit int) *Bus {
	if limit <= 0 {
		limit = defaultBacklog
	}
	return &Bus{
		subs:  make(map[string]chan *types.Event),
		limit: limit,
	}
}

// Emit implements the Emitter interface. Events without a payload form are
// ignored.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	record := payload.Event()
	if record == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backlog = append(b.backlog, record)
	if len(b.backlog) > b.limit {
		b.backlog = b.backlog[len(b.backlog)-b.limit:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- record:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its identifier, delivery
// channel, and a snapshot of the retained backlog.
func (b *Bus) Subscribe(buffer int) (string, <-chan *types.Event, []*types.Event) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.NewString()
	ch := make(chan *types.Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = ch
	backlog := make([]*types.Event, len(b.backlog))
	copy(backlog, b.backlog)
	return id, ch, backlog
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}
