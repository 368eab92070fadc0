package events

import (
	"sync"
	"time"
)

// Bus fans typed events out to any number of subscribers — the
// operational HTTP surface's SSE stream being the only consumer today.
// Grounded on the teacher's internal/events.Bus (referenced by
// internal/server's events_stream.go and internal/scheduler's
// EventManagerInterface.Emit/EmitTyped), reconstructed here since the
// retrieval pack carried the usage sites but not the implementation.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan EventWithData
	next int
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan EventWithData)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is buffered; a slow subscriber drops
// events rather than blocking publishers.
func (b *Bus) Subscribe() (<-chan EventWithData, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan EventWithData, 64)
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

// EmitTyped publishes a typed event to every current subscriber.
func (b *Bus) EmitTyped(accountID string, data EventData) {
	evt := EventWithData{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		AccountID: accountID,
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber backlog full: drop rather than block the
			// publisher. The ledger remains the durable record.
		}
	}
}
