package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockBroker is a deterministic, in-process stand-in for a live broker
// connection. Acks are synchronous; fills, partial fills, rejections,
// and cancellations are driven explicitly by test/simulation code via
// Fill/PartialFill/Reject/AckCancel, or automatically if AutoFill is
// enabled — mirroring how a real venue acks immediately but fills
// asynchronously on its own clock.
type MockBroker struct {
	mu       sync.Mutex
	orders   map[string]*mockOrder
	events   chan Event
	autoFill bool
}

type mockOrder struct {
	req           SubmitRequest
	brokerOrderID string
	status        EventKind
	filledQty     int
}

// NewMockBroker constructs a MockBroker with a buffered event channel.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		orders: make(map[string]*mockOrder),
		events: make(chan Event, 256),
	}
}

// SetAutoFill, when true, causes every Submit to be immediately followed
// by a full synthetic Fill at the requested limit price — useful for
// integration tests that don't care about fill timing.
func (b *MockBroker) SetAutoFill(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoFill = v
}

func (b *MockBroker) Submit(ctx context.Context, req SubmitRequest) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	if _, exists := b.orders[req.ClientID]; exists {
		b.mu.Unlock()
		return fmt.Errorf("broker: duplicate client id %s", req.ClientID)
	}
	brokerOrderID := uuid.NewString()
	b.orders[req.ClientID] = &mockOrder{req: req, brokerOrderID: brokerOrderID, status: EventAck}
	autoFill := b.autoFill
	b.mu.Unlock()

	b.emit(Event{ClientID: req.ClientID, Kind: EventAck, BrokerOrderID: brokerOrderID, At: time.Now().UTC()})

	if autoFill {
		b.Fill(req.ClientID, req.Quantity, req.LimitPrice)
	}
	return nil
}

func (b *MockBroker) Cancel(ctx context.Context, clientID string) error {
	b.mu.Lock()
	o, ok := b.orders[clientID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("broker: unknown client id %s", clientID)
	}
	o.status = EventCancelled
	b.mu.Unlock()

	b.emit(Event{ClientID: clientID, Kind: EventCancelled, BrokerOrderID: o.brokerOrderID, At: time.Now().UTC()})
	return nil
}

// Fill pushes a terminal full-fill event for clientID.
func (b *MockBroker) Fill(clientID string, qty int, price float64) {
	b.mu.Lock()
	o, ok := b.orders[clientID]
	if !ok {
		b.mu.Unlock()
		return
	}
	o.status = EventFill
	o.filledQty = qty
	bid := o.brokerOrderID
	b.mu.Unlock()

	b.emit(Event{ClientID: clientID, Kind: EventFill, BrokerOrderID: bid, FilledQty: qty, FillPrice: price, At: time.Now().UTC()})
}

// PartialFill pushes a non-terminal partial-fill event.
func (b *MockBroker) PartialFill(clientID string, qty int, price float64) {
	b.mu.Lock()
	o, ok := b.orders[clientID]
	if !ok {
		b.mu.Unlock()
		return
	}
	o.status = EventPartialFill
	o.filledQty += qty
	bid := o.brokerOrderID
	b.mu.Unlock()

	b.emit(Event{ClientID: clientID, Kind: EventPartialFill, BrokerOrderID: bid, FilledQty: qty, FillPrice: price, At: time.Now().UTC()})
}

// Reject pushes a terminal rejection event.
func (b *MockBroker) Reject(clientID, reason string) {
	b.mu.Lock()
	o, ok := b.orders[clientID]
	if !ok {
		b.mu.Unlock()
		return
	}
	o.status = EventRejected
	bid := o.brokerOrderID
	b.mu.Unlock()

	b.emit(Event{ClientID: clientID, Kind: EventRejected, BrokerOrderID: bid, Reason: reason, At: time.Now().UTC()})
}

func (b *MockBroker) Events() <-chan Event {
	return b.events
}

func (b *MockBroker) OpenClientIDs(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for id, o := range b.orders {
		if o.status == EventAck || o.status == EventPartialFill {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ForceClearOpen removes clientID from the broker's open-order set
// without emitting any event, simulating an order the broker silently
// dropped (e.g. it expired) across a disconnect — for reconciliation
// tests only.
func (b *MockBroker) ForceClearOpen(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, clientID)
}

// ForceOpen registers clientID as broker-open with no corresponding
// local order, simulating an orphan surviving a process restart — for
// reconciliation tests only.
func (b *MockBroker) ForceOpen(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[clientID] = &mockOrder{req: SubmitRequest{ClientID: clientID}, brokerOrderID: uuid.NewString(), status: EventAck}
}

// CancelledOrphan reports whether Cancel was subsequently called for
// clientID — for reconciliation tests only.
func (b *MockBroker) CancelledOrphan(clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[clientID]
	return ok && o.status == EventCancelled
}

func (b *MockBroker) emit(e Event) {
	select {
	case b.events <- e:
	default:
		// Buffer full: drop rather than block the submitting goroutine.
		// A real venue would never do this; the mock favors test
		// determinism over fidelity here.
	}
}
