// Package broker defines the external broker collaborator interface the
// Order Lifecycle Manager (spec component C7) submits against, plus a
// deterministic in-process mock used in place of real broker
// connectivity — explicitly out of scope per spec §1 ("broker
// connectivity... are external collaborators with defined interfaces
// only"). The interface shape (context-scoped calls, an event channel
// for asynchronous broker pushes) follows the teacher's
// internal/clients/tradernet client set, generalized from a brokerage
// REST/WS client down to the narrow order-submission surface this
// engine needs.
package broker

import (
	"context"
	"time"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

// EventKind discriminates an asynchronous broker push.
type EventKind string

const (
	EventAck         EventKind = "Ack"
	EventPartialFill EventKind = "PartialFill"
	EventFill        EventKind = "Fill"
	EventCancelled   EventKind = "Cancelled"
	EventRejected    EventKind = "Rejected"
)

// Event is one asynchronous broker push, correlated back to a local
// order by ClientID (spec §4.7's idempotent client order id).
type Event struct {
	ClientID      string
	Kind          EventKind
	BrokerOrderID string
	FilledQty     int
	FillPrice     float64
	Reason        string
	At            time.Time
}

// SubmitRequest is everything the broker needs to place an order.
type SubmitRequest struct {
	ClientID   string
	AccountID  string
	Symbol     string
	Strike     float64
	Expiry     time.Time
	Intent     domain.OrderIntent
	Quantity   int
	LimitPrice float64
}

// Broker is the narrow external collaborator interface the Order
// Lifecycle Manager depends on. A live implementation would wrap a
// vendor's REST/WS API; this engine ships only MockBroker.
type Broker interface {
	// Submit places a new order. Submitting the same ClientID twice
	// without a version bump must be rejected by the caller before this
	// is ever called (spec §4.7's "duplicate submissions... rejected
	// outright" is the Order Lifecycle Manager's job, not the broker's).
	Submit(ctx context.Context, req SubmitRequest) error
	// Cancel requests cancellation of a working order by ClientID.
	Cancel(ctx context.Context, clientID string) error
	// Events returns the channel of asynchronous fills/acks/rejections.
	// The channel is never closed while the broker is running.
	Events() <-chan Event
	// OpenClientIDs lists every order the broker currently considers
	// open, for reconciliation after a disconnect (spec §4.7).
	OpenClientIDs(ctx context.Context) ([]string, error)
}
