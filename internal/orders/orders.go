// Package orders implements the Order Lifecycle Manager (spec component
// C7): idempotent submission, cancel-replace, a 3-second acknowledgement
// timeout, and duplicate-submission rejection, against the external
// broker.Broker collaborator. Every transition is appended to the audit
// ledger first; in-memory order state is a cache for fast lookups, not
// a second source of truth — on restart the Account State Machine's
// resume contract (spec §4.11) replays the ledger and reconciles
// against live broker state before this manager resumes issuing orders.
// The event-loop-over-a-channel shape, reconnect-agnostic from this
// package's point of view, is grounded on the teacher's
// internal/clients/tradernet client set consuming an async push feed.
package orders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/broker"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
)

// AckTimeout is how long a newly submitted order waits for the broker's
// acknowledgement before being cancelled (spec §4.7).
const AckTimeout = 3 * time.Second

var (
	// ErrDuplicateOrder is returned when an order is submitted for a key
	// whose previous version is still live (not yet terminal).
	ErrDuplicateOrder = fmt.Errorf("orders: duplicate client id")
	// ErrNotFound is returned when an operation targets an unknown order.
	ErrNotFound = fmt.Errorf("orders: not found")
	// ErrNotCancellable is returned when CancelReplace targets an order
	// that has already reached a terminal state.
	ErrNotCancellable = fmt.Errorf("orders: order not in a cancellable state")
)

// SubmitRequest is everything needed to place a new order.
type SubmitRequest struct {
	AccountID  string
	Intent     domain.OrderIntent
	Symbol     string
	Strike     float64
	Expiry     time.Time
	LimitPrice float64
	Quantity   int
}

type orderState struct {
	order    domain.Order
	quantity int
	acked    chan struct{}
}

// Manager is the Order Lifecycle Manager. One instance serves every
// account; orders are looked up by ClientID.
type Manager struct {
	ledger *ledger.Ledger
	broker broker.Broker
	log    zerolog.Logger

	mu      sync.Mutex
	orders  map[string]*orderState
	version map[string]int // next version per (account, intent, symbol, expiry, strike) base key

	terminal chan domain.Order
}

// New constructs a Manager and starts its broker-event consumption loop,
// which runs until ctx is cancelled.
func New(ctx context.Context, l *ledger.Ledger, b broker.Broker, log zerolog.Logger) *Manager {
	m := &Manager{
		ledger:   l,
		broker:   b,
		log:      log.With().Str("component", "order_lifecycle_manager").Logger(),
		orders:   make(map[string]*orderState),
		version:  make(map[string]int),
		terminal: make(chan domain.Order, 256),
	}
	go m.runEventLoop(ctx)
	return m
}

// Terminal returns orders as they reach a terminal state (Filled,
// Cancelled, Rejected) for the Account State Machine to consume.
func (m *Manager) Terminal() <-chan domain.Order {
	return m.terminal
}

func baseKey(r SubmitRequest) string {
	return fmt.Sprintf("%s:%s:%s:%s:%.4f", r.AccountID, r.Intent, r.Symbol, r.Expiry.UTC().Format("20060102"), r.Strike)
}

func clientID(base string, version int) string {
	return fmt.Sprintf("%s:%d", base, version)
}

// Submit places a new order at version 0 for its (account, intent,
// symbol, expiry, strike) key, or the next version once the prior attempt
// at that key has reached a terminal state; while that attempt is still
// live it returns ErrDuplicateOrder. It blocks only long enough to append
// the submission fact and call the broker; fills arrive asynchronously via
// Terminal().
func (m *Manager) Submit(ctx context.Context, cycleID string, req SubmitRequest) (domain.Order, error) {
	base := baseKey(req)

	m.mu.Lock()
	version := m.version[base]
	if version > 0 {
		if prev, ok := m.orders[clientID(base, version-1)]; ok && !prev.order.Status.IsTerminal() {
			m.mu.Unlock()
			return domain.Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, prev.order.ClientID)
		}
	}
	cid := clientID(base, version)
	if _, exists := m.orders[cid]; exists {
		m.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, cid)
	}
	now := time.Now().UTC()
	order := domain.Order{
		ClientID:      cid,
		AccountID:     req.AccountID,
		Intent:        req.Intent,
		Symbol:        req.Symbol,
		Expiry:        req.Expiry,
		Strike:        req.Strike,
		Version:       version,
		LimitPrice:    req.LimitPrice,
		BrokerOrderID: "",
		Status:        domain.OrderPending,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	st := &orderState{order: order, quantity: req.Quantity, acked: make(chan struct{})}
	m.orders[cid] = st
	m.version[base] = version + 1
	m.mu.Unlock()

	if _, err := m.ledger.Append(ctx, cycleID, ledger.CategoryOrderSubmitted, req.AccountID, "", cid, orderSubmittedPayload{
		ClientID: cid, Symbol: req.Symbol, Strike: req.Strike, Intent: string(req.Intent),
		Quantity: req.Quantity, LimitPrice: req.LimitPrice,
	}); err != nil {
		return domain.Order{}, err
	}

	if err := m.broker.Submit(ctx, broker.SubmitRequest{
		ClientID: cid, AccountID: req.AccountID, Symbol: req.Symbol, Strike: req.Strike,
		Expiry: req.Expiry, Intent: req.Intent, Quantity: req.Quantity, LimitPrice: req.LimitPrice,
	}); err != nil {
		m.markTerminal(ctx, cid, domain.OrderRejected, err.Error())
		return domain.Order{}, err
	}

	go m.watchAck(ctx, cid, uuidCorrelation())
	return order, nil
}

// uuidCorrelation generates a local-only tracing id, independent of the
// deterministic ClientID, for correlating logs across async broker
// round trips without encoding any business meaning in it.
func uuidCorrelation() string {
	return uuid.NewString()
}

func (m *Manager) watchAck(ctx context.Context, cid, correlationID string) {
	m.mu.Lock()
	st, ok := m.orders[cid]
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-st.acked:
		return
	case <-time.After(AckTimeout):
		m.log.Warn().Str("client_id", cid).Str("correlation_id", correlationID).Msg("ack timeout, cancelling")
		_ = m.broker.Cancel(ctx, cid)
		m.markTerminal(ctx, cid, domain.OrderCancelled, "ack timeout")
	case <-ctx.Done():
		return
	}
}

// CancelReplace cancels a working order and resubmits its remaining
// quantity at the next version, implementing spec §4.7's cancel-replace.
func (m *Manager) CancelReplace(ctx context.Context, cycleID, clientID string, newLimitPrice float64) (domain.Order, error) {
	m.mu.Lock()
	st, ok := m.orders[clientID]
	if !ok {
		m.mu.Unlock()
		return domain.Order{}, ErrNotFound
	}
	if st.order.Status.IsTerminal() {
		m.mu.Unlock()
		return domain.Order{}, ErrNotCancellable
	}
	cur := st.order
	remainingQty := st.quantity
	m.mu.Unlock()

	if err := m.broker.Cancel(ctx, clientID); err != nil {
		return domain.Order{}, err
	}
	m.markTerminal(ctx, clientID, domain.OrderCancelled, "cancel-replace")

	return m.Submit(ctx, cycleID, SubmitRequest{
		AccountID:  cur.AccountID,
		Intent:     cur.Intent,
		Symbol:     cur.Symbol,
		Strike:     cur.Strike,
		Expiry:     cur.Expiry,
		LimitPrice: newLimitPrice,
		Quantity:   remainingQty,
	})
}

func (m *Manager) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-m.broker.Events():
			if !ok {
				return
			}
			m.handleEvent(ctx, e)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, e broker.Event) {
	m.mu.Lock()
	st, ok := m.orders[e.ClientID]
	if !ok {
		m.mu.Unlock()
		m.log.Warn().Str("client_id", e.ClientID).Msg("event for unknown order, ignoring")
		return
	}
	m.mu.Unlock()

	switch e.Kind {
	case broker.EventAck:
		m.mu.Lock()
		st.order.BrokerOrderID = e.BrokerOrderID
		st.order.Status = domain.OrderWorking
		st.order.LastUpdatedAt = e.At
		closeOnce(st)
		m.mu.Unlock()

	case broker.EventPartialFill:
		m.mu.Lock()
		st.order.Status = domain.OrderPartiallyFilled
		st.quantity -= e.FilledQty
		st.order.LastUpdatedAt = e.At
		m.mu.Unlock()
		_, _ = m.ledger.Append(ctx, "", ledger.CategoryOrderFilled, st.order.AccountID, "", e.ClientID, orderFillPayload{
			ClientID: e.ClientID, FilledQty: e.FilledQty, FillPrice: e.FillPrice, Partial: true,
		})

	case broker.EventFill:
		m.finishTerminal(ctx, e.ClientID, domain.OrderFilled, ledger.CategoryOrderFilled, orderFillPayload{
			ClientID: e.ClientID, FilledQty: e.FilledQty, FillPrice: e.FillPrice, Partial: false,
		})

	case broker.EventCancelled:
		m.finishTerminal(ctx, e.ClientID, domain.OrderCancelled, ledger.CategoryOrderCancelled, orderTerminalPayload{ClientID: e.ClientID})

	case broker.EventRejected:
		m.finishTerminal(ctx, e.ClientID, domain.OrderRejected, ledger.CategoryOrderRejected, orderTerminalPayload{ClientID: e.ClientID, Reason: e.Reason})
	}
}

func closeOnce(st *orderState) {
	select {
	case <-st.acked:
	default:
		close(st.acked)
	}
}

func (m *Manager) finishTerminal(ctx context.Context, clientID string, status domain.OrderStatus, category ledger.Category, payload interface{}) {
	m.mu.Lock()
	st, ok := m.orders[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.order.Status = status
	st.order.LastUpdatedAt = time.Now().UTC()
	closeOnce(st)
	order := st.order
	m.mu.Unlock()

	if _, err := m.ledger.Append(ctx, "", category, order.AccountID, "", clientID, payload); err != nil {
		m.log.Error().Err(err).Str("client_id", clientID).Msg("failed to append terminal order event")
	}

	select {
	case m.terminal <- order:
	default:
		m.log.Warn().Str("client_id", clientID).Msg("terminal channel full, dropping notification")
	}
}

func (m *Manager) markTerminal(ctx context.Context, clientID string, status domain.OrderStatus, reason string) {
	category := ledger.CategoryOrderCancelled
	if status == domain.OrderRejected {
		category = ledger.CategoryOrderRejected
	}
	m.finishTerminal(ctx, clientID, status, category, orderTerminalPayload{ClientID: clientID, Reason: reason})
}

// Order returns a copy of the named order's current state.
func (m *Manager) Order(clientID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.orders[clientID]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	return st.order, nil
}

// Replay rebuilds orders and the per-base-key version counter from the
// ledger's OrderSubmitted/Filled/Cancelled/Rejected history. Without
// this, a restarted process's orders map starts empty and Reconcile
// would treat every still-working broker order as an orphan with no
// local record, cancelling it instead of reconciling it to its true
// status — and a fresh Submit could reuse an already-consumed
// (base, version) client id. Mirrors the replay-then-reconcile
// discipline internal/account.Store.Replay already uses for
// accounts/positions; must run before Reconcile in the resume contract.
func (m *Manager) Replay(ctx context.Context) error {
	m.mu.Lock()
	m.orders = make(map[string]*orderState)
	m.version = make(map[string]int)
	m.mu.Unlock()

	return m.ledger.ReadSince(ctx, 0, func(r ledger.Record) error {
		switch r.Category {
		case ledger.CategoryOrderSubmitted:
			var p orderSubmittedPayload
			if err := r.Decode(&p); err != nil {
				return fmt.Errorf("orders: replay: decode submitted %s: %w", r.OrderID, err)
			}
			base, version, err := parseClientID(p.ClientID)
			if err != nil {
				return fmt.Errorf("orders: replay: %w", err)
			}
			now := r.RecordedAt
			m.mu.Lock()
			m.orders[p.ClientID] = &orderState{
				order: domain.Order{
					ClientID:      p.ClientID,
					AccountID:     r.AccountID,
					Intent:        domain.OrderIntent(p.Intent),
					Symbol:        p.Symbol,
					Strike:        p.Strike,
					Version:       version,
					LimitPrice:    p.LimitPrice,
					Status:        domain.OrderPending,
					CreatedAt:     now,
					LastUpdatedAt: now,
				},
				quantity: p.Quantity,
				acked:    closedChan(),
			}
			if m.version[base] <= version {
				m.version[base] = version + 1
			}
			m.mu.Unlock()

		case ledger.CategoryOrderFilled:
			var p orderFillPayload
			if err := r.Decode(&p); err != nil {
				return fmt.Errorf("orders: replay: decode fill %s: %w", r.OrderID, err)
			}
			m.mu.Lock()
			if st, ok := m.orders[p.ClientID]; ok {
				if p.Partial {
					st.order.Status = domain.OrderPartiallyFilled
					st.quantity -= p.FilledQty
				} else {
					st.order.Status = domain.OrderFilled
				}
				st.order.LastUpdatedAt = r.RecordedAt
			}
			m.mu.Unlock()

		case ledger.CategoryOrderCancelled:
			var p orderTerminalPayload
			if err := r.Decode(&p); err != nil {
				return fmt.Errorf("orders: replay: decode cancel %s: %w", r.OrderID, err)
			}
			m.mu.Lock()
			if st, ok := m.orders[p.ClientID]; ok {
				st.order.Status = domain.OrderCancelled
				st.order.LastUpdatedAt = r.RecordedAt
			}
			m.mu.Unlock()

		case ledger.CategoryOrderRejected:
			var p orderTerminalPayload
			if err := r.Decode(&p); err != nil {
				return fmt.Errorf("orders: replay: decode reject %s: %w", r.OrderID, err)
			}
			m.mu.Lock()
			if st, ok := m.orders[p.ClientID]; ok {
				st.order.Status = domain.OrderRejected
				st.order.LastUpdatedAt = r.RecordedAt
			}
			m.mu.Unlock()
		}
		return nil
	})
}

// parseClientID splits a "base:version" client id back into its parts.
// base itself may contain colons (it is account:intent:symbol:expiry:
// strike), so only the trailing segment is treated as the version.
func parseClientID(cid string) (base string, version int, err error) {
	idx := strings.LastIndex(cid, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed client id %q", cid)
	}
	v, err := strconv.Atoi(cid[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed client id %q: %w", cid, err)
	}
	return cid[:idx], v, nil
}

// closedChan returns a pre-closed signal channel, used for orders
// rebuilt by Replay whose acknowledgement (if any) already happened in
// a prior process lifetime — nothing should block waiting on it again.
func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Reconcile compares the broker's view of open orders against local
// state after a restart (spec §4.11's resume contract, step 4): any
// locally-tracked non-terminal order the broker no longer reports open is
// a ghost and is marked Rejected; any broker-open client id this manager
// has no record of is an orphan and is cancelled.
func (m *Manager) Reconcile(ctx context.Context) error {
	brokerIDs, err := m.broker.OpenClientIDs(ctx)
	if err != nil {
		return fmt.Errorf("orders: reconcile: fetch broker open orders: %w", err)
	}
	atBroker := make(map[string]bool, len(brokerIDs))
	for _, id := range brokerIDs {
		atBroker[id] = true
	}

	m.mu.Lock()
	var ghosts, orphans []string
	for cid, st := range m.orders {
		if !st.order.Status.IsTerminal() && !atBroker[cid] {
			ghosts = append(ghosts, cid)
		}
	}
	for id := range atBroker {
		if _, ok := m.orders[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	m.mu.Unlock()

	for _, cid := range ghosts {
		m.log.Warn().Str("client_id", cid).Msg("reconcile: ghost local order not found at broker, marking rejected")
		m.markTerminal(ctx, cid, domain.OrderRejected, "reconcile: not found at broker")
	}
	for _, id := range orphans {
		m.log.Warn().Str("client_id", id).Msg("reconcile: orphan broker order has no local record, cancelling")
		if err := m.broker.Cancel(ctx, id); err != nil {
			m.log.Error().Err(err).Str("client_id", id).Msg("reconcile: failed to cancel orphan order")
		}
	}
	return nil
}

// OpenOrdersForAccount returns every order for accountID that has not yet
// reached a terminal state, for the Account State Machine's
// ORDERING→MONITORING precondition check (spec §4.11: "all entry orders
// reached terminal state").
func (m *Manager) OpenOrdersForAccount(accountID string) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, st := range m.orders {
		if st.order.AccountID == accountID && !st.order.Status.IsTerminal() {
			out = append(out, st.order)
		}
	}
	return out
}

// --- ledger payloads ---

type orderSubmittedPayload struct {
	ClientID   string
	Symbol     string
	Strike     float64
	Intent     string
	Quantity   int
	LimitPrice float64
}

type orderFillPayload struct {
	ClientID  string
	FilledQty int
	FillPrice float64
	Partial   bool
}

type orderTerminalPayload struct {
	ClientID string
	Reason   string
}
