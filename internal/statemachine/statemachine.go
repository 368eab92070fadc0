// Package statemachine implements the Account State Machine (spec
// component C11): the per-account orchestration loop
// SAFE → SCANNING → ANALYZING → ORDERING → MONITORING → CLOSING →
// RECONCILING → SAFE, with an EMERGENCY state reachable from any other,
// and the seven-step resume contract that lets a crashed process pick up
// exactly where it left off. Every transition is append-logged before
// the in-memory state pointer moves, the same discipline C6's
// appendAndApply and C7's order state machine already use — Machine's
// job is to bundle the read-only/mutating collaborators (ledger, store,
// orders, rules, protocol, LEAP ladder, fork/merge) a full cycle needs
// and drive them through the preconditions spec §4.11 enumerates, each
// of which is its own pure function over explicit inputs so the
// transition logic is testable without a live account. Grounded on
// internal/protocol.Engine and internal/orders.Manager's bundle-
// collaborators-then-drive shape.
package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/atrsvc"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/forkmerge"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/leap"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/orders"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/protocol"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/rules"
)

// State is one node of the per-account lifecycle (spec §4.11).
type State string

const (
	Safe        State = "Safe"
	Scanning    State = "Scanning"
	Analyzing   State = "Analyzing"
	Ordering    State = "Ordering"
	Monitoring  State = "Monitoring"
	Closing     State = "Closing"
	Reconciling State = "Reconciling"
	Emergency   State = "Emergency"
)

// CanScan is SAFE→SCANNING's precondition: market open, not in a
// system-wide Kill or SafeMode, not itself account-paused, ledger
// healthy.
func CanScan(marketOpen bool, systemMode protocol.SystemMode, accountStatus domain.AccountStatus, ledgerHealthy bool) (bool, string) {
	switch {
	case !marketOpen:
		return false, "market closed"
	case systemMode == protocol.ModeKill:
		return false, "system-wide Kill in effect"
	case systemMode == protocol.ModeSafe:
		return false, "system-wide SafeMode in effect"
	case accountStatus != domain.AccountActive:
		return false, fmt.Sprintf("account status %s is not Active", accountStatus)
	case !ledgerHealthy:
		return false, "ledger hash chain unhealthy"
	default:
		return true, ""
	}
}

// CanAnalyze is SCANNING→ANALYZING's precondition: a fresh snapshot for
// every permitted symbol.
func CanAnalyze(allSymbolsFresh bool) (bool, string) {
	if !allSymbolsFresh {
		return false, "snapshot cache stale for one or more permitted symbols"
	}
	return true, ""
}

// AnalysisOutcome is ANALYZING's fork: at least one candidate cleared the
// Rules Engine and the entry window is open routes to ORDERING; anything
// else routes to MONITORING (spec §4.11's "no candidate" branch).
func AnalysisOutcome(approvedCandidates int, entryWindowOpen bool) (next State, reason string) {
	if approvedCandidates > 0 && entryWindowOpen {
		return Ordering, fmt.Sprintf("%d candidate(s) approved, entry window open", approvedCandidates)
	}
	if approvedCandidates > 0 {
		return Monitoring, "candidates approved but entry window closed"
	}
	return Monitoring, "no candidate passed the Rules Engine"
}

// CanReconcileFromOrdering is ORDERING→MONITORING's precondition: every
// entry order this cycle submitted has reached a terminal state.
func CanReconcileFromOrdering(openOrders []domain.Order) (bool, string) {
	if len(openOrders) > 0 {
		return false, fmt.Sprintf("%d order(s) not yet terminal", len(openOrders))
	}
	return true, ""
}

// MonitoringOutcome is MONITORING→CLOSING's precondition, evaluated every
// monitoring tick: a profit-take condition, ≤1 DTE, an L3 escalation, or
// a circuit-breaker escalation moves the account to CLOSING.
func MonitoringOutcome(profitTakeMet bool, minDTE int, worstLevel protocol.Level, systemMode protocol.SystemMode) (shouldClose bool, reason string) {
	switch {
	case profitTakeMet:
		return true, "profit-take condition met"
	case minDTE <= 1:
		return true, fmt.Sprintf("DTE %d <= 1", minDTE)
	case worstLevel == protocol.L3:
		return true, "L3 escalation in force"
	case systemMode == protocol.ModeSafe || systemMode == protocol.ModeKill:
		return true, fmt.Sprintf("circuit breaker at %s", systemMode)
	default:
		return false, ""
	}
}

// CanReconcileFromClosing is CLOSING→RECONCILING's precondition: no
// working orders remain, every targeted position is closed or rolled,
// and the broker's view matches local state.
func CanReconcileFromClosing(workingOrders int, positionsSettled, brokerMatchesLocal bool) (bool, string) {
	switch {
	case workingOrders > 0:
		return false, fmt.Sprintf("%d working order(s) remain", workingOrders)
	case !positionsSettled:
		return false, "one or more targeted positions not yet closed or rolled"
	case !brokerMatchesLocal:
		return false, "broker state does not match local state"
	default:
		return true, ""
	}
}

// ShouldEmergency is the ANY→EMERGENCY precondition: any of a broken
// ledger chain, a broker outage past the 5-minute ceiling, a system-wide
// Kill, or an account invariant violation forces immediate EMERGENCY
// regardless of current state.
func ShouldEmergency(ledgerIntegrityFailure bool, brokerOutage time.Duration, systemMode protocol.SystemMode, invariantViolation bool) (bool, string) {
	switch {
	case ledgerIntegrityFailure:
		return true, "ledger integrity failure"
	case brokerOutage > 5*time.Minute:
		return true, fmt.Sprintf("broker outage %s exceeds 5m ceiling", brokerOutage)
	case systemMode == protocol.ModeKill:
		return true, "system-wide Kill signal"
	case invariantViolation:
		return true, "account invariant violation"
	default:
		return false, ""
	}
}

type stateTransitionPayload struct {
	AccountID string
	From      State
	To        State
	Reason    string
}

// Machine bundles every collaborator one account's cycle needs and
// tracks each account's current state. It holds no business decisions of
// its own beyond the state pointer — every precondition above is a pure
// function, and every domain mutation runs through the lower-numbered
// components (account.Store, orders.Manager) this machine orchestrates.
type Machine struct {
	ledger    *ledger.Ledger
	store     *account.Store
	orders    *orders.Manager
	rules     *rules.Engine
	protocol  *protocol.Engine
	leap      *leap.Engine
	forkmerge *forkmerge.Engine
	atr       *atrsvc.Service
	log       zerolog.Logger

	mu     sync.Mutex
	states map[string]State
}

// New constructs a Machine. Every account not yet seen starts in Safe.
func New(l *ledger.Ledger, store *account.Store, om *orders.Manager, re *rules.Engine, pe *protocol.Engine, le *leap.Engine, fe *forkmerge.Engine, atr *atrsvc.Service, log zerolog.Logger) *Machine {
	return &Machine{
		ledger: l, store: store, orders: om, rules: re, protocol: pe, leap: le, forkmerge: fe, atr: atr,
		log:    log.With().Str("component", "account_state_machine").Logger(),
		states: make(map[string]State),
	}
}

// CurrentState returns accountID's current state, Safe if never seen.
func (m *Machine) CurrentState(accountID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[accountID]; ok {
		return s
	}
	return Safe
}

// Transition appends a StateTransition fact to the ledger, then moves
// accountID's in-memory state pointer — the same append-then-apply
// ordering every other component in this system uses.
func (m *Machine) Transition(ctx context.Context, cycleID, accountID string, to State, reason string) error {
	from := m.CurrentState(accountID)
	if _, err := m.ledger.Append(ctx, cycleID, ledger.CategoryStateTransition, accountID, "", "", stateTransitionPayload{
		AccountID: accountID, From: from, To: to, Reason: reason,
	}); err != nil {
		return fmt.Errorf("statemachine: append transition %s->%s for %s: %w", from, to, accountID, err)
	}

	m.mu.Lock()
	m.states[accountID] = to
	m.mu.Unlock()

	m.log.Info().Str("account_id", accountID).Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("state transition")
	return nil
}

// Resume implements spec §4.11's seven-step resume contract. refreshATR
// is supplied by the caller because ATR recomputation needs current spot
// prices from the market-data feed, which this package does not depend
// on directly (spec §1's external-collaborator boundary).
func (m *Machine) Resume(ctx context.Context, refreshATR func(ctx context.Context, symbols []string) error) error {
	// (1) verify ledger hash chain.
	if err := m.ledger.VerifyChain(ctx); err != nil {
		return fmt.Errorf("statemachine: resume: ledger integrity check failed: %w", err)
	}

	// (2) replay to rebuild Position/Account stores.
	if err := m.store.Replay(ctx); err != nil {
		return fmt.Errorf("statemachine: resume: replay account store: %w", err)
	}

	// (7-prep) reconstruct each account's last logged state from the
	// ledger's own StateTransition history, so step 7 ("resume at the
	// last logged state") has something to resume into.
	if err := m.rebuildStates(ctx); err != nil {
		return fmt.Errorf("statemachine: resume: rebuild state pointers: %w", err)
	}

	// (3) rebuild the order manager's in-flight book and per-base-key
	// version counters from ledger history before reconciling against the
	// broker, so a still-working order from a prior process lifetime is
	// recognized as ours instead of cancelled as an orphan, and a fresh
	// Submit cannot reuse an already-consumed client id.
	if err := m.orders.Replay(ctx); err != nil {
		return fmt.Errorf("statemachine: resume: replay order manager: %w", err)
	}

	// (4) fetch broker state + reconcile orders/positions: cancel
	// orphan broker orders, mark ghost local orders Rejected.
	if err := m.orders.Reconcile(ctx); err != nil {
		return fmt.Errorf("statemachine: resume: reconcile broker state: %w", err)
	}

	// (5) recompute protocol levels against the now-current book.
	positions := m.store.Positions()
	if _, err := m.protocol.Tick(ctx, "resume", positions, time.Now().UTC()); err != nil {
		return fmt.Errorf("statemachine: resume: recompute protocol levels: %w", err)
	}

	// (6) recompute ATR thresholds for every symbol with an open position.
	symbols := uniqueSymbols(positions)
	if len(symbols) > 0 && refreshATR != nil {
		if err := refreshATR(ctx, symbols); err != nil {
			return fmt.Errorf("statemachine: resume: refresh ATR: %w", err)
		}
	}

	// (7) resume at the last logged state: m.states already holds it from
	// rebuildStates above, so no further action — the next cycle's caller
	// reads CurrentState and proceeds from there without re-entering any
	// already-logged decision.
	return nil
}

func (m *Machine) rebuildStates(ctx context.Context) error {
	m.mu.Lock()
	m.states = make(map[string]State)
	m.mu.Unlock()

	return m.ledger.ReadSince(ctx, 0, func(r ledger.Record) error {
		if r.Category != ledger.CategoryStateTransition {
			return nil
		}
		var p stateTransitionPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		m.mu.Lock()
		m.states[r.AccountID] = p.To
		m.mu.Unlock()
		return nil
	})
}

func uniqueSymbols(positions []domain.Position) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range positions {
		if p.Status != domain.PositionOpen && p.Status != domain.PositionRollPending {
			continue
		}
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}
