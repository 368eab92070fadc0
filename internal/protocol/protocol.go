// Package protocol implements the Protocol Engine (spec component C8):
// per-position ATR-threshold escalation (L0-L3), roll-candidate
// selection under the spec's roll-economics cap and deterministic
// tie-break, covered-call-specific close rules, system-wide circuit
// breakers driven off VIX, and the L2 hedge-deployment decision. Every
// function here is a pure evaluation over its inputs, the same
// stateless-validator shape the Rules Engine (internal/rules) uses —
// Engine exists only to bundle the read-only collaborators (ATR
// service, snapshot cache, ledger) a full monitoring tick needs, not to
// hold decision state of its own.
package protocol

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/atrsvc"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
)

// Level is a position's current protocol escalation level (spec §4.8).
type Level int

const (
	L0 Level = iota
	L1
	L2
	L3
)

func (l Level) String() string {
	switch l {
	case L0:
		return "L0"
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	default:
		return "L?"
	}
}

// MonitoringPeriod is how often a position at this level must be
// re-evaluated (spec §4.8's monitoring-cadence column).
func (l Level) MonitoringPeriod() time.Duration {
	switch l {
	case L0:
		return 5 * time.Minute
	case L1:
		return time.Minute
	case L2:
		return 30 * time.Second
	default:
		return 0 // L3: real-time, every tick
	}
}

// EvaluateLevel computes a position's level from its current mark
// against the ATR-derived thresholds (spec §4.8's trigger column). side
// determines breach direction: a CSP breaches downward through strike
// minus n*ATR, a CC breaches upward through strike plus n*ATR.
func EvaluateLevel(side atrsvc.Side, spot, l1, l2, l3 float64) Level {
	breached := func(threshold float64) bool {
		if side == atrsvc.SideCC {
			return spot >= threshold
		}
		return spot <= threshold
	}
	switch {
	case breached(l3):
		return L3
	case breached(l2):
		return L2
	case breached(l1):
		return L1
	default:
		return L0
	}
}

func sideOf(pos domain.Position) atrsvc.Side {
	if pos.Kind == domain.PositionCC {
		return atrsvc.SideCC
	}
	return atrsvc.SideCSP
}

// RollCandidate is one replacement contract a roll could move into.
type RollCandidate struct {
	Strike   float64
	Expiry   time.Time
	Delta    float64 // positive magnitude
	NetDebit float64 // cost to execute the roll; negative means a net credit
}

// maxRollDebitFraction is the roll-economics cap: a candidate is
// rejected if its net debit exceeds this fraction of the position's
// opening credit (spec §4.8).
const maxRollDebitFraction = 0.50

// SelectRollCandidate applies the deterministic tie-break spec §4.8
// defines — (1) lowest debit, (2) closest delta to the sleeve's delta
// band midpoint, (3) earliest expiry satisfying the DTE lower bound —
// among candidates that both satisfy the DTE lower bound and pass the
// roll-economics cap. Returns ok=false when no candidate survives,
// signalling the caller to escalate L2 straight to L3.
func SelectRollCandidate(candidates []RollCandidate, openingCredit float64, deltaBandLow, deltaBandHigh float64, dteLowerBound int, now time.Time) (RollCandidate, bool, string) {
	maxDebit := maxRollDebitFraction * absf(openingCredit)
	midpoint := stat.Mean([]float64{deltaBandLow, deltaBandHigh}, nil)

	var eligible []RollCandidate
	for _, c := range candidates {
		if daysTo(now, c.Expiry) < dteLowerBound {
			continue
		}
		if c.NetDebit > maxDebit {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return RollCandidate{}, false, fmt.Sprintf("no roll candidate within debit cap %.2f or DTE>=%d", maxDebit, dteLowerBound)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.NetDebit != b.NetDebit {
			return a.NetDebit < b.NetDebit
		}
		// Distances within 1e-9 count as equal, so deltas equally far
		// either side of the midpoint fall through to expiry.
		da, db := absf(a.Delta-midpoint), absf(b.Delta-midpoint)
		if absf(da-db) > 1e-9 {
			return da < db
		}
		return a.Expiry.Before(b.Expiry)
	})
	return eligible[0], true, ""
}

// CCDecision is the outcome of evaluating spec §4.8's covered-call
// protocol variants against one open CC position.
type CCDecision struct {
	ShouldClose bool
	Reason      string
	// MaxCoveragePct is the sleeve's covered-call coverage ceiling this
	// position's conditions impose on the *next* CC opened this week —
	// it does not itself close anything.
	MaxCoveragePct float64
}

// EvaluateCC applies the CC-specific close rules: ≥65% decay or ≤1 DTE
// close outright; during earnings week reduce coverage to ≤50% for new
// entries; an early-assignment probability above 80% brings the close
// threshold down to ≥30% decay.
func EvaluateCC(decayPct float64, dte int, earningsWeek bool, earlyAssignmentProb float64) CCDecision {
	d := CCDecision{MaxCoveragePct: 1.0}
	if earningsWeek {
		d.MaxCoveragePct = 0.50
	}

	switch {
	case decayPct >= 0.65:
		d.ShouldClose = true
		d.Reason = fmt.Sprintf("decay %.0f%% >= 65%%", decayPct*100)
	case dte <= 1:
		d.ShouldClose = true
		d.Reason = fmt.Sprintf("DTE %d <= 1", dte)
	case earlyAssignmentProb > 0.80 && decayPct >= 0.30:
		d.ShouldClose = true
		d.Reason = fmt.Sprintf("assignment probability %.0f%% > 80%% and decay %.0f%% >= 30%%", earlyAssignmentProb*100, decayPct*100)
	}
	return d
}

// SystemMode is the account-wide posture the circuit breakers impose,
// evaluated before any per-position protocol logic (spec §4.8).
type SystemMode string

const (
	ModeNormal SystemMode = "Normal"
	ModeHedged SystemMode = "HedgedWeek"
	ModeSafe   SystemMode = "SafeMode"
	ModeKill   SystemMode = "Kill"
)

// CircuitBreaker evaluates the VIX-driven system-wide mode from the
// latest published close and the current intraday print — the higher
// (more defensive) of the two governs, per spec §4.8.
func CircuitBreaker(vixClose, vixIntraday float64) SystemMode {
	vix := vixClose
	if vixIntraday > vix {
		vix = vixIntraday
	}
	switch {
	case vix >= 80:
		return ModeKill
	case vix >= 65:
		return ModeSafe
	case vix >= 50:
		return ModeHedged
	default:
		return ModeNormal
	}
}

// HedgeBudget is the dollar ceiling for a new hedge basket deployed on an
// L2 escalation (spec §4.8): the greater of 5% of trailing quarterly
// gains or 1% of sleeve equity.
func HedgeBudget(trailingQuarterlyGains, sleeveEquity float64) float64 {
	b := 0.05 * trailingQuarterlyGains
	if alt := 0.01 * sleeveEquity; alt > b {
		b = alt
	}
	return b
}

// HedgeBasket is the target composition of a new hedge deployment.
type HedgeBasket struct {
	SPXPutNotional     float64 // 1% of sleeve equity, long puts
	SPXPutMinMonths    int
	SPXPutMaxMonths    int
	SPXPutMinOTMPct    float64
	SPXPutMaxOTMPct    float64
	VIXCallNotional    float64 // 0.5% of sleeve equity, long calls
	VIXCallApproxMonths int
	CostBudget         float64
}

// BuildHedgeBasket sizes a hedge basket's target notionals off sleeve
// equity, bounded by budget as the actual premium spend ceiling (spec
// §4.8: "1% SPX long puts..., 0.5% VIX calls...").
func BuildHedgeBasket(budget, sleeveEquity float64) HedgeBasket {
	return HedgeBasket{
		SPXPutNotional:      0.01 * sleeveEquity,
		SPXPutMinMonths:     6,
		SPXPutMaxMonths:     12,
		SPXPutMinOTMPct:     0.10,
		SPXPutMaxOTMPct:     0.20,
		VIXCallNotional:     0.005 * sleeveEquity,
		VIXCallApproxMonths: 6,
		CostBudget:          budget,
	}
}

// ShouldCloseHedge reports whether an active hedge should be unwound:
// profit has reached 200% of cost, or every escalation trigger that
// justified it has reverted (spec §4.8).
func ShouldCloseHedge(profitPct float64, anyEscalationActive bool) bool {
	return profitPct >= 2.00 || !anyEscalationActive
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func daysTo(now, expiry time.Time) int {
	return int(expiry.Sub(now).Hours() / 24)
}

// Escalation is one position's level transition for a monitoring tick,
// as appended to the ledger.
type Escalation struct {
	PositionID string
	AccountID  string
	From       Level
	To         Level
}

// Engine bundles the read-only collaborators a monitoring tick needs to
// evaluate every open position's level and persist the resulting
// escalations through the Account & Position Store. It
// holds no decision state of its own — domain.Position.ProtocolLevel,
// persisted through internal/account, is the source of truth for
// "current level".
type Engine struct {
	atr   *atrsvc.Service
	cache *snapshot.Cache
	store *account.Store
	log   zerolog.Logger
}

// New constructs a protocol Engine.
func New(atr *atrsvc.Service, cache *snapshot.Cache, store *account.Store, log zerolog.Logger) *Engine {
	return &Engine{atr: atr, cache: cache, store: store, log: log.With().Str("component", "protocol_engine").Logger()}
}

// Tick evaluates every position in positions against the live snapshot
// cache and ATR service, persists every escalation through the Account &
// Position Store, and returns the escalations observed (callers drive
// roll/close/hedge actions off the To level). A computed level at or
// below the position's current level is not recorded.
func (e *Engine) Tick(ctx context.Context, cycleID string, positions []domain.Position, now time.Time) ([]Escalation, error) {
	var out []Escalation
	for _, pos := range positions {
		if pos.Status != domain.PositionOpen && pos.Status != domain.PositionRollPending {
			continue
		}
		quote, _, err := e.cache.Get(pos.Symbol, now)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("no quote for protocol evaluation, skipping")
			continue
		}
		l1, l2, l3, err := e.atr.Thresholds(pos.Symbol, pos.Strike, sideOf(pos))
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("no ATR thresholds, skipping")
			continue
		}
		level := EvaluateLevel(sideOf(pos), quote.Spot, l1, l2, l3)
		prev := Level(pos.ProtocolLevel)
		if level <= prev {
			// A position's level only ever escalates here: recomputing
			// from spot every tick must never silently de-escalate it
			// back down on a market bounce. The only legitimate decrease
			// is a roll or close explicitly resetting the position — that
			// happens by closing this position and opening its
			// replacement at L0 (domain.Position.EntryProtocolLevel),
			// not by this function lowering the same position's level.
			continue
		}

		if err := e.store.SetProtocolLevel(ctx, cycleID, pos.AccountID, pos.ID, int(level)); err != nil {
			return out, fmt.Errorf("protocol: set level: %w", err)
		}
		out = append(out, Escalation{PositionID: pos.ID, AccountID: pos.AccountID, From: prev, To: level})
	}
	return out, nil
}
