// Package leap implements the LEAP Ladder Manager (spec component C9):
// the long-dated option overlay that holds growth calls and hedge puts
// across a staggered expiry ladder, funded by the 25% LEAP share of
// quarterly reinvestment (spec §4.12). Like the Protocol Engine
// (internal/protocol), every decision here is a pure function over its
// inputs — Engine exists only to walk an account's open LEAP positions
// and turn the pure rules into a list of actions for the Account State
// Machine to execute through the Rules Engine and Order Lifecycle
// Manager, neither of which this package depends on directly. Grounded
// on internal/protocol's evaluate-then-report shape, itself grounded on
// the teacher's stateless-validator pattern.
package leap

import (
	"fmt"
	"time"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

const (
	// GrowthDeltaMin and GrowthDeltaMax bound a growth LEAP call's delta
	// at entry (spec §4.9).
	GrowthDeltaMin = 0.25
	GrowthDeltaMax = 0.35
	// GrowthTTEMinMonths and GrowthTTEMaxMonths bound a growth LEAP
	// call's time-to-expiry at entry, in months.
	GrowthTTEMinMonths = 12
	GrowthTTEMaxMonths = 18

	// HedgeOTMMin and HedgeOTMMax bound a hedge LEAP put's
	// out-of-the-money percentage at entry.
	HedgeOTMMin = 0.10
	HedgeOTMMax = 0.20
	// HedgeTTEMinMonths and HedgeTTEMaxMonths bound a hedge LEAP put's
	// time-to-expiry at entry, in months.
	HedgeTTEMinMonths = 6
	HedgeTTEMaxMonths = 12

	// MinStaggerMonths is the minimum gap between any two rungs on the
	// same symbol's ladder (spec §4.9's "ladder discipline").
	MinStaggerMonths = 3.0

	// RollTTEMonths is the time-to-expiry floor that triggers a roll
	// forward regardless of delta.
	RollTTEMonths = 3.0
	// RollDeltaMin and RollDeltaMax bound the delta range a rung may
	// drift within before a roll is triggered on delta grounds alone.
	RollDeltaMin = 0.2
	RollDeltaMax = 0.5

	// FundingShare is the fraction of the post-tax quarterly gain (what
	// remains after the tax reserve) allocated to the LEAP ladder (spec
	// §4.12).
	FundingShare = 0.25

	// CloseHedgeEarlyVIXCeiling is the VIX level below which an active
	// hedge put may be closed early if no L2+ escalation is in force.
	CloseHedgeEarlyVIXCeiling = 20.0
)

// Rung is one expiry/delta point on a symbol's ladder, used by
// CanAddRung to enforce staggering.
type Rung struct {
	Symbol string
	Expiry time.Time
}

func monthsBetween(a, b time.Time) float64 {
	d := b.Sub(a).Hours() / 24 / 30
	if d < 0 {
		d = -d
	}
	return d
}

// CanAddRung reports whether candidateExpiry is at least MinStaggerMonths
// away from every existing rung on the same symbol.
func CanAddRung(existing []Rung, symbol string, candidateExpiry time.Time) bool {
	for _, r := range existing {
		if r.Symbol != symbol {
			continue
		}
		if monthsBetween(r.Expiry, candidateExpiry) < MinStaggerMonths {
			return false
		}
	}
	return true
}

// ValidateNewRung checks a proposed new rung against its kind's entry
// bands. For a growth call, magnitude is delta; for a hedge put,
// magnitude is the OTM fraction.
func ValidateNewRung(kind domain.PositionKind, magnitude float64, now, expiry time.Time) (bool, string) {
	tte := monthsBetween(now, expiry)
	switch kind {
	case domain.PositionLEAPCall:
		if magnitude < GrowthDeltaMin || magnitude > GrowthDeltaMax {
			return false, fmt.Sprintf("growth LEAP delta %.2f outside [%.2f,%.2f]", magnitude, GrowthDeltaMin, GrowthDeltaMax)
		}
		if tte < GrowthTTEMinMonths || tte > GrowthTTEMaxMonths {
			return false, fmt.Sprintf("growth LEAP TTE %.1fmo outside [%d,%d]", tte, GrowthTTEMinMonths, GrowthTTEMaxMonths)
		}
	case domain.PositionLEAPPut:
		if magnitude < HedgeOTMMin || magnitude > HedgeOTMMax {
			return false, fmt.Sprintf("hedge LEAP OTM %.2f outside [%.2f,%.2f]", magnitude, HedgeOTMMin, HedgeOTMMax)
		}
		if tte < HedgeTTEMinMonths || tte > HedgeTTEMaxMonths {
			return false, fmt.Sprintf("hedge LEAP TTE %.1fmo outside [%d,%d]", tte, HedgeTTEMinMonths, HedgeTTEMaxMonths)
		}
	default:
		return false, fmt.Sprintf("not a LEAP position kind: %s", kind)
	}
	return true, ""
}

// ShouldRoll reports whether an existing rung must roll forward: time to
// expiry has fallen to RollTTEMonths or less, or delta has drifted
// outside [RollDeltaMin, RollDeltaMax].
func ShouldRoll(now, expiry time.Time, delta float64) (bool, string) {
	tte := monthsBetween(now, expiry)
	if tte <= RollTTEMonths {
		return true, fmt.Sprintf("TTE %.1fmo <= %.0fmo", tte, RollTTEMonths)
	}
	if delta < RollDeltaMin || delta > RollDeltaMax {
		return true, fmt.Sprintf("delta %.2f outside [%.2f,%.2f]", delta, RollDeltaMin, RollDeltaMax)
	}
	return false, ""
}

// ShouldCloseHedgeEarly reports whether an active hedge put should be
// closed ahead of expiry: VIX has fallen below the ceiling and no L2+
// escalation is currently in force anywhere in the portfolio.
func ShouldCloseHedgeEarly(vix float64, anyL2PlusEscalationActive bool) bool {
	return vix < CloseHedgeEarlyVIXCeiling && !anyL2PlusEscalationActive
}

// ActionKind is the decision Engine.Evaluate reaches for one rung.
type ActionKind string

const (
	ActionHold       ActionKind = "Hold"
	ActionRoll       ActionKind = "Roll"
	ActionCloseEarly ActionKind = "CloseEarly"
)

// LadderAction is one rung's evaluated decision for this tick.
type LadderAction struct {
	PositionID string
	Symbol     string
	Kind       domain.PositionKind
	Action     ActionKind
	Reason     string
}

// Engine walks an account's open LEAP positions and evaluates each
// against the roll and early-close rules. It holds no state: every call
// is a fresh evaluation of the positions passed in.
type Engine struct{}

// New constructs a LEAP ladder Engine.
func New() *Engine {
	return &Engine{}
}

// Evaluate returns one LadderAction per open LEAP position in positions.
func (e *Engine) Evaluate(now time.Time, positions []domain.Position, vix float64, anyL2PlusEscalationActive bool) []LadderAction {
	var out []LadderAction
	for _, pos := range positions {
		if pos.Status != domain.PositionOpen || (pos.Kind != domain.PositionLEAPCall && pos.Kind != domain.PositionLEAPPut) {
			continue
		}

		if pos.Kind == domain.PositionLEAPPut && ShouldCloseHedgeEarly(vix, anyL2PlusEscalationActive) {
			out = append(out, LadderAction{
				PositionID: pos.ID, Symbol: pos.Symbol, Kind: pos.Kind,
				Action: ActionCloseEarly,
				Reason: fmt.Sprintf("VIX %.1f < %.0f and no active L2+ escalation", vix, CloseHedgeEarlyVIXCeiling),
			})
			continue
		}

		if roll, reason := ShouldRoll(now, pos.Expiry, pos.Delta); roll {
			out = append(out, LadderAction{PositionID: pos.ID, Symbol: pos.Symbol, Kind: pos.Kind, Action: ActionRoll, Reason: reason})
			continue
		}

		out = append(out, LadderAction{PositionID: pos.ID, Symbol: pos.Symbol, Kind: pos.Kind, Action: ActionHold})
	}
	return out
}
