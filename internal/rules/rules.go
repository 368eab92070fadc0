// Package rules implements the Rules Engine (spec component C5): a
// stateless validator over (Account, proposed Action, market snapshot,
// clock) that runs every sleeve's enumerated checklist and returns either
// Approve or Reject with every applicable reason — no partial approval,
// and no short-circuit on the first failure. The numbered-layer
// structure of the check, and the "block everything if the system isn't
// in a tradeable mode" first check, are grounded on the teacher's
// TradeSafetyService.ValidateTrade
// (internal/modules/trading/safety_service.go); this engine departs from
// that file's early-return style because the spec requires collecting
// every failing reason, not just the first.
package rules

import (
	"fmt"
	"time"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/clock"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
)

// FailureKind enumerates the Rules Engine's rejection reasons (spec §4.5).
type FailureKind string

const (
	OutsideEntryWindow        FailureKind = "OutsideEntryWindow"
	SymbolNotPermitted        FailureKind = "SymbolNotPermitted"
	DeltaOutOfBand            FailureKind = "DeltaOutOfBand"
	DTEOutOfBand              FailureKind = "DTEOutOfBand"
	EarningsThisWeek          FailureKind = "EarningsThisWeek"
	LiquidityInsufficient     FailureKind = "LiquidityInsufficient"
	CapitalExceeded           FailureKind = "CapitalExceeded"
	PerSymbolExposureExceeded FailureKind = "PerSymbolExposureExceeded"
	DuplicateOrder            FailureKind = "DuplicateOrder"
	SlippageExceeded          FailureKind = "SlippageExceeded"
	SystemSafeMode            FailureKind = "SystemSafeMode"
	InsufficientShareCoverage FailureKind = "InsufficientShareCoverage"
)

// Reason is one failed check.
type Reason struct {
	Kind    FailureKind
	Message string
}

// Verdict is the Rules Engine's single operation result.
type Verdict struct {
	Approved bool
	Reasons  []Reason
}

// Action is a proposed trade the Rules Engine validates before it reaches
// the Order Lifecycle Manager.
type Action struct {
	AccountID   string
	AccountKind domain.AccountKind
	Intent      domain.OrderIntent
	Symbol      string
	Strike      float64
	Expiry      time.Time
	Contracts   int // positive contract count, regardless of long/short
	LimitPrice  float64
	StressMode  bool
}

// AccountContext supplies the account-scoped facts a checklist needs that
// aren't in Action itself: sleeve capital, current exposures, and open
// orders for duplicate detection.
type AccountContext struct {
	Account              domain.Account
	SleeveNotional       float64            // total capital deployed target base for this sleeve
	CapitalAlreadyDeployed float64          // $ already committed to open positions this sleeve
	SymbolExposure       map[string]float64 // current $ exposure per symbol in this sleeve
	OpenOrders           []domain.Order
	SystemSafeMode       bool
	SharesHeld           int // open LongShares quantity for action.Symbol in this account
}

// Engine is the stateless validator. It holds only its two required
// collaborators (the clock and the snapshot cache); all other context is
// passed in per call, exactly as spec §4.5 describes it: "Stateless
// validator over (Account, proposed Action, market snapshot, clock)".
type Engine struct {
	clock *clock.Clock
	cache *snapshot.Cache
}

// New constructs a Rules Engine.
func New(clk *clock.Clock, cache *snapshot.Cache) *Engine {
	return &Engine{clock: clk, cache: cache}
}

// Validate runs the full checklist for action's sleeve and returns the
// verdict. Every applicable check runs; failures accumulate rather than
// short-circuit.
func (e *Engine) Validate(action Action, actx AccountContext) Verdict {
	var reasons []Reason
	add := func(kind FailureKind, format string, args ...interface{}) {
		reasons = append(reasons, Reason{Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	if actx.SystemSafeMode {
		add(SystemSafeMode, "system is in SafeMode, all trading suspended")
	}

	checklist, ok := Checklists[action.AccountKind]
	if !ok {
		add(SymbolNotPermitted, "no checklist defined for account kind %q", action.AccountKind)
		return Verdict{Approved: false, Reasons: reasons}
	}

	now := e.clock.Now()

	inWindow, err := e.clock.InEntryWindow(action.AccountKind, now)
	if err != nil || !inWindow {
		add(OutsideEntryWindow, "%s entry window is %s 09:45-11:00 local; now is %s", action.AccountKind, checklist.EntryWeekday, now.Format(time.RFC3339))
	}

	if !checklist.PermittedSymbols[action.Symbol] {
		add(SymbolNotPermitted, "%s is not permitted for sleeve %s", action.Symbol, action.AccountKind)
	}

	dte := daysTo(now, action.Expiry)
	dteMin, dteMax := checklist.DTEBand(action.StressMode)
	if dte < dteMin || dte > dteMax {
		add(DTEOutOfBand, "DTE %d outside [%d,%d] for %s", dte, dteMin, dteMax, action.AccountKind)
	}

	quote, quoteErr := e.cache.GetForEntry(action.Symbol, now)
	var contract *snapshot.OptionContract
	if quoteErr == nil {
		contract = findContract(quote, action.Strike, action.Expiry)
	}
	if quoteErr != nil || contract == nil {
		add(LiquidityInsufficient, "no usable quote/chain entry for %s %.2f %s", action.Symbol, action.Strike, action.Expiry.Format("2006-01-02"))
	} else {
		delta := contract.Delta
		if delta < checklist.DeltaMin || delta > checklist.DeltaMax {
			add(DeltaOutOfBand, "delta %.3f outside [%.2f,%.2f]", delta, checklist.DeltaMin, checklist.DeltaMax)
		}
		if contract.OpenInterest < 500 || contract.Volume < 100 || contract.SpreadPct() > 0.05 {
			add(LiquidityInsufficient, "OI=%d vol=%d spread=%.1f%% below liquidity gate", contract.OpenInterest, contract.Volume, contract.SpreadPct()*100)
		}
		if contract.AvgDailyVolume20 > 0 && float64(action.Contracts) > 0.10*float64(contract.AvgDailyVolume20) {
			add(LiquidityInsufficient, "order size %d exceeds 10%% of 20-day ADV %d", action.Contracts, contract.AvgDailyVolume20)
		}
		mid := contract.Mid()
		if mid > 0 {
			deviation := (action.LimitPrice - mid) / mid
			if deviation < 0 {
				deviation = -deviation
			}
			if deviation > 0.05 {
				add(SlippageExceeded, "limit %.2f deviates %.1f%% from mid %.2f", action.LimitPrice, deviation*100, mid)
			}
		}
	}

	has, hasErr := e.clock.HasEarnings(action.Symbol, clock.ISOWeek(now))
	if hasErr != nil {
		add(EarningsThisWeek, "earnings calendar unavailable for %s: %v", action.Symbol, hasErr)
	} else if has && checklist.EarningsBehavior == EarningsSkip {
		add(EarningsThisWeek, "%s reports earnings this week; sleeve %s skips entry", action.Symbol, action.AccountKind)
	}

	projectedDeployment := actx.CapitalAlreadyDeployed + notionalOf(action)
	if actx.SleeveNotional > 0 {
		frac := projectedDeployment / actx.SleeveNotional
		if frac > checklist.CapitalMax {
			add(CapitalExceeded, "capital deployment %.1f%% exceeds max %.0f%%", frac*100, checklist.CapitalMax*100)
		}
	}

	if actx.SleeveNotional > 0 {
		exposure := actx.SymbolExposure[action.Symbol] + notionalOf(action)
		if exposure/actx.SleeveNotional > checklist.PerSymbolExposureMax {
			add(PerSymbolExposureExceeded, "%s exposure %.1f%% exceeds max %.0f%%", action.Symbol, (exposure/actx.SleeveNotional)*100, checklist.PerSymbolExposureMax*100)
		}
	}

	if action.Intent == domain.IntentOpenCC {
		if needed := action.Contracts * 100; actx.SharesHeld < needed {
			add(InsufficientShareCoverage, "%s covered call needs %d shares, account holds %d", action.Symbol, needed, actx.SharesHeld)
		}
	}

	for _, o := range actx.OpenOrders {
		if o.Symbol == action.Symbol && o.Strike == action.Strike && o.Expiry.Equal(action.Expiry) && o.Intent == action.Intent && !o.Status.IsTerminal() {
			add(DuplicateOrder, "an open order already targets %s %.2f %s", action.Symbol, action.Strike, action.Expiry.Format("2006-01-02"))
			break
		}
	}

	return Verdict{Approved: len(reasons) == 0, Reasons: reasons}
}

func daysTo(now, expiry time.Time) int {
	d := expiry.Sub(now)
	return int(d.Hours() / 24)
}

func notionalOf(a Action) float64 {
	return a.Strike * 100 * float64(a.Contracts)
}

func findContract(q snapshot.Quote, strike float64, expiry time.Time) *snapshot.OptionContract {
	for i := range q.Chain {
		c := &q.Chain[i]
		if c.Strike == strike && c.Expiry.Equal(expiry) {
			return c
		}
	}
	return nil
}
