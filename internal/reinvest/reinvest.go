// Package reinvest implements the Reinvestment & Tax Reserver (spec
// component C12): the quarterly 30/70 split that pulls a Revenue or
// Compounder sleeve's realised gains apart into a non-deployable tax
// reserve and two deployable shares, one for additional contracts and
// one for the LEAP ladder. Like C9's LEAP Ladder Manager and C10's
// Fork/Merge Manager, the split arithmetic is a pure function
// (ComputeSplit) and Engine exists only to bundle the account.Store
// collaborator the atomic ledger append needs. Grounded on
// internal/forkmerge's pure-eligibility-then-atomic-append shape.
package reinvest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/leap"
)

const (
	// TaxReserveFraction is the share of a quarter's realised gain set
	// aside into a non-deployable reserve (spec §4.12, config key
	// reinvest.tax_reserve, default 0.30).
	TaxReserveFraction = 0.30

	// ContractsFraction is the share of the remaining 70% flagged for
	// additional contract deployment on the next ANALYZING cycle (spec
	// §4.12, config key reinvest.contracts' 0.525 is this fraction of
	// the full gain: 0.75 * (1 - 0.30)).
	ContractsFraction = 0.75

	// LEAPShareOfRemainder is the share of the remaining 70% allocated to
	// the LEAP ladder (0.25, i.e. 0.175 of the full gain). It equals
	// leap.FundingShare, which is also expressed as a fraction of the
	// post-tax remainder.
	LEAPShareOfRemainder = 1 - ContractsFraction
)

// Eligible reports whether kind participates in quarterly reinvestment.
// Generator accounts accumulate without a quarterly split until they
// cross their own fork threshold (spec §4.12: "Generator accumulates
// until its fork threshold").
func Eligible(kind domain.AccountKind) bool {
	return kind == domain.KindRevenue || kind == domain.KindCompounder
}

// Split is the result of dividing one quarter's realised gain.
type Split struct {
	QuarterlyGain    float64
	TaxReserve       float64
	ContractsPortion float64
	LEAPPortion      float64
}

// ComputeSplit divides quarterlyGain into the tax reserve and the two
// deployable shares. A non-positive gain yields an all-zero Split: a
// quarter with a net realised loss reserves nothing and flags nothing.
func ComputeSplit(quarterlyGain float64) Split {
	if quarterlyGain <= 0 {
		return Split{}
	}
	taxReserve := quarterlyGain * TaxReserveFraction
	remainder := quarterlyGain - taxReserve
	return Split{
		QuarterlyGain:    quarterlyGain,
		TaxReserve:       taxReserve,
		ContractsPortion: remainder * ContractsFraction,
		LEAPPortion:      remainder * LEAPShareOfRemainder,
	}
}

// Engine bundles the account.Store collaborator the atomic reinvestment
// ledger append needs.
type Engine struct {
	store *account.Store
	log   zerolog.Logger
}

// New constructs a reinvestment Engine.
func New(store *account.Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log.With().Str("component", "reinvest").Logger()}
}

// Apply runs the quarterly split for acct if it is eligible and its
// quarter-to-date realised gain is positive, appending a single
// ReinvestmentApplied ledger fact that reserves the tax share and resets
// the quarter counter. It returns nil, nil when acct is not eligible or
// there is nothing to reinvest this quarter.
func (e *Engine) Apply(ctx context.Context, cycleID string, acct *domain.Account) (*Split, error) {
	if !Eligible(acct.Kind) {
		e.log.Debug().Str("account_id", acct.ID).Str("kind", string(acct.Kind)).Msg("not eligible for quarterly reinvestment")
		return nil, nil
	}
	split := ComputeSplit(acct.QuarterToDateRealised)
	if split.QuarterlyGain <= 0 {
		return nil, nil
	}

	if err := e.store.ApplyReinvestment(ctx, cycleID, acct.ID, split.QuarterlyGain, split.TaxReserve, split.ContractsPortion, split.LEAPPortion); err != nil {
		return nil, fmt.Errorf("reinvest: apply for %s: %w", acct.ID, err)
	}

	e.log.Info().
		Str("account_id", acct.ID).
		Float64("quarterly_gain", split.QuarterlyGain).
		Float64("tax_reserve", split.TaxReserve).
		Float64("contracts_portion", split.ContractsPortion).
		Float64("leap_portion", split.LEAPPortion).
		Msg("quarterly reinvestment applied")
	return &split, nil
}

// MatchesLEAPFundingShare reports whether split's LEAPPortion, expressed
// as a fraction of the post-tax remainder (QuarterlyGain - TaxReserve),
// agrees with leap.FundingShare — a cross-check the Account State Machine
// can run before handing LEAPPortion to the LEAP Ladder Manager.
func (s Split) MatchesLEAPFundingShare() bool {
	if s.QuarterlyGain == 0 {
		return true
	}
	const epsilon = 1e-9
	fraction := s.LEAPPortion / (s.QuarterlyGain - s.TaxReserve)
	diff := fraction - leap.FundingShare
	return diff > -epsilon && diff < epsilon
}
