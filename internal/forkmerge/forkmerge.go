// Package forkmerge implements the Fork/Merge Manager (spec component
// C10): the rules governing when a Generator or Revenue sleeve spawns a
// child account, and when a forked MiniCompound folds its balance back
// into its genealogy root Compounder. Eligibility is decided by pure
// functions over account balances, the same stateless-validator shape
// used throughout (internal/rules, internal/protocol, internal/leap);
// Engine exists only to turn an eligible decision into the atomic,
// single-ledger-append account mutation internal/account.Store exposes
// for exactly this purpose. Grounded on internal/account.Store's
// append-then-apply discipline, generalized here to a two-account fact.
package forkmerge

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/rules"
)

const (
	// MiniCompoundAgeCapYears is the age at which a forked MiniCompound
	// child must merge back into its genealogy root, regardless of
	// performance (spec §4.10).
	MiniCompoundAgeCapYears = 3
	// MiniCompoundMultipleCap is the balance-to-opening-capital multiple
	// at which a MiniCompound merges back early.
	MiniCompoundMultipleCap = 3.0

	// Revenue-sleeve fork splits the new root 40/30/30 across its own
	// Generator/Revenue/Compounder triad (spec §2's capital allocation).
	RevenueGeneratorShare  = 0.40
	RevenueRevenueShare    = 0.30
	RevenueCompounderShare = 0.30
)

// GeneratorForkUnit is the capital increment a Generator sleeve's
// realised gain must cross, per crossing, to earn one more fork (spec
// §4.10). It mirrors the Rules Engine's own Generator fork threshold so
// the two components never disagree about the unit.
var GeneratorForkUnit = rules.Checklists[domain.KindGenerator].ForkThreshold

// RevenueForkUnit is the equivalent increment for a Revenue sleeve.
var RevenueForkUnit = rules.Checklists[domain.KindRevenue].ForkThreshold

// ShouldForkGenerator reports whether a Generator sleeve is eligible to
// fork another MiniCompound child: its realised gain since base has
// crossed another GeneratorForkUnit increment that forkCount has not yet
// consumed. targetN is the total number of increments the current gain
// has crossed; eligible is true whenever forkCount < targetN, so a
// sleeve that has fallen behind (e.g. after a skipped cycle) catches up
// one fork at a time rather than all at once.
//
// This implements the spec's "+$100K increment" rule literally (spec §9
// open question: the Constitution's increment rule governs; no
// additional aggregate-balance gate is applied).
func ShouldForkGenerator(realisedGainSinceBase float64, forkCount int) (eligible bool, targetN int) {
	return shouldFork(realisedGainSinceBase, forkCount, GeneratorForkUnit)
}

// ShouldForkRevenue is ShouldForkGenerator's Revenue-sleeve equivalent,
// using RevenueForkUnit.
func ShouldForkRevenue(realisedGainSinceBase float64, forkCount int) (eligible bool, targetN int) {
	return shouldFork(realisedGainSinceBase, forkCount, RevenueForkUnit)
}

func shouldFork(realisedGainSinceBase float64, forkCount int, unit float64) (bool, int) {
	if realisedGainSinceBase <= 0 || unit <= 0 {
		return false, forkCount
	}
	n := int(math.Floor(realisedGainSinceBase / unit))
	return forkCount < n, n
}

// ShouldMergeMiniCompound reports whether a forked MiniCompound child
// must merge back into its genealogy root: it has reached its age cap or
// grown its balance to MiniCompoundMultipleCap times its opening capital.
func ShouldMergeMiniCompound(openedAt, now time.Time, openingCapital, currentBalance float64) (bool, string) {
	if now.Sub(openedAt) >= MiniCompoundAgeCapYears*365*24*time.Hour {
		return true, fmt.Sprintf("age cap %d years reached", MiniCompoundAgeCapYears)
	}
	if openingCapital > 0 && currentBalance >= MiniCompoundMultipleCap*openingCapital {
		return true, fmt.Sprintf("balance %.2f reached %.0fx opening capital %.2f", currentBalance, MiniCompoundMultipleCap, openingCapital)
	}
	return false, ""
}

// ForkResult is one account-creation leg of a fork operation.
type ForkResult struct {
	ParentID string
	ChildID  string
	Kind     domain.AccountKind
	Amount   float64
}

// MergeResult is the outcome of folding a child account's balance back
// into its target.
type MergeResult struct {
	ChildID  string
	TargetID string
	Amount   float64
	Reason   string
}

// Engine turns eligible fork/merge decisions into ledger-backed account
// mutations via internal/account.Store.
type Engine struct {
	store *account.Store
	log   zerolog.Logger
	newID func() string
}

// New constructs a fork/merge Engine.
func New(store *account.Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log.With().Str("component", "forkmerge_engine").Logger(), newID: uuid.NewString}
}

// EvaluateGenerator forks gen's sleeve into one new MiniCompound child if
// eligible. Returns nil, nil when not eligible this cycle.
func (e *Engine) EvaluateGenerator(ctx context.Context, cycleID string, gen *domain.Account) (*ForkResult, error) {
	eligible, _ := ShouldForkGenerator(gen.CumulativeRealisedPL, gen.ForkCount)
	if !eligible {
		return nil, nil
	}
	childID := e.newID()
	genealogy := fmt.Sprintf("%s/mini-%d", gen.GenealogyPath, gen.ForkCount+1)
	if _, err := e.store.ForkAccount(ctx, cycleID, gen.ID, childID, domain.KindMiniCompound, genealogy, GeneratorForkUnit); err != nil {
		return nil, fmt.Errorf("forkmerge: fork generator %s: %w", gen.ID, err)
	}
	e.log.Info().Str("parent", gen.ID).Str("child", childID).Msg("generator forked mini-compound")
	return &ForkResult{ParentID: gen.ID, ChildID: childID, Kind: domain.KindMiniCompound, Amount: GeneratorForkUnit}, nil
}

// EvaluateRevenue forks rev's sleeve into a brand new 40/30/30 root if
// eligible: one ForkedRoot account funded with RevenueForkUnit, followed
// by three child accounts (Generator/Revenue/Compounder) each funded
// from the new root in its own atomic ledger append. Returns the full
// set of legs created, root first.
func (e *Engine) EvaluateRevenue(ctx context.Context, cycleID string, rev *domain.Account) ([]ForkResult, error) {
	eligible, _ := ShouldForkRevenue(rev.CumulativeRealisedPL, rev.ForkCount)
	if !eligible {
		return nil, nil
	}

	rootID := e.newID()
	rootGenealogy := fmt.Sprintf("%s/fork-%d", rev.GenealogyPath, rev.ForkCount+1)
	if _, err := e.store.ForkAccount(ctx, cycleID, rev.ID, rootID, domain.KindForkedRoot, rootGenealogy, RevenueForkUnit); err != nil {
		return nil, fmt.Errorf("forkmerge: fork revenue root %s: %w", rev.ID, err)
	}
	results := []ForkResult{{ParentID: rev.ID, ChildID: rootID, Kind: domain.KindForkedRoot, Amount: RevenueForkUnit}}

	sleeves := []struct {
		kind  domain.AccountKind
		share float64
		label string
	}{
		{domain.KindGenerator, RevenueGeneratorShare, "gen"},
		{domain.KindRevenue, RevenueRevenueShare, "rev"},
		{domain.KindCompounder, RevenueCompounderShare, "comp"},
	}
	for _, sl := range sleeves {
		childID := e.newID()
		amount := RevenueForkUnit * sl.share
		if _, err := e.store.ForkAccount(ctx, cycleID, rootID, childID, sl.kind, rootGenealogy+"/"+sl.label, amount); err != nil {
			return results, fmt.Errorf("forkmerge: fund %s sleeve of new root %s: %w", sl.label, rootID, err)
		}
		results = append(results, ForkResult{ParentID: rootID, ChildID: childID, Kind: sl.kind, Amount: amount})
	}
	e.log.Info().Str("parent", rev.ID).Str("root", rootID).Msg("revenue forked new 40/30/30 root")
	return results, nil
}

// EvaluateMiniCompoundMerge merges mini back into rootCompounderID if its
// age or multiple cap has been reached.
func (e *Engine) EvaluateMiniCompoundMerge(ctx context.Context, cycleID string, mini *domain.Account, rootCompounderID string, now time.Time) (*MergeResult, error) {
	should, reason := ShouldMergeMiniCompound(mini.CreatedAt, now, mini.OpeningCapital, mini.Cash)
	if !should {
		return nil, nil
	}
	amount := mini.Cash
	if err := e.store.MergeAccount(ctx, cycleID, mini.ID, rootCompounderID, amount); err != nil {
		return nil, fmt.Errorf("forkmerge: merge %s into %s: %w", mini.ID, rootCompounderID, err)
	}
	e.log.Info().Str("child", mini.ID).Str("target", rootCompounderID).Str("reason", reason).Msg("mini-compound merged back to root")
	return &MergeResult{ChildID: mini.ID, TargetID: rootCompounderID, Amount: amount, Reason: reason}, nil
}
