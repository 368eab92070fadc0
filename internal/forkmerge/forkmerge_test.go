package forkmerge_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/forkmerge"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/testutil"
)

func TestShouldForkGeneratorCrossesOneIncrement(t *testing.T) {
	eligible, n := forkmerge.ShouldForkGenerator(100000, 0)
	assert.True(t, eligible)
	assert.Equal(t, 1, n)

	eligible, n = forkmerge.ShouldForkGenerator(220000, 1)
	assert.True(t, eligible)
	assert.Equal(t, 2, n)

	eligible, _ = forkmerge.ShouldForkGenerator(99999, 0)
	assert.False(t, eligible)

	// Already caught up to the crossed increment: not eligible again.
	eligible, _ = forkmerge.ShouldForkGenerator(150000, 1)
	assert.False(t, eligible)
}

func TestShouldForkRevenueUsesLargerUnit(t *testing.T) {
	eligible, n := forkmerge.ShouldForkRevenue(500000, 0)
	assert.True(t, eligible)
	assert.Equal(t, 1, n)

	eligible, _ = forkmerge.ShouldForkRevenue(499999, 0)
	assert.False(t, eligible)
}

func TestShouldMergeMiniCompoundOnAgeCap(t *testing.T) {
	opened := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	now := opened.AddDate(3, 0, 1)
	should, reason := forkmerge.ShouldMergeMiniCompound(opened, now, 100000, 150000)
	assert.True(t, should)
	assert.Contains(t, reason, "age cap")
}

func TestShouldMergeMiniCompoundOnMultipleCap(t *testing.T) {
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := opened.AddDate(0, 6, 0)
	should, reason := forkmerge.ShouldMergeMiniCompound(opened, now, 100000, 300000)
	assert.True(t, should)
	assert.Contains(t, reason, "opening capital")
}

func TestShouldMergeMiniCompoundHoldsOtherwise(t *testing.T) {
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := opened.AddDate(0, 6, 0)
	should, _ := forkmerge.ShouldMergeMiniCompound(opened, now, 100000, 150000)
	assert.False(t, should)
}

func newEngine(t *testing.T) (*forkmerge.Engine, *account.Store, context.Context) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)
	l := ledger.New(db, zerolog.Nop())
	store := account.New(l, zerolog.Nop())
	return forkmerge.New(store, zerolog.Nop()), store, context.Background()
}

func TestEvaluateGeneratorForksMiniCompoundAndDebitsParent(t *testing.T) {
	eng, store, ctx := newEngine(t)
	_, err := store.OpenAccount(ctx, "cycle-1", "gen-1", domain.KindGenerator, "", "root", 120000)
	require.NoError(t, err)

	// Simulate realised gains reaching 100,000 via a position close that
	// credits cash and realised P/L.
	pos, err := store.OpenPosition(ctx, "cycle-1", "gen-1", "pos-1", "AAPL", domain.PositionCSP, 178,
		time.Now().Add(24*time.Hour), -1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.ClosePosition(ctx, "cycle-2", "gen-1", pos.ID, 100000))

	gen, err := store.Account("gen-1")
	require.NoError(t, err)
	require.Equal(t, 100000.0, gen.CumulativeRealisedPL)

	result, err := eng.EvaluateGenerator(ctx, "cycle-3", gen)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.KindMiniCompound, result.Kind)
	assert.Equal(t, forkmerge.GeneratorForkUnit, result.Amount)

	parent, err := store.Account("gen-1")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.ForkCount)
	assert.Equal(t, 120000+100000-forkmerge.GeneratorForkUnit, parent.Cash)

	child, err := store.Account(result.ChildID)
	require.NoError(t, err)
	assert.Equal(t, forkmerge.GeneratorForkUnit, child.Cash)
	assert.Equal(t, "gen-1", child.ParentID)
	assert.Equal(t, "root/mini-1", child.GenealogyPath)
}

func TestEvaluateGeneratorNotEligibleReturnsNil(t *testing.T) {
	eng, store, ctx := newEngine(t)
	_, err := store.OpenAccount(ctx, "cycle-1", "gen-1", domain.KindGenerator, "", "root", 120000)
	require.NoError(t, err)
	gen, err := store.Account("gen-1")
	require.NoError(t, err)

	result, err := eng.EvaluateGenerator(ctx, "cycle-2", gen)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestEvaluateRevenueForksFullRootWithTriad(t *testing.T) {
	eng, store, ctx := newEngine(t)
	_, err := store.OpenAccount(ctx, "cycle-1", "rev-1", domain.KindRevenue, "", "root", 600000)
	require.NoError(t, err)
	pos, err := store.OpenPosition(ctx, "cycle-1", "rev-1", "pos-1", "NVDA", domain.PositionCSP, 400,
		time.Now().Add(24*time.Hour), -1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.ClosePosition(ctx, "cycle-2", "rev-1", pos.ID, 500000))

	rev, err := store.Account("rev-1")
	require.NoError(t, err)

	results, err := eng.EvaluateRevenue(ctx, "cycle-3", rev)
	require.NoError(t, err)
	require.Len(t, results, 4)

	root := results[0]
	assert.Equal(t, domain.KindForkedRoot, root.Kind)
	assert.Equal(t, forkmerge.RevenueForkUnit, root.Amount)

	rootAcct, err := store.Account(root.ChildID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rootAcct.Cash) // fully distributed to the three sleeves

	var sawGen, sawRev, sawComp bool
	for _, leg := range results[1:] {
		assert.Equal(t, root.ChildID, leg.ParentID)
		switch leg.Kind {
		case domain.KindGenerator:
			sawGen = true
			assert.Equal(t, forkmerge.RevenueForkUnit*forkmerge.RevenueGeneratorShare, leg.Amount)
		case domain.KindRevenue:
			sawRev = true
			assert.Equal(t, forkmerge.RevenueForkUnit*forkmerge.RevenueRevenueShare, leg.Amount)
		case domain.KindCompounder:
			sawComp = true
			assert.Equal(t, forkmerge.RevenueForkUnit*forkmerge.RevenueCompounderShare, leg.Amount)
		}
	}
	assert.True(t, sawGen && sawRev && sawComp)
}

func TestEvaluateMiniCompoundMergeFoldsBalanceIntoRoot(t *testing.T) {
	eng, store, ctx := newEngine(t)
	_, err := store.OpenAccount(ctx, "cycle-1", "root-compounder", domain.KindCompounder, "", "root", 300000)
	require.NoError(t, err)
	_, err = store.OpenAccount(ctx, "cycle-2", "mini-1", domain.KindMiniCompound, "gen-1", "root/mini-1", 100000)
	require.NoError(t, err)

	// Grow mini-1's balance past the 3x multiple cap via a realised gain.
	pos, err := store.OpenPosition(ctx, "cycle-3", "mini-1", "pos-1", "AAPL", domain.PositionCSP, 178,
		time.Now().Add(24*time.Hour), -1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.ClosePosition(ctx, "cycle-4", "mini-1", pos.ID, 210000))

	mini, err := store.Account("mini-1")
	require.NoError(t, err)
	require.Equal(t, 310000.0, mini.Cash)

	result, err := eng.EvaluateMiniCompoundMerge(ctx, "cycle-5", mini, "root-compounder", time.Now())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "mini-1", result.ChildID)
	assert.Equal(t, "root-compounder", result.TargetID)

	root, err := store.Account("root-compounder")
	require.NoError(t, err)
	assert.Equal(t, 300000+310000.0, root.Cash)

	merged, err := store.Account("mini-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountClosed, merged.Status)
	assert.Equal(t, 0.0, merged.Cash)
}

func TestEvaluateMiniCompoundMergeNotDueReturnsNil(t *testing.T) {
	eng, store, ctx := newEngine(t)
	_, err := store.OpenAccount(ctx, "cycle-1", "root-compounder", domain.KindCompounder, "", "root", 300000)
	require.NoError(t, err)
	_, err = store.OpenAccount(ctx, "cycle-2", "mini-1", domain.KindMiniCompound, "gen-1", "root/mini-1", 100000)
	require.NoError(t, err)
	mini, err := store.Account("mini-1")
	require.NoError(t, err)

	result, err := eng.EvaluateMiniCompoundMerge(ctx, "cycle-3", mini, "root-compounder", time.Now())
	require.NoError(t, err)
	assert.Nil(t, result)
}
