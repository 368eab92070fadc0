package rules_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/clock"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/rules"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
)

type fakeFeed struct{ earnings map[string]bool }

func (f *fakeFeed) Refresh(ctx context.Context) error { return nil }
func (f *fakeFeed) HasEarnings(symbol, isoWeek string) (bool, error) {
	return f.earnings[symbol+"|"+isoWeek], nil
}

func thursdayInWindow(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2026-02-05 is a Thursday.
	return time.Date(2026, time.February, 5, 10, 0, 0, 0, loc)
}

func setup(t *testing.T) (*rules.Engine, *snapshot.Cache, time.Time) {
	t.Helper()
	c, err := clock.New(&fakeFeed{})
	require.NoError(t, err)
	require.NoError(t, c.RefreshCalendar(context.Background()))
	now := thursdayInWindow(t)

	cache := snapshot.New(zerolog.Nop())
	expiry := now.AddDate(0, 0, 1)
	cache.Update(snapshot.Quote{
		Symbol:     "AAPL",
		Spot:       180,
		ObservedAt: now,
		Chain: []snapshot.OptionContract{
			{Strike: 178, Expiry: expiry, Delta: 0.42, Bid: 0.78, Ask: 0.82, OpenInterest: 1200, Volume: 400, AvgDailyVolume20: 5000},
		},
	})

	engine := rules.New(c, cache)
	return engine, cache, now
}

func baseAction(now time.Time) rules.Action {
	return rules.Action{
		AccountID:   "acct-1",
		AccountKind: domain.KindGenerator,
		Intent:      domain.IntentOpenCSP,
		Symbol:      "AAPL",
		Strike:      178,
		Expiry:      now.AddDate(0, 0, 1),
		Contracts:   5,
		LimitPrice:  0.80,
	}
}

func baseCtx() rules.AccountContext {
	return rules.AccountContext{
		SleeveNotional: 1000000,
		SymbolExposure: map[string]float64{},
	}
}

func TestValidateApprovesCleanCalmWeekEntry(t *testing.T) {
	engine, _, now := setup(t)
	v := engine.Validate(baseAction(now), baseCtx())
	assert.True(t, v.Approved, "%+v", v.Reasons)
}

func TestValidateRejectsSystemSafeMode(t *testing.T) {
	engine, _, now := setup(t)
	ctx := baseCtx()
	ctx.SystemSafeMode = true
	v := engine.Validate(baseAction(now), ctx)
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.SystemSafeMode)
}

func TestValidateRejectsOutsideEntryWindow(t *testing.T) {
	engine, _, now := setup(t)
	action := baseAction(now)
	action.Expiry = now.AddDate(0, 0, 8)
	// Compounder's entry window is Monday, not Thursday; validating a
	// Compounder action at a Thursday timestamp must fail the window check.
	action.AccountKind = domain.KindCompounder
	v := engine.Validate(action, baseCtx())
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.OutsideEntryWindow)
}

func TestValidateRejectsSymbolNotPermitted(t *testing.T) {
	engine, _, now := setup(t)
	action := baseAction(now)
	action.Symbol = "NFLX"
	v := engine.Validate(action, baseCtx())
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.SymbolNotPermitted)
}

func TestValidateRejectsDeltaOutOfBand(t *testing.T) {
	engine, cache, now := setup(t)
	cache.Update(snapshot.Quote{
		Symbol:     "AAPL",
		Spot:       180,
		ObservedAt: now,
		Chain: []snapshot.OptionContract{
			{Strike: 178, Expiry: now.AddDate(0, 0, 1), Delta: 0.60, Bid: 0.78, Ask: 0.82, OpenInterest: 1200, Volume: 400, AvgDailyVolume20: 5000},
		},
	})
	v := engine.Validate(baseAction(now), baseCtx())
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.DeltaOutOfBand)
}

func TestValidateRejectsLiquidityInsufficient(t *testing.T) {
	engine, cache, now := setup(t)
	cache.Update(snapshot.Quote{
		Symbol:     "AAPL",
		Spot:       180,
		ObservedAt: now,
		Chain: []snapshot.OptionContract{
			{Strike: 178, Expiry: now.AddDate(0, 0, 1), Delta: 0.42, Bid: 0.78, Ask: 0.82, OpenInterest: 10, Volume: 5, AvgDailyVolume20: 5000},
		},
	})
	v := engine.Validate(baseAction(now), baseCtx())
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.LiquidityInsufficient)
}

func TestValidateRejectsEarningsThisWeekForGenerator(t *testing.T) {
	c, err := clock.New(&fakeFeed{earnings: map[string]bool{"AAPL|" + clock.ISOWeek(thursdayInWindow(t)): true}})
	require.NoError(t, err)
	require.NoError(t, c.RefreshCalendar(context.Background()))
	now := thursdayInWindow(t)
	cache := snapshot.New(zerolog.Nop())
	cache.Update(snapshot.Quote{
		Symbol: "AAPL", Spot: 180, ObservedAt: now,
		Chain: []snapshot.OptionContract{{Strike: 178, Expiry: now.AddDate(0, 0, 1), Delta: 0.42, Bid: 0.78, Ask: 0.82, OpenInterest: 1200, Volume: 400, AvgDailyVolume20: 5000}},
	})
	engine := rules.New(c, cache)

	v := engine.Validate(baseAction(now), baseCtx())
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.EarningsThisWeek)
}

func TestValidateRejectsDuplicateOrder(t *testing.T) {
	engine, _, now := setup(t)
	action := baseAction(now)
	ctx := baseCtx()
	ctx.OpenOrders = []domain.Order{
		{Symbol: "AAPL", Strike: 178, Expiry: action.Expiry, Intent: domain.IntentOpenCSP, Status: domain.OrderWorking},
	}
	v := engine.Validate(action, ctx)
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.DuplicateOrder)
}

func TestValidateRejectsCapitalExceeded(t *testing.T) {
	engine, _, now := setup(t)
	action := baseAction(now)
	ctx := baseCtx()
	ctx.SleeveNotional = 10000
	ctx.CapitalAlreadyDeployed = 9900
	v := engine.Validate(action, ctx)
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.CapitalExceeded)
}

func TestValidateRejectsPerSymbolExposureExceeded(t *testing.T) {
	engine, _, now := setup(t)
	action := baseAction(now)
	ctx := baseCtx()
	ctx.SleeveNotional = 100000
	ctx.SymbolExposure = map[string]float64{"AAPL": 24000}
	v := engine.Validate(action, ctx)
	assert.False(t, v.Approved)
	assert.Contains(t, kinds(v), rules.PerSymbolExposureExceeded)
}

func kinds(v rules.Verdict) []rules.FailureKind {
	out := make([]rules.FailureKind, len(v.Reasons))
	for i, r := range v.Reasons {
		out[i] = r.Kind
	}
	return out
}
