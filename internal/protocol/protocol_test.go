package protocol_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/atrsvc"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/protocol"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/testutil"
)

func TestEvaluateLevelCSPBreachesDownward(t *testing.T) {
	assert.Equal(t, protocol.L0, protocol.EvaluateLevel(atrsvc.SideCSP, 180, 177, 174, 171))
	assert.Equal(t, protocol.L1, protocol.EvaluateLevel(atrsvc.SideCSP, 176, 177, 174, 171))
	assert.Equal(t, protocol.L2, protocol.EvaluateLevel(atrsvc.SideCSP, 173, 177, 174, 171))
	assert.Equal(t, protocol.L3, protocol.EvaluateLevel(atrsvc.SideCSP, 170, 177, 174, 171))
}

func TestEvaluateLevelCCBreachesUpward(t *testing.T) {
	assert.Equal(t, protocol.L0, protocol.EvaluateLevel(atrsvc.SideCC, 180, 183, 186, 189))
	assert.Equal(t, protocol.L1, protocol.EvaluateLevel(atrsvc.SideCC, 184, 183, 186, 189))
	assert.Equal(t, protocol.L3, protocol.EvaluateLevel(atrsvc.SideCC, 190, 183, 186, 189))
}

func TestMonitoringPeriodsMatchCadenceTable(t *testing.T) {
	assert.Equal(t, 5*time.Minute, protocol.L0.MonitoringPeriod())
	assert.Equal(t, time.Minute, protocol.L1.MonitoringPeriod())
	assert.Equal(t, 30*time.Second, protocol.L2.MonitoringPeriod())
	assert.Equal(t, time.Duration(0), protocol.L3.MonitoringPeriod())
}

func TestSelectRollCandidatePicksLowestDebitFirst(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candidates := []protocol.RollCandidate{
		{Strike: 175, Expiry: now.AddDate(0, 0, 14), Delta: 0.30, NetDebit: 0.50},
		{Strike: 172, Expiry: now.AddDate(0, 0, 21), Delta: 0.25, NetDebit: 0.20},
	}
	chosen, ok, reason := protocol.SelectRollCandidate(candidates, 1.00, 0.20, 0.30, 7, now)
	require.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, 172.0, chosen.Strike)
}

func TestSelectRollCandidateTieBreaksOnDeltaThenExpiry(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candidates := []protocol.RollCandidate{
		{Strike: 175, Expiry: now.AddDate(0, 0, 21), Delta: 0.22, NetDebit: 0.30},
		{Strike: 172, Expiry: now.AddDate(0, 0, 14), Delta: 0.28, NetDebit: 0.30},
	}
	// band midpoint is 0.25 and both deltas are 0.03 from it, so the
	// earlier expiry (14 days) wins
	chosen, ok, _ := protocol.SelectRollCandidate(candidates, 1.00, 0.20, 0.30, 7, now)
	require.True(t, ok)
	assert.Equal(t, 172.0, chosen.Strike) // |0.28-0.25| == |0.22-0.25| == 0.03: tie falls to expiry
}

func TestSelectRollCandidateRejectsWhenAllExceedDebitCap(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candidates := []protocol.RollCandidate{
		{Strike: 175, Expiry: now.AddDate(0, 0, 14), Delta: 0.30, NetDebit: 0.80},
	}
	_, ok, reason := protocol.SelectRollCandidate(candidates, 1.00, 0.20, 0.30, 7, now)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestSelectRollCandidateFiltersBelowDTELowerBound(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candidates := []protocol.RollCandidate{
		{Strike: 175, Expiry: now.AddDate(0, 0, 3), Delta: 0.30, NetDebit: 0.10},
	}
	_, ok, _ := protocol.SelectRollCandidate(candidates, 1.00, 0.20, 0.30, 7, now)
	assert.False(t, ok)
}

func TestEvaluateCCClosesAtHighDecay(t *testing.T) {
	d := protocol.EvaluateCC(0.70, 10, false, 0.1)
	assert.True(t, d.ShouldClose)
}

func TestEvaluateCCClosesAtOneDTE(t *testing.T) {
	d := protocol.EvaluateCC(0.10, 1, false, 0.1)
	assert.True(t, d.ShouldClose)
}

func TestEvaluateCCReducesCoverageDuringEarnings(t *testing.T) {
	d := protocol.EvaluateCC(0.10, 10, true, 0.1)
	assert.False(t, d.ShouldClose)
	assert.Equal(t, 0.50, d.MaxCoveragePct)
}

func TestEvaluateCCClosesEarlyOnHighAssignmentProbability(t *testing.T) {
	d := protocol.EvaluateCC(0.35, 10, false, 0.85)
	assert.True(t, d.ShouldClose)
}

func TestEvaluateCCHoldsOtherwise(t *testing.T) {
	d := protocol.EvaluateCC(0.10, 10, false, 0.1)
	assert.False(t, d.ShouldClose)
}

func TestCircuitBreakerLevels(t *testing.T) {
	assert.Equal(t, protocol.ModeNormal, protocol.CircuitBreaker(30, 35))
	assert.Equal(t, protocol.ModeHedged, protocol.CircuitBreaker(52, 40))
	assert.Equal(t, protocol.ModeSafe, protocol.CircuitBreaker(40, 66))
	assert.Equal(t, protocol.ModeKill, protocol.CircuitBreaker(81, 40))
}

func TestHedgeBudgetTakesGreaterOfTheTwo(t *testing.T) {
	assert.Equal(t, 5000.0, protocol.HedgeBudget(100000, 200000)) // 5% of 100k = 5000, 1% of 200k = 2000
	assert.Equal(t, 3000.0, protocol.HedgeBudget(10000, 300000))  // 5% of 10k = 500, 1% of 300k = 3000
}

func TestBuildHedgeBasketSizesOffSleeveEquity(t *testing.T) {
	basket := protocol.BuildHedgeBasket(5000, 500000)
	assert.Equal(t, 5000.0, basket.SPXPutNotional)
	assert.Equal(t, 2500.0, basket.VIXCallNotional)
	assert.Equal(t, 5000.0, basket.CostBudget)
}

func TestShouldCloseHedgeOnProfitOrTriggerReversion(t *testing.T) {
	assert.True(t, protocol.ShouldCloseHedge(2.5, true))
	assert.True(t, protocol.ShouldCloseHedge(0.5, false))
	assert.False(t, protocol.ShouldCloseHedge(0.5, true))
}

type fakeHistory struct{ bars []atrsvc.Bar }

func (f *fakeHistory) DailyBars(ctx context.Context, symbol string, lookback int) ([]atrsvc.Bar, error) {
	return f.bars, nil
}

func syntheticBars(n int, base float64) []atrsvc.Bar {
	bars := make([]atrsvc.Bar, n)
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars[i] = atrsvc.Bar{Date: day.AddDate(0, 0, i), High: base + 2, Low: base - 2, Close: base}
	}
	return bars
}

func TestEngineTickPersistsEscalation(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	l := ledger.New(db, zerolog.Nop())
	store := account.New(l, zerolog.Nop())
	ctx := context.Background()

	_, err := store.OpenAccount(ctx, "cycle-1", "acct-1", domain.KindGenerator, "", "root", 100000)
	require.NoError(t, err)
	pos, err := store.OpenPosition(ctx, "cycle-1", "acct-1", "pos-1", "AAPL", domain.PositionCSP, 178,
		time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), -1, 80, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.ProtocolLevel)

	cache := snapshot.New(zerolog.Nop())
	now := time.Now()
	cache.Update(snapshot.Quote{Symbol: "AAPL", Spot: 170, ObservedAt: now})

	atrSvc := atrsvc.New(&fakeHistory{bars: syntheticBars(10, 178)}, zerolog.Nop())
	require.NoError(t, atrSvc.RefreshAll(ctx, []string{"AAPL"}, map[string]float64{"AAPL": 178}, now))

	eng := protocol.New(atrSvc, cache, store, zerolog.Nop())
	escalations, err := eng.Tick(ctx, "cycle-2", []domain.Position{*pos}, now)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, protocol.L0, escalations[0].From)
	assert.NotEqual(t, protocol.L0, escalations[0].To)

	updated, err := store.Position("pos-1")
	require.NoError(t, err)
	assert.Equal(t, int(escalations[0].To), updated.ProtocolLevel)
}
