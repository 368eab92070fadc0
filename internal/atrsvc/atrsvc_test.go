package atrsvc_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/atrsvc"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

type fakeHistory struct {
	bars map[string][]atrsvc.Bar
	err  error
}

func (f *fakeHistory) DailyBars(ctx context.Context, symbol string, lookback int) ([]atrsvc.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars[symbol], nil
}

func syntheticBars(n int, base float64) []atrsvc.Bar {
	bars := make([]atrsvc.Bar, n)
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars[i] = atrsvc.Bar{
			Date:  day.AddDate(0, 0, i),
			High:  base + 2,
			Low:   base - 2,
			Close: base,
		}
	}
	return bars
}

func TestRefreshAllComputesFreshATR(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]atrsvc.Bar{"AAPL": syntheticBars(10, 180)}}
	s := atrsvc.New(hist, zerolog.Nop())

	err := s.RefreshAll(context.Background(), []string{"AAPL"}, map[string]float64{"AAPL": 180}, time.Now())
	require.NoError(t, err)

	rec, ok := s.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.ATRFresh, rec.FallbackTag)
	assert.InDelta(t, 4.0, rec.ATR5, 0.5)
}

func TestRefreshAllFallsBackToSpotWhenNoHistoryAndNoPrior(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]atrsvc.Bar{}}
	s := atrsvc.New(hist, zerolog.Nop())

	err := s.RefreshAll(context.Background(), []string{"MSFT"}, map[string]float64{"MSFT": 400}, time.Now())
	require.NoError(t, err)

	rec, ok := s.Get("MSFT")
	require.True(t, ok)
	assert.Equal(t, domain.ATRFallbackSpot, rec.FallbackTag)
	assert.InDelta(t, 8.0, rec.ATR5, 0.001)
}

func TestRefreshAllUnusableWithoutHistoryOrSpot(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]atrsvc.Bar{}}
	s := atrsvc.New(hist, zerolog.Nop())

	err := s.RefreshAll(context.Background(), []string{"GOOG"}, map[string]float64{}, time.Now())
	assert.ErrorIs(t, err, atrsvc.ErrUnusable)
	_, ok := s.Get("GOOG")
	assert.False(t, ok)
}

func TestRefreshAllScalesPriorATRWhenHistoryDisappears(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]atrsvc.Bar{"AAPL": syntheticBars(10, 180)}}
	s := atrsvc.New(hist, zerolog.Nop())
	require.NoError(t, s.RefreshAll(context.Background(), []string{"AAPL"}, map[string]float64{"AAPL": 180}, time.Now()))
	first, _ := s.Get("AAPL")

	hist.bars = map[string][]atrsvc.Bar{}
	require.NoError(t, s.RefreshAll(context.Background(), []string{"AAPL"}, map[string]float64{"AAPL": 180}, time.Now()))
	second, _ := s.Get("AAPL")

	assert.Equal(t, domain.ATRFallbackScaled, second.FallbackTag)
	assert.InDelta(t, first.ATR5*1.1, second.ATR5, 0.01)
}

func TestThresholdsCSPAndCCAreSymmetric(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]atrsvc.Bar{"AAPL": syntheticBars(10, 180)}}
	s := atrsvc.New(hist, zerolog.Nop())
	require.NoError(t, s.RefreshAll(context.Background(), []string{"AAPL"}, map[string]float64{"AAPL": 180}, time.Now()))

	rec, _ := s.Get("AAPL")
	l1csp, l2csp, l3csp, err := s.Thresholds("AAPL", 178, atrsvc.SideCSP)
	require.NoError(t, err)
	assert.InDelta(t, 178-rec.ATR5, l1csp, 0.001)
	assert.InDelta(t, 178-2*rec.ATR5, l2csp, 0.001)
	assert.InDelta(t, 178-3*rec.ATR5, l3csp, 0.001)

	l1cc, l2cc, l3cc, err := s.Thresholds("AAPL", 178, atrsvc.SideCC)
	require.NoError(t, err)
	assert.InDelta(t, 178+rec.ATR5, l1cc, 0.001)
	assert.InDelta(t, 178+2*rec.ATR5, l2cc, 0.001)
	assert.InDelta(t, 178+3*rec.ATR5, l3cc, 0.001)
}

func TestThresholdsErrorsWithoutATR(t *testing.T) {
	hist := &fakeHistory{bars: map[string][]atrsvc.Bar{}}
	s := atrsvc.New(hist, zerolog.Nop())
	_, _, _, err := s.Thresholds("TSLA", 200, atrsvc.SideCSP)
	assert.ErrorIs(t, err, atrsvc.ErrUnusable)
}
