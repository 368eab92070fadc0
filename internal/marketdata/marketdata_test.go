package marketdata_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/atrsvc"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/marketdata"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
)

func TestQuoteReturnsSeededSpot(t *testing.T) {
	feed := marketdata.NewMockFeed(map[string]float64{"NVDA": 120}, 18)
	q, err := feed.Quote(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 120.0, q.Last)
	assert.True(t, q.Bid < q.Last && q.Last < q.Ask)
}

func TestQuoteErrorsForUnknownSymbol(t *testing.T) {
	feed := marketdata.NewMockFeed(nil, 18)
	_, err := feed.Quote(context.Background(), "TSLA")
	assert.Error(t, err)
}

func TestChainProducesDeltaSpreadStrikes(t *testing.T) {
	feed := marketdata.NewMockFeed(map[string]float64{"NVDA": 120}, 18)
	chain, err := feed.Chain(context.Background(), "NVDA", time.Now().AddDate(0, 0, 30))
	require.NoError(t, err)
	require.NotEmpty(t, chain)
	for _, c := range chain {
		assert.Less(t, c.Strike, 120.0)
		assert.Greater(t, c.Bid, 0.0)
	}
}

func TestDailyBarsUsesSeededHistory(t *testing.T) {
	feed := marketdata.NewMockFeed(map[string]float64{"NVDA": 120}, 18)
	bars := []atrsvc.Bar{
		{Date: time.Now().AddDate(0, 0, -2), High: 122, Low: 118, Close: 120},
		{Date: time.Now().AddDate(0, 0, -1), High: 123, Low: 119, Close: 121},
	}
	feed.SeedDailyBars("NVDA", bars)

	got, err := feed.DailyBars(context.Background(), "NVDA", 10)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestPublisherRefreshSymbolUpdatesCache(t *testing.T) {
	feed := marketdata.NewMockFeed(map[string]float64{"NVDA": 120}, 18)
	cache := snapshot.New(zerolog.Nop())
	pub := marketdata.NewPublisher(feed, cache)

	expiry := time.Now().AddDate(0, 0, 30)
	require.NoError(t, pub.RefreshSymbol(context.Background(), "NVDA", expiry))

	q, stale, err := cache.Get("NVDA", time.Now())
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, 120.0, q.Spot)
	assert.NotEmpty(t, q.Chain)
}

func TestVIXLastReturnsSeededValue(t *testing.T) {
	feed := marketdata.NewMockFeed(nil, 42)
	v, err := feed.VIXLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	feed.SetVIX(55)
	v, err = feed.VIXLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 55.0, v)
}
