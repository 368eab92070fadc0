package snapshot_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
)

func TestGetReturnsErrNoQuoteForUnknownSymbol(t *testing.T) {
	c := snapshot.New(zerolog.Nop())
	_, _, err := c.Get("AAPL", time.Now())
	assert.ErrorIs(t, err, snapshot.ErrNoQuote)
}

func TestGetMarksStaleAfterThreshold(t *testing.T) {
	c := snapshot.New(zerolog.Nop())
	now := time.Now()
	c.Update(snapshot.Quote{Symbol: "AAPL", Spot: 180, ObservedAt: now.Add(-31 * time.Second)})

	q, stale, err := c.Get("AAPL", now)
	assert.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, 180.0, q.Spot)
}

func TestGetForEntryRejectsStaleQuote(t *testing.T) {
	c := snapshot.New(zerolog.Nop())
	now := time.Now()
	c.Update(snapshot.Quote{
		Symbol:     "AAPL",
		Spot:       180,
		ObservedAt: now.Add(-40 * time.Second),
		Chain:      []snapshot.OptionContract{{Strike: 178}},
	})

	_, err := c.GetForEntry("AAPL", now)
	assert.Error(t, err)
}

func TestGetForEntryRejectsMissingChain(t *testing.T) {
	c := snapshot.New(zerolog.Nop())
	now := time.Now()
	c.Update(snapshot.Quote{Symbol: "AAPL", Spot: 180, ObservedAt: now})

	_, err := c.GetForEntry("AAPL", now)
	assert.ErrorIs(t, err, snapshot.ErrMissingChain)
}

func TestGetForEntrySucceedsWithFreshChain(t *testing.T) {
	c := snapshot.New(zerolog.Nop())
	now := time.Now()
	c.Update(snapshot.Quote{
		Symbol:     "AAPL",
		Spot:       180,
		ObservedAt: now,
		Chain:      []snapshot.OptionContract{{Strike: 178, Bid: 0.78, Ask: 0.82}},
	})

	q, err := c.GetForEntry("AAPL", now)
	assert.NoError(t, err)
	assert.Equal(t, 0.80, q.Chain[0].Mid())
}

func TestOptionContractSpreadPct(t *testing.T) {
	c := snapshot.OptionContract{Bid: 0.76, Ask: 0.84}
	assert.InDelta(t, 0.1, c.SpreadPct(), 0.001)
}
