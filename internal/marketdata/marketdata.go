// Package marketdata defines the external market-data collaborator
// interface (spec §6: quote/chain/history/vix_last) and a deterministic
// in-process mock in place of a real vendor feed — market-data
// connectivity is explicitly out of scope per spec §1, an "external
// collaborator with a defined interface only". Grounded on
// internal/broker's interface-plus-mock shape (itself generalized from
// the teacher's internal/clients/tradernet client set); MockFeed doubles
// as the atrsvc.PriceHistoryProvider so a single mock backs both the
// Market Snapshot Cache and the ATR Service in tests and local runs.
package marketdata

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/atrsvc"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
)

// TickQuote is the last-seen underlying trade/quote (spec §6's
// "quote(symbol) → (bid, ask, last, ts)").
type TickQuote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	At     time.Time
}

// Feed is the narrow external collaborator interface every market-data
// consumer depends on. A live implementation would wrap a vendor's
// REST/streaming API; this engine ships only MockFeed.
type Feed interface {
	// Quote returns the current underlying quote for symbol.
	Quote(ctx context.Context, symbol string) (TickQuote, error)
	// Chain returns the current option chain for symbol's expiry,
	// already shaped as snapshot.OptionContract for direct Cache.Update
	// use.
	Chain(ctx context.Context, symbol string, expiry time.Time) ([]snapshot.OptionContract, error)
	// VIXLast returns the most recent VIX print (spec §4.8's circuit
	// breaker input).
	VIXLast(ctx context.Context) (float64, error)
}

// MockFeed is a deterministic, seedable stand-in for a live market-data
// vendor. Quotes and chains are derived from a per-symbol seed price
// with fixed spreads and no drift, so repeated calls in a test are
// stable without needing a clock dependency.
type MockFeed struct {
	mu      sync.RWMutex
	spots   map[string]float64
	vix     float64
	history map[string][]atrsvc.Bar
}

// NewMockFeed constructs a MockFeed seeded with spots (symbol → current
// price) and an initial VIX print.
func NewMockFeed(spots map[string]float64, vix float64) *MockFeed {
	seeded := make(map[string]float64, len(spots))
	for k, v := range spots {
		seeded[k] = v
	}
	return &MockFeed{
		spots:   seeded,
		vix:     vix,
		history: make(map[string][]atrsvc.Bar),
	}
}

// SetSpot updates symbol's current price, used by tests to drive
// protocol-escalation or roll scenarios.
func (m *MockFeed) SetSpot(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spots[symbol] = price
}

// SetVIX updates the mock's current VIX print.
func (m *MockFeed) SetVIX(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vix = v
}

// SeedDailyBars installs a fixed bar history for symbol, used by the ATR
// Service's lookback window. Overwrites any prior history for symbol.
func (m *MockFeed) SeedDailyBars(symbol string, bars []atrsvc.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[symbol] = bars
}

func (m *MockFeed) Quote(ctx context.Context, symbol string) (TickQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spot, ok := m.spots[symbol]
	if !ok {
		return TickQuote{}, fmt.Errorf("marketdata: no quote for %s", symbol)
	}
	spread := spot * 0.0005
	return TickQuote{
		Symbol: symbol,
		Bid:    spot - spread,
		Ask:    spot + spread,
		Last:   spot,
		At:     time.Now().UTC(),
	}, nil
}

// Chain synthesizes a small option chain around the symbol's current
// spot: a handful of strikes at fixed deltas, all below spot, enough for the Rules Engine's liquidity and delta-window checks to
// exercise against in tests.
func (m *MockFeed) Chain(ctx context.Context, symbol string, expiry time.Time) ([]snapshot.OptionContract, error) {
	m.mu.RLock()
	spot, ok := m.spots[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("marketdata: no chain for %s", symbol)
	}

	deltas := []float64{0.15, 0.20, 0.25, 0.30, 0.35}
	out := make([]snapshot.OptionContract, 0, len(deltas))
	for _, d := range deltas {
		strike := math.Round(spot*(1-d*0.3)*100) / 100
		mid := spot * 0.01 * (1 + d)
		out = append(out, snapshot.OptionContract{
			Strike:           strike,
			Expiry:           expiry,
			Delta:            d,
			Bid:              mid * 0.97,
			Ask:              mid * 1.03,
			OpenInterest:     500,
			Volume:           200,
			AvgDailyVolume20: 200,
		})
	}
	return out, nil
}

func (m *MockFeed) VIXLast(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vix, nil
}

// DailyBars implements atrsvc.PriceHistoryProvider against the seeded
// history table, returning an error if none was seeded (enough for the
// ATR Service's fallback ladder to trigger deterministically in tests).
func (m *MockFeed) DailyBars(ctx context.Context, symbol string, lookback int) ([]atrsvc.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bars, ok := m.history[symbol]; ok {
		if len(bars) > lookback {
			return bars[len(bars)-lookback:], nil
		}
		return bars, nil
	}
	return nil, fmt.Errorf("marketdata: no price history seeded for %s", symbol)
}

// Publisher pushes a Feed's quotes and chains into a snapshot.Cache on
// demand — the glue between this package's vendor-facing interface and
// the Market Snapshot Cache's consumer-facing one.
type Publisher struct {
	feed  Feed
	cache *snapshot.Cache
}

// NewPublisher constructs a Publisher writing into cache.
func NewPublisher(feed Feed, cache *snapshot.Cache) *Publisher {
	return &Publisher{feed: feed, cache: cache}
}

// RefreshSymbol pulls symbol's current quote and expiry's chain from the
// feed and updates the cache in one observation.
func (p *Publisher) RefreshSymbol(ctx context.Context, symbol string, expiry time.Time) error {
	q, err := p.feed.Quote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("marketdata: refresh quote for %s: %w", symbol, err)
	}
	chain, err := p.feed.Chain(ctx, symbol, expiry)
	if err != nil {
		return fmt.Errorf("marketdata: refresh chain for %s: %w", symbol, err)
	}
	p.cache.Update(snapshot.Quote{
		Symbol:     symbol,
		Spot:       q.Last,
		Chain:      chain,
		ObservedAt: q.At,
	})
	return nil
}
