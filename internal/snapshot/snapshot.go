// Package snapshot implements the Market Snapshot Cache (spec component
// C3): the last-seen quote and option chain per symbol, with a staleness
// policy every downstream component must respect. The shape — an
// in-memory map guarded by sync.RWMutex, a single Get path, a staleness
// check applied at read time rather than via a background expiry timer —
// follows the teacher's internal/services/exchange_rate_cache_service.go,
// narrowed from its multi-tier fallback chain to the single upstream feed
// this engine wires (internal/marketdata).
package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StaleAfter is the staleness threshold past which a quote must not be
// used for new-position entry decisions (spec §4.3).
const StaleAfter = 30 * time.Second

// OptionContract is one strike/expiry on a symbol's chain.
type OptionContract struct {
	Strike          float64
	Expiry          time.Time
	Delta           float64 // positive magnitude
	Bid             float64
	Ask             float64
	OpenInterest    int
	Volume          int
	AvgDailyVolume20 int
}

// Mid returns the chain mid price for the contract.
func (c OptionContract) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// SpreadPct returns (ask-bid)/mid, the slippage-discipline input (spec
// §4.5.3). Returns 0 if mid is 0 to avoid a divide-by-zero.
func (c OptionContract) SpreadPct() float64 {
	mid := c.Mid()
	if mid == 0 {
		return 0
	}
	return (c.Ask - c.Bid) / mid
}

// Quote is the last-seen underlying quote and option chain for a symbol.
type Quote struct {
	Symbol     string
	Spot       float64
	Chain      []OptionContract
	ObservedAt time.Time
}

// IsStale reports whether the quote is older than StaleAfter as of now.
func (q Quote) IsStale(now time.Time) bool {
	return now.Sub(q.ObservedAt) > StaleAfter
}

// Cache holds the most recent Quote per symbol.
type Cache struct {
	mu      sync.RWMutex
	quotes  map[string]Quote
	log     zerolog.Logger
}

// New constructs an empty Cache.
func New(log zerolog.Logger) *Cache {
	return &Cache{
		quotes: make(map[string]Quote),
		log:    log.With().Str("component", "snapshot_cache").Logger(),
	}
}

// Update replaces the cached quote for q.Symbol.
func (c *Cache) Update(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.Symbol] = q
	c.log.Debug().Str("symbol", q.Symbol).Float64("spot", q.Spot).Int("chain_len", len(q.Chain)).Msg("quote updated")
}

// ErrNoQuote is returned when a symbol has never been observed.
var ErrNoQuote = fmt.Errorf("snapshot: no quote cached for symbol")

// ErrMissingChain is returned when a symbol's option chain is empty —
// candidates on that symbol must be skipped (spec §4.3).
var ErrMissingChain = fmt.Errorf("snapshot: option chain missing")

// Get returns the cached quote for symbol along with whether it is stale
// as of now. Returns ErrNoQuote if the symbol has never been published.
func (c *Cache) Get(symbol string, now time.Time) (Quote, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	if !ok {
		return Quote{}, false, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	return q, q.IsStale(now), nil
}

// GetForEntry returns a usable quote for opening a new position: errors
// if the symbol has no quote, the chain is empty, or the quote is stale
// (stale data is unusable for new entries per spec §4.3, though still
// fine for monitoring existing positions — see Get).
func (c *Cache) GetForEntry(symbol string, now time.Time) (Quote, error) {
	q, stale, err := c.Get(symbol, now)
	if err != nil {
		return Quote{}, err
	}
	if stale {
		return Quote{}, fmt.Errorf("snapshot: quote for %s is stale (age %s)", symbol, now.Sub(q.ObservedAt))
	}
	if len(q.Chain) == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrMissingChain, symbol)
	}
	return q, nil
}

// Symbols returns every symbol currently cached.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for s := range c.quotes {
		out = append(out, s)
	}
	return out
}
