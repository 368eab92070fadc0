// Package atrsvc implements the ATR Service (spec component C4): a daily
// 09:30-local computation of 5-day Average True Range per symbol, with a
// three-rung fallback ladder, publishing the protocol escalation
// thresholds the Protocol Engine (C8) consumes. The "compute via
// go-talib, return the last value, nil/unusable on insufficient data"
// shape is grounded on the teacher's pkg/formulas indicator wrappers
// (CalculateRSI, CalculateEMA) — this is the first of this engine's
// components to reuse a teacher library rather than just a teacher
// pattern.
package atrsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

// Bar is one daily OHLC observation used for true-range computation.
type Bar struct {
	Date  time.Time
	High  float64
	Low   float64
	Close float64
}

// PriceHistoryProvider supplies the trailing daily bars ATR(5) needs.
type PriceHistoryProvider interface {
	DailyBars(ctx context.Context, symbol string, lookback int) ([]Bar, error)
}

// barsNeeded is the lookback window: ATR(5) needs 5 true-range
// observations, each of which needs a prior close, so 6 bars minimum;
// request a few extra for robustness against short vendor gaps.
const barsNeeded = 10
const atrPeriod = 5

// Side is which leg the symbol's published thresholds serve.
type Side string

const (
	SideCSP Side = "CSP" // short put: thresholds are strike minus n*ATR
	SideCC  Side = "CC"  // short call: thresholds are strike plus n*ATR (symmetric)
)

// ErrUnusable is returned when a symbol has no usable ATR by any rung of
// the fallback ladder (spec §4.4 rung (c)).
var ErrUnusable = fmt.Errorf("atrsvc: symbol unusable, no ATR available")

// Service computes and caches daily ATR(5) per symbol.
type Service struct {
	history PriceHistoryProvider
	log     zerolog.Logger

	mu    sync.RWMutex
	cache map[string]domain.ATRRecord
}

// New constructs a Service backed by history.
func New(history PriceHistoryProvider, log zerolog.Logger) *Service {
	return &Service{
		history: history,
		log:     log.With().Str("component", "atr_service").Logger(),
		cache:   make(map[string]domain.ATRRecord),
	}
}

// RefreshAll recomputes ATR(5) for every symbol as of asOf (intended to be
// called once at 09:30 local market time; values are frozen intraday).
// A per-symbol failure does not abort the batch — it falls through the
// fallback ladder and is logged.
func (s *Service) RefreshAll(ctx context.Context, symbols []string, spotPrices map[string]float64, asOf time.Time) error {
	var firstErr error
	for _, symbol := range symbols {
		rec, err := s.refreshOne(ctx, symbol, spotPrices[symbol], asOf)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("ATR refresh fell through to unusable")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.mu.Lock()
		s.cache[symbol] = rec
		s.mu.Unlock()
	}
	return firstErr
}

func (s *Service) refreshOne(ctx context.Context, symbol string, spot float64, asOf time.Time) (domain.ATRRecord, error) {
	bars, err := s.history.DailyBars(ctx, symbol, barsNeeded)
	if err == nil {
		if rec, ok := computeFromBars(symbol, bars, asOf); ok {
			return rec, nil
		}
	}

	// Rung (a): last valid ATR x 1.1
	s.mu.RLock()
	prev, hadPrev := s.cache[symbol]
	s.mu.RUnlock()
	if hadPrev && prev.FallbackTag == domain.ATRFresh {
		return domain.ATRRecord{Symbol: symbol, Date: asOf, ATR5: prev.ATR5 * 1.1, TrueRange: prev.TrueRange, FallbackTag: domain.ATRFallbackScaled}, nil
	}

	// Rung (b): 2% of current spot
	if spot > 0 {
		return domain.ATRRecord{Symbol: symbol, Date: asOf, ATR5: spot * 0.02, FallbackTag: domain.ATRFallbackSpot}, nil
	}

	// Rung (c): unusable
	return domain.ATRRecord{}, fmt.Errorf("%w: %s", ErrUnusable, symbol)
}

func computeFromBars(symbol string, bars []Bar, asOf time.Time) (domain.ATRRecord, bool) {
	if len(bars) < atrPeriod+1 {
		return domain.ATRRecord{}, false
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	last := atr[len(atr)-1]
	if isNaN(last) || last <= 0 {
		return domain.ATRRecord{}, false
	}

	latest := bars[len(bars)-1]
	prevClose := bars[len(bars)-2].Close
	trueRange := trueRangeOf(latest.High, latest.Low, prevClose)

	return domain.ATRRecord{
		Symbol:      symbol,
		Date:        asOf,
		TrueRange:   trueRange,
		ATR5:        last,
		FallbackTag: domain.ATRFresh,
	}, true
}

func trueRangeOf(high, low, prevClose float64) float64 {
	tr := high - low
	if d := absf(high - prevClose); d > tr {
		tr = d
	}
	if d := absf(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func isNaN(f float64) bool {
	return f != f
}

// Get returns the cached ATR record for symbol.
func (s *Service) Get(symbol string) (domain.ATRRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cache[symbol]
	return rec, ok
}

// Thresholds returns L1/L2/L3 protocol-escalation price levels for a
// position's strike, given which side it is on (spec §4.4: "L1 = strike
// - 1*ATR, L2 = strike - 2*ATR, L3 = strike - 3*ATR (CSP side; symmetric
// for CC)").
func (s *Service) Thresholds(symbol string, strike float64, side Side) (l1, l2, l3 float64, err error) {
	rec, ok := s.Get(symbol)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrUnusable, symbol)
	}
	sign := -1.0
	if side == SideCC {
		sign = 1.0
	}
	l1 = strike + sign*1*rec.ATR5
	l2 = strike + sign*2*rec.ATR5
	l3 = strike + sign*3*rec.ATR5
	return l1, l2, l3, nil
}
