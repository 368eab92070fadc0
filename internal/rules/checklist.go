package rules

import (
	"time"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

// Checklist is the per-sleeve contract from spec §4.5.1.
type Checklist struct {
	Kind                domain.AccountKind
	DTEMin, DTEMax      int
	DTEMinStress        int // Generator's alt 1-3 DTE range in stress mode
	DTEMaxStress        int
	DeltaMin, DeltaMax  float64 // magnitude band
	EntryWeekday        time.Weekday
	PermittedSymbols    map[string]bool
	CapitalMin, CapitalMax float64 // fraction of sleeve, e.g. 0.95-1.00
	PerSymbolExposureMax   float64 // fraction of sleeve notional
	EarningsBehavior       EarningsBehavior
	ForkThreshold          float64 // 0 means "never forks"
}

// EarningsBehavior is how a sleeve responds to an earnings week for a
// candidate symbol.
type EarningsBehavior string

const (
	EarningsSkip          EarningsBehavior = "Skip"
	EarningsReduceCoverage EarningsBehavior = "ReduceCoverage"
)

func permitted(symbols ...string) map[string]bool {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[s] = true
	}
	return m
}

// Checklists holds the three sleeve contracts, keyed by account kind.
var Checklists = map[domain.AccountKind]Checklist{
	domain.KindGenerator: {
		Kind:                 domain.KindGenerator,
		DTEMin:               0,
		DTEMax:               1,
		DTEMinStress:         1,
		DTEMaxStress:         3,
		DeltaMin:             0.40,
		DeltaMax:             0.45,
		EntryWeekday:         time.Thursday,
		PermittedSymbols:     permitted("AAPL", "MSFT", "AMZN", "GOOG", "SPY", "QQQ", "IWM"),
		CapitalMin:           0.95,
		CapitalMax:           1.00,
		PerSymbolExposureMax: 0.25,
		EarningsBehavior:     EarningsSkip,
		ForkThreshold:        100000,
	},
	domain.KindRevenue: {
		Kind:                 domain.KindRevenue,
		DTEMin:               3,
		DTEMax:               5,
		DeltaMin:             0.30,
		DeltaMax:             0.35,
		EntryWeekday:         time.Wednesday,
		PermittedSymbols:     permitted("NVDA", "TSLA"),
		CapitalMin:           0.95,
		CapitalMax:           1.00,
		PerSymbolExposureMax: 0.25,
		EarningsBehavior:     EarningsSkip,
		ForkThreshold:        500000,
	},
	domain.KindCompounder: {
		Kind:                 domain.KindCompounder,
		DTEMin:               5,
		DTEMax:               5,
		DeltaMin:             0.20,
		DeltaMax:             0.25,
		EntryWeekday:         time.Monday,
		PermittedSymbols:     permitted("AAPL", "MSFT", "AMZN", "GOOGL", "NVDA", "TSLA", "META"),
		CapitalMin:           0.95,
		CapitalMax:           1.00,
		PerSymbolExposureMax: 0.25,
		EarningsBehavior:     EarningsReduceCoverage,
		ForkThreshold:        0,
	},
}

// DTEBand returns the DTE range in effect, accounting for Generator's
// stress-mode widening.
func (c Checklist) DTEBand(stressMode bool) (min, max int) {
	if c.Kind == domain.KindGenerator && stressMode {
		return c.DTEMinStress, c.DTEMaxStress
	}
	return c.DTEMin, c.DTEMax
}
