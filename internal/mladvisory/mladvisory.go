// Package mladvisory implements the ML advisory interface (spec §6): a
// read-only consumer of regime/anomaly/week-type signals that the core
// records in the ledger for audit but never gates a rule on (spec §6:
// "the core records them in the ledger... but never gates a rule on
// them"). Grounded on internal/broker's interface-plus-mock shape,
// narrowed to three read-only calls with no submit/cancel side effects,
// and on internal/ledger for the advisory's audit trail.
package mladvisory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
)

// Regime is a coarse market-regime label.
type Regime string

const (
	RegimeCalm       Regime = "Calm"
	RegimeTransition Regime = "Transition"
	RegimeStressed   Regime = "Stressed"
)

// WeekTypePrior is the advisor's best guess at the current week's
// eventual classification (GLOSSARY "Week type"), offered before the
// Account State Machine's own terminal classification at week's close.
type WeekTypePrior string

// Advisor is the narrow external collaborator interface the engine
// consults for read-only advisories. A live implementation would wrap a
// vendor or in-house model-serving endpoint; this engine ships only
// MockAdvisor.
type Advisor interface {
	RegimeScore(ctx context.Context) (Regime, float64, error)
	AnomalyFlags(ctx context.Context, symbols []string) (map[string]bool, error)
	WeekTypePrior(ctx context.Context, accountID string) (WeekTypePrior, error)
}

// MockAdvisor is a deterministic, entirely rule-free stand-in: callers
// set its outputs directly, simulating whatever a model would have
// said, without this package implementing any actual scoring logic.
type MockAdvisor struct {
	regime        Regime
	regimeScore   float64
	anomalies     map[string]bool
	weekTypeByAcc map[string]WeekTypePrior
}

// NewMockAdvisor constructs a MockAdvisor defaulting to a calm, anomaly-
// free regime.
func NewMockAdvisor() *MockAdvisor {
	return &MockAdvisor{
		regime:        RegimeCalm,
		regimeScore:   0.1,
		anomalies:     make(map[string]bool),
		weekTypeByAcc: make(map[string]WeekTypePrior),
	}
}

// SetRegime overrides the regime label and score returned by RegimeScore.
func (m *MockAdvisor) SetRegime(r Regime, score float64) {
	m.regime = r
	m.regimeScore = score
}

// FlagAnomaly marks symbol as anomalous for subsequent AnomalyFlags
// calls.
func (m *MockAdvisor) FlagAnomaly(symbol string) {
	m.anomalies[symbol] = true
}

// SetWeekTypePrior sets accountID's week-type prior.
func (m *MockAdvisor) SetWeekTypePrior(accountID string, p WeekTypePrior) {
	m.weekTypeByAcc[accountID] = p
}

func (m *MockAdvisor) RegimeScore(ctx context.Context) (Regime, float64, error) {
	return m.regime, m.regimeScore, nil
}

func (m *MockAdvisor) AnomalyFlags(ctx context.Context, symbols []string) (map[string]bool, error) {
	out := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		out[s] = m.anomalies[s]
	}
	return out, nil
}

func (m *MockAdvisor) WeekTypePrior(ctx context.Context, accountID string) (WeekTypePrior, error) {
	if p, ok := m.weekTypeByAcc[accountID]; ok {
		return p, nil
	}
	return "", nil
}

// advisoryPayload is the ledger fact recorded for each advisory pull —
// informational only, never replayed into account or position state.
type advisoryPayload struct {
	Regime        Regime
	RegimeScore   float64
	Anomalies     map[string]bool
	WeekTypePrior WeekTypePrior
}

// Recorder pulls from an Advisor and appends what it returns to the
// ledger as a Decision/Advisory fact, without feeding it back into any
// rule evaluation.
type Recorder struct {
	advisor Advisor
	ledger  *ledger.Ledger
	log     zerolog.Logger
}

// New constructs a Recorder over advisor, appending facts to led.
func New(advisor Advisor, led *ledger.Ledger, log zerolog.Logger) *Recorder {
	return &Recorder{
		advisor: advisor,
		ledger:  led,
		log:     log.With().Str("component", "ml_advisory").Logger(),
	}
}

// RecordCycle pulls the regime score, anomaly flags for symbols, and
// accountID's week-type prior, and appends one advisory fact to the
// ledger. Errors from the advisor are logged and the cycle continues —
// a down advisory feed must never block a scanning cycle.
func (r *Recorder) RecordCycle(ctx context.Context, cycleID, accountID string, symbols []string) {
	regime, score, err := r.advisor.RegimeScore(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("regime score unavailable")
	}

	anomalies, err := r.advisor.AnomalyFlags(ctx, symbols)
	if err != nil {
		r.log.Warn().Err(err).Msg("anomaly flags unavailable")
	}

	weekType, err := r.advisor.WeekTypePrior(ctx, accountID)
	if err != nil {
		r.log.Warn().Err(err).Msg("week type prior unavailable")
	}

	payload := advisoryPayload{
		Regime:        regime,
		RegimeScore:   score,
		Anomalies:     anomalies,
		WeekTypePrior: weekType,
	}
	if _, err := r.ledger.Append(ctx, cycleID, ledger.CategoryAdvisoryRecorded, accountID, "", "", payload); err != nil {
		r.log.Error().Err(err).Msg("failed to record advisory")
	}
}
