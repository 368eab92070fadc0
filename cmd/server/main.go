// Command server is the engine's entrypoint: it wires every component in
// dependency order, then dispatches on the command-interface verbs spec
// §6 enumerates — start, pause-account, kill-all, snapshot-ledger,
// replay-to-seq — the same single-binary, subcommand-per-operation shape
// the teacher's cmd/server/main.go uses, scoped down from its DI
// container and display/deployment subsystems (neither of which this
// domain has) to the components this engine actually needs.
//
// Exit codes match spec §7: 0 clean shutdown, 2 ledger-integrity
// failure, 3 broker unreachable at startup, 4 configuration invalid.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/atrsvc"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/broker"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/calendarfeed"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/clock"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/config"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/database"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/events"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/forkmerge"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/leap"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/marketdata"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/mladvisory"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/orders"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/protocol"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/reinvest"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/rules"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/server"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/settingsstore"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/snapshot"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/statemachine"
	"github.com/TKTINC/true-asset-alluse-sub000/pkg/logger"
)

const (
	exitClean             = 0
	exitLedgerIntegrity   = 2
	exitBrokerUnreachable = 3
	exitConfigInvalid     = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "start"
	if len(args) > 0 {
		cmd = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return exitConfigInvalid
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cmd == "start"})
	logger.SetGlobalLogger(log)

	if cfg.Mode == config.ModeLive {
		// No live broker adapter is wired yet (internal/broker currently
		// ships only MockBroker); refuse to start rather than silently
		// trade mock fills against a live account.
		log.Error().Msg("mode=live requested but no live broker adapter is wired")
		return exitBrokerUnreachable
	}

	e, err := wireEngine(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire engine")
		return exitConfigInvalid
	}
	defer e.closeAll()

	ctx := context.Background()
	if err := e.store.Replay(ctx); err != nil {
		log.Error().Err(err).Msg("ledger replay failed")
		return exitLedgerIntegrity
	}
	if err := e.led.VerifyChain(ctx); err != nil {
		log.Error().Err(err).Msg("ledger integrity check failed")
		return exitLedgerIntegrity
	}

	switch cmd {
	case "start":
		return e.runStart(ctx)
	case "pause-account":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: server pause-account <account-id>")
			return exitConfigInvalid
		}
		if err := e.reporter.PauseAccount(ctx, args[1]); err != nil {
			log.Error().Err(err).Msg("pause-account failed")
			return exitConfigInvalid
		}
		fmt.Printf("account %s paused\n", args[1])
		return exitClean
	case "kill-all":
		n, err := e.reporter.KillAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("kill-all failed")
			return exitConfigInvalid
		}
		fmt.Printf("%d account(s) paused\n", n)
		return exitClean
	case "snapshot-ledger":
		seq, hash, err := e.reporter.Snapshot(ctx)
		if err != nil {
			log.Error().Err(err).Msg("snapshot-ledger failed")
			return exitLedgerIntegrity
		}
		fmt.Printf("seq=%d state_hash=%s\n", seq, hash)
		return exitClean
	case "replay-to-seq":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: server replay-to-seq <n>")
			return exitConfigInvalid
		}
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid seq %q: %v\n", args[1], err)
			return exitConfigInvalid
		}
		count := 0
		err = e.led.ReadSince(ctx, 0, func(r ledger.Record) error {
			if r.Seq > n {
				return nil
			}
			count++
			return nil
		})
		if err != nil {
			log.Error().Err(err).Msg("replay-to-seq failed")
			return exitLedgerIntegrity
		}
		fmt.Printf("replayed %d record(s) up to seq %d\n", count, n)
		return exitClean
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want: start, pause-account, kill-all, snapshot-ledger, replay-to-seq)\n", cmd)
		return exitConfigInvalid
	}
}

// engine bundles every wired component. Fields are exported-within-
// package only; this type never leaves main.
type engine struct {
	cfg *config.Config
	log zerolog.Logger

	configDB, ledgerDB, accountsDB, ordersDB *database.DB

	led   *ledger.Ledger
	store *account.Store

	clk         *clock.Clock
	calFeed     *calendarfeed.MockFeed
	mktFeed     *marketdata.MockFeed
	cache       *snapshot.Cache
	publisher   *marketdata.Publisher
	atr         *atrsvc.Service
	rulesEngine *rules.Engine
	protoEngine *protocol.Engine
	leapEngine  *leap.Engine
	fmEngine    *forkmerge.Engine
	reinvest    *reinvest.Engine

	mockBroker *broker.MockBroker
	orderMgr   *orders.Manager
	machine    *statemachine.Machine

	advisor  *mladvisory.MockAdvisor
	recorder *mladvisory.Recorder
	bus      *events.Bus

	httpServer *server.Server
	reporter   *server.EngineReporter

	cancelBackground context.CancelFunc
}

func wireEngine(cfg *config.Config, log zerolog.Logger) (*engine, error) {
	e := &engine{cfg: cfg, log: log}

	openDB := func(name string, profile database.DatabaseProfile) (*database.DB, error) {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s db: %w", name, err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate %s db: %w", name, err)
		}
		return db, nil
	}

	var err error
	if e.configDB, err = openDB("config", database.ProfileStandard); err != nil {
		return nil, err
	}
	if e.ledgerDB, err = openDB("ledger", database.ProfileLedger); err != nil {
		return nil, err
	}
	if e.accountsDB, err = openDB("accounts", database.ProfileStandard); err != nil {
		return nil, err
	}
	if e.ordersDB, err = openDB("orders", database.ProfileStandard); err != nil {
		return nil, err
	}

	settings := settingsstore.New(e.configDB.Conn(), log)
	if err := settings.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate settings store: %w", err)
	}
	if err := cfg.UpdateFromSettings(settings); err != nil {
		return nil, fmt.Errorf("apply settings overrides: %w", err)
	}

	e.led = ledger.New(e.ledgerDB, log)
	e.store = account.New(e.led, log)

	e.calFeed = calendarfeed.NewMockFeed()
	e.clk, err = clock.New(e.calFeed)
	if err != nil {
		return nil, fmt.Errorf("construct clock: %w", err)
	}

	e.mktFeed = marketdata.NewMockFeed(map[string]float64{
		"SPY": 500, "QQQ": 430, "IWM": 210,
	}, 16.5)
	e.cache = snapshot.New(log)
	e.publisher = marketdata.NewPublisher(e.mktFeed, e.cache)

	e.atr = atrsvc.New(e.mktFeed, log)
	e.rulesEngine = rules.New(e.clk, e.cache)
	e.protoEngine = protocol.New(e.atr, e.cache, e.store, log)
	e.leapEngine = leap.New()
	e.fmEngine = forkmerge.New(e.store, log)
	e.reinvest = reinvest.New(e.store, log)

	e.mockBroker = broker.NewMockBroker()
	e.mockBroker.SetAutoFill(cfg.Mode == config.ModeMock)

	bgCtx, cancel := context.WithCancel(context.Background())
	e.cancelBackground = cancel
	e.orderMgr = orders.New(bgCtx, e.led, e.mockBroker, log)

	e.machine = statemachine.New(e.led, e.store, e.orderMgr, e.rulesEngine, e.protoEngine, e.leapEngine, e.fmEngine, e.atr, log)

	e.advisor = mladvisory.NewMockAdvisor()
	e.recorder = mladvisory.New(e.advisor, e.led, log)
	e.bus = events.NewBus()

	startedAt := time.Now()
	e.reporter = server.NewEngineReporter(startedAt, cfg.Mode, e.led, e.store)
	e.httpServer = server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		Health:   e.reporter,
		Ledger:   e.reporter,
		Accounts: e.reporter,
		DevMode:  cfg.Mode == config.ModeMock,
	})

	return e, nil
}

func (e *engine) closeAll() {
	if e.cancelBackground != nil {
		e.cancelBackground()
	}
	for _, db := range []*database.DB{e.configDB, e.ledgerDB, e.accountsDB, e.ordersDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			e.log.Warn().Err(err).Str("db", db.Name()).Msg("error closing database")
		}
	}
}

// runStart wires the cron schedule, starts the operational HTTP server,
// seeds the symbol/price feed, resumes every account's state machine,
// and blocks on SIGINT/SIGTERM.
func (e *engine) runStart(ctx context.Context) int {
	symbols := []string{"SPY", "QQQ", "IWM"}

	if err := e.refreshATR(ctx, symbols); err != nil {
		e.log.Error().Err(err).Msg("initial ATR refresh failed")
	}

	if err := e.machine.Resume(ctx, e.refreshATR); err != nil {
		e.log.Error().Err(err).Msg("resume failed")
		return exitLedgerIntegrity
	}

	marketLoc, err := time.LoadLocation("America/New_York")
	if err != nil {
		e.log.Error().Err(err).Msg("failed to load market time zone")
		return exitConfigInvalid
	}
	sched := cron.New(cron.WithLocation(marketLoc))
	// Daily ATR refresh at 09:30 local market time, ahead of the first
	// entry window any sleeve opens (spec §4.4).
	if _, err := sched.AddFunc("30 9 * * 1-5", func() {
		if err := e.refreshATR(context.Background(), symbols); err != nil {
			e.log.Error().Err(err).Msg("scheduled ATR refresh failed")
		}
	}); err != nil {
		e.log.Error().Err(err).Msg("failed to schedule ATR refresh")
	}
	// Weekly account tick: every weekday at market open, walk every
	// active account and drive one state-machine cycle. The sleeve's
	// own entry-window table (checked inside runWeeklyTick) is what
	// actually restricts which day a given sleeve trades.
	if _, err := sched.AddFunc("30 9 * * 1-5", func() {
		e.runWeeklyTick(context.Background(), symbols)
	}); err != nil {
		e.log.Error().Err(err).Msg("failed to schedule weekly tick")
	}
	// Quarterly reinvestment: 09:00 on the first calendar day of January,
	// April, July and October, whether or not that day is a trading day.
	if _, err := sched.AddFunc("0 9 1 1,4,7,10 *", func() {
		e.runQuarterlyReinvestment(context.Background())
	}); err != nil {
		e.log.Error().Err(err).Msg("failed to schedule quarterly reinvestment")
	}
	sched.Start()
	defer sched.Stop()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.httpServer.ListenAndServe(sigCtx)
	}()

	select {
	case <-sigCtx.Done():
		e.log.Info().Msg("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil {
			e.log.Error().Err(err).Msg("operational http server stopped with error")
		}
	}
	return exitClean
}

func (e *engine) refreshATR(ctx context.Context, symbols []string) error {
	spots := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		q, err := e.mktFeed.Quote(ctx, s)
		if err != nil {
			return fmt.Errorf("quote %s: %w", s, err)
		}
		spots[s] = q.Last
		if err := e.publisher.RefreshSymbol(ctx, s, time.Time{}); err != nil {
			e.log.Warn().Err(err).Str("symbol", s).Msg("snapshot refresh failed")
		}
	}
	return e.atr.RefreshAll(ctx, symbols, spots, time.Now().UTC())
}

// runWeeklyTick drives one state-machine cycle per active account.
// Candidate generation is deliberately minimal: it checks only whether
// the account's sleeve entry window is open and the Account State
// Machine's own SAFE→SCANNING precondition passes, then records the
// outcome. Concrete strike/expiry selection belongs to a trading
// strategy this engine does not implement — only the lifecycle the
// strategy's output would flow through (Rules Engine → Order Lifecycle
// Manager → Account State Machine) is wired end to end.
func (e *engine) runWeeklyTick(ctx context.Context, symbols []string) {
	now := time.Now().UTC()
	vix, err := e.mktFeed.VIXLast(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("weekly tick: VIX read failed")
		return
	}
	mode := protocol.CircuitBreaker(vix, vix)

	for _, acct := range e.store.Accounts() {
		cycleID := fmt.Sprintf("weekly-%s-%d", acct.ID, now.Unix())
		e.recorder.RecordCycle(ctx, cycleID, acct.ID, symbols)

		inWindow, err := e.clk.InEntryWindow(acct.Kind, now)
		if err != nil {
			e.log.Warn().Err(err).Str("account_id", acct.ID).Msg("entry window check failed")
			continue
		}
		marketOpen := e.clk.IsMarketOpen(now)
		ledgerHealthy := e.led.VerifyChain(ctx) == nil

		ok, reason := statemachine.CanScan(marketOpen, mode, acct.Status, ledgerHealthy)
		if !ok {
			e.log.Debug().Str("account_id", acct.ID).Str("reason", reason).Msg("weekly tick: scan skipped")
			continue
		}
		prevState := e.machine.CurrentState(acct.ID)
		if err := e.machine.Transition(ctx, cycleID, acct.ID, statemachine.Scanning, "entry window check passed"); err != nil {
			e.log.Error().Err(err).Str("account_id", acct.ID).Msg("transition to Scanning failed")
			continue
		}
		e.bus.EmitTyped(acct.ID, &events.StateTransitionedData{
			AccountID: acct.ID, From: string(prevState), To: string(statemachine.Scanning), Reason: "entry window check passed",
		})

		positions := positionsForAccount(e.store, acct.ID)
		escalations, err := e.protoEngine.Tick(ctx, cycleID, positions, now)
		if err != nil {
			e.log.Error().Err(err).Str("account_id", acct.ID).Msg("protocol tick failed")
		}
		for _, esc := range escalations {
			e.log.Info().Str("account_id", acct.ID).Str("position_id", esc.PositionID).Int("from", int(esc.From)).Int("to", int(esc.To)).Msg("protocol escalation")
			e.bus.EmitTyped(acct.ID, &events.ProtocolLevelChangedData{
				PositionID: esc.PositionID, AccountID: acct.ID, FromLevel: int(esc.From), ToLevel: int(esc.To),
			})
		}

		anyL2Plus := false
		worstLevel := protocol.L0
		for _, esc := range escalations {
			if esc.To >= protocol.L2 {
				anyL2Plus = true
			}
			if esc.To > worstLevel {
				worstLevel = esc.To
			}
		}
		anyRolled := false
		for _, action := range e.leapEngine.Evaluate(now, positions, vix, anyL2Plus) {
			e.log.Info().Str("account_id", acct.ID).Str("position_id", action.PositionID).Str("action", string(action.Action)).Msg("leap ladder action")
			if action.Action == leap.ActionRoll {
				anyRolled = true
			}
		}

		if acct.Kind == domain.KindGenerator {
			if res, err := e.fmEngine.EvaluateGenerator(ctx, cycleID, &acct); err != nil {
				e.log.Warn().Err(err).Str("account_id", acct.ID).Msg("fork evaluation failed")
			} else if res != nil {
				e.log.Info().Str("parent_id", res.ParentID).Str("child_id", res.ChildID).Msg("account forked")
				e.bus.EmitTyped(res.ChildID, &events.AccountForkedData{
					ParentID: res.ParentID, ChildID: res.ChildID, ChildKind: string(res.Kind), Amount: res.Amount,
				})
			}
		}

		next, reason := statemachine.AnalysisOutcome(0, inWindow)
		if err := e.machine.Transition(ctx, cycleID, acct.ID, next, reason); err != nil {
			e.log.Error().Err(err).Str("account_id", acct.ID).Msg("transition after analysis failed")
			continue
		}
		if next != statemachine.Monitoring {
			continue
		}

		anyAssigned := e.sweepAssignments(ctx, cycleID, acct.ID, positions)

		label := domain.ClassifyWeek(anyAssigned, anyRolled, int(worstLevel), mode != protocol.ModeNormal, false)
		weekOf := clock.ISOWeek(now)
		if _, err := e.led.Append(ctx, cycleID, ledger.CategoryWeekClassified, acct.ID, "", "", weekClassifiedPayload{
			AccountID: acct.ID, ISOWeek: weekOf, Type: label,
		}); err != nil {
			e.log.Error().Err(err).Str("account_id", acct.ID).Msg("failed to append week classification")
		}
		e.bus.EmitTyped(acct.ID, &events.WeekClassifiedData{AccountID: acct.ID, WeekOf: weekOf, Label: string(label)})

		reconcileReason := fmt.Sprintf("week classified %s", label)
		if err := e.machine.Transition(ctx, cycleID, acct.ID, statemachine.Reconciling, reconcileReason); err != nil {
			e.log.Error().Err(err).Str("account_id", acct.ID).Msg("transition to Reconciling failed")
			continue
		}
		e.bus.EmitTyped(acct.ID, &events.StateTransitionedData{
			AccountID: acct.ID, From: string(statemachine.Monitoring), To: string(statemachine.Reconciling), Reason: reconcileReason,
		})

		if err := e.machine.Transition(ctx, cycleID, acct.ID, statemachine.Safe, "cycle complete"); err != nil {
			e.log.Error().Err(err).Str("account_id", acct.ID).Msg("transition to Safe failed")
			continue
		}
		e.bus.EmitTyped(acct.ID, &events.StateTransitionedData{
			AccountID: acct.ID, From: string(statemachine.Reconciling), To: string(statemachine.Safe), Reason: "cycle complete",
		})
	}
}

// sweepAssignments closes every open CSP position that has reached
// expiry in the money, opening the LongShares position it delivers so
// the sleeve's next entry can write a covered call against it instead
// of another cash-secured put. Reports whether any assignment occurred,
// for the week's classification.
func (e *engine) sweepAssignments(ctx context.Context, cycleID, accountID string, positions []domain.Position) bool {
	assigned := false
	for _, pos := range positions {
		if pos.Kind != domain.PositionCSP || pos.Status != domain.PositionOpen {
			continue
		}
		q, err := e.mktFeed.Quote(ctx, pos.Symbol)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("assignment sweep: quote failed")
			continue
		}
		if !pos.IsAssignable(q.Last, time.Now().UTC()) {
			continue
		}
		newPositionID := uuid.NewString()
		if _, err := e.store.AssignPosition(ctx, cycleID, accountID, pos.ID, newPositionID); err != nil {
			e.log.Error().Err(err).Str("account_id", accountID).Str("position_id", pos.ID).Msg("assignment failed")
			continue
		}
		e.log.Info().Str("account_id", accountID).Str("position_id", pos.ID).Str("shares_position_id", newPositionID).Msg("csp assigned")
		assigned = true
	}
	return assigned
}

type weekClassifiedPayload struct {
	AccountID string
	ISOWeek   string
	Type      domain.WeekTypeLabel
}

// runQuarterlyReinvestment applies the reinvestment split to every
// account carrying a realised quarterly gain and publishes the outcome
// on the event bus for external observers.
func (e *engine) runQuarterlyReinvestment(ctx context.Context) {
	for _, acct := range e.store.Accounts() {
		cycleID := fmt.Sprintf("reinvest-%s-%d", acct.ID, time.Now().UTC().Unix())
		split, err := e.reinvest.Apply(ctx, cycleID, &acct)
		if err != nil {
			e.log.Error().Err(err).Str("account_id", acct.ID).Msg("reinvestment failed")
			continue
		}
		if split == nil {
			continue
		}
		e.bus.EmitTyped(acct.ID, &events.ReinvestmentAppliedData{
			AccountID:        acct.ID,
			QuarterlyGain:    split.QuarterlyGain,
			TaxReserve:       split.TaxReserve,
			ContractsPortion: split.ContractsPortion,
			LEAPPortion:      split.LEAPPortion,
		})
	}
}

func positionsForAccount(store *account.Store, accountID string) []domain.Position {
	var out []domain.Position
	for _, p := range store.Positions() {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out
}
