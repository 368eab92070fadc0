// Package account implements the Position & Account Store (spec component
// C6): a derived, in-memory view of the ledger. Every mutation is first
// appended to the ledger, then applied to the in-memory maps — and at
// startup the same apply path rebuilds the maps from scratch by replaying
// the full ledger, so there is exactly one mutation path for both live
// operation and recovery. This single-writer, invariant-checked-after-
// every-mutation shape is grounded on the teacher's
// internal/database.WithTransaction (atomic apply, error aborts) and its
// settings repository's upsert discipline, generalized here across two
// in-memory maps instead of one SQL table.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
)

// ErrInvariantViolation is returned when a mutation would leave an
// account in an inconsistent state. Callers (the Account State Machine)
// must treat this as a SafeMode trigger (spec §4.6).
var ErrInvariantViolation = fmt.Errorf("account: invariant violation")

// ErrNotFound is returned when an operation targets an unknown account
// or position.
var ErrNotFound = fmt.Errorf("account: not found")

// Store is the in-memory, ledger-backed Account and Position repository.
type Store struct {
	ledger *ledger.Ledger
	log    zerolog.Logger

	mu        sync.RWMutex
	accounts  map[string]*domain.Account
	positions map[string]*domain.Position
}

// New constructs an empty Store. Call Replay before use in a recovering
// process.
func New(l *ledger.Ledger, log zerolog.Logger) *Store {
	return &Store{
		ledger:    l,
		log:       log.With().Str("component", "account_store").Logger(),
		accounts:  make(map[string]*domain.Account),
		positions: make(map[string]*domain.Position),
	}
}

// --- payloads persisted to the ledger ---

type accountOpenedPayload struct {
	Kind           domain.AccountKind
	ParentID       string
	GenealogyPath  string
	OpeningCapital float64
}

type accountStatusPayload struct {
	Status domain.AccountStatus
}

type positionOpenedPayload struct {
	PositionID         string
	AccountID          string
	Symbol             string
	Kind               domain.PositionKind
	Strike             float64
	ExpiryUnix         int64
	Quantity           int
	OpeningCreditDebit float64
	ProtocolLevel      int
}

type positionClosedPayload struct {
	PositionID string
	RealizedPL float64
}

type cashReservedPayload struct {
	AccountID string
	Amount    float64
}

type cashReleasedPayload struct {
	AccountID string
	Amount    float64
}

type fillAppliedPayload struct {
	PositionID string
	AccountID  string
	FillPrice  float64
	FilledQty  int
	CashDelta  float64
}

type protocolLevelPayload struct {
	PositionID string
	Level      int
}

// positionAssignedPayload captures a CSP's exercise in one fact: the short
// put closes and the share lot it delivers opens, atomically, so a reader
// replaying the ledger never observes the account missing either side.
type positionAssignedPayload struct {
	PositionID    string
	NewPositionID string
	AccountID     string
	Symbol        string
	Strike        float64
	ShareQuantity int
}

// accountForkedPayload captures both sides of a fork in one fact: the
// parent's capital debit and the new child's opening credit (spec §4.10
// requires fork to be a single atomic ledger append covering both).
type accountForkedPayload struct {
	ParentID      string
	ChildID       string
	ChildKind     domain.AccountKind
	GenealogyPath string
	Amount        float64
}

// accountMergedPayload captures a child account's balance folding back
// into its target (typically the root Compounder) as it closes.
type accountMergedPayload struct {
	ChildID  string
	TargetID string
	Amount   float64
}

// reinvestAppliedPayload captures a quarter's 30/70 reinvestment split in
// one fact: the tax reserve moves into ReservedCash, and the quarter's
// running realised-gain counter resets (spec §4.12 requires the split be
// "atomically ledgered"). ContractsPortion and LEAPPortion are recorded
// for audit and for the caller to act on but move no cash themselves —
// the capital they describe is already sitting in Cash, only flagged.
type reinvestAppliedPayload struct {
	AccountID        string
	QuarterlyGain    float64
	TaxReserve       float64
	ContractsPortion float64
	LEAPPortion      float64
}

// Replay rebuilds the in-memory maps from the full ledger history. Call
// once at startup before serving any operation.
func (s *Store) Replay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]*domain.Account)
	s.positions = make(map[string]*domain.Position)

	return s.ledger.ReadSince(ctx, 0, func(r ledger.Record) error {
		return s.applyLocked(r)
	})
}

// applyLocked mutates in-memory state from a single ledger record. It is
// the sole mutation path, shared between live appends and startup replay.
func (s *Store) applyLocked(r ledger.Record) error {
	switch r.Category {
	case ledger.CategoryAccountOpened:
		var p accountOpenedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		s.accounts[r.AccountID] = &domain.Account{
			ID:             r.AccountID,
			Kind:           p.Kind,
			ParentID:       p.ParentID,
			GenealogyPath:  p.GenealogyPath,
			OpeningCapital: p.OpeningCapital,
			Cash:           p.OpeningCapital,
			Status:         domain.AccountActive,
			CreatedAt:      r.RecordedAt,
			UpdatedAt:      r.RecordedAt,
		}
		return nil

	case ledger.CategoryAccountStatus:
		var p accountStatusPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		a, ok := s.accounts[r.AccountID]
		if !ok {
			return fmt.Errorf("account: status change for unknown account %s", r.AccountID)
		}
		a.Status = p.Status
		a.UpdatedAt = r.RecordedAt
		return nil

	case ledger.CategoryPositionOpened:
		var p positionOpenedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		pos := &domain.Position{
			ID:                 p.PositionID,
			AccountID:          p.AccountID,
			Symbol:             p.Symbol,
			Kind:               p.Kind,
			Strike:             p.Strike,
			Expiry:             unixTime(p.ExpiryUnix),
			Quantity:           p.Quantity,
			OpeningCreditDebit: p.OpeningCreditDebit,
			ProtocolLevel:      p.ProtocolLevel,
			Status:             domain.PositionOpen,
			OpenedAtSeq:        r.Seq,
			CreatedAt:          r.RecordedAt,
			UpdatedAt:          r.RecordedAt,
		}
		s.positions[pos.ID] = pos
		a, ok := s.accounts[p.AccountID]
		if !ok {
			return fmt.Errorf("account: position opened for unknown account %s", p.AccountID)
		}
		a.OpenPositionIDs = append(a.OpenPositionIDs, pos.ID)
		a.ReservedCash += pos.Collateral()
		a.UpdatedAt = r.RecordedAt
		return s.checkInvariants(a)

	case ledger.CategoryPositionClosed:
		var p positionClosedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		pos, ok := s.positions[p.PositionID]
		if !ok {
			return fmt.Errorf("account: close of unknown position %s", p.PositionID)
		}
		closedSeq := r.Seq
		pos.ClosedAtSeq = &closedSeq
		pos.Status = domain.PositionClosed
		pos.UpdatedAt = r.RecordedAt
		a, ok := s.accounts[pos.AccountID]
		if !ok {
			return fmt.Errorf("account: position close for unknown account %s", pos.AccountID)
		}
		a.ReservedCash -= pos.Collateral()
		a.Cash += p.RealizedPL
		a.CumulativeRealisedPL += p.RealizedPL
		a.QuarterToDateRealised += p.RealizedPL
		a.OpenPositionIDs = removeID(a.OpenPositionIDs, pos.ID)
		a.UpdatedAt = r.RecordedAt
		return s.checkInvariants(a)

	case ledger.CategoryCashReserved:
		var p cashReservedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		a, ok := s.accounts[p.AccountID]
		if !ok {
			return fmt.Errorf("account: reserve for unknown account %s", p.AccountID)
		}
		a.ReservedCash += p.Amount
		a.UpdatedAt = r.RecordedAt
		return s.checkInvariants(a)

	case ledger.CategoryCashReleased:
		var p cashReleasedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		a, ok := s.accounts[p.AccountID]
		if !ok {
			return fmt.Errorf("account: release for unknown account %s", p.AccountID)
		}
		a.ReservedCash -= p.Amount
		a.UpdatedAt = r.RecordedAt
		return s.checkInvariants(a)

	case ledger.CategoryFillApplied:
		var p fillAppliedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		if pos, ok := s.positions[p.PositionID]; ok {
			pos.CurrentMark = p.FillPrice
			pos.UpdatedAt = r.RecordedAt
		}
		a, ok := s.accounts[p.AccountID]
		if !ok {
			return fmt.Errorf("account: fill for unknown account %s", p.AccountID)
		}
		a.Cash += p.CashDelta
		a.UpdatedAt = r.RecordedAt
		return s.checkInvariants(a)

	case ledger.CategoryPositionAssigned:
		var p positionAssignedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		pos, ok := s.positions[p.PositionID]
		if !ok {
			return fmt.Errorf("account: assignment of unknown position %s", p.PositionID)
		}
		closedSeq := r.Seq
		pos.ClosedAtSeq = &closedSeq
		pos.Status = domain.PositionAssigned
		pos.UpdatedAt = r.RecordedAt
		a, ok := s.accounts[p.AccountID]
		if !ok {
			return fmt.Errorf("account: assignment for unknown account %s", p.AccountID)
		}
		a.ReservedCash -= pos.Collateral()
		a.Cash -= p.Strike * float64(p.ShareQuantity)
		a.OpenPositionIDs = removeID(a.OpenPositionIDs, pos.ID)
		shares := &domain.Position{
			ID:                 p.NewPositionID,
			AccountID:          p.AccountID,
			Symbol:             p.Symbol,
			Kind:               domain.PositionLongShare,
			Quantity:           p.ShareQuantity,
			OpeningCreditDebit: p.Strike * float64(p.ShareQuantity),
			Status:             domain.PositionOpen,
			OpenedAtSeq:        r.Seq,
			CreatedAt:          r.RecordedAt,
			UpdatedAt:          r.RecordedAt,
		}
		s.positions[shares.ID] = shares
		a.OpenPositionIDs = append(a.OpenPositionIDs, shares.ID)
		a.UpdatedAt = r.RecordedAt
		return s.checkInvariants(a)

	case ledger.CategoryProtocolEscalated, ledger.CategoryProtocolDeescalated:
		var p protocolLevelPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		pos, ok := s.positions[p.PositionID]
		if !ok {
			return fmt.Errorf("account: protocol level change for unknown position %s", p.PositionID)
		}
		pos.ProtocolLevel = p.Level
		pos.UpdatedAt = r.RecordedAt
		return nil

	case ledger.CategoryAccountForked:
		var p accountForkedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		parent, ok := s.accounts[p.ParentID]
		if !ok {
			return fmt.Errorf("account: fork from unknown parent %s", p.ParentID)
		}
		parent.Cash -= p.Amount
		parent.ForkCount++
		parent.UpdatedAt = r.RecordedAt
		if err := s.checkInvariants(parent); err != nil {
			return err
		}
		s.accounts[p.ChildID] = &domain.Account{
			ID:             p.ChildID,
			Kind:           p.ChildKind,
			ParentID:       p.ParentID,
			GenealogyPath:  p.GenealogyPath,
			OpeningCapital: p.Amount,
			Cash:           p.Amount,
			Status:         domain.AccountActive,
			CreatedAt:      r.RecordedAt,
			UpdatedAt:      r.RecordedAt,
		}
		return nil

	case ledger.CategoryAccountMerged:
		var p accountMergedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		child, ok := s.accounts[p.ChildID]
		if !ok {
			return fmt.Errorf("account: merge of unknown child %s", p.ChildID)
		}
		target, ok := s.accounts[p.TargetID]
		if !ok {
			return fmt.Errorf("account: merge into unknown target %s", p.TargetID)
		}
		child.Cash -= p.Amount
		child.Status = domain.AccountClosed
		child.UpdatedAt = r.RecordedAt
		target.Cash += p.Amount
		target.UpdatedAt = r.RecordedAt
		return s.checkInvariants(target)

	case ledger.CategoryReinvestApplied:
		var p reinvestAppliedPayload
		if err := r.Decode(&p); err != nil {
			return err
		}
		a, ok := s.accounts[p.AccountID]
		if !ok {
			return fmt.Errorf("account: reinvestment for unknown account %s", p.AccountID)
		}
		a.ReservedCash += p.TaxReserve
		a.QuarterToDateRealised = 0
		a.UpdatedAt = r.RecordedAt
		return s.checkInvariants(a)

	default:
		// Categories owned by other components (orders, etc.) are not
		// this store's concern; it only cares about the subset above.
		return nil
	}
}

// --- public operations ---

// OpenAccount creates a new account (root or fork child) and appends the
// fact to the ledger.
func (s *Store) OpenAccount(ctx context.Context, cycleID, accountID string, kind domain.AccountKind, parentID, genealogyPath string, openingCapital float64) (*domain.Account, error) {
	payload := accountOpenedPayload{
		Kind:           kind,
		ParentID:       parentID,
		GenealogyPath:  genealogyPath,
		OpeningCapital: openingCapital,
	}
	if err := s.appendAndApply(ctx, cycleID, ledger.CategoryAccountOpened, accountID, "", "", payload); err != nil {
		return nil, err
	}
	return s.Account(accountID)
}

// SetAccountStatus transitions an account's lifecycle status.
func (s *Store) SetAccountStatus(ctx context.Context, cycleID, accountID string, status domain.AccountStatus) error {
	return s.appendAndApply(ctx, cycleID, ledger.CategoryAccountStatus, accountID, "", "", accountStatusPayload{Status: status})
}

// OpenPosition records a new option leg or share lot against an account,
// reserving collateral for short legs.
func (s *Store) OpenPosition(ctx context.Context, cycleID, accountID, positionID, symbol string, kind domain.PositionKind, strike float64, expiry time.Time, quantity int, openingCreditDebit float64, protocolLevel int) (*domain.Position, error) {
	payload := positionOpenedPayload{
		PositionID:         positionID,
		AccountID:          accountID,
		Symbol:             symbol,
		Kind:               kind,
		Strike:             strike,
		ExpiryUnix:         expiry.UTC().Unix(),
		Quantity:           quantity,
		OpeningCreditDebit: openingCreditDebit,
		ProtocolLevel:      protocolLevel,
	}
	if err := s.appendAndApply(ctx, cycleID, ledger.CategoryPositionOpened, accountID, positionID, "", payload); err != nil {
		return nil, err
	}
	return s.Position(positionID)
}

// ClosePosition closes a position and realizes its P/L into the owning
// account. The position's ClosedAtSeq is the closing ledger entry's own
// seq.
func (s *Store) ClosePosition(ctx context.Context, cycleID, accountID, positionID string, realizedPL float64) error {
	payload := positionClosedPayload{PositionID: positionID, RealizedPL: realizedPL}
	return s.appendAndApply(ctx, cycleID, ledger.CategoryPositionClosed, accountID, positionID, "", payload)
}

// AssignPosition exercises a short CSP position: the put closes and the
// shares it must deliver open as a new LongShares position in the same
// account, in one ledger fact. newPositionID names the share lot so
// callers (and any subsequent CC written against it) can reference it
// immediately without a second round trip through the store.
func (s *Store) AssignPosition(ctx context.Context, cycleID, accountID, positionID, newPositionID string) (*domain.Position, error) {
	s.mu.RLock()
	pos, ok := s.positions[positionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if pos.Kind != domain.PositionCSP {
		return nil, fmt.Errorf("account: assignment target %s is not a CSP position", positionID)
	}
	payload := positionAssignedPayload{
		PositionID:    positionID,
		NewPositionID: newPositionID,
		AccountID:     accountID,
		Symbol:        pos.Symbol,
		Strike:        pos.Strike,
		ShareQuantity: 100 * -pos.Quantity,
	}
	if err := s.appendAndApply(ctx, cycleID, ledger.CategoryPositionAssigned, accountID, positionID, "", payload); err != nil {
		return nil, err
	}
	return s.Position(newPositionID)
}

// ReserveCash increases an account's reserved cash (e.g. tax reserve,
// extra collateral) outside the position-open path.
func (s *Store) ReserveCash(ctx context.Context, cycleID, accountID string, amount float64) error {
	return s.appendAndApply(ctx, cycleID, ledger.CategoryCashReserved, accountID, "", "", cashReservedPayload{AccountID: accountID, Amount: amount})
}

// ReleaseCash decreases an account's reserved cash.
func (s *Store) ReleaseCash(ctx context.Context, cycleID, accountID string, amount float64) error {
	return s.appendAndApply(ctx, cycleID, ledger.CategoryCashReleased, accountID, "", "", cashReleasedPayload{AccountID: accountID, Amount: amount})
}

// ApplyFill marks a position's current price and moves cash for a
// partial or full fill.
func (s *Store) ApplyFill(ctx context.Context, cycleID, accountID, positionID string, fillPrice float64, filledQty int, cashDelta float64) error {
	payload := fillAppliedPayload{
		PositionID: positionID,
		AccountID:  accountID,
		FillPrice:  fillPrice,
		FilledQty:  filledQty,
		CashDelta:  cashDelta,
	}
	return s.appendAndApply(ctx, cycleID, ledger.CategoryFillApplied, accountID, positionID, "", payload)
}

// SetProtocolLevel records a position's new protocol escalation level
// (spec §4.8), logging it as an escalation or de-escalation depending on
// direction relative to the position's current level.
func (s *Store) SetProtocolLevel(ctx context.Context, cycleID, accountID, positionID string, newLevel int) error {
	s.mu.RLock()
	pos, ok := s.positions[positionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, positionID)
	}

	category := ledger.CategoryProtocolEscalated
	if newLevel < pos.ProtocolLevel {
		category = ledger.CategoryProtocolDeescalated
	}
	return s.appendAndApply(ctx, cycleID, category, accountID, positionID, "", protocolLevelPayload{
		PositionID: positionID, Level: newLevel,
	})
}

// ForkAccount spins up a new child account, debiting amount from parent's
// cash and crediting it as the child's opening capital, as a single
// ledger fact (spec §4.10: fork is atomic — one append, both sides of the
// transfer applied together or not at all).
func (s *Store) ForkAccount(ctx context.Context, cycleID, parentID, childID string, childKind domain.AccountKind, genealogyPath string, amount float64) (*domain.Account, error) {
	payload := accountForkedPayload{
		ParentID:      parentID,
		ChildID:       childID,
		ChildKind:     childKind,
		GenealogyPath: genealogyPath,
		Amount:        amount,
	}
	if err := s.appendAndApply(ctx, cycleID, ledger.CategoryAccountForked, parentID, "", "", payload); err != nil {
		return nil, err
	}
	return s.Account(childID)
}

// MergeAccount folds a child account's remaining cash into target and
// marks the child closed, as a single ledger fact (spec §4.10's
// MiniCompound merge-back-into-root-Compounder operation).
func (s *Store) MergeAccount(ctx context.Context, cycleID, childID, targetID string, amount float64) error {
	payload := accountMergedPayload{ChildID: childID, TargetID: targetID, Amount: amount}
	return s.appendAndApply(ctx, cycleID, ledger.CategoryAccountMerged, targetID, "", "", payload)
}

// ApplyReinvestment records a quarter's 30/70 tax/deployable split as a
// single ledger fact: the tax reserve moves into ReservedCash and the
// quarter-to-date realised counter resets, ready for the next quarter
// (spec §4.12). ContractsPortion and LEAPPortion are carried for audit
// and for the caller (the Reinvestment & Tax Reserver) to act on; they do
// not themselves move cash.
func (s *Store) ApplyReinvestment(ctx context.Context, cycleID, accountID string, quarterlyGain, taxReserve, contractsPortion, leapPortion float64) error {
	payload := reinvestAppliedPayload{
		AccountID:        accountID,
		QuarterlyGain:    quarterlyGain,
		TaxReserve:       taxReserve,
		ContractsPortion: contractsPortion,
		LEAPPortion:      leapPortion,
	}
	return s.appendAndApply(ctx, cycleID, ledger.CategoryReinvestApplied, accountID, "", "", payload)
}

// MarkToMarket updates a position's current mark without moving cash,
// for unrealized P/L reporting. It does not append to the ledger: marks
// are ephemeral market observations, not facts the system decided.
func (s *Store) MarkToMarket(positionID string, mark float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, positionID)
	}
	pos.CurrentMark = mark
	pos.UpdatedAt = at
	return nil
}

// Account returns a copy of the named account's current state.
func (s *Store) Account(accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	cp := *a
	return &cp, nil
}

// Position returns a copy of the named position's current state.
func (s *Store) Position(positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, positionID)
	}
	cp := *p
	return &cp, nil
}

// Accounts returns a copy of every account currently tracked, for
// callers (the operational HTTP surface's kill-all) that need to walk
// the full account set rather than look up one id at a time.
func (s *Store) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	return out
}

// Positions returns a copy of every position currently tracked, for
// callers (the Account State Machine's resume contract, protocol
// re-evaluation) that need to walk the full book rather than look up one
// id at a time.
func (s *Store) Positions() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// SharesHeld returns how many open LongShares an account holds of symbol,
// the quantity the Rules Engine's CC share-backing check and the weekly
// CSP/CC pivot decision both need.
func (s *Store) SharesHeld(accountID, symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0
	}
	total := 0
	for _, id := range a.OpenPositionIDs {
		pos, ok := s.positions[id]
		if !ok || pos.Status != domain.PositionOpen {
			continue
		}
		if pos.Kind == domain.PositionLongShare && pos.Symbol == symbol {
			total += pos.Quantity
		}
	}
	return total
}

// appendAndApply writes payload to the ledger, then applies the same fact
// to in-memory state via applyLocked — the identical function Replay uses
// at startup, so a live mutation and a recovered one are indistinguishable
// once applied.
func (s *Store) appendAndApply(ctx context.Context, cycleID string, category ledger.Category, accountID, positionID, orderID string, payload interface{}) error {
	seq, err := s.ledger.Append(ctx, cycleID, category, accountID, positionID, orderID, payload)
	if err != nil {
		return err
	}

	encoded, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("account: re-encode applied payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ledger.Record{
		Seq:        seq,
		CycleID:    cycleID,
		Category:   category,
		AccountID:  accountID,
		PositionID: positionID,
		OrderID:    orderID,
		Payload:    encoded,
		RecordedAt: time.Now().UTC(),
	})
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func (s *Store) checkInvariants(a *domain.Account) error {
	if a.Cash < a.ReservedCash {
		return fmt.Errorf("%w: account %s cash %.2f < reserved %.2f", ErrInvariantViolation, a.ID, a.Cash, a.ReservedCash)
	}
	if a.ReservedCash < 0 {
		return fmt.Errorf("%w: account %s reserved cash negative (%.2f)", ErrInvariantViolation, a.ID, a.ReservedCash)
	}

	sharesBySymbol := make(map[string]int)
	shortCCBySymbol := make(map[string]int)
	for _, id := range a.OpenPositionIDs {
		pos, ok := s.positions[id]
		if !ok || pos.Status != domain.PositionOpen {
			continue
		}
		switch pos.Kind {
		case domain.PositionLongShare:
			sharesBySymbol[pos.Symbol] += pos.Quantity
		case domain.PositionCC:
			shortCCBySymbol[pos.Symbol] += -pos.Quantity
		}
	}
	for symbol, shortContracts := range shortCCBySymbol {
		if needed := shortContracts * 100; sharesBySymbol[symbol] < needed {
			return fmt.Errorf("%w: account %s has %d short CC contracts on %s backed by only %d shares (need %d)",
				ErrInvariantViolation, a.ID, shortContracts, symbol, sharesBySymbol[symbol], needed)
		}
	}
	return nil
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
