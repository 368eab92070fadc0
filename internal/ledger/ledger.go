// Package ledger implements the append-only, cryptographically chained
// audit trail that is the system's single source of truth (spec component
// C2): every other store — accounts, positions, orders — holds a derived
// view rebuildable by replaying this log. The storage and transaction
// idiom is the teacher's internal/database package (WithTransaction,
// ProfileLedger's fsync-every-write PRAGMAs); the chaining and replay
// machinery is new to this domain.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/database"
)

// Category discriminates the kind of fact a ledger entry records. New
// components append new categories here rather than overloading an
// existing one — the category is part of the replay contract.
type Category string

const (
	CategoryAccountOpened     Category = "AccountOpened"
	CategoryAccountForked     Category = "AccountForked"
	CategoryAccountMerged     Category = "AccountMerged"
	CategoryAccountStatus     Category = "AccountStatusChanged"
	CategoryPositionOpened    Category = "PositionOpened"
	CategoryPositionClosed    Category = "PositionClosed"
	CategoryPositionRolled    Category = "PositionRolled"
	CategoryPositionAssigned  Category = "PositionAssigned"
	CategoryOrderSubmitted    Category = "OrderSubmitted"
	CategoryOrderFilled       Category = "OrderFilled"
	CategoryOrderCancelled    Category = "OrderCancelled"
	CategoryOrderRejected     Category = "OrderRejected"
	CategoryProtocolEscalated Category = "ProtocolEscalated"
	CategoryProtocolDeescalated Category = "ProtocolDeescalated"
	CategoryWeekClassified    Category = "WeekClassified"
	CategoryReinvestApplied   Category = "ReinvestmentApplied"
	CategoryTaxReserved       Category = "TaxReserved"
	CategoryLEAPRolled        Category = "LEAPRolled"
	CategoryATRPublished      Category = "ATRPublished"
	CategoryStateTransition   Category = "StateTransition"
	CategoryCashReserved      Category = "CashReserved"
	CategoryCashReleased      Category = "CashReleased"
	CategoryFillApplied       Category = "FillApplied"
	CategoryAdvisoryRecorded  Category = "AdvisoryRecorded"
)

// genesisHash is the prev_hash of the first entry in a fresh ledger.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

// Record is one fully-materialized ledger entry, as read back from storage.
type Record struct {
	Seq        int64
	CycleID    string
	Category   Category
	AccountID  string
	PositionID string
	OrderID    string
	Payload    []byte // msgpack-encoded; callers decode with msgpack.Unmarshal
	RecordedAt time.Time
	PrevHash   string
	EntryHash  string
}

// Decode unmarshals the record's payload into v.
func (r Record) Decode(v interface{}) error {
	return msgpack.Unmarshal(r.Payload, v)
}

// ErrChainBroken is returned by VerifyChain when an entry's hash does not
// match its predecessor — the trigger for system-wide SafeMode (spec §4.2).
var ErrChainBroken = fmt.Errorf("ledger: hash chain broken")

// Ledger is the append-only store. Zero value is not usable; construct
// with New.
type Ledger struct {
	db  *database.DB
	log zerolog.Logger
}

// New wraps db (expected to be opened with database.ProfileLedger) as a
// Ledger.
func New(db *database.DB, log zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: log.With().Str("component", "ledger").Logger()}
}

// Append writes record atomically, computing its hash from the current
// chain head, and returns the assigned sequence number. Writes are
// durable (fsync'd) before this call returns, per spec §4.2.
func (l *Ledger) Append(ctx context.Context, cycleID string, category Category, accountID, positionID, orderID string, payload interface{}) (int64, error) {
	encoded, err := msgpack.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode payload: %w", err)
	}

	var seq int64
	err = database.WithTransaction(l.db.Conn(), func(tx *sql.Tx) error {
		prevHash, txErr := headHashTx(ctx, tx)
		if txErr != nil {
			return txErr
		}

		recordedAt := time.Now().UTC()
		entryHash := computeEntryHash(prevHash, cycleID, category, accountID, positionID, orderID, encoded, recordedAt)

		res, txErr := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(cycle_id, category, account_id, position_id, order_id, payload, recorded_at, prev_hash, entry_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cycleID, string(category), nullable(accountID), nullable(positionID), nullable(orderID),
			encoded, recordedAt.UnixNano(), prevHash, entryHash)
		if txErr != nil {
			return fmt.Errorf("insert ledger entry: %w", txErr)
		}
		seq, txErr = res.LastInsertId()
		if txErr != nil {
			return fmt.Errorf("read assigned seq: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.log.Debug().Int64("seq", seq).Str("category", string(category)).Str("account_id", accountID).Msg("ledger entry appended")
	return seq, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func headHashTx(ctx context.Context, tx *sql.Tx) (string, error) {
	var hash string
	err := tx.QueryRowContext(ctx, `SELECT entry_hash FROM ledger_entries ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return genesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read chain head: %w", err)
	}
	return hash, nil
}

func computeEntryHash(prevHash string, cycleID string, category Category, accountID, positionID, orderID string, payload []byte, recordedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(cycleID))
	h.Write([]byte(category))
	h.Write([]byte(accountID))
	h.Write([]byte(positionID))
	h.Write([]byte(orderID))
	h.Write(payload)
	h.Write([]byte(recordedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// ReadSince streams every entry with seq > fromSeq, in order, invoking fn
// for each. fn returning an error halts the stream and propagates.
func (l *Ledger) ReadSince(ctx context.Context, fromSeq int64, fn func(Record) error) error {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, cycle_id, category, COALESCE(account_id,''), COALESCE(position_id,''),
		       COALESCE(order_id,''), payload, recorded_at, prev_hash, entry_hash
		FROM ledger_entries WHERE seq > ? ORDER BY seq ASC`, fromSeq)
	if err != nil {
		return fmt.Errorf("ledger: read since %d: %w", fromSeq, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		var category string
		var recordedAtNano int64
		if err := rows.Scan(&r.Seq, &r.CycleID, &category, &r.AccountID, &r.PositionID,
			&r.OrderID, &r.Payload, &recordedAtNano, &r.PrevHash, &r.EntryHash); err != nil {
			return fmt.Errorf("ledger: scan entry: %w", err)
		}
		r.Category = Category(category)
		r.RecordedAt = time.Unix(0, recordedAtNano).UTC()
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Snapshot returns the current chain head's sequence and hash — a compact
// fingerprint of the entire ledger's contents up to that point.
func (l *Ledger) Snapshot(ctx context.Context) (seq int64, stateHash string, err error) {
	row := l.db.QueryRowContext(ctx, `SELECT seq, entry_hash FROM ledger_entries ORDER BY seq DESC LIMIT 1`)
	if scanErr := row.Scan(&seq, &stateHash); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, genesisHash, nil
		}
		return 0, "", fmt.Errorf("ledger: snapshot: %w", scanErr)
	}
	return seq, stateHash, nil
}

// VerifyChain walks the entire ledger from the beginning and confirms
// every entry's hash matches the recomputation from its stored fields and
// its predecessor's hash. Returns ErrChainBroken at the first mismatch.
// Called at startup; a failure here must put the system into SafeMode
// and refuse any active-state transition (spec §4.2).
func (l *Ledger) VerifyChain(ctx context.Context) error {
	prevHash := genesisHash
	var verifyErr error
	err := l.ReadSince(ctx, 0, func(r Record) error {
		expected := computeEntryHash(prevHash, r.CycleID, r.Category, r.AccountID, r.PositionID, r.OrderID, r.Payload, r.RecordedAt)
		if expected != r.EntryHash {
			verifyErr = fmt.Errorf("%w: seq %d expected %s got %s", ErrChainBroken, r.Seq, expected, r.EntryHash)
			return verifyErr
		}
		prevHash = r.EntryHash
		return nil
	})
	if err != nil {
		return err
	}
	return verifyErr
}
