// Package events defines the typed, JSON-serializable notifications the
// engine broadcasts to external observers (the operational HTTP surface's
// event stream, and any future subscriber) as a side channel alongside
// the ledger — the ledger is the system of record, these are a best-
// effort fan-out of the same facts for observability. Grounded on the
// teacher's internal/events package: EventType discriminates the
// payload, EventData is the typed-payload interface, and
// EventWithData's custom (Un)MarshalJSON round-trips the right concrete
// type through a generic envelope.
package events

import (
	"encoding/json"
	"time"
)

// EventType discriminates the payload an EventWithData envelope carries.
type EventType string

const (
	StateTransitioned    EventType = "state_transitioned"
	ProtocolEscalated    EventType = "protocol_escalated"
	ProtocolDeescalated  EventType = "protocol_deescalated"
	OrderFilled          EventType = "order_filled"
	OrderRejected        EventType = "order_rejected"
	AccountForked        EventType = "account_forked"
	AccountMerged        EventType = "account_merged"
	ReinvestmentApplied  EventType = "reinvestment_applied"
	WeekClassified       EventType = "week_classified"
	SystemModeChanged    EventType = "system_mode_changed"
	EmergencyTriggered   EventType = "emergency_triggered"
	LedgerIntegrityAlarm EventType = "ledger_integrity_alarm"
	ErrorOccurred        EventType = "error_occurred"
)

// EventData is the interface every typed event payload implements.
type EventData interface {
	EventType() EventType
}

// StateTransitionedData reports an account's lifecycle state change
// (spec §4.11).
type StateTransitionedData struct {
	AccountID string `json:"account_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
}

func (d *StateTransitionedData) EventType() EventType { return StateTransitioned }

// ProtocolLevelChangedData reports a position's protocol-level escalation
// or de-escalation (spec §4.8).
type ProtocolLevelChangedData struct {
	PositionID string `json:"position_id"`
	AccountID  string `json:"account_id"`
	FromLevel  int    `json:"from_level"`
	ToLevel    int    `json:"to_level"`
	Reason     string `json:"reason"`
}

func (d *ProtocolLevelChangedData) EventType() EventType {
	if d.ToLevel > d.FromLevel {
		return ProtocolEscalated
	}
	return ProtocolDeescalated
}

// OrderTerminalData reports an order reaching a terminal state (spec
// §4.7).
type OrderTerminalData struct {
	ClientID  string  `json:"client_id"`
	AccountID string  `json:"account_id"`
	Symbol    string  `json:"symbol"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

func (d *OrderTerminalData) EventType() EventType {
	if d.Status == "Rejected" || d.Status == "Cancelled" {
		return OrderRejected
	}
	return OrderFilled
}

// AccountForkedData reports a fork event (spec §4.10).
type AccountForkedData struct {
	ParentID      string  `json:"parent_id"`
	ChildID       string  `json:"child_id"`
	ChildKind     string  `json:"child_kind"`
	GenealogyPath string  `json:"genealogy_path"`
	Amount        float64 `json:"amount"`
}

func (d *AccountForkedData) EventType() EventType { return AccountForked }

// AccountMergedData reports a merge event (spec §4.10).
type AccountMergedData struct {
	ChildID  string  `json:"child_id"`
	TargetID string  `json:"target_id"`
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason"`
}

func (d *AccountMergedData) EventType() EventType { return AccountMerged }

// ReinvestmentAppliedData reports a quarterly reinvestment split (spec
// §4.12).
type ReinvestmentAppliedData struct {
	AccountID        string  `json:"account_id"`
	QuarterlyGain    float64 `json:"quarterly_gain"`
	TaxReserve       float64 `json:"tax_reserve"`
	ContractsPortion float64 `json:"contracts_portion"`
	LEAPPortion      float64 `json:"leap_portion"`
}

func (d *ReinvestmentAppliedData) EventType() EventType { return ReinvestmentApplied }

// WeekClassifiedData reports an account-week's terminal classification
// (spec §4.6, GLOSSARY "Week type").
type WeekClassifiedData struct {
	AccountID string `json:"account_id"`
	WeekOf    string `json:"week_of"`
	Label     string `json:"label"`
}

func (d *WeekClassifiedData) EventType() EventType { return WeekClassified }

// SystemModeChangedData reports a system-wide circuit-breaker transition
// (spec §4.8's VIX-driven Normal/Hedge/Safe/Kill ladder).
type SystemModeChangedData struct {
	FromMode string `json:"from_mode"`
	ToMode   string `json:"to_mode"`
	Reason   string `json:"reason"`
}

func (d *SystemModeChangedData) EventType() EventType { return SystemModeChanged }

// EmergencyTriggeredData reports an account or process-wide EMERGENCY
// transition (spec §4.11, §7).
type EmergencyTriggeredData struct {
	AccountID string `json:"account_id,omitempty"`
	Reason    string `json:"reason"`
}

func (d *EmergencyTriggeredData) EventType() EventType { return EmergencyTriggered }

// LedgerIntegrityAlarmData reports a failed hash-chain verification
// (spec §7's "Ledger integrity failure" error kind).
type LedgerIntegrityAlarmData struct {
	AtSeq  int64  `json:"at_seq"`
	Reason string `json:"reason"`
}

func (d *LedgerIntegrityAlarmData) EventType() EventType { return LedgerIntegrityAlarm }

// ErrorEventData carries an out-of-band operational error not tied to a
// specific ledger category.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// EventWithData is the wire envelope for one broadcast event.
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id,omitempty"`
	Data      EventData `json:"data"`
}

// MarshalJSON flattens Data into the envelope's "data" field.
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}
	return json.Marshal(aux)
}

// UnmarshalJSON reconstructs the concrete EventData type from Type.
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case StateTransitioned:
		eventData = &StateTransitionedData{}
	case ProtocolEscalated, ProtocolDeescalated:
		eventData = &ProtocolLevelChangedData{}
	case OrderFilled, OrderRejected:
		eventData = &OrderTerminalData{}
	case AccountForked:
		eventData = &AccountForkedData{}
	case AccountMerged:
		eventData = &AccountMergedData{}
	case ReinvestmentApplied:
		eventData = &ReinvestmentAppliedData{}
	case WeekClassified:
		eventData = &WeekClassifiedData{}
	case SystemModeChanged:
		eventData = &SystemModeChangedData{}
	case EmergencyTriggered:
		eventData = &EmergencyTriggeredData{}
	case LedgerIntegrityAlarm:
		eventData = &LedgerIntegrityAlarmData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	default:
		var rawData map[string]interface{}
		if err := json.Unmarshal(aux.Data, &rawData); err != nil {
			return err
		}
		eventData = &GenericEventData{Type: aux.Type, Data: rawData}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for event types this package does not
// know how to decode.
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

func (d *GenericEventData) EventType() EventType { return d.Type }

func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
