package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolLevelChangedDataPicksEventTypeFromDirection(t *testing.T) {
	up := &ProtocolLevelChangedData{FromLevel: 0, ToLevel: 2}
	assert.Equal(t, ProtocolEscalated, up.EventType())

	down := &ProtocolLevelChangedData{FromLevel: 2, ToLevel: 0}
	assert.Equal(t, ProtocolDeescalated, down.EventType())
}

func TestOrderTerminalDataPicksEventTypeFromStatus(t *testing.T) {
	filled := &OrderTerminalData{Status: "Filled"}
	assert.Equal(t, OrderFilled, filled.EventType())

	rejected := &OrderTerminalData{Status: "Rejected"}
	assert.Equal(t, OrderRejected, rejected.EventType())

	cancelled := &OrderTerminalData{Status: "Cancelled"}
	assert.Equal(t, OrderRejected, cancelled.EventType())
}

func TestEventWithDataRoundTripsConcreteType(t *testing.T) {
	original := &EventWithData{
		Type:      AccountForked,
		Timestamp: time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
		AccountID: "gen-1",
		Data: &AccountForkedData{
			ParentID:      "gen-1",
			ChildID:       "mini-1",
			ChildKind:     "MiniCompound",
			GenealogyPath: "root/mini-1",
			Amount:        100000,
		},
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	forked, ok := decoded.Data.(*AccountForkedData)
	require.True(t, ok, "expected *AccountForkedData, got %T", decoded.Data)
	assert.Equal(t, "gen-1", forked.ParentID)
	assert.Equal(t, "mini-1", forked.ChildID)
	assert.Equal(t, 100000.0, forked.Amount)
	assert.Equal(t, "root/mini-1", forked.GenealogyPath)
	assert.Equal(t, AccountForked, decoded.Type)
}

func TestEventWithDataFallsBackToGenericForUnknownType(t *testing.T) {
	raw := []byte(`{"type":"something_new","timestamp":"2026-02-01T09:30:00Z","data":{"foo":"bar"}}`)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok, "expected *GenericEventData, got %T", decoded.Data)
	assert.Equal(t, "bar", generic.Data["foo"])
}

func TestWeekClassifiedDataRoundTrips(t *testing.T) {
	data := WeekClassifiedData{AccountID: "rev-1", WeekOf: "2026-02-02", Label: "CalmIncome"}

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded WeekClassifiedData
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, data, decoded)
}
