package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/broker"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

func TestSubmitEmitsAck(t *testing.T) {
	b := broker.NewMockBroker()
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, broker.SubmitRequest{
		ClientID: "acct-1:OpenCSP:AAPL:20260205:178.0000:0",
		Intent:   domain.IntentOpenCSP,
		Symbol:   "AAPL",
		Strike:   178,
		Quantity: 3,
	}))

	select {
	case e := <-b.Events():
		assert.Equal(t, broker.EventAck, e.Kind)
		assert.NotEmpty(t, e.BrokerOrderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack event")
	}
}

func TestSubmitDuplicateClientIDRejected(t *testing.T) {
	b := broker.NewMockBroker()
	ctx := context.Background()
	req := broker.SubmitRequest{ClientID: "acct-1:OpenCSP:AAPL:20260205:178.0000:0"}

	require.NoError(t, b.Submit(ctx, req))
	err := b.Submit(ctx, req)
	assert.Error(t, err)
}

func TestAutoFillProducesFillEvent(t *testing.T) {
	b := broker.NewMockBroker()
	b.SetAutoFill(true)
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, broker.SubmitRequest{
		ClientID: "acct-1:OpenCSP:AAPL:20260205:178.0000:0", Quantity: 3, LimitPrice: 0.8,
	}))

	var kinds []broker.EventKind
	for i := 0; i < 2; i++ {
		select {
		case e := <-b.Events():
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []broker.EventKind{broker.EventAck, broker.EventFill}, kinds)
}

func TestCancelEmitsCancelledEvent(t *testing.T) {
	b := broker.NewMockBroker()
	ctx := context.Background()
	cid := "acct-1:OpenCSP:AAPL:20260205:178.0000:0"
	require.NoError(t, b.Submit(ctx, broker.SubmitRequest{ClientID: cid}))
	<-b.Events() // drain ack

	require.NoError(t, b.Cancel(ctx, cid))
	e := <-b.Events()
	assert.Equal(t, broker.EventCancelled, e.Kind)
}

func TestOpenClientIDsExcludesTerminalOrders(t *testing.T) {
	b := broker.NewMockBroker()
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, broker.SubmitRequest{ClientID: "a"}))
	require.NoError(t, b.Submit(ctx, broker.SubmitRequest{ClientID: "b"}))
	<-b.Events()
	<-b.Events()

	b.Fill("a", 1, 1.0)
	<-b.Events()

	ids, err := b.OpenClientIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}
