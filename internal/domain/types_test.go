package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

func TestPositionCollateral(t *testing.T) {
	csp := domain.Position{Kind: domain.PositionCSP, Strike: 178, Quantity: -3}
	assert.Equal(t, 178.0*100*3, csp.Collateral())

	longShares := domain.Position{Kind: domain.PositionLongShare, Strike: 178, Quantity: 300}
	assert.Equal(t, 0.0, longShares.Collateral())

	longCSP := domain.Position{Kind: domain.PositionCSP, Strike: 178, Quantity: 3}
	assert.Equal(t, 0.0, longCSP.Collateral())
}

func TestAccountAvailableCollateral(t *testing.T) {
	a := domain.Account{Cash: 120000, ReservedCash: 53400}
	assert.Equal(t, 66600.0, a.AvailableCollateral())
}

func TestOrderStatusIsTerminal(t *testing.T) {
	assert.True(t, domain.OrderFilled.IsTerminal())
	assert.True(t, domain.OrderCancelled.IsTerminal())
	assert.True(t, domain.OrderRejected.IsTerminal())
	assert.False(t, domain.OrderWorking.IsTerminal())
	assert.False(t, domain.OrderPending.IsTerminal())
}

func TestPositionIsShort(t *testing.T) {
	assert.True(t, domain.Position{Quantity: -1}.IsShort())
	assert.False(t, domain.Position{Quantity: 1}.IsShort())
}

func TestATRRecordFields(t *testing.T) {
	r := domain.ATRRecord{Symbol: "AAPL", Date: time.Now(), TrueRange: 2.1, ATR5: 2.4, FallbackTag: domain.ATRFresh}
	assert.Equal(t, domain.ATRFresh, r.FallbackTag)
}
