// Package calendarfeed provides a mock implementation of
// internal/clock.EarningsFeed, the earnings-calendar half of spec §6's
// "Earnings/calendar interface" (holidays and market hours are computed
// directly by internal/clock from a fixed NYSE table rather than sourced
// externally, since that data does not vary by vendor). Grounded on
// internal/broker.MockBroker's shape: a small in-process stand-in with
// explicit seed/failure-injection hooks, standing in for the vendor
// feed spec §1 scopes out as an external collaborator.
package calendarfeed

import (
	"context"
	"sync"
)

// MockFeed is a deterministic earnings calendar: a fixed table of
// symbol/ISO-week pairs known to report earnings, installed by the
// caller (tests, or a startup seed file in the mock operational mode).
type MockFeed struct {
	mu          sync.RWMutex
	earnings    map[string]bool
	refreshErr  error
	refreshedAt int
}

// NewMockFeed constructs an empty MockFeed; use MarkEarnings to seed it.
func NewMockFeed() *MockFeed {
	return &MockFeed{earnings: make(map[string]bool)}
}

// MarkEarnings records that symbol reports earnings during isoWeek
// (format "YYYY-Www", matching clock.ISOWeek).
func (f *MockFeed) MarkEarnings(symbol, isoWeek string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.earnings[symbol+"|"+isoWeek] = true
}

// SetRefreshError makes every Refresh call fail with err until it is
// cleared, simulating a vendor outage; pass nil to clear it.
func (f *MockFeed) SetRefreshError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErr = err
}

// Refresh simulates re-pulling the calendar from a vendor. Succeeds
// unless SetRefreshError has injected a failure.
func (f *MockFeed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshedAt++
	return nil
}

// HasEarnings reports whether symbol reports earnings during isoWeek.
func (f *MockFeed) HasEarnings(symbol, isoWeek string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.earnings[symbol+"|"+isoWeek], nil
}

// RefreshCount returns how many times Refresh has succeeded, for tests
// asserting the per-cycle refresh discipline spec §4.1 requires.
func (f *MockFeed) RefreshCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.refreshedAt
}
