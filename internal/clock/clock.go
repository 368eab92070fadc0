// Package clock implements the market-hours, holiday, and weekly-cadence
// gate that every other component consults before acting (spec component
// C1). It follows the teacher's market_hours module in spirit — a
// self-contained calendar service with a cached holiday table per year —
// but narrows scope to the single NYSE/Nasdaq calendar this engine trades
// against, and adds the entry-window-per-sleeve and earnings-refresh
// concerns the original brokerage service did not need.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

// ErrCalendarUnknown is returned whenever the clock cannot assert a fact
// about market state with confidence — an unrefreshed or failed earnings
// feed, a missing session boundary. Callers must treat this as "abort the
// cycle", never fall back to assuming the market is open.
var ErrCalendarUnknown = errors.New("clock: calendar state unknown")

const sessionOpenHour, sessionOpenMinute = 9, 30
const sessionCloseHour, sessionCloseMinute = 16, 0
const earlyCloseHour, earlyCloseMinute = 13, 0

// EntryWindow is the Thursday/Wednesday/Monday 09:45-11:00 local window a
// sleeve is permitted to open new positions in (spec §4.5.1).
type EntryWindow struct {
	Weekday   time.Weekday
	StartHour int
	StartMin  int
	EndHour   int
	EndMin    int
}

var entryWindows = map[domain.AccountKind]EntryWindow{
	domain.KindGenerator:  {Weekday: time.Thursday, StartHour: 9, StartMin: 45, EndHour: 11, EndMin: 0},
	domain.KindRevenue:    {Weekday: time.Wednesday, StartHour: 9, StartMin: 45, EndHour: 11, EndMin: 0},
	domain.KindCompounder: {Weekday: time.Monday, StartHour: 9, StartMin: 45, EndHour: 11, EndMin: 0},
}

// EarningsFeed is the external collaborator that answers "does this symbol
// report earnings during this ISO week". Calendar data is externally
// sourced per spec §4.1; production wires this to a market-data vendor,
// tests and calendarfeed.MockFeed wire a fixed table.
type EarningsFeed interface {
	Refresh(ctx context.Context) error
	HasEarnings(symbol string, isoWeek string) (bool, error)
}

// Clock is the wall-clock and calendar gate. Zero value is not usable;
// construct with New.
type Clock struct {
	loc   *time.Location
	feed  EarningsFeed
	now   func() time.Time // overridable for deterministic tests
	mu    sync.RWMutex
	holCache    map[int][]time.Time
	earlyCache  map[int][]time.Time
	feedFresh   bool
	feedErr     error
}

// New builds a Clock for America/New_York using feed as the earnings
// calendar source.
func New(feed EarningsFeed) (*Clock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("clock: load location: %w", err)
	}
	return &Clock{
		loc:        loc,
		feed:       feed,
		now:        time.Now,
		holCache:   make(map[int][]time.Time),
		earlyCache: make(map[int][]time.Time),
	}, nil
}

// Now returns the current wall time.
func (c *Clock) Now() time.Time {
	return c.now()
}

// RefreshCalendar must be called once before each scanning cycle (spec
// §4.1: "Calendar data is externally sourced and refreshed before each
// cycle"). A failed refresh poisons HasEarnings until the next successful
// call.
func (c *Clock) RefreshCalendar(ctx context.Context) error {
	err := c.feed.Refresh(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedFresh = err == nil
	c.feedErr = err
	if err != nil {
		return fmt.Errorf("clock: refresh calendar: %w", err)
	}
	return nil
}

// IsMarketOpen reports whether the NYSE/Nasdaq session is open at t.
func (c *Clock) IsMarketOpen(t time.Time) bool {
	mt := t.In(c.loc)
	if mt.Weekday() == time.Saturday || mt.Weekday() == time.Sunday {
		return false
	}
	if c.IsSafeHoliday(mt) {
		return false
	}
	open := time.Date(mt.Year(), mt.Month(), mt.Day(), sessionOpenHour, sessionOpenMinute, 0, 0, c.loc)
	closeT := time.Date(mt.Year(), mt.Month(), mt.Day(), sessionCloseHour, sessionCloseMinute, 0, 0, c.loc)
	if c.isEarlyCloseDay(mt) {
		closeT = time.Date(mt.Year(), mt.Month(), mt.Day(), earlyCloseHour, earlyCloseMinute, 0, 0, c.loc)
	}
	if mt.Before(open) || !mt.Before(closeT) {
		return false
	}
	return true
}

// IsSafeHoliday reports whether t's date is a full-market-closure holiday.
func (c *Clock) IsSafeHoliday(t time.Time) bool {
	mt := t.In(c.loc)
	for _, h := range c.holidaysForYear(mt.Year()) {
		if isSameDate(h, mt) {
			return true
		}
	}
	return false
}

func (c *Clock) isEarlyCloseDay(mt time.Time) bool {
	for _, d := range c.earlyCloseDaysForYear(mt.Year()) {
		if isSameDate(d, mt) {
			return true
		}
	}
	return false
}

func (c *Clock) holidaysForYear(year int) []time.Time {
	c.mu.RLock()
	if h, ok := c.holCache[year]; ok {
		c.mu.RUnlock()
		return h
	}
	c.mu.RUnlock()

	h := nyseHolidays(year)
	c.mu.Lock()
	c.holCache[year] = h
	c.mu.Unlock()
	return h
}

func (c *Clock) earlyCloseDaysForYear(year int) []time.Time {
	c.mu.RLock()
	if d, ok := c.earlyCache[year]; ok {
		c.mu.RUnlock()
		return d
	}
	c.mu.RUnlock()

	d := nyseEarlyCloseDays(year)
	c.mu.Lock()
	c.earlyCache[year] = d
	c.mu.Unlock()
	return d
}

// NextEntryWindow returns the next (open, close) bounds of kind's weekly
// entry window at or after from. Looks up to 8 days ahead; holidays push
// the window to the next matching weekday in a later week.
func (c *Clock) NextEntryWindow(kind domain.AccountKind, from time.Time) (time.Time, time.Time, error) {
	w, ok := entryWindows[kind]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("clock: no entry window defined for account kind %q", kind)
	}
	mt := from.In(c.loc)
	for i := 0; i <= 8; i++ {
		day := mt.AddDate(0, 0, i)
		if day.Weekday() != w.Weekday {
			continue
		}
		if c.IsSafeHoliday(day) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), w.StartHour, w.StartMin, 0, 0, c.loc)
		closeT := time.Date(day.Year(), day.Month(), day.Day(), w.EndHour, w.EndMin, 0, 0, c.loc)
		if closeT.Before(mt) {
			continue
		}
		return open, closeT, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("clock: no entry window found for %q within 8 days of %s", kind, from)
}

// InEntryWindow reports whether t falls inside kind's weekly entry window.
func (c *Clock) InEntryWindow(kind domain.AccountKind, t time.Time) (bool, error) {
	w, ok := entryWindows[kind]
	if !ok {
		return false, fmt.Errorf("clock: no entry window defined for account kind %q", kind)
	}
	mt := t.In(c.loc)
	if mt.Weekday() != w.Weekday {
		return false, nil
	}
	open := time.Date(mt.Year(), mt.Month(), mt.Day(), w.StartHour, w.StartMin, 0, 0, c.loc)
	closeT := time.Date(mt.Year(), mt.Month(), mt.Day(), w.EndHour, w.EndMin, 0, 0, c.loc)
	return !mt.Before(open) && mt.Before(closeT), nil
}

// HasEarnings reports whether symbol reports earnings during isoWeek.
// Returns ErrCalendarUnknown if the calendar has not been refreshed
// successfully this cycle — callers must abort, not assume no earnings.
func (c *Clock) HasEarnings(symbol, isoWeek string) (bool, error) {
	c.mu.RLock()
	fresh, ferr := c.feedFresh, c.feedErr
	c.mu.RUnlock()
	if !fresh {
		if ferr != nil {
			return false, fmt.Errorf("%w: %s", ErrCalendarUnknown, ferr)
		}
		return false, ErrCalendarUnknown
	}
	return c.feed.HasEarnings(symbol, isoWeek)
}

// ISOWeek formats t as "YYYY-Www" for week-classification and earnings
// lookups.
func ISOWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
