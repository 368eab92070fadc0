package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/clock"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
)

type fakeFeed struct {
	refreshErr error
	earnings   map[string]bool
}

func (f *fakeFeed) Refresh(ctx context.Context) error { return f.refreshErr }

func (f *fakeFeed) HasEarnings(symbol, isoWeek string) (bool, error) {
	return f.earnings[symbol+"|"+isoWeek], nil
}

func mustClock(t *testing.T, feed clock.EarningsFeed) *clock.Clock {
	t.Helper()
	c, err := clock.New(feed)
	require.NoError(t, err)
	return c
}

func nyTime(t *testing.T, y int, m time.Month, d, h, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(y, m, d, h, min, 0, 0, loc)
}

func TestIsMarketOpenDuringSession(t *testing.T) {
	c := mustClock(t, &fakeFeed{})
	open := nyTime(t, 2026, time.February, 3, 10, 0) // a Tuesday
	assert.True(t, c.IsMarketOpen(open))
}

func TestIsMarketOpenRejectsWeekend(t *testing.T) {
	c := mustClock(t, &fakeFeed{})
	sat := nyTime(t, 2026, time.February, 7, 10, 0)
	assert.False(t, c.IsMarketOpen(sat))
}

func TestIsMarketOpenRejectsHoliday(t *testing.T) {
	c := mustClock(t, &fakeFeed{})
	newYear := nyTime(t, 2026, time.January, 1, 10, 0)
	assert.True(t, c.IsSafeHoliday(newYear))
	assert.False(t, c.IsMarketOpen(newYear))
}

func TestIsMarketOpenBeforeAndAfterHours(t *testing.T) {
	c := mustClock(t, &fakeFeed{})
	before := nyTime(t, 2026, time.February, 3, 9, 0)
	after := nyTime(t, 2026, time.February, 3, 16, 30)
	assert.False(t, c.IsMarketOpen(before))
	assert.False(t, c.IsMarketOpen(after))
}

func TestThanksgivingEarlyClose(t *testing.T) {
	c := mustClock(t, &fakeFeed{})
	// Thanksgiving 2026 is Nov 26; day before (Nov 25) closes at 13:00.
	dayBefore := nyTime(t, 2026, time.November, 25, 13, 30)
	assert.False(t, c.IsMarketOpen(dayBefore))
	stillOpen := nyTime(t, 2026, time.November, 25, 12, 0)
	assert.True(t, c.IsMarketOpen(stillOpen))
}

func TestNextEntryWindowGenerator(t *testing.T) {
	c := mustClock(t, &fakeFeed{})
	from := nyTime(t, 2026, time.February, 2, 8, 0) // a Monday
	open, close, err := c.NextEntryWindow(domain.KindGenerator, from)
	require.NoError(t, err)
	assert.Equal(t, time.Thursday, open.Weekday())
	assert.Equal(t, 9, open.Hour())
	assert.Equal(t, 45, open.Minute())
	assert.Equal(t, 11, close.Hour())
}

func TestInEntryWindow(t *testing.T) {
	c := mustClock(t, &fakeFeed{})
	inside := nyTime(t, 2026, time.February, 5, 10, 0) // Thursday
	ok, err := c.InEntryWindow(domain.KindGenerator, inside)
	require.NoError(t, err)
	assert.True(t, ok)

	outside := nyTime(t, 2026, time.February, 5, 12, 0)
	ok, err = c.InEntryWindow(domain.KindGenerator, outside)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasEarningsRequiresFreshCalendar(t *testing.T) {
	c := mustClock(t, &fakeFeed{earnings: map[string]bool{"AAPL|2026-W06": true}})
	_, err := c.HasEarnings("AAPL", "2026-W06")
	assert.ErrorIs(t, err, clock.ErrCalendarUnknown)

	require.NoError(t, c.RefreshCalendar(context.Background()))
	has, err := c.HasEarnings("AAPL", "2026-W06")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = c.HasEarnings("MSFT", "2026-W06")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHasEarningsPropagatesRefreshFailure(t *testing.T) {
	c := mustClock(t, &fakeFeed{refreshErr: assertErr})
	err := c.RefreshCalendar(context.Background())
	assert.Error(t, err)
	_, err = c.HasEarnings("AAPL", "2026-W06")
	assert.ErrorIs(t, err, clock.ErrCalendarUnknown)
}

var assertErr = &stubErr{"feed unavailable"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
