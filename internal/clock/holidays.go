package clock

import "time"

// calculateGregorianEaster returns the date of Easter Sunday for year,
// via the standard computus algorithm.
func calculateGregorianEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func calculateGoodFriday(year int) time.Time {
	return calculateGregorianEaster(year).AddDate(0, 0, -2)
}

// findNthWeekday finds the nth occurrence (1-indexed) of weekday in month/year.
func findNthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	date := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	date = date.AddDate(0, 0, daysToAdd)
	return date.AddDate(0, 0, (n-1)*7)
}

// findLastWeekday finds the last occurrence of weekday in month/year.
func findLastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	date := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	daysToSubtract := int(date.Weekday() - weekday)
	if daysToSubtract < 0 {
		daysToSubtract += 7
	}
	return date.AddDate(0, 0, -daysToSubtract)
}

// observeOnWeekday shifts a weekend holiday to the nearest weekday:
// Saturday moves back to Friday, Sunday forward to Monday.
func observeOnWeekday(date time.Time) time.Time {
	switch date.Weekday() {
	case time.Saturday:
		return date.AddDate(0, 0, -1)
	case time.Sunday:
		return date.AddDate(0, 0, 1)
	default:
		return date
	}
}

// nyseHolidays returns the NYSE/Nasdaq full-close holidays for a calendar
// year. The system trades exclusively US equities and options, so only one
// calendar is maintained (contrast with a multi-exchange port).
func nyseHolidays(year int) []time.Time {
	holidays := []time.Time{
		observeOnWeekday(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)),
		findNthWeekday(year, 1, time.Monday, 3),  // MLK Day
		findNthWeekday(year, 2, time.Monday, 3),  // Presidents Day
		calculateGoodFriday(year),
		findLastWeekday(year, 5, time.Monday), // Memorial Day
		observeOnWeekday(time.Date(year, 6, 19, 0, 0, 0, 0, time.UTC)),
		observeOnWeekday(time.Date(year, 7, 4, 0, 0, 0, 0, time.UTC)),
		findNthWeekday(year, 9, time.Monday, 1),   // Labor Day
		findNthWeekday(year, 11, time.Thursday, 4), // Thanksgiving
		observeOnWeekday(time.Date(year, 12, 25, 0, 0, 0, 0, time.UTC)),
	}
	return holidays
}

// nyseEarlyCloseDays returns the 13:00 ET early-close days for a year:
// the day before Thanksgiving, and Christmas Eve when it falls on a weekday.
func nyseEarlyCloseDays(year int) []time.Time {
	days := []time.Time{}
	thanksgiving := findNthWeekday(year, 11, time.Thursday, 4)
	days = append(days, thanksgiving.AddDate(0, 0, -1))

	christmasEve := time.Date(year, 12, 24, 0, 0, 0, 0, time.UTC)
	if christmasEve.Weekday() != time.Saturday && christmasEve.Weekday() != time.Sunday {
		days = append(days, christmasEve)
	}
	return days
}

func isSameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
