package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	errs "wallsync/pkg/errors"
)

// Period is a calendar month, or a single day when Day is non-zero
type Period struct {
	Year  int
	Month time.Month
	Day   int
}

// Of returns the month period for year and month
func Of(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// FromTime returns the month containing t
func FromTime(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// DayOf returns the day period containing t
func DayOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Current returns the month that is still open at now
func Current(now time.Time) Period {
	return FromTime(now)
}

// Parse accepts YYYYMM, YYYYMMDD, YYYY-MM and YYYY-MM-DD
func Parse(text string) (Period, error) {
	s, ok := compact(strings.TrimSpace(text))
	if !ok || (len(s) != 6 && len(s) != 8) {
		return Period{}, errs.InvalidPeriod("malformed period %q", text)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Period{}, errs.InvalidPeriod("malformed period %q", text)
		}
	}

	year, _ := strconv.Atoi(s[:4])
	month, _ := strconv.Atoi(s[4:6])
	if year < 1 || month < 1 || month > 12 {
		return Period{}, errs.InvalidPeriod("period %q out of range", text)
	}
	p := Period{Year: year, Month: time.Month(month)}

	if len(s) == 8 {
		day, _ := strconv.Atoi(s[6:])
		if day < 1 || day > p.Days() {
			return Period{}, errs.InvalidPeriod("day out of range in %q", text)
		}
		p.Day = day
	}
	return p, nil
}

// compact drops the separators of the dashed forms. Dashes are only valid
// after the year and after the month.
func compact(s string) (string, bool) {
	if !strings.Contains(s, "-") {
		return s, true
	}
	switch {
	case len(s) == 7 && s[4] == '-':
		return s[:4] + s[5:], true
	case len(s) == 10 && s[4] == '-' && s[7] == '-':
		return s[:4] + s[5:7] + s[8:], true
	}
	return "", false
}

// MustParse is Parse for constants; it panics on bad input
func MustParse(text string) Period {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical YYYYMM or YYYYMMDD form
func (p Period) String() string {
	if p.Day > 0 {
		return fmt.Sprintf("%04d%02d%02d", p.Year, int(p.Month), p.Day)
	}
	return fmt.Sprintf("%04d%02d", p.Year, int(p.Month))
}

// IsDay reports whether p names a single day
func (p Period) IsDay() bool {
	return p.Day > 0
}

// MonthOf drops the day component
func (p Period) MonthOf() Period {
	return Period{Year: p.Year, Month: p.Month}
}

// Next returns the following month
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Prev returns the preceding month
func (p Period) Prev() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Days returns the number of days in the month of p
func (p Period) Days() int {
	return DayCount(p)
}

// DayCount returns the number of days in the month of p, leap years included
func DayCount(p Period) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Start returns midnight UTC on the first day of the month
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Date returns the calendar date for day within the month. Days outside
// 1..Days() normalize into the neighbouring month.
func (p Period) Date(day int) time.Time {
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, time.UTC)
}

// LastDay returns the final date of the month
func (p Period) LastDay() time.Time {
	return p.Date(p.Days())
}

// Compare returns -1, 0 or +1. A month sorts before its own days.
func Compare(a, b Period) int {
	switch {
	case a.Year != b.Year:
		return sign(a.Year - b.Year)
	case a.Month != b.Month:
		return sign(int(a.Month) - int(b.Month))
	default:
		return sign(a.Day - b.Day)
	}
}

// Before reports whether p sorts strictly before o
func (p Period) Before(o Period) bool {
	return Compare(p, o) < 0
}

// After reports whether p sorts strictly after o
func (p Period) After(o Period) bool {
	return Compare(p, o) > 0
}

// IsPast reports whether p's month ended before the month of now
func (p Period) IsPast(now time.Time) bool {
	return p.MonthOf().Before(Current(now))
}

// IsCurrent reports whether p's month is the month of now
func (p Period) IsCurrent(now time.Time) bool {
	return p.MonthOf() == Current(now)
}

// PositionToDate maps a listing position (1 = most recent) to a calendar
// date: day = total - position + 1. The bool is false when the result falls
// outside the month; the date is still returned, normalized by time.Date.
func PositionToDate(p Period, position, total int) (time.Time, bool) {
	day := total - position + 1
	return p.Date(day), day >= 1 && day <= p.Days()
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
