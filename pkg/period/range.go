package period

import (
	"time"

	errs "wallsync/pkg/errors"
)

// Range is an inclusive span of months
type Range struct {
	Start Period
	End   Period
}

// NewRange builds a month range; start must not be after end
func NewRange(start, end Period) (Range, error) {
	r := Range{Start: start.MonthOf(), End: end.MonthOf()}
	if r.Start.After(r.End) {
		return Range{}, errs.InvalidPeriod("range start %s is after end %s", r.Start, r.End)
	}
	return r, nil
}

// ParseRange parses both ends of a range
func ParseRange(start, end string) (Range, error) {
	s, err := Parse(start)
	if err != nil {
		return Range{}, err
	}
	e, err := Parse(end)
	if err != nil {
		return Range{}, err
	}
	return NewRange(s, e)
}

// DefaultRange covers the previous and the current month
func DefaultRange(now time.Time) Range {
	cur := Current(now)
	return Range{Start: cur.Prev(), End: cur}
}

// Months enumerates the range oldest to newest
func (r Range) Months() []Period {
	var months []Period
	for p := r.Start; !p.After(r.End); p = p.Next() {
		months = append(months, p)
	}
	return months
}

// Reversed enumerates the range newest to oldest
func (r Range) Reversed() []Period {
	months := r.Months()
	for i, j := 0, len(months)-1; i < j; i, j = i+1, j-1 {
		months[i], months[j] = months[j], months[i]
	}
	return months
}

// Contains reports whether p's month lies within the range
func (r Range) Contains(p Period) bool {
	m := p.MonthOf()
	return !m.Before(r.Start) && !m.After(r.End)
}

// Len returns the number of months in the range
func (r Range) Len() int {
	return (r.End.Year-r.Start.Year)*12 + int(r.End.Month) - int(r.Start.Month) + 1
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}
