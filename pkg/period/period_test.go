package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "wallsync/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"202401", "202401", false},
		{"2024-01", "202401", false},
		{"20240229", "20240229", false},
		{"2024-02-29", "20240229", false},
		{" 200906 ", "200906", false},
		{"20230229", "", true},
		{"202413", "", true},
		{"202400", "", true},
		{"2024", "", true},
		{"2024ab", "", true},
		{"2024-0-1", "", true},
		{"20-2401", "", true},
		{"202401-15", "", true},
		{"2024-0115", "", true},
		{"2024--01", "", true},
		{"2024-01-", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsType(err, errs.ErrorTypeInvalidPeriod))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestNextPrevWrapYear(t *testing.T) {
	dec := MustParse("202312")
	assert.Equal(t, "202401", dec.Next().String())
	assert.Equal(t, "202312", dec.Next().Prev().String())

	jan := MustParse("202401")
	assert.Equal(t, "202312", jan.Prev().String())
}

func TestDayCount(t *testing.T) {
	tests := []struct {
		period string
		want   int
	}{
		{"202401", 31},
		{"202402", 29},
		{"202302", 28},
		{"190002", 28},
		{"200002", 29},
		{"202404", 30},
		{"202412", 31},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DayCount(MustParse(tt.period)), tt.period)
	}
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), MustParse("202402").LastDay())
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(MustParse("202312"), MustParse("202401")))
	assert.Equal(t, 1, Compare(MustParse("202402"), MustParse("202401")))
	assert.Equal(t, 0, Compare(MustParse("202401"), MustParse("2024-01")))
	assert.Equal(t, -1, Compare(MustParse("202401"), MustParse("20240101")))
	assert.Equal(t, -1, Compare(MustParse("20240101"), MustParse("20240102")))
}

func TestPastAndCurrent(t *testing.T) {
	now := time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)
	assert.True(t, MustParse("202609").IsPast(now))
	assert.False(t, MustParse("202610").IsPast(now))
	assert.True(t, MustParse("202610").IsCurrent(now))
	assert.True(t, MustParse("20261001").IsCurrent(now))
	assert.False(t, MustParse("202611").IsCurrent(now))
}

func TestPositionToDateEveryMonthLength(t *testing.T) {
	months := []string{"202401", "202402", "202302", "202404", "200002", "190002"}
	for _, m := range months {
		p := MustParse(m)
		days := p.Days()
		for pos := 1; pos <= days; pos++ {
			date, inMonth := PositionToDate(p, pos, days)
			assert.True(t, inMonth, "%s pos %d", m, pos)
			assert.Equal(t, days-pos+1, date.Day(), "%s pos %d", m, pos)
			assert.Equal(t, p.Month, date.Month())
		}
	}
}

func TestPositionToDateThirtyDayMonth(t *testing.T) {
	p := MustParse("202406")
	first, ok := PositionToDate(p, 1, 30)
	require.True(t, ok)
	assert.Equal(t, 30, first.Day())

	last, ok := PositionToDate(p, 30, 30)
	require.True(t, ok)
	assert.Equal(t, 1, last.Day())
}

func TestPositionToDateOvershoot(t *testing.T) {
	p := MustParse("202402")
	// 30 items listed for a 29-day month: the oldest lands on 31 January.
	date, ok := PositionToDate(p, 30, 30)
	assert.False(t, ok)
	assert.Equal(t, time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC), date)

	// 31 items: position 1 claims day 31, which does not exist in February.
	date, ok = PositionToDate(p, 1, 31)
	assert.False(t, ok)
	assert.Equal(t, time.March, date.Month())
}

func TestPositionToDateCountsFromListingTotal(t *testing.T) {
	// Ten days into March only ten items are listed; the newest is the 10th,
	// not the 31st.
	p := MustParse("202403")
	newest, ok := PositionToDate(p, 1, 10)
	require.True(t, ok)
	assert.Equal(t, 10, newest.Day())

	oldest, ok := PositionToDate(p, 10, 10)
	require.True(t, ok)
	assert.Equal(t, 1, oldest.Day())
}

func TestRange(t *testing.T) {
	r, err := ParseRange("202311", "202402")
	require.NoError(t, err)

	var got []string
	for _, m := range r.Months() {
		got = append(got, m.String())
	}
	assert.Equal(t, []string{"202311", "202312", "202401", "202402"}, got)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, "202402", r.Reversed()[0].String())

	assert.True(t, r.Contains(MustParse("20231215")))
	assert.False(t, r.Contains(MustParse("202403")))

	_, err = ParseRange("202402", "202311")
	assert.True(t, errs.IsType(err, errs.ErrorTypeInvalidPeriod))
}

func TestDefaultRange(t *testing.T) {
	now := time.Date(2026, time.January, 3, 0, 0, 0, 0, time.UTC)
	r := DefaultRange(now)
	assert.Equal(t, "202512", r.Start.String())
	assert.Equal(t, "202601", r.End.String())
}
