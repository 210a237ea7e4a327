package catalog

import (
	"context"
	"strings"
	"time"

	"wallsync/pkg/archive"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/logger"
	"wallsync/pkg/period"
)

// Lister fetches a month's archive listing, most recent item first
type Lister interface {
	FetchListing(ctx context.Context, month period.Period) ([]archive.ListingEntry, error)
}

// BuildResult summarizes one Build call
type BuildResult struct {
	Fetched  []period.Period
	Skipped  []period.Period
	Empty    []period.Period
	Entries  int
	Gaps     []*errs.Error
	Failures []*errs.Error
	Changed  bool
}

// Builder refreshes a Store from the remote archive
type Builder struct {
	store  *Store
	lister Lister
	logger logger.Logger
	now    func() time.Time
}

// NewBuilder creates a catalog builder
func NewBuilder(store *Store, lister Lister, log logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Builder{
		store:  store,
		lister: lister,
		logger: log.WithField("component", "catalog"),
		now:    time.Now,
	}
}

// SetClock overrides the builder's notion of now
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Build walks r oldest to newest. Past months that already hold one entry
// per day are skipped unless force is set; the current month is always
// fetched. A failed month is recorded and the walk continues. The store is
// saved once at the end if anything changed.
func (b *Builder) Build(ctx context.Context, r period.Range, force bool) (*BuildResult, error) {
	now := b.now()
	result := &BuildResult{}

	for _, month := range r.Months() {
		if err := ctx.Err(); err != nil {
			return result, b.finish(result, err)
		}

		if !force && month.IsPast(now) && b.store.Count(month) == period.DayCount(month) {
			b.logger.DebugWithFields("Month already cataloged", map[string]interface{}{
				"period":  month.String(),
				"entries": period.DayCount(month),
			})
			result.Skipped = append(result.Skipped, month)
			continue
		}

		listing, err := b.lister.FetchListing(ctx, month)
		if err != nil {
			if ctx.Err() != nil {
				return result, b.finish(result, ctx.Err())
			}
			failure := errs.FetchFailure(month.String(), "", err)
			result.Failures = append(result.Failures, failure)
			b.logger.WithError(err).WarnWithFields("Listing fetch failed", map[string]interface{}{
				"period": month.String(),
			})
			continue
		}
		result.Fetched = append(result.Fetched, month)

		if len(listing) == 0 {
			result.Empty = append(result.Empty, month)
			b.logger.InfoWithFields("No items listed", map[string]interface{}{
				"period": month.String(),
			})
			continue
		}

		entries, gap := MapListing(month, listing, expectedCount(month, now))
		collisions, changed := b.store.ReplaceMonth(month, entries)
		if len(collisions) > 0 {
			gap = appendCollisions(gap, month, collisions)
		}
		if gap != nil {
			result.Gaps = append(result.Gaps, gap)
			b.logger.WarnWithFields("Catalog gap", map[string]interface{}{
				"period": month.String(),
				"detail": gap.Message,
			})
		}

		result.Entries += len(entries) - len(collisions)
		result.Changed = result.Changed || changed

		b.logger.InfoWithFields("Month cataloged", map[string]interface{}{
			"period":  month.String(),
			"items":   len(listing),
			"changed": changed,
		})
	}

	return result, b.finish(result, nil)
}

func (b *Builder) finish(result *BuildResult, cause error) error {
	if result.Changed {
		if err := b.store.Save(); err != nil {
			return err
		}
	}
	return cause
}

// expectedCount is the number of items a month should list at now
func expectedCount(month period.Period, now time.Time) int {
	if month.IsCurrent(now) {
		return now.Day()
	}
	return period.DayCount(month)
}

// MapListing turns a listing into entries with day = total - position + 1.
// Every listed item gets a row, including dates that fall outside the month;
// a count that differs from expected or any such out-of-month date is
// returned as a CatalogGap.
func MapListing(month period.Period, listing []archive.ListingEntry, expected int) ([]Entry, *errs.Error) {
	total := len(listing)
	entries := make([]Entry, 0, total)
	outside := 0

	for i, item := range listing {
		position := item.Position
		if position == 0 {
			position = i + 1
		}
		date, ok := period.PositionToDate(month, position, total)
		if !ok {
			outside++
		}
		entries = append(entries, NewEntry(date, month, item.ItemID))
	}

	switch {
	case outside > 0:
		return entries, errs.CatalogGap(month.String(),
			"%d items listed for %d days, %d dates fall outside the month", total, month.Days(), outside)
	case total != expected:
		return entries, errs.CatalogGap(month.String(),
			"%d items listed, expected %d", total, expected)
	}
	return entries, nil
}

func appendCollisions(gap *errs.Error, month period.Period, collisions []Entry) *errs.Error {
	dates := make([]string, len(collisions))
	for i, c := range collisions {
		dates[i] = c.DateKey()
	}
	if gap == nil {
		gap = errs.CatalogGap(month.String(), "dates already owned by another month")
	}
	gap.Message += "; kept existing rows for " + strings.Join(dates, ", ")
	return gap
}
