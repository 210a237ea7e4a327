package reconcile

import (
	"context"
	"fmt"
	"time"

	"wallsync/pkg/catalog"
	"wallsync/pkg/logger"
	"wallsync/pkg/period"
	"wallsync/pkg/progress"
	"wallsync/pkg/storage"
)

// DiskIndex answers whether an item file is present
type DiskIndex interface {
	Has(filename string) bool
}

// MonthStatus is the audit of a single month
type MonthStatus struct {
	Month     period.Period
	Cataloged int
	Present   int
	Complete  bool
}

// Report is the outcome of one reconciliation
type Report struct {
	Range    period.Range
	Months   []MonthStatus
	Missing  []catalog.Entry
	Done     []period.Period
	Reopened []period.Period
	Present  int

	// NothingMissing lets callers skip the download step entirely
	NothingMissing bool
}

// MissingIn returns the missing entries of month, oldest first
func (r *Report) MissingIn(month period.Period) []catalog.Entry {
	month = month.MonthOf()
	var out []catalog.Entry
	for _, e := range r.Missing {
		if e.Month == month {
			out = append(out, e)
		}
	}
	return out
}

// Cataloged returns the number of entries the report looked at
func (r *Report) Cataloged() int {
	return r.Present + len(r.Missing)
}

// Reconcile audits entries against index and rewrites the done flags of
// state for every month of r. A month is complete when it has at least one
// entry, every entry is on disk and it is not the month of now. Complete
// months are marked done; every other month in range is reopened, so a
// month that lost a file since the last run becomes pending again.
// Entries outside r are ignored. Only state is modified.
func Reconcile(r period.Range, entries []catalog.Entry, index DiskIndex, state *progress.State, now time.Time) *Report {
	byMonth := make(map[period.Period][]catalog.Entry)
	for _, e := range entries {
		if r.Contains(e.Month) {
			byMonth[e.Month] = append(byMonth[e.Month], e)
		}
	}

	report := &Report{Range: r}
	for _, month := range r.Months() {
		status := MonthStatus{Month: month, Cataloged: len(byMonth[month])}

		for _, e := range byMonth[month] {
			if index.Has(e.Filename) {
				status.Present++
				state.RecordItem(month, e.ItemID)
				continue
			}
			report.Missing = append(report.Missing, e)
			state.DoneItems.Remove(progress.ItemKey(month, e.ItemID))
		}
		report.Present += status.Present

		status.Complete = status.Cataloged > 0 &&
			status.Present == status.Cataloged &&
			!month.IsCurrent(now)

		wasDone := state.IsDone(month)
		switch {
		case status.Complete:
			state.MarkDone(month)
			report.Done = append(report.Done, month)
		case wasDone:
			state.Reopen(month)
			report.Reopened = append(report.Reopened, month)
		default:
			state.Reopen(month)
		}

		report.Months = append(report.Months, status)
	}

	// the open month can never be done, even outside the audited range
	state.Reopen(period.Current(now))

	report.NothingMissing = len(report.Missing) == 0
	return report
}

// Engine runs reconciliation against the files on disk
type Engine struct {
	catalogPath string
	storage     *storage.Manager
	progress    *progress.Manager
	logger      logger.Logger
	now         func() time.Time
}

// NewEngine creates a reconciliation engine
func NewEngine(catalogPath string, store *storage.Manager, pm *progress.Manager, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Engine{
		catalogPath: catalogPath,
		storage:     store,
		progress:    pm,
		logger:      log.WithField("component", "reconcile"),
		now:         time.Now,
	}
}

// SetClock overrides the engine's notion of now
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run loads the catalog, rescans the output directory, reconciles the
// progress file for r and saves it.
func (e *Engine) Run(ctx context.Context, r period.Range) (*Report, error) {
	return e.run(ctx, r, true)
}

// Check is Run without writing the progress file
func (e *Engine) Check(ctx context.Context, r period.Range) (*Report, error) {
	return e.run(ctx, r, false)
}

func (e *Engine) run(ctx context.Context, r period.Range, save bool) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store, err := catalog.Load(e.catalogPath)
	if err != nil {
		return nil, err
	}
	index, err := e.storage.Rescan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan output directory: %w", err)
	}
	state, err := e.progress.Load()
	if err != nil {
		return nil, err
	}

	report := Reconcile(r, store.InRange(r), index, state, e.now())

	for _, month := range report.Reopened {
		e.logger.WarnWithFields("Month reopened, files missing", map[string]interface{}{
			"period":  month.String(),
			"missing": len(report.MissingIn(month)),
		})
	}
	for _, m := range report.Months {
		if m.Cataloged == 0 {
			e.logger.DebugWithFields("Month has no catalog entries", map[string]interface{}{
				"period": m.Month.String(),
			})
		}
	}

	if save {
		if err := e.progress.Save(state); err != nil {
			return nil, err
		}
	}

	e.logger.InfoWithFields("Reconciliation complete", map[string]interface{}{
		"range":           r.String(),
		"cataloged":       report.Cataloged(),
		"present":         report.Present,
		"missing":         len(report.Missing),
		"done":            len(report.Done),
		"reopened":        len(report.Reopened),
		"nothing_missing": report.NothingMissing,
	})
	return report, nil
}
