package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"wallsync/pkg/archive"
	"wallsync/pkg/catalog"
	"wallsync/pkg/config"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/logger"
	"wallsync/pkg/metadata"
	"wallsync/pkg/period"
	"wallsync/pkg/progress"
	"wallsync/pkg/reconcile"
)

// Fetcher is the part of the archive client the engine needs
type Fetcher interface {
	FetchListing(ctx context.Context, month period.Period) ([]archive.ListingEntry, error)
	FetchDetail(ctx context.Context, itemID string) (*archive.Detail, error)
	FetchImage(ctx context.Context, url string) ([]byte, error)
	CDNURL(month period.Period, itemID string) string
	HasCDN() bool
}

// ItemStorage is where fetched items land
type ItemStorage interface {
	IsPresent(filename string) bool
	WriteItem(r io.Reader, filename string) (int64, error)
}

// Catalog supplies the known entries of a month
type Catalog interface {
	Month(month period.Period) []catalog.Entry
}

// Observer is told about each item the engine works on
type Observer interface {
	ItemStarted(item catalog.Entry)
	ItemDone(item catalog.Entry, size int64)
	ItemFailed(item catalog.Entry, err error)
}

type nopObserver struct{}

func (nopObserver) ItemStarted(catalog.Entry)       {}
func (nopObserver) ItemDone(catalog.Entry, int64)   {}
func (nopObserver) ItemFailed(catalog.Entry, error) {}

// Options tune a Sync call
type Options struct {
	Strategy    string
	Reverse     bool
	Reset       bool
	DryRun      bool
	MinFileSize int64
}

// ItemResult is the outcome of a single item
type ItemResult struct {
	Entry    catalog.Entry
	Source   string
	Size     int64
	Duration time.Duration
	Error    error
}

// Result summarizes one Sync call
type Result struct {
	Fetched        int
	Skipped        int
	Failed         int
	Transient      int // failures worth trying again on a later run
	Bytes          int64
	SkippedPeriods []period.Period
	Failures       []*errs.Error
	Planned        []catalog.Entry
}

// Engine fetches missing items one at a time. It never marks a month done;
// that is left to reconciliation.
type Engine struct {
	fetcher  Fetcher
	storage  ItemStorage
	catalog  Catalog
	progress *progress.Manager
	meta     *metadata.Index
	opts     Options
	observer Observer
	logger   logger.Logger
	now      func() time.Time
}

// NewEngine creates a download engine. meta may be nil.
func NewEngine(
	fetcher Fetcher,
	storage ItemStorage,
	cat Catalog,
	pm *progress.Manager,
	meta *metadata.Index,
	opts Options,
	log logger.Logger,
) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Strategy == "" {
		opts.Strategy = config.StrategyDetailFirst
	}

	return &Engine{
		fetcher:  fetcher,
		storage:  storage,
		catalog:  cat,
		progress: pm,
		meta:     meta,
		opts:     opts,
		observer: nopObserver{},
		logger:   log.WithField("component", "downloader"),
		now:      time.Now,
	}
}

// SetObserver attaches a progress observer
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.observer = o
}

// SetClock overrides the engine's notion of now
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Sync fetches what is missing in r. When plan covers a month its missing
// list is used as is; otherwise the month's items come from the catalog, or
// from the live listing when the catalog has nothing for it.
func (e *Engine) Sync(ctx context.Context, r period.Range, plan *reconcile.Report) (*Result, error) {
	state, err := e.progress.Load()
	if err != nil {
		return nil, err
	}

	months := r.Months()
	if e.opts.Reverse {
		months = r.Reversed()
	}

	logger.LogComponentStart(e.logger, "downloader", map[string]interface{}{
		"range":    r.String(),
		"strategy": e.opts.Strategy,
		"reverse":  e.opts.Reverse,
		"dry_run":  e.opts.DryRun,
	})

	result := &Result{}
	for _, month := range months {
		if err := ctx.Err(); err != nil {
			return result, e.stop(state, err)
		}

		if state.IsDone(month) && !month.IsCurrent(e.now()) && !e.opts.Reset {
			e.logger.DebugWithFields("Month done, skipping", map[string]interface{}{
				"period": month.String(),
			})
			result.SkippedPeriods = append(result.SkippedPeriods, month)
			continue
		}

		items, err := e.itemsFor(ctx, month, plan)
		if err != nil {
			if ctx.Err() != nil {
				return result, e.stop(state, ctx.Err())
			}
			failure := errs.FetchFailure(month.String(), "", err)
			result.Failures = append(result.Failures, failure)
			e.logger.WithError(err).WarnWithFields("Could not list month items", map[string]interface{}{
				"period": month.String(),
			})
			continue
		}

		if err := e.syncMonth(ctx, month, items, state, result); err != nil {
			return result, e.stop(state, err)
		}
		if err := e.persist(state); err != nil {
			return result, err
		}
	}

	logger.LogComponentStop(e.logger, "downloader", "completed")
	e.logger.InfoWithFields("Sync complete", map[string]interface{}{
		"fetched":         result.Fetched,
		"skipped":         result.Skipped,
		"failed":          result.Failed,
		"skipped_periods": len(result.SkippedPeriods),
	})
	return result, nil
}

func (e *Engine) syncMonth(ctx context.Context, month period.Period, items []catalog.Entry, state *progress.State, result *Result) error {
	done := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.storage.IsPresent(item.Filename) {
			state.RecordItem(month, item.ItemID)
			result.Skipped++
			done++
			continue
		}

		if e.opts.DryRun {
			result.Planned = append(result.Planned, item)
			continue
		}

		e.observer.ItemStarted(item)
		res := e.fetchItem(ctx, item)
		logger.LogItem(e.logger, month.String(), item.ItemID, res.Source, res.Size, res.Error)
		if res.Error != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.observer.ItemFailed(item, res.Error)
			state.RecordFailure(month, item.ItemID)
			result.Failed++
			if transient(res.Error) {
				result.Transient++
			}
			result.Failures = append(result.Failures, errs.FetchFailure(month.String(), item.ItemID, res.Error))
			continue
		}

		e.observer.ItemDone(item, res.Size)
		state.RecordItem(month, item.ItemID)
		result.Fetched++
		result.Bytes += res.Size
		done++
	}

	if len(items) > 0 {
		logger.LogMonthProgress(e.logger, month.String(), done, len(items))
	}
	return nil
}

// itemsFor decides which entries of month to look at
func (e *Engine) itemsFor(ctx context.Context, month period.Period, plan *reconcile.Report) ([]catalog.Entry, error) {
	if plan != nil && plan.Range.Contains(month) {
		return plan.MissingIn(month), nil
	}
	if entries := e.catalog.Month(month); len(entries) > 0 {
		return entries, nil
	}

	listing, err := e.fetcher.FetchListing(ctx, month)
	if err != nil {
		return nil, err
	}
	entries, _ := catalog.MapListing(month, listing, len(listing))
	return entries, nil
}

// fetchItem downloads one item per the configured strategy and writes it
func (e *Engine) fetchItem(ctx context.Context, item catalog.Entry) ItemResult {
	start := e.now()
	res := ItemResult{Entry: item}

	var data []byte
	var detail *archive.Detail
	var err error

	switch e.opts.Strategy {
	case config.StrategyDirectOnly:
		data, res.Source, err = e.fromCDN(ctx, item)
	case config.StrategyCDNFirst:
		data, res.Source, err = e.fromCDN(ctx, item)
		if err != nil {
			var derr error
			data, res.Source, detail, derr = e.fromDetail(ctx, item)
			if derr != nil {
				err = fmt.Errorf("cdn: %v; detail: %w", err, derr)
			} else {
				err = nil
			}
		}
	default:
		data, res.Source, detail, err = e.fromDetail(ctx, item)
		if err != nil && e.fetcher.HasCDN() {
			var cerr error
			data, res.Source, cerr = e.fromCDN(ctx, item)
			if cerr != nil {
				err = fmt.Errorf("detail: %v; cdn: %w", err, cerr)
			} else {
				err = nil
			}
		}
	}
	if err != nil {
		res.Error = err
		res.Duration = e.now().Sub(start)
		return res
	}

	n, err := e.storage.WriteItem(bytes.NewReader(data), item.Filename)
	if err != nil {
		res.Error = fmt.Errorf("save failed: %w", err)
		res.Duration = e.now().Sub(start)
		return res
	}
	res.Size = n
	res.Duration = e.now().Sub(start)

	e.recordMetadata(item, detail, res)
	return res
}

func (e *Engine) fromCDN(ctx context.Context, item catalog.Entry) ([]byte, string, error) {
	if !e.fetcher.HasCDN() {
		return nil, "", fmt.Errorf("no CDN configured")
	}
	url := e.fetcher.CDNURL(item.Month, item.ItemID)
	data, err := e.fetcher.FetchImage(ctx, url)
	if err != nil {
		return nil, url, err
	}
	if !archive.LooksLikeJPEG(data, e.opts.MinFileSize) {
		return nil, url, errs.New(errs.ErrorTypeParsing, "payload from %s is not a JPEG of at least %d bytes", url, e.opts.MinFileSize)
	}
	return data, url, nil
}

func (e *Engine) fromDetail(ctx context.Context, item catalog.Entry) ([]byte, string, *archive.Detail, error) {
	detail, err := e.fetcher.FetchDetail(ctx, item.ItemID)
	if err != nil {
		return nil, "", nil, err
	}
	url, _, ok := detail.BestImageURL()
	if !ok {
		return nil, "", detail, errs.New(errs.ErrorTypeNotFound, "no image link at a preferred width for %s (page offers %v)", item.ItemID, detail.Widths())
	}
	data, err := e.fetcher.FetchImage(ctx, url)
	if err != nil {
		return nil, url, detail, err
	}
	if !archive.LooksLikeJPEG(data, e.opts.MinFileSize) {
		return nil, url, detail, errs.New(errs.ErrorTypeParsing, "payload from %s is not a JPEG of at least %d bytes", url, e.opts.MinFileSize)
	}
	return data, url, detail, nil
}

func (e *Engine) recordMetadata(item catalog.Entry, detail *archive.Detail, res ItemResult) {
	if e.meta == nil {
		return
	}
	meta := &metadata.ItemMetadata{
		ItemID:       item.ItemID,
		Month:        item.Month.String(),
		Filename:     item.Filename,
		SourceURL:    res.Source,
		FileSize:     res.Size,
		DownloadedAt: e.now().UTC(),
	}
	if !item.Date.IsZero() {
		meta.Date = item.DateKey()
	}
	if detail != nil && detail.Caption != "" {
		meta.SetCaption(detail.Caption)
	}
	e.meta.Put(meta)
}

// persist saves progress and the metadata sidecar
func (e *Engine) persist(state *progress.State) error {
	if e.opts.DryRun {
		return nil
	}
	if err := e.progress.Save(state); err != nil {
		return err
	}
	if e.meta != nil {
		if err := e.meta.Save(); err != nil {
			return err
		}
	}
	return nil
}

// stop saves what was done so far and returns cause
func (e *Engine) stop(state *progress.State, cause error) error {
	logger.LogComponentStop(e.logger, "downloader", cause.Error())
	if err := e.persist(state); err != nil {
		e.logger.WithError(err).Error("Failed to save progress on stop")
	}
	return cause
}

// transient reports whether a fetch error came from the network or the
// server rather than from the item itself
func transient(err error) bool {
	var e *errs.Error
	return errors.As(err, &e) && errs.IsRetryable(e.Type)
}
