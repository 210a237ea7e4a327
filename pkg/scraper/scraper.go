package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"wallsync/internal/downloader"
	"wallsync/pkg/archive"
	"wallsync/pkg/catalog"
	"wallsync/pkg/config"
	"wallsync/pkg/logger"
	"wallsync/pkg/metadata"
	"wallsync/pkg/period"
	"wallsync/pkg/progress"
	"wallsync/pkg/ratelimit"
	"wallsync/pkg/reconcile"
	"wallsync/pkg/storage"
)

// ErrLocked is returned when another run holds the run lock
var ErrLocked = errors.New("another wallsync run is in progress")

// Options control a full Run
type Options struct {
	Range       period.Range
	Force       bool
	Reset       bool
	SkipCatalog bool
	DryRun      bool
}

// TodayResult is what the archive recorded for the current date
type TodayResult struct {
	Date     time.Time
	Entry    catalog.Entry
	Found    bool
	Present  bool
	Path     string
	Metadata *metadata.ItemMetadata
}

// totaler is implemented by observers that want the pending count up front
type totaler interface {
	SetTotal(n int)
}

// Scraper wires the catalog builder, reconciliation and the download engine
// together over one archive client and one output directory.
type Scraper struct {
	config   *config.Config
	client   *archive.Client
	pacer    *ratelimit.Pacer
	storage  *storage.Manager
	progress *progress.Manager
	lock     *flock.Flock
	lockPath string
	observer downloader.Observer
	logger   logger.Logger
	now      func() time.Time
}

// New creates a new Scraper instance
func New(cfg *config.Config, log logger.Logger) (*Scraper, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pacer := ratelimit.NewPacer(cfg.RateLimit.RequestDelay)
	store, err := storage.NewManager(cfg.Output.BaseDirectory, cfg.Output.ArchiveSubdirs, cfg.Output.MinFileSize)
	if err != nil {
		return nil, err
	}
	lockPath := cfg.Sync.StateFile + ".lock"

	return &Scraper{
		config:   cfg,
		client:   archive.NewClient(cfg.Archive, pacer, log),
		pacer:    pacer,
		storage:  store,
		progress: progress.NewManager(cfg.Sync.StateFile, log),
		lock:     flock.New(lockPath),
		lockPath: lockPath,
		logger:   log,
		now:      time.Now,
	}, nil
}

// SetObserver attaches a download progress observer
func (s *Scraper) SetObserver(o downloader.Observer) {
	s.observer = o
}

// SetClock overrides the scraper's notion of now
func (s *Scraper) SetClock(now func() time.Time) {
	s.now = now
	s.progress.SetClock(now)
}

// Requests returns how many archive requests have been made
func (s *Scraper) Requests() int {
	return s.pacer.Requests()
}

// Run refreshes the catalog, reconciles, downloads what is missing and
// reconciles again to settle the done flags.
func (s *Scraper) Run(ctx context.Context, opts Options) (*Summary, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	s.pacer.Reset()

	start := s.now()
	runID := uuid.NewString()
	log := s.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"range":  opts.Range.String(),
	})
	summary := &Summary{
		RunID:     runID,
		Range:     opts.Range,
		DryRun:    opts.DryRun,
		OutputDir: s.storage.GetOutputDir(),
	}

	logger.LogComponentStart(log, "scraper", map[string]interface{}{
		"force":        opts.Force,
		"reset":        opts.Reset,
		"skip_catalog": opts.SkipCatalog,
		"dry_run":      opts.DryRun,
		"delay":        s.pacer.Delay().String(),
	})

	if !s.progress.Exists() {
		log.Info("No progress file yet, every month in range will be checked")
	}

	if opts.Reset && !opts.DryRun {
		if _, err := s.progress.Reset(); err != nil {
			return summary, err
		}
	}

	if !opts.SkipCatalog {
		summary.Catalog, err = s.buildCatalog(ctx, log, opts.Range, opts.Force)
		if err != nil {
			return summary, err
		}
	}

	summary.Before, err = s.prepare(ctx, log, opts.Range, opts.DryRun)
	if err != nil {
		return summary, err
	}

	if summary.Before.NothingMissing {
		log.Info("Nothing missing, download skipped")
	} else {
		s.announce(len(summary.Before.Missing))
		summary.Sync, err = s.sync(ctx, log, opts.Range, summary.Before, opts.Reset, opts.DryRun)
		if err != nil {
			return summary, err
		}

		if !opts.DryRun {
			summary.After, err = s.prepare(ctx, log, opts.Range, false)
			if err != nil {
				return summary, err
			}
		}
	}

	summary.Requests = s.pacer.Requests()
	summary.Elapsed = s.now().Sub(start)
	log.InfoWithFields("Run finished", map[string]interface{}{
		"fetched":         summary.Fetched(),
		"missing":         summary.Missing(),
		"failed":          summary.Failed(),
		"gaps":            summary.Gaps(),
		"nothing_missing": summary.NothingMissing(),
		"requests":        summary.Requests,
		"elapsed":         summary.Elapsed.String(),
	})
	return summary, nil
}

// BuildCatalog refreshes the catalog for r
func (s *Scraper) BuildCatalog(ctx context.Context, r period.Range, force bool) (*catalog.BuildResult, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.buildCatalog(ctx, s.runLogger(), r, force)
}

// Prepare reconciles r against the disk. With dryRun the progress file is
// left untouched.
func (s *Scraper) Prepare(ctx context.Context, r period.Range, dryRun bool) (*reconcile.Report, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.prepare(ctx, s.runLogger(), r, dryRun)
}

// Sync downloads what is missing in r without reconciling first. Months
// already done are skipped unless reset is set.
func (s *Scraper) Sync(ctx context.Context, r period.Range, reset, dryRun bool) (*downloader.Result, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	log := s.runLogger()
	if s.wantsTotal() {
		check, err := reconcile.NewEngine(s.config.Sync.CatalogFile, s.storage, s.progress, logger.NewNopLogger()).Check(ctx, r)
		if err != nil {
			return nil, err
		}
		s.announce(len(check.Missing))
	}
	return s.sync(ctx, log, r, nil, reset, dryRun)
}

// Today looks up the current date in the catalog and checks the disk for it
func (s *Scraper) Today(ctx context.Context) (*TodayResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store, err := catalog.Load(s.config.Sync.CatalogFile)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &TodayResult{Date: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)}
	entry, ok := store.Lookup(result.Date)
	if !ok {
		return result, nil
	}
	result.Entry, result.Found = entry, true
	result.Path, result.Present = s.storage.Locate(entry.Filename)

	if path := s.config.MetadataPath(); path != "" {
		meta, err := metadata.Load(path)
		if err != nil {
			return nil, err
		}
		result.Metadata, _ = meta.Get(entry.Filename)
	}
	return result, nil
}

func (s *Scraper) buildCatalog(ctx context.Context, log logger.Logger, r period.Range, force bool) (*catalog.BuildResult, error) {
	store, err := catalog.Load(s.config.Sync.CatalogFile)
	if err != nil {
		return nil, err
	}
	b := catalog.NewBuilder(store, s.client, log)
	b.SetClock(s.now)
	return b.Build(ctx, r, force)
}

func (s *Scraper) prepare(ctx context.Context, log logger.Logger, r period.Range, dryRun bool) (*reconcile.Report, error) {
	e := reconcile.NewEngine(s.config.Sync.CatalogFile, s.storage, s.progress, log)
	e.SetClock(s.now)
	if dryRun {
		return e.Check(ctx, r)
	}
	return e.Run(ctx, r)
}

func (s *Scraper) sync(ctx context.Context, log logger.Logger, r period.Range, plan *reconcile.Report, reset, dryRun bool) (*downloader.Result, error) {
	store, err := catalog.Load(s.config.Sync.CatalogFile)
	if err != nil {
		return nil, err
	}

	var meta *metadata.Index
	if path := s.config.MetadataPath(); path != "" {
		if meta, err = metadata.Load(path); err != nil {
			return nil, err
		}
	}

	engine := downloader.NewEngine(s.client, s.storage, store, s.progress, meta, downloader.Options{
		Strategy:    s.config.Sync.Strategy,
		Reverse:     s.config.Sync.Reverse,
		Reset:       reset,
		DryRun:      dryRun,
		MinFileSize: s.config.Output.MinFileSize,
	}, log)
	engine.SetObserver(s.observer)
	engine.SetClock(s.now)
	return engine.Sync(ctx, r, plan)
}

func (s *Scraper) wantsTotal() bool {
	_, ok := s.observer.(totaler)
	return ok
}

func (s *Scraper) announce(pending int) {
	if t, ok := s.observer.(totaler); ok {
		t.SetTotal(pending)
	}
}

// runLogger tags a logger with a fresh run id
func (s *Scraper) runLogger() logger.Logger {
	return s.logger.WithField("run_id", uuid.NewString())
}

// acquire takes the cross-process run lock next to the state file
func (s *Scraper) acquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.WithError(err).Warn("Failed to release run lock")
		}
	}, nil
}
