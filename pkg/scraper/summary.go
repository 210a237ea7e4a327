package scraper

import (
	"time"

	"wallsync/internal/downloader"
	"wallsync/pkg/catalog"
	"wallsync/pkg/period"
	"wallsync/pkg/reconcile"
)

// Summary collects what each stage of a Run did
type Summary struct {
	RunID     string
	Range     period.Range
	DryRun    bool
	OutputDir string
	Catalog   *catalog.BuildResult
	Before    *reconcile.Report
	Sync      *downloader.Result
	After     *reconcile.Report
	Requests  int
	Elapsed   time.Duration
}

// Final returns the last reconciliation report of the run
func (s *Summary) Final() *reconcile.Report {
	if s.After != nil {
		return s.After
	}
	return s.Before
}

// Fetched returns the number of items downloaded
func (s *Summary) Fetched() int {
	if s.Sync == nil {
		return 0
	}
	return s.Sync.Fetched
}

// Skipped returns the number of items already on disk at the start
func (s *Summary) Skipped() int {
	if s.Before == nil {
		return 0
	}
	return s.Before.Present
}

// Missing returns the number of items still missing at the end
func (s *Summary) Missing() int {
	if r := s.Final(); r != nil {
		return len(r.Missing)
	}
	return 0
}

// Failed returns the number of failed item and listing fetches
func (s *Summary) Failed() int {
	n := 0
	if s.Catalog != nil {
		n += len(s.Catalog.Failures)
	}
	if s.Sync != nil {
		n += len(s.Sync.Failures)
	}
	return n
}

// Gaps returns the number of months whose listing did not line up
func (s *Summary) Gaps() int {
	if s.Catalog == nil {
		return 0
	}
	return len(s.Catalog.Gaps)
}

// Bytes returns the number of bytes written
func (s *Summary) Bytes() int64 {
	if s.Sync == nil {
		return 0
	}
	return s.Sync.Bytes
}

// NothingMissing reports whether the run ended with every cataloged item on
// disk and no failures
func (s *Summary) NothingMissing() bool {
	r := s.Final()
	return r != nil && r.NothingMissing && s.Failed() == 0
}
