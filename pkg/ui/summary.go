package ui

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"wallsync/pkg/scraper"
)

// PrintSummary prints the end-of-run counts. Summaries are printed even in
// quiet mode since they carry the outcome of the run.
func PrintSummary(s *scraper.Summary) {
	if s == nil {
		return
	}

	fmt.Fprintln(Out)
	title := "Run summary"
	if s.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(Out, Magenta(title))
	fmt.Fprintf(Out, "  %-10s %s\n", "range", s.Range.String())
	if s.OutputDir != "" {
		fmt.Fprintf(Out, "  %-10s %s\n", "output", s.OutputDir)
	}
	if s.Catalog != nil {
		fmt.Fprintf(Out, "  %-10s %d months listed, %d skipped, %d rows\n",
			"catalog", len(s.Catalog.Fetched), len(s.Catalog.Skipped), s.Catalog.Entries)
	}
	if s.Before != nil {
		fmt.Fprintf(Out, "  %-10s %d\n", "on disk", s.Skipped())
	}
	if s.Sync != nil {
		fmt.Fprintf(Out, "  %-10s %d (%s)\n", "fetched", s.Fetched(), humanize.Bytes(uint64(s.Bytes())))
		if s.DryRun {
			fmt.Fprintf(Out, "  %-10s %d\n", "planned", len(s.Sync.Planned))
		}
	}
	if s.Final() != nil {
		fmt.Fprintf(Out, "  %-10s %s\n", "missing", countColor(s.Missing()))
	}
	failed := countColor(s.Failed())
	if s.Sync != nil && s.Sync.Transient > 0 {
		failed += fmt.Sprintf(" (%d transient)", s.Sync.Transient)
	}
	fmt.Fprintf(Out, "  %-10s %s\n", "failed", failed)
	fmt.Fprintf(Out, "  %-10s %s\n", "gaps", countColor(s.Gaps()))
	fmt.Fprintf(Out, "  %-10s %s in %s\n", "requests",
		humanize.Comma(int64(s.Requests)), formatDuration(s.Elapsed.Round(time.Second)))

	if s.Catalog != nil {
		for _, gap := range s.Catalog.Gaps {
			fmt.Fprintf(Out, "  %s %s: %s\n", Yellow("gap"), gap.Period, gap.Message)
		}
		for _, f := range s.Catalog.Failures {
			fmt.Fprintf(Out, "  %s %v\n", Red("listing"), f)
		}
	}
	if s.Sync != nil {
		for _, f := range s.Sync.Failures {
			fmt.Fprintf(Out, "  %s %v\n", Red("item"), f)
		}
	}

	switch {
	case s.Final() == nil || s.DryRun:
	case s.NothingMissing():
		fmt.Fprintln(Out, Green("Nothing missing"))
	default:
		fmt.Fprintln(Out, Yellow("Some items are still missing, run again to retry"))
	}
}

const captionWidth = 100

// PrintToday prints the catalog entry for the current date
func PrintToday(t *scraper.TodayResult) {
	if t == nil {
		return
	}

	date := t.Date.Format("2006-01-02")
	if !t.Found {
		fmt.Fprintf(Out, "%s %s\n", Cyan(date), Yellow("not in catalog"))
		return
	}

	status := Red("missing")
	if t.Present {
		status = Green("on disk")
	}
	fmt.Fprintf(Out, "%s %s %s\n", Cyan(date), t.Entry.ItemID, status)
	if t.Present {
		fmt.Fprintf(Out, "  %s\n", t.Path)
	}
	if t.Metadata != nil && t.Metadata.Caption != "" {
		fmt.Fprintf(Out, "  %s\n", Dim(t.Metadata.GetFormattedCaption(captionWidth)))
		if credit := t.Metadata.Credit(); credit != "" {
			fmt.Fprintf(Out, "  %s\n", Dim("© "+credit))
		}
	}
}

func countColor(n int) string {
	if n == 0 {
		return Green("0")
	}
	return Red(fmt.Sprint(n))
}
