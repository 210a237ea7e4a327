package main

import (
	"time"

	"github.com/spf13/cobra"
	"wallsync/pkg/config"
	"wallsync/pkg/logger"
	"wallsync/pkg/scraper"
	"wallsync/pkg/ui"
)

var (
	// Range and pipeline flags
	startMonth  string
	endMonth    string
	outputDir   string
	catalogFile string
	stateFile   string
	strategy    string
	delay       time.Duration
	reverse     bool
	force       bool
	reset       bool
	dryRun      bool
	skipCatalog bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh the catalog and download everything missing",
	Long: `Run the whole pipeline over a month range:

  1. fetch the month listings and update the catalog
  2. check the output directory against the catalog
  3. download the items found missing
  4. check again so completed months are marked done

Months already marked done are not listed again unless --force is given.`,
	Example: `  # Sync the previous and the current month
  wallsync run

  # Backfill a whole year, newest month first
  wallsync run --start 202301 --end 202312 --reverse

  # See what would be downloaded
  wallsync run --start 202401 --dry-run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Update the date catalog from the archive listings",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

// prepareCmd represents the prepare command
var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Check the output directory against the catalog",
	Long: `Compare the catalog with the files on disk and rewrite the done months
in the progress file to match. Nothing is downloaded. With --dry-run the
progress file is left untouched.`,
	Args: cobra.NoArgs,
	RunE: runPrepare,
}

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download missing items without refreshing the catalog",
	Long: `Download every cataloged item that is not on disk. Months marked done
are skipped unless --reset is given. Months are not marked done by this
command; run 'wallsync prepare' afterwards to settle them.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

// todayCmd represents the today command
var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's catalog entry and whether it is on disk",
	Args:  cobra.NoArgs,
	RunE:  runToday,
}

func init() {
	rootCmd.AddCommand(runCmd, catalogCmd, prepareCmd, syncCmd, todayCmd)

	for _, cmd := range []*cobra.Command{runCmd, catalogCmd, prepareCmd, syncCmd, todayCmd} {
		cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for downloads")
		cmd.Flags().StringVar(&catalogFile, "catalog", "", "catalog CSV file")
		cmd.Flags().StringVar(&stateFile, "state", "", "progress state file")
	}

	for _, cmd := range []*cobra.Command{runCmd, catalogCmd, prepareCmd, syncCmd} {
		cmd.Flags().StringVar(&startMonth, "start", "", "first month of the range (YYYYMM)")
		cmd.Flags().StringVar(&endMonth, "end", "", "last month of the range (YYYYMM, default current month)")
	}

	for _, cmd := range []*cobra.Command{runCmd, catalogCmd, syncCmd} {
		cmd.Flags().DurationVar(&delay, "delay", time.Second, "minimum delay between archive requests")
	}

	for _, cmd := range []*cobra.Command{runCmd, syncCmd} {
		cmd.Flags().StringVar(&strategy, "strategy", "", "fetch strategy ("+config.StrategyDetailFirst+", "+config.StrategyCDNFirst+", "+config.StrategyDirectOnly+")")
		cmd.Flags().BoolVar(&reverse, "reverse", false, "process months newest first")
		cmd.Flags().BoolVar(&reset, "reset", false, "ignore months already marked done")
	}

	for _, cmd := range []*cobra.Command{runCmd, catalogCmd} {
		cmd.Flags().BoolVarP(&force, "force", "f", false, "list months again even if already cataloged")
	}

	for _, cmd := range []*cobra.Command{runCmd, prepareCmd, syncCmd} {
		cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "report what would change without downloading or saving progress")
	}

	runCmd.Flags().BoolVar(&skipCatalog, "skip-catalog", false, "use the catalog as it is")
}

func runRun(cmd *cobra.Command, args []string) error {
	s, display, err := newScraper(cmd)
	if err != nil {
		return err
	}
	r, err := resolveRange(time.Now())
	if err != nil {
		return err
	}

	ui.PrintInfo("Range", r.String())
	summary, err := s.Run(cmd.Context(), scraper.Options{
		Range:       r,
		Force:       force,
		Reset:       reset,
		SkipCatalog: skipCatalog,
		DryRun:      dryRun,
	})
	display.Complete()
	if err != nil {
		logger.WithError(err).Error("Run failed")
		if summary != nil {
			ui.PrintSummary(summary)
		}
		return err
	}

	ui.PrintReport(summary.Final())
	ui.PrintSummary(summary)
	return exitStatus(summary.NothingMissing())
}

func runCatalog(cmd *cobra.Command, args []string) error {
	s, _, err := newScraper(cmd)
	if err != nil {
		return err
	}
	r, err := resolveRange(time.Now())
	if err != nil {
		return err
	}

	result, err := s.BuildCatalog(cmd.Context(), r, force)
	if err != nil {
		return err
	}

	ui.PrintSummary(&scraper.Summary{Range: r, Catalog: result, Requests: s.Requests()})
	return exitStatus(len(result.Failures) == 0)
}

func runPrepare(cmd *cobra.Command, args []string) error {
	s, _, err := newScraper(cmd)
	if err != nil {
		return err
	}
	r, err := resolveRange(time.Now())
	if err != nil {
		return err
	}

	report, err := s.Prepare(cmd.Context(), r, dryRun)
	if err != nil {
		return err
	}

	ui.PrintReport(report)
	if report.NothingMissing {
		ui.PrintSuccess("Nothing missing")
	} else {
		ui.PrintWarning("Missing items", len(report.Missing))
	}
	return exitStatus(report.NothingMissing)
}

func runSync(cmd *cobra.Command, args []string) error {
	s, display, err := newScraper(cmd)
	if err != nil {
		return err
	}
	r, err := resolveRange(time.Now())
	if err != nil {
		return err
	}

	result, err := s.Sync(cmd.Context(), r, reset, dryRun)
	display.Complete()
	if err != nil {
		return err
	}

	ui.PrintSummary(&scraper.Summary{Range: r, DryRun: dryRun, Sync: result, Requests: s.Requests()})
	return exitStatus(len(result.Failures) == 0 && len(result.Planned) == 0)
}

func runToday(cmd *cobra.Command, args []string) error {
	s, _, err := newScraper(cmd)
	if err != nil {
		return err
	}

	today, err := s.Today(cmd.Context())
	if err != nil {
		return err
	}

	ui.PrintToday(today)
	return exitStatus(today.Found && today.Present)
}
