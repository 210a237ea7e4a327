package main

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"wallsync/pkg/config"
	"wallsync/pkg/logger"
	"wallsync/pkg/period"
	"wallsync/pkg/scraper"
	"wallsync/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	noColor    bool
	quiet      bool
	verbose    bool
)

// errMissing ends the process with exit code 1 without printing anything
var errMissing = errors.New("items missing")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wallsync",
	Short: "Mirror a date-indexed wallpaper archive to a local directory",
	Long: `wallsync keeps a local copy of a public daily wallpaper archive.

Each run maps the archive's month listings to calendar dates, checks the
output directory against that catalog and downloads only what is missing.
Finished months are remembered in a progress file so later runs stay cheap.

Exit status is 0 when nothing is missing and 1 when items are still missing
or the run failed.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.SetQuietMode(true)
		}
		if noColor {
			ui.SetColor(false)
		}
		if verbose {
			ui.PrintBanner()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() int {
	ctx, stop := signalContext()
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errMissing) {
			ui.PrintError("Error", err)
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .wallsync.yaml or ~/.config/wallsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors and the summary")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show all output (banner, logs, one line per item)")

	rootCmd.SetVersionTemplate(`wallsync {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges the config file, environment and the flags set on cmd,
// then starts the global logger
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if catalogFile != "" {
		flags["catalog"] = catalogFile
	}
	if stateFile != "" {
		flags["state"] = stateFile
	}
	if strategy != "" {
		flags["strategy"] = strategy
	}
	if f := cmd.Flags().Lookup("reverse"); f != nil && f.Changed {
		flags["reverse"] = reverse
	}
	if f := cmd.Flags().Lookup("delay"); f != nil && f.Changed {
		flags["delay"] = delay
	}
	if logFile != "" {
		flags["log-file"] = logFile
	}

	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	switch {
	case quiet:
		flags["default-log-level"] = "error"
	case !verbose:
		// the progress line owns the terminal unless asked otherwise
		flags["default-log-level"] = "warn"
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.WithField("version", version).Debug("wallsync starting")
	return cfg, nil
}

// newScraper loads configuration and builds a scraper with the terminal
// progress display attached
func newScraper(cmd *cobra.Command) (*scraper.Scraper, *ui.ProgressDisplay, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	s, err := scraper.New(cfg, logger.GetLogger())
	if err != nil {
		return nil, nil, err
	}
	display := ui.NewProgressDisplay(0, verbose)
	s.SetObserver(display)
	return s, display, nil
}

// resolveRange turns --start/--end into a month range. Missing ends default
// to the previous and current month.
func resolveRange(now time.Time) (period.Range, error) {
	if startMonth == "" && endMonth == "" {
		return period.DefaultRange(now), nil
	}

	end := period.Current(now)
	if endMonth != "" {
		p, err := period.Parse(endMonth)
		if err != nil {
			return period.Range{}, err
		}
		end = p
	}
	start := end
	if startMonth != "" {
		p, err := period.Parse(startMonth)
		if err != nil {
			return period.Range{}, err
		}
		start = p
	}
	return period.NewRange(start, end)
}

func exitStatus(nothingMissing bool) error {
	if nothingMissing {
		return nil
	}
	return errMissing
}
