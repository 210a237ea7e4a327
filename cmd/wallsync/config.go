package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"wallsync/pkg/config"
	"wallsync/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage wallsync configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (WALLSYNC_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration with all available options.

The file is created as '.wallsync.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from all sources and check it.

This command checks:
  - YAML syntax
  - Required fields and value ranges
  - That the output and state directories can be created`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".wallsync.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(ui.Out, "\nNext steps:")
	fmt.Fprintln(ui.Out, "1. Edit the output directory and request delay")
	fmt.Fprintln(ui.Out, "2. Run 'wallsync config validate' to check the configuration")
	fmt.Fprintln(ui.Out, "3. Start syncing with 'wallsync run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, string(data))

	fmt.Fprintln(ui.Out, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(ui.Out, "1. Command line flags")
	fmt.Fprintln(ui.Out, "2. Environment variables (WALLSYNC_*)")
	if configFile != "" {
		fmt.Fprintf(ui.Out, "3. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(ui.Out, "3. Configuration file: (searched in default locations)")
	}
	fmt.Fprintln(ui.Out, "4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	var problems []error
	for _, dir := range []string{
		cfg.Output.BaseDirectory,
		filepath.Dir(cfg.Sync.CatalogFile),
		filepath.Dir(cfg.Sync.StateFile),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Errorf("cannot create %s: %w", dir, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Errorf("cannot create log directory: %w", err))
		}
	}
	if err := errors.Join(problems...); err != nil {
		return err
	}

	if cfg.RateLimit.RequestDelay == 0 {
		ui.PrintWarning("Request delay is zero, the archive may throttle you")
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Fprintln(ui.Out, "\nConfiguration summary:")
	fmt.Fprintf(ui.Out, "  Archive: %s (region %s)\n", cfg.Archive.BaseURL, cfg.Archive.Region)
	fmt.Fprintf(ui.Out, "  Output directory: %s\n", cfg.Output.BaseDirectory)
	fmt.Fprintf(ui.Out, "  Catalog: %s\n", cfg.Sync.CatalogFile)
	fmt.Fprintf(ui.Out, "  State: %s\n", cfg.Sync.StateFile)
	fmt.Fprintf(ui.Out, "  Strategy: %s\n", cfg.Sync.Strategy)
	fmt.Fprintf(ui.Out, "  Request delay: %s\n", cfg.RateLimit.RequestDelay)
	return nil
}
