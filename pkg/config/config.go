package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Fetch strategies for item downloads
const (
	StrategyDetailFirst = "detail-first"
	StrategyCDNFirst    = "cdn-first"
	StrategyDirectOnly  = "direct-only"
)

// Config holds all configuration options for wallsync
type Config struct {
	// Remote archive endpoints
	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	// Request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Where items land on disk
	Output OutputConfig `yaml:"output" json:"output"`

	// Catalog and progress files
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// levelSet is true once the config file or environment chose a log level
	levelSet bool
}

// ArchiveConfig holds remote archive configuration
type ArchiveConfig struct {
	BaseURL         string        `yaml:"base_url" json:"base_url"`
	CDNBaseURL      string        `yaml:"cdn_base_url" json:"cdn_base_url"`
	Region          string        `yaml:"region" json:"region"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// RateLimitConfig holds request pacing configuration
type RateLimitConfig struct {
	RequestDelay time.Duration `yaml:"request_delay" json:"request_delay"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory  string   `yaml:"base_directory" json:"base_directory"`
	ArchiveSubdirs []string `yaml:"archive_subdirs" json:"archive_subdirs"`
	MinFileSize    int64    `yaml:"min_file_size" json:"min_file_size"`
	MetadataFile   string   `yaml:"metadata_file" json:"metadata_file"`
}

// SyncConfig holds catalog/progress persistence and sync behaviour
type SyncConfig struct {
	CatalogFile string `yaml:"catalog_file" json:"catalog_file"`
	StateFile   string `yaml:"state_file" json:"state_file"`
	Strategy    string `yaml:"strategy" json:"strategy"`
	Reverse     bool   `yaml:"reverse" json:"reverse"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			BaseURL:         "https://bingwallpaper.anerg.com",
			CDNBaseURL:      "https://img.nanxiongnandi.com",
			Region:          "us",
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Timeout:         30 * time.Second,
			DownloadTimeout: 180 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestDelay: time.Second,
		},
		Output: OutputConfig{
			BaseDirectory:  "./bing_wallpapers",
			ArchiveSubdirs: []string{"high"},
			MinFileSize:    50_000,
			MetadataFile:   "metadata.json",
		},
		Sync: SyncConfig{
			CatalogFile: "./image_dates.csv",
			StateFile:   "./scrape_state.json",
			Strategy:    StrategyDetailFirst,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("WALLSYNC_BASE_URL"); v != "" {
		c.Archive.BaseURL = v
	}
	if v := os.Getenv("WALLSYNC_CDN_URL"); v != "" {
		c.Archive.CDNBaseURL = v
	}
	if v := os.Getenv("WALLSYNC_USER_AGENT"); v != "" {
		c.Archive.UserAgent = v
	}

	if v := os.Getenv("WALLSYNC_REQUEST_DELAY"); v != "" {
		d, err := parseDelay(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("WALLSYNC_REQUEST_DELAY: %w", err))
		} else {
			c.RateLimit.RequestDelay = d
		}
	}

	if v := os.Getenv("WALLSYNC_OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv("WALLSYNC_MIN_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("WALLSYNC_MIN_FILE_SIZE: %w", err))
		} else {
			c.Output.MinFileSize = n
		}
	}

	if v := os.Getenv("WALLSYNC_CATALOG_FILE"); v != "" {
		c.Sync.CatalogFile = v
	}
	if v := os.Getenv("WALLSYNC_STATE_FILE"); v != "" {
		c.Sync.StateFile = v
	}
	if v := os.Getenv("WALLSYNC_STRATEGY"); v != "" {
		c.Sync.Strategy = v
	}

	if v := os.Getenv("WALLSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
		c.levelSet = true
	}
	if v := os.Getenv("WALLSYNC_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// parseDelay accepts a Go duration ("1.5s") or plain seconds ("1.5")
func parseDelay(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	level := c.Logging.Level
	c.Logging.Level = ""
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Logging.Level = level
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = level
	} else {
		c.levelSet = true
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".wallsync.yaml",
		".wallsync.yml",
		filepath.Join(home, ".config", "wallsync", "config.yaml"),
		filepath.Join(home, ".config", "wallsync", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Archive.BaseURL == "" {
		errs = append(errs, errors.New("archive base URL is required"))
	}
	if c.Archive.Region == "" {
		errs = append(errs, errors.New("archive region is required"))
	}
	if c.Archive.Timeout <= 0 {
		errs = append(errs, errors.New("archive timeout must be positive"))
	}
	if c.Archive.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.RateLimit.RequestDelay < 0 {
		errs = append(errs, errors.New("request delay cannot be negative"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.MinFileSize < 0 {
		errs = append(errs, errors.New("minimum file size cannot be negative"))
	}

	if c.Sync.CatalogFile == "" {
		errs = append(errs, errors.New("catalog file is required"))
	}
	if c.Sync.StateFile == "" {
		errs = append(errs, errors.New("state file is required"))
	}
	switch c.Sync.Strategy {
	case StrategyDetailFirst, StrategyCDNFirst:
	case StrategyDirectOnly:
		if c.Archive.CDNBaseURL == "" {
			errs = append(errs, errors.New("direct-only strategy needs a CDN base URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid strategy %q", c.Sync.Strategy))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// MetadataPath returns the metadata sidecar location inside the output directory
func (c *Config) MetadataPath() string {
	if c.Output.MetadataFile == "" || filepath.IsAbs(c.Output.MetadataFile) {
		return c.Output.MetadataFile
	}
	return filepath.Join(c.Output.BaseDirectory, c.Output.MetadataFile)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["catalog"].(string); ok && v != "" {
		c.Sync.CatalogFile = v
	}
	if v, ok := flags["state"].(string); ok && v != "" {
		c.Sync.StateFile = v
	}
	if v, ok := flags["strategy"].(string); ok && v != "" {
		c.Sync.Strategy = v
	}
	if v, ok := flags["reverse"].(bool); ok {
		c.Sync.Reverse = v
	}
	if v, ok := flags["delay"].(time.Duration); ok && v >= 0 {
		c.RateLimit.RequestDelay = v
	}
	// default-log-level only replaces the built-in default
	if v, ok := flags["default-log-level"].(string); ok && v != "" && !c.levelSet {
		c.Logging.Level = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Missing .env files are fine
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".wallsync.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
