// Package logger provides the structured logging interface used across wallsync.
//
// It wraps zerolog behind a small Logger interface so components can take a
// logger as a dependency and tests can swap in NewTestLogger or NewNopLogger.
// Console output is coloured and goes to stderr; a log file can be added with
// LoggingConfig.File.
//
// Basic Usage:
//
//	log, err := logger.New(&cfg.Logging)
//	log = log.WithField("run_id", runID)
//	log.InfoWithFields("Sync started", map[string]interface{}{
//	    "range": "202401..202403",
//	})
//
// Helpers such as LogItem and LogRequest keep field names consistent between
// the archive client, the catalog builder and the download engine.
package logger
