package logger

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// LogRequest logs an archive HTTP round trip on l
func LogRequest(l Logger, method, url string, statusCode int, elapsed time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": float64(elapsed.Microseconds()) / 1000,
	}

	switch {
	case statusCode >= 500:
		l.ErrorWithFields("Archive request server error", fields)
	case statusCode >= 400:
		l.WarnWithFields("Archive request client error", fields)
	default:
		l.DebugWithFields("Archive request completed", fields)
	}
}

// LogItem logs the outcome of a single item fetch
func LogItem(l Logger, period, itemID, source string, size int64, err error) {
	fields := map[string]interface{}{
		"period":  period,
		"item_id": itemID,
	}
	if source != "" {
		fields["source"] = source
	}

	if err != nil {
		l.WithError(err).WarnWithFields("Item fetch failed", fields)
		return
	}
	fields["size"] = humanize.Bytes(uint64(size))
	l.InfoWithFields("Item saved", fields)
}

// LogMonthProgress logs how far a month has come along
func LogMonthProgress(l Logger, period string, done, total int) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(done) / float64(total) * 100
	}

	l.InfoWithFields("Month progress", map[string]interface{}{
		"period":     period,
		"done":       done,
		"total":      total,
		"percentage": humanize.FormatFloat("#.#", percentage) + "%",
	})
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	logger := l.WithField("component", component)
	if len(config) > 0 {
		logger = logger.WithFields(config)
	}
	logger.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
