package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	// Engine-level kinds
	ErrorTypeInvalidPeriod ErrorType = "invalid_period"
	ErrorTypeFetchFailure  ErrorType = "fetch_failure"
	ErrorTypeCatalogGap    ErrorType = "catalog_gap"
	ErrorTypeStateCorrupt  ErrorType = "state_corrupt"

	// HTTP-level kinds, reported inside a FetchFailure
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries a kind plus the period/item it concerns
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Period  string
	Item    string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Type) + " error"
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Period != "" {
		msg += " [" + e.Period
		if e.Item != "" {
			msg += "/" + e.Item
		}
		msg += "]"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by type, so errors.Is(err, &Error{Type: X}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// New creates an error of the given type
func New(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given type around a cause
func Wrap(t ErrorType, err error, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidPeriod reports malformed period or range input
func InvalidPeriod(format string, args ...interface{}) *Error {
	return New(ErrorTypeInvalidPeriod, format, args...)
}

// FetchFailure reports a failed listing or item fetch
func FetchFailure(period, item string, err error) *Error {
	return &Error{
		Type:    ErrorTypeFetchFailure,
		Message: "fetch failed",
		Period:  period,
		Item:    item,
		Err:     err,
	}
}

// CatalogGap reports an inconsistent position-to-date mapping for a period
func CatalogGap(period string, format string, args ...interface{}) *Error {
	return &Error{
		Type:    ErrorTypeCatalogGap,
		Message: fmt.Sprintf(format, args...),
		Period:  period,
	}
}

// StateCorrupt reports a persisted store that cannot be parsed
func StateCorrupt(path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeStateCorrupt,
		Message: fmt.Sprintf("cannot parse %s", path),
		Err:     err,
	}
}

// IsType reports whether any error in the chain has the given type
func IsType(err error, t ErrorType) bool {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) {
			if e.Type == t {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}

// IsRetryable checks if an error type is transient. Nothing retries in
// process; the flag only decides whether the next run should try again.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeFetchFailure:
		return true
	case ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeInvalidPeriod, ErrorTypeStateCorrupt:
		return false
	default:
		return false
	}
}

// TypeForStatusCode classifies an HTTP status code
func TypeForStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}
