package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for searchidx.
// It carries enough context to localise a failure to one pipeline item
// and to present it to a user or an HTTP client.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_FETCH_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so errors.Is works against the
// sentinel-style values returned by New with a nil cause.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Wrapf creates an Error with a formatted message and a cause.
func Wrapf(code string, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return New(code, msg, err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *Error {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable code anywhere in its chain.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	if e, ok := As(err); ok {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first *Error in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from the first *Error in the chain.
func GetCategory(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return ""
}
