package errors

import (
	"errors"
	"fmt"
)

// IndexingError is the structured error type for repoindex.
// Every failure raised by an indexing action carries the id of the node the
// action was working on, so a dead-lettered operation can be traced back to
// the repository object that caused it.
type IndexingError struct {
	// Code is the unique error code (e.g., "ERR_402_MISSING_PARAM").
	Code string

	// Message is the human-readable error message.
	Message string

	// TargetID is the node the failing operation targeted. Empty when the
	// failure is not tied to a node (configuration, startup).
	TargetID string

	// Category is the error category (Config, Storage, Collaborator, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexingError) Error() string {
	msg := e.Message
	if e.TargetID != "" {
		msg = fmt.Sprintf("%s (target %s)", msg, e.TargetID)
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexingError) Unwrap() error {
	return e.Cause
}

// Is matches another IndexingError by code, so errors.Is(err, ErrX) works
// against the sentinel values below.
func (e *IndexingError) Is(target error) bool {
	if t, ok := target.(*IndexingError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *IndexingError) WithDetail(key, value string) *IndexingError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *IndexingError) WithSuggestion(suggestion string) *IndexingError {
	e.Suggestion = suggestion
	return e
}

// WithTarget sets the target node id.
func (e *IndexingError) WithTarget(targetID string) *IndexingError {
	e.TargetID = targetID
	return e
}

// New creates a new IndexingError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexingError {
	return &IndexingError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Indexing creates an error for a failed operation against targetID.
func Indexing(code, targetID, message string, cause error) *IndexingError {
	return New(code, message, cause).WithTarget(targetID)
}

// Wrap creates an IndexingError from an existing error. If err already is an
// IndexingError it is returned unchanged so the original code survives
// re-wrapping as the error travels up a tree walk.
func Wrap(code string, err error) *IndexingError {
	if err == nil {
		return nil
	}
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie
	}
	return New(code, err.Error(), err)
}

// WrapTarget is Wrap plus a target id for errors that do not carry one yet.
func WrapTarget(code, targetID string, err error) *IndexingError {
	ie := Wrap(code, err)
	if ie != nil && ie.TargetID == "" {
		ie.TargetID = targetID
	}
	return ie
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexingError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ArgumentError creates an error for a malformed request.
func ArgumentError(code, targetID, message string) *IndexingError {
	return New(code, message, nil).WithTarget(targetID)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexingError {
	return New(ErrCodeInternal, message, cause)
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrUnknownAction    = &IndexingError{Code: ErrCodeUnknownAction}
	ErrMissingParam     = &IndexingError{Code: ErrCodeMissingParam}
	ErrEmptyChildren    = &IndexingError{Code: ErrCodeEmptyChildren}
	ErrNodeNotFound     = &IndexingError{Code: ErrCodeNodeNotFound}
	ErrNodeTombstoned   = &IndexingError{Code: ErrCodeNodeTombstoned}
	ErrIndexLocked      = &IndexingError{Code: ErrCodeIndexLocked}
	ErrIndexClosed      = &IndexingError{Code: ErrCodeIndexClosed}
	ErrIndexUnavailable = &IndexingError{Code: ErrCodeIndexUnavailable}
)

// IsRetryable checks if an error is retryable.
// Returns true if the chain contains an IndexingError with Retryable set.
func IsRetryable(err error) bool {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors are never retried by the consumer.
func IsFatal(err error) bool {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexingError.
// Returns empty string if the chain holds none.
func GetCode(err error) string {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetTarget extracts the target node id from an IndexingError.
func GetTarget(err error) string {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie.TargetID
	}
	return ""
}

// GetCategory extracts the category from an IndexingError.
func GetCategory(err error) Category {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}
