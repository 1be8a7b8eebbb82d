// Package errors provides structured error handling for repoindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (including unregistered action tags)
//   - 2XX: Storage errors (index files, locks)
//   - 3XX: Collaborator transport errors (graph, index availability)
//   - 4XX: Argument errors (malformed requests)
//   - 5XX: Internal and collaborator operation failures
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index/graph storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryCollaborator indicates a failing external collaborator.
	CategoryCollaborator Category = "COLLABORATOR"
	// CategoryArgument indicates a malformed indexing request.
	CategoryArgument Category = "ARGUMENT"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort and never retry.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownAction  = "ERR_103_UNKNOWN_ACTION"

	// Storage errors (200-299)
	ErrCodeStorageOpen   = "ERR_201_STORAGE_OPEN"
	ErrCodeCorruptIndex  = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexLocked   = "ERR_206_INDEX_LOCKED"
	ErrCodeIndexClosed   = "ERR_207_INDEX_CLOSED"
	ErrCodeSpoolRejected = "ERR_208_SPOOL_REJECTED"

	// Collaborator transport errors (300-399)
	ErrCodeGraphQueryFailed = "ERR_301_GRAPH_QUERY_FAILED"
	ErrCodeIndexUnavailable = "ERR_302_INDEX_UNAVAILABLE"

	// Argument errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeMissingParam   = "ERR_402_MISSING_PARAM"
	ErrCodeEmptyChildren  = "ERR_403_EMPTY_CHILDREN"
	ErrCodeNodeTombstoned = "ERR_404_NODE_TOMBSTONED"
	ErrCodeNodeNotFound   = "ERR_405_NODE_NOT_FOUND"
	ErrCodeInvalidParam   = "ERR_406_INVALID_PARAM"

	// Internal and collaborator operation errors (500-599)
	ErrCodeInternal            = "ERR_501_INTERNAL"
	ErrCodeDocumentBuildFailed = "ERR_502_DOCUMENT_BUILD_FAILED"
	ErrCodeIndexWriteFailed    = "ERR_503_INDEX_WRITE_FAILED"
	ErrCodeIndexQueryFailed    = "ERR_504_INDEX_QUERY_FAILED"
	ErrCodeDispatchFailed      = "ERR_505_DISPATCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCollaborator
	case '4':
		return CategoryArgument
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
// Configuration and argument errors are fatal: retrying the same request
// can never succeed.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeIndexLocked:
		return SeverityFatal
	}

	switch categoryFromCode(code) {
	case CategoryConfig, CategoryArgument:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Collaborator failures are transient from the consumer's point of view.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeGraphQueryFailed,
		ErrCodeIndexUnavailable,
		ErrCodeDocumentBuildFailed,
		ErrCodeIndexWriteFailed,
		ErrCodeIndexQueryFailed,
		ErrCodeDispatchFailed:
		return true
	default:
		return false
	}
}
