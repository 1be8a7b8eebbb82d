package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexingError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection reset")

	// When: wrapping with IndexingError
	ie := Indexing(ErrCodeIndexWriteFailed, "doc-1", "index write failed", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, ie)
	assert.Equal(t, originalErr, errors.Unwrap(ie))
	assert.True(t, errors.Is(ie, originalErr))
}

func TestIndexingError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *IndexingError
		expected string
	}{
		{
			name:     "no target",
			err:      New(ErrCodeConfigInvalid, "queue.workers must be positive", nil),
			expected: "[ERR_102_CONFIG_INVALID] queue.workers must be positive",
		},
		{
			name:     "with target",
			err:      ArgumentError(ErrCodeMissingParam, "c1", "staleTimestamp is required"),
			expected: "[ERR_402_MISSING_PARAM] staleTimestamp is required (target c1)",
		},
		{
			name:     "with cause",
			err:      Indexing(ErrCodeGraphQueryFailed, "c1", "member query failed", errors.New("db closed")),
			expected: "[ERR_301_GRAPH_QUERY_FAILED] member query failed (target c1): db closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestIndexingError_Is_MatchesSentinelByCode(t *testing.T) {
	// Given: a wrapped argument error
	err := fmt.Errorf("perform: %w", ArgumentError(ErrCodeEmptyChildren, "c1", "no children"))

	// Then: it matches the sentinel and nothing else
	assert.True(t, errors.Is(err, ErrEmptyChildren))
	assert.False(t, errors.Is(err, ErrMissingParam))
}

func TestIndexingError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeUnknownAction, "unknown action", nil).
		WithDetail("action", "REINDEX_ALL").
		WithSuggestion("run 'repoindex actions' to list registered actions")

	assert.Equal(t, "REINDEX_ALL", err.Details["action"])
	assert.NotEmpty(t, err.Suggestion)
}

func TestNew_DerivesClassificationFromCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeUnknownAction, CategoryConfig, SeverityFatal, false},
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{ErrCodeCorruptIndex, CategoryStorage, SeverityFatal, false},
		{ErrCodeIndexLocked, CategoryStorage, SeverityFatal, false},
		{ErrCodeIndexClosed, CategoryStorage, SeverityError, false},
		{ErrCodeGraphQueryFailed, CategoryCollaborator, SeverityWarning, true},
		{ErrCodeIndexUnavailable, CategoryCollaborator, SeverityWarning, true},
		{ErrCodeMissingParam, CategoryArgument, SeverityFatal, false},
		{ErrCodeEmptyChildren, CategoryArgument, SeverityFatal, false},
		{ErrCodeNodeTombstoned, CategoryArgument, SeverityFatal, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
		{ErrCodeDocumentBuildFailed, CategoryInternal, SeverityWarning, true},
		{ErrCodeIndexWriteFailed, CategoryInternal, SeverityWarning, true},
		{ErrCodeIndexQueryFailed, CategoryInternal, SeverityWarning, true},
		{ErrCodeDispatchFailed, CategoryInternal, SeverityWarning, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestWrap_KeepsExistingIndexingError(t *testing.T) {
	// Given: an argument error wrapped by fmt
	inner := ArgumentError(ErrCodeMissingParam, "c1", "missing")
	outer := fmt.Errorf("walk: %w", inner)

	// When: wrapping again with an internal code
	got := Wrap(ErrCodeInternal, outer)

	// Then: the original code survives
	assert.Same(t, inner, got)
	assert.Equal(t, ErrCodeMissingParam, got.Code)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
	assert.Nil(t, WrapTarget(ErrCodeInternal, "x", nil))
}

func TestWrapTarget_FillsMissingTarget(t *testing.T) {
	plain := WrapTarget(ErrCodeIndexWriteFailed, "doc-1", errors.New("disk full"))
	assert.Equal(t, "doc-1", plain.TargetID)
	assert.Equal(t, ErrCodeIndexWriteFailed, plain.Code)

	// An existing target is not overwritten by an ancestor in the walk.
	child := ArgumentError(ErrCodeNodeTombstoned, "leaf", "tombstoned")
	got := WrapTarget(ErrCodeInternal, "parent", child)
	assert.Equal(t, "leaf", got.TargetID)
}

func TestHelpers_OnPlainErrors(t *testing.T) {
	plain := errors.New("boom")

	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetTarget(plain))
	assert.Empty(t, GetCategory(plain))
}

func TestHelpers_ThroughWrapChain(t *testing.T) {
	err := fmt.Errorf("queue: %w", Indexing(ErrCodeIndexUnavailable, "doc-9", "index down", nil))

	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, ErrCodeIndexUnavailable, GetCode(err))
	assert.Equal(t, "doc-9", GetTarget(err))
	assert.Equal(t, CategoryCollaborator, GetCategory(err))
}

func TestCategoryFromCode_ShortCode(t *testing.T) {
	assert.Equal(t, CategoryInternal, categoryFromCode("ERR"))
}
