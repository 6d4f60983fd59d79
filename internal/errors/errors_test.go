package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Error wrapping preserves original error
func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping it
	err := New(ErrCodeFetchFailed, "fetch failed", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config error", ErrCodeConfigInvalid, "bad value", "[ERR_102_CONFIG_INVALID] bad value"},
		{"network error", ErrCodeNetworkTimeout, "request timed out", "[ERR_301_NETWORK_TIMEOUT] request timed out"},
		{"content error", ErrCodeExtractionEmpty, "no text", "[ERR_601_EXTRACTION_EMPTY] no text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestError_Is_MatchesByCode(t *testing.T) {
	a := New(ErrCodeDuplicateURL, "first", nil)
	b := New(ErrCodeDuplicateURL, "second", nil)
	c := New(ErrCodeInvalidInput, "other", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeFetchStatus, "bad status", nil).
		WithDetail("url", "https://example.com").
		WithDetail("status", "404")

	assert.Equal(t, "https://example.com", err.Details["url"])
	assert.Equal(t, "404", err.Details["status"])
}

func TestError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := ConfigError("unknown backend", nil).WithSuggestion("use memory, redis, sqlite or none")
	assert.Equal(t, "use memory, redis, sqlite or none", err.Suggestion)
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		expected Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeCacheFailed, CategoryIO},
		{ErrCodeSearchFailed, CategoryNetwork},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeEmbeddingFailed, CategoryInternal},
		{ErrCodeExtractionFailed, CategoryContent},
		{"bogus", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, categoryFromCode(tt.code))
		})
	}
}

func TestSeverityFromCode(t *testing.T) {
	assert.Equal(t, SeverityFatal, severityFromCode(ErrCodeSearchFailed))
	assert.Equal(t, SeverityWarning, severityFromCode(ErrCodeCacheFailed))
	assert.Equal(t, SeverityWarning, severityFromCode(ErrCodeNetworkTimeout))
	assert.Equal(t, SeverityError, severityFromCode(ErrCodeExtractionEmpty))
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWrapf_FormatsMessageWithCause(t *testing.T) {
	err := Wrapf(ErrCodeIndexFailed, errors.New("graph full"), "insert chunk %d", 3)
	assert.Equal(t, "insert chunk 3: graph full", err.Message)
	assert.Equal(t, CategoryInternal, err.Category)
}

func TestChainHelpers_FindWrappedError(t *testing.T) {
	// Given: a structured error wrapped by fmt
	inner := NetworkError("timed out", nil)
	outer := fmt.Errorf("fetching: %w", inner)

	// Then: helpers see through the wrapping
	assert.True(t, IsRetryable(outer))
	assert.False(t, IsFatal(outer))
	assert.Equal(t, ErrCodeNetworkTimeout, GetCode(outer))
	assert.Equal(t, CategoryNetwork, GetCategory(outer))

	e, ok := As(outer)
	require.True(t, ok)
	assert.Same(t, inner, e)
}

func TestChainHelpers_PlainError(t *testing.T) {
	plain := errors.New("plain")

	assert.False(t, IsRetryable(plain))
	assert.Equal(t, "", GetCode(plain))
	assert.Equal(t, Category(""), GetCategory(plain))
}
