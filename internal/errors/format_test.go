package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_WithSuggestion(t *testing.T) {
	err := New(ErrCodeSearchFailed, "search engine unreachable", nil).
		WithSuggestion("check search.url")

	out := FormatForUser(err, false)

	assert.Contains(t, out, "Error: search engine unreachable")
	assert.Contains(t, out, "Suggestion: check search.url")
	assert.Contains(t, out, "[ERR_310_SEARCH_FAILED]")
}

func TestFormatForUser_DebugIncludesDetailsAndCause(t *testing.T) {
	err := New(ErrCodeFetchStatus, "bad status", errors.New("404 Not Found")).
		WithDetail("url", "https://example.com/x")

	plain := FormatForUser(err, false)
	debug := FormatForUser(err, true)

	assert.NotContains(t, plain, "404 Not Found")
	assert.Contains(t, debug, "url: https://example.com/x")
	assert.Contains(t, debug, "cause: 404 Not Found")
}

func TestFormatForUser_StandardAndNil(t *testing.T) {
	assert.Equal(t, "plain", FormatForUser(errors.New("plain"), true))
	assert.Equal(t, "", FormatForUser(nil, false))
}

func TestFormatJSON_BasicError(t *testing.T) {
	// Given: a validation error with a detail
	err := New(ErrCodeQueryEmpty, "query is empty", nil).WithDetail("param", "q")

	// When: formatting as JSON
	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	// Then: the envelope carries code and category
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ErrCodeQueryEmpty, got["code"])
	assert.Equal(t, "VALIDATION", got["category"])
	assert.Equal(t, false, got["retryable"])
	assert.Equal(t, map[string]any{"param": "q"}, got["details"])
}

func TestFormatJSON_StandardErrorWrapsAsInternal(t *testing.T) {
	data, err := FormatJSON(errors.New("boom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), ErrCodeInternal)
	assert.Contains(t, string(data), `"cause":"boom"`)
}

func TestFormatForCLI_ShortFormat(t *testing.T) {
	err := ConfigError("unknown cache backend", nil).WithSuggestion("use memory")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: unknown cache backend")
	assert.Contains(t, out, "Hint: use memory")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")
}

func TestLogAttrs_StructuredAndPlain(t *testing.T) {
	attrs := LogAttrs(New(ErrCodeExtractionEmpty, "no text", nil).WithDetail("url", "u"))
	assert.Equal(t, []any{
		"error_code", ErrCodeExtractionEmpty,
		"error", "no text",
		"category", "CONTENT",
		"retryable", false,
		"detail_url", "u",
	}, attrs)

	assert.Equal(t, []any{"error", "x"}, LogAttrs(errors.New("x")))
	assert.Nil(t, LogAttrs(nil))
}
