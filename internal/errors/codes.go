// Package errors provides structured error handling for searchidx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, cache store)
//   - 3XX: Network errors (fetch, search engine, remote embedders)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (embedding, index)
//   - 6XX: Content errors (extraction)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryContent indicates documents that could not be turned into text.
	CategoryContent Category = "CONTENT"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
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

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeCacheFailed    = "ERR_207_CACHE_FAILED"
	ErrCodeSnapshotFailed = "ERR_208_SNAPSHOT_FAILED"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeFetchStatus        = "ERR_304_FETCH_STATUS"
	ErrCodeFetchFailed        = "ERR_305_FETCH_FAILED"
	ErrCodeSearchFailed       = "ERR_310_SEARCH_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeDuplicateURL      = "ERR_403_DUPLICATE_URL"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodeIndexFull       = "ERR_506_INDEX_FULL"

	// Content errors (600-699)
	ErrCodeExtractionEmpty  = "ERR_601_EXTRACTION_EMPTY"
	ErrCodeExtractionFailed = "ERR_602_EXTRACTION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "301" from "ERR_301_NETWORK_TIMEOUT")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryContent
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeSearchFailed:
		return SeverityFatal
	case ErrCodeCacheFailed:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeFetchFailed:
		return true
	default:
		return false
	}
}
