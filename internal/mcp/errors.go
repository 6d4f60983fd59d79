// Package mcp exposes the indexing pipeline as a Model Context Protocol server.
package mcp

import (
	"context"
	"errors"
	"fmt"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Custom MCP error codes for searchidx.
const (
	// ErrCodeSearchFailed indicates the search engine or a page host failed.
	ErrCodeSearchFailed = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeChunkNotFound indicates a chunk id the index does not know.
	ErrCodeChunkNotFound = -32004

	// ErrCodeIndexFull indicates the shared index reached index.max_chunks.
	ErrCodeIndexFull = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
// Structured searchidx errors keep their message and suggestion.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if se, ok := serrors.As(err); ok {
		return mapStructured(se)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Resource not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

func mapStructured(se *serrors.Error) *MCPError {
	message := se.Message
	if se.Suggestion != "" {
		message = fmt.Sprintf("%s %s", se.Message, se.Suggestion)
	}

	switch se.Code {
	case serrors.ErrCodeQueryEmpty:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case serrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeChunkNotFound, Message: message}
	case serrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case serrors.ErrCodeIndexFull:
		return &MCPError{Code: ErrCodeIndexFull, Message: message}
	case serrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	switch se.Category {
	case serrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeSearchFailed, Message: message}
	case serrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default: // config, IO, content and internal
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
