package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunkURI(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		wantID uint64
		wantOK bool
	}{
		{name: "valid", uri: "chunk://42", wantID: 42, wantOK: true},
		{name: "zero", uri: "chunk://0", wantID: 0, wantOK: true},
		{name: "wrong scheme", uri: "file://42"},
		{name: "missing id", uri: "chunk://"},
		{name: "not a number", uri: "chunk://abc"},
		{name: "negative", uri: "chunk://-1"},
		{name: "empty", uri: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := parseChunkURI(tt.uri)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func makeReadResourceRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: uri},
	}
}

func TestHandleChunkResource(t *testing.T) {
	t.Run("returns chunk text from the shared index", func(t *testing.T) {
		// Given: a shared server that indexed one page
		srv, _ := newSharedServer(t)
		_, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "gophers"})
		require.NoError(t, err)

		// When: reading chunk 1
		res, err := srv.handleChunkResource(context.Background(), makeReadResourceRequest("chunk://1"))

		// Then: its text comes back as plain text
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)
		assert.Equal(t, "chunk://1", res.Contents[0].URI)
		assert.Equal(t, "text/plain", res.Contents[0].MIMEType)
		assert.Contains(t, res.Contents[0].Text, "gophers")
	})

	t.Run("unknown id is resource not found", func(t *testing.T) {
		srv, _ := newSharedServer(t)

		res, err := srv.handleChunkResource(context.Background(), makeReadResourceRequest("chunk://7"))

		require.Error(t, err)
		assert.Nil(t, res)
		var mcpErr *MCPError
		assert.False(t, errors.As(err, &mcpErr))
	})

	t.Run("malformed uri is invalid params", func(t *testing.T) {
		srv, _ := newSharedServer(t)

		_, err := srv.handleChunkResource(context.Background(), makeReadResourceRequest("chunk://x"))

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	})
}
