package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const chunkScheme = "chunk://"

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: chunkScheme + "{id}",
		Name:        "chunk",
		Description: "Text of one indexed chunk. Ids come from search passages and stay readable only with a shared index.",
		MIMEType:    "text/plain",
	}, s.handleChunkResource)
}

func (s *Server) handleChunkResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	rc, err := s.ReadResource(ctx, req.Params.URI)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      rc.URI,
			MIMEType: rc.MIMEType,
			Text:     rc.Content,
		}},
	}, nil
}

// ReadResource resolves a chunk://{id} URI against the shared index.
func (s *Server) ReadResource(_ context.Context, uri string) (*ResourceContent, error) {
	id, ok := parseChunkURI(uri)
	if !ok {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid chunk uri %q, want chunk://{id}", uri))
	}
	if s.deps.Catalog == nil {
		return nil, &MCPError{
			Code:    ErrCodeChunkNotFound,
			Message: "chunk ids are only valid inside their search result. Run with --shared-index to read them later.",
		}
	}
	e, found := s.deps.Catalog.Entry(id)
	if !found {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return &ResourceContent{
		URI:      uri,
		Content:  e.ChunkText,
		MIMEType: "text/plain",
	}, nil
}

func chunkURI(id uint64) string {
	return chunkScheme + strconv.FormatUint(id, 10)
}

// parseChunkURI extracts the id from chunk://{id}.
func parseChunkURI(uri string) (uint64, bool) {
	raw, ok := strings.CutPrefix(uri, chunkScheme)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
