package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchidx/internal/embed"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
	"github.com/Aman-CERP/searchidx/internal/retrieve"
	"github.com/Aman-CERP/searchidx/internal/searx"
	"github.com/Aman-CERP/searchidx/internal/server"
	"github.com/Aman-CERP/searchidx/internal/store"
	"github.com/Aman-CERP/searchidx/internal/telemetry"
)

const dims = 16

// wordSearcher returns a page named after the query plus one host that is down.
type wordSearcher struct{}

func (wordSearcher) Search(_ context.Context, q string) ([]searx.Result, error) {
	return []searx.Result{
		{URL: "https://" + q + ".example/"},
		{URL: "https://down.example/"},
	}, nil
}

type wordFetcher struct{}

func (wordFetcher) Fetch(_ context.Context, u string) ([]byte, error) {
	if u == "https://down.example/" {
		return nil, serrors.New(serrors.ErrCodeFetchStatus, "HTTP 503 for "+u, nil)
	}
	return []byte("<html><body><p>page about " + strings.TrimPrefix(u, "https://") + "</p></body></html>"), nil
}

type stubRunner struct {
	err error
}

func (s *stubRunner) Run(context.Context, string) (*pipeline.Aggregated, error) {
	return nil, s.err
}

func newPipeline(t *testing.T, cat *store.Catalog) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{
		Searcher: wordSearcher{},
		Fetcher:  wordFetcher{},
		Embedder: embed.NewStaticEmbedder(dims),
		Catalog:  cat,
	})
	require.NoError(t, err)
	return p
}

// newSharedServer wires one catalog that every call commits into.
func newSharedServer(t *testing.T) (*Server, *store.Catalog) {
	t.Helper()
	cat := store.NewCatalog(store.NewFlatIndex(dims))
	ret, err := retrieve.New(embed.NewStaticEmbedder(dims), cat)
	require.NoError(t, err)
	srv, err := NewServer(server.Deps{
		Runner:    newPipeline(t, cat),
		Retriever: ret,
		Catalog:   cat,
		Telemetry: telemetry.NewCollector(10),
	})
	require.NoError(t, err)
	return srv, cat
}

// TS01: Construction and tool listing
func TestNewServer_RequiresRunner(t *testing.T) {
	// Given: no runner
	// When: creating the server
	srv, err := NewServer(server.Deps{})

	// Then: it is rejected
	assert.Error(t, err)
	assert.Nil(t, srv)
}

func TestServer_ListTools(t *testing.T) {
	srv, _ := newSharedServer(t)

	names := []string{}
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.Equal(t, []string{"search", "index_status"}, names)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	srv, _ := newSharedServer(t)

	_, err := srv.CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

// TS02: Search tool arguments
func TestServer_CallTool_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{}},
		{"blank query", map[string]any{"query": "   "}},
		{"negative k", map[string]any{"query": "gophers", "k": float64(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, cat := newSharedServer(t)

			_, err := srv.CallTool(context.Background(), "search", tt.args)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Equal(t, 0, cat.Len())
		})
	}
}

// TS03: Search over a shared index
func TestServer_Search_ReturnsPassagesAndFailures(t *testing.T) {
	// Given: a server over one shared catalog
	srv, cat := newSharedServer(t)

	// When: searching
	res, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "gophers", "k": float64(5)})

	// Then: the good page is indexed and retrievable
	require.NoError(t, err)
	out, ok := res.(SearchOutput)
	require.True(t, ok)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, "gophers", out.Query)
	assert.Equal(t, 1, out.Indexed)
	assert.Equal(t, 1, out.Chunks)
	require.NotEmpty(t, out.Passages)
	assert.Equal(t, "https://gophers.example/", out.Passages[0].URL)
	assert.Contains(t, out.Passages[0].Text, "gophers")
	assert.Equal(t, "chunk://1", out.Passages[0].URI)
	assert.Equal(t, 1, cat.Len())

	// And: the down host is reported with its stage and code
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "https://down.example/", out.Failures[0].URL)
	assert.Equal(t, string(pipeline.StageFetching), out.Failures[0].FailedAt)
	assert.Equal(t, serrors.ErrCodeFetchStatus, out.Failures[0].Code)
}

func TestServer_Search_RunnerErrorIsMapped(t *testing.T) {
	// Given: a runner whose search engine is down
	srv, err := NewServer(server.Deps{Runner: &stubRunner{
		err: serrors.New(serrors.ErrCodeSearchFailed, "searxng unreachable", nil),
	}})
	require.NoError(t, err)

	// When: searching
	_, err = srv.CallTool(context.Background(), "search", map[string]any{"query": "gophers"})

	// Then: the MCP error names the failure
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeSearchFailed, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "searxng unreachable")
}

// TS04: Search with a fresh index per call
func TestServer_Search_WorkspacePerCall(t *testing.T) {
	// Given: a server that builds a new catalog for every call
	base := newPipeline(t, store.NewCatalog(store.NewFlatIndex(dims)))
	var released atomic.Int32
	factory := func(context.Context) (*server.Workspace, error) {
		cat := store.NewCatalog(store.NewFlatIndex(dims))
		p, err := base.WithCatalog(cat, nil)
		if err != nil {
			return nil, err
		}
		ret, err := retrieve.New(embed.NewStaticEmbedder(dims), cat)
		if err != nil {
			return nil, err
		}
		return &server.Workspace{Runner: p, Retriever: ret, Release: func() { released.Add(1) }}, nil
	}
	srv, err := NewServer(server.Deps{Runner: base, NewWorkspace: factory})
	require.NoError(t, err)

	// When: two unrelated queries run one after the other
	_, err = srv.CallTool(context.Background(), "search", map[string]any{"query": "gophers"})
	require.NoError(t, err)
	res, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "penguins"})
	require.NoError(t, err)

	// Then: the second call only sees its own page
	out := res.(SearchOutput)
	require.NotEmpty(t, out.Passages)
	for _, p := range out.Passages {
		assert.Equal(t, "https://penguins.example/", p.URL)
		assert.Empty(t, p.URI)
	}
	assert.Equal(t, int32(2), released.Load())

	// And: chunk ids cannot be read after the call
	_, err = srv.ReadResource(context.Background(), "chunk://1")
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeChunkNotFound, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "--shared-index")

	// And: index_status counts both runs but reports no shared index
	status, err := srv.CallTool(context.Background(), "index_status", nil)
	require.NoError(t, err)
	st := status.(IndexStatusOutput)
	assert.False(t, st.SharedIndex)
	assert.Equal(t, 0, st.Chunks)
	assert.Equal(t, int64(4), st.Pipeline.Fetched+st.Pipeline.FetchErrors)
}

func TestServer_Search_WorkspaceFailureIsMapped(t *testing.T) {
	factory := func(context.Context) (*server.Workspace, error) {
		return nil, serrors.New(serrors.ErrCodeIndexFailed, "no memory for index", nil)
	}
	srv, err := NewServer(server.Deps{Runner: &stubRunner{}, NewWorkspace: factory})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "search", map[string]any{"query": "gophers"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInternalError, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "no memory for index")
}

// TS05: index_status
func TestServer_IndexStatus_SharedIndex(t *testing.T) {
	// Given: a shared server that ran one search
	srv, _ := newSharedServer(t)
	_, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "gophers"})
	require.NoError(t, err)

	// When: asking for the status
	res, err := srv.CallTool(context.Background(), "index_status", nil)
	require.NoError(t, err)

	// Then: the chunk count, counters and history agree
	st := res.(IndexStatusOutput)
	assert.True(t, st.SharedIndex)
	assert.Equal(t, 1, st.Chunks)
	assert.Equal(t, int64(1), st.Pipeline.IndexedChunks)
	assert.Equal(t, int64(1), st.Runs)
	assert.InDelta(t, 0.5, st.FailureRate, 0.001)
}

// TS06: Serve
func TestServer_Serve_UnknownTransport(t *testing.T) {
	srv, _ := newSharedServer(t)

	err := srv.Serve(context.Background(), "sse")

	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))
}

// TS07: Protocol round trip
func TestServer_InMemorySession(t *testing.T) {
	// Given: a client connected over in-memory transports
	srv, _ := newSharedServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	// When: listing tools
	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)

	// Then: both tools are advertised
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search", "index_status"}, names)

	// When: calling search
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "gophers"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	// Then: the text content is the JSON output
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	var out SearchOutput
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	require.NotEmpty(t, out.Passages)

	// When: reading the top passage as a resource
	require.Equal(t, chunkURI(out.Passages[0].ID), out.Passages[0].URI)
	read, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: out.Passages[0].URI})
	require.NoError(t, err)

	// Then: the text matches the passage
	require.Len(t, read.Contents, 1)
	assert.Equal(t, out.Passages[0].Text, read.Contents[0].Text)

	// When: calling search with a blank query
	bad, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "  "},
	})

	// Then: it is a tool error, not a transport failure
	require.NoError(t, err)
	assert.True(t, bad.IsError)
}

func TestServer_InMemorySession_UnknownChunk(t *testing.T) {
	srv, _ := newSharedServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	_, err = cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "chunk://42"})

	require.Error(t, err)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
