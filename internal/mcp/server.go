package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
	"github.com/Aman-CERP/searchidx/internal/server"
	"github.com/Aman-CERP/searchidx/pkg/version"
)

const (
	serverName = "searchidx"

	// maxK bounds the passages one search call may ask for.
	maxK = 50
)

// Server bridges MCP clients with the pipeline. It takes the same
// collaborators as the HTTP server, so both surfaces share one index mode.
type Server struct {
	mcp    *mcp.Server
	deps   server.Deps
	logger *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Runs a web search, downloads and indexes every result page, then returns the passages that best answer the query. Pages that fail are listed with the stage they failed at.",
	},
	{
		Name:        "index_status",
		Description: "Reports pipeline counters and whether chunk ids from earlier searches can still be read as chunk://{id} resources.",
	},
}

// NewServer creates an MCP server over deps. Runner is required.
func NewServer(deps server.Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("pipeline runner is required")
	}
	if deps.DefaultK <= 0 {
		deps.DefaultK = 10
	}

	s := &Server{
		deps:   deps,
		logger: slog.Default(),
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with decoded JSON arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		in := SearchInput{}
		in.Query, _ = args["query"].(string)
		if k, ok := args["k"].(float64); ok {
			in.K = int(k)
		}
		return s.search(ctx, in)
	case "index_status":
		return s.indexStatus(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.search(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	return nil, s.indexStatus(), nil
}

// search runs the pipeline for one query and retrieves passages from the
// index the run committed into.
func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	if in.K < 0 {
		return SearchOutput{}, NewInvalidParamsError(fmt.Sprintf("k must be positive, got %d", in.K))
	}
	k := in.K
	if k == 0 {
		k = s.deps.DefaultK
	}
	k = min(k, maxK)

	start := time.Now()
	requestID := uuid.NewString()[:8]
	s.logger.Info("mcp_search_started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("k", k))

	runner, retriever := s.deps.Runner, s.deps.Retriever
	if s.deps.NewWorkspace != nil {
		ws, err := s.deps.NewWorkspace(ctx)
		if err != nil {
			s.logFailure(requestID, start, err)
			return SearchOutput{}, MapError(err)
		}
		if ws.Release != nil {
			defer ws.Release()
		}
		runner, retriever = ws.Runner, ws.Retriever
	}

	agg, err := runner.Run(ctx, query)
	if err != nil {
		s.logFailure(requestID, start, err)
		return SearchOutput{}, MapError(err)
	}
	if s.deps.Telemetry != nil {
		s.deps.Telemetry.RecordRun(ctx, agg)
	}

	out := toSearchOutput(agg)
	if retriever != nil {
		passages, err := retriever.Retrieve(ctx, query, k)
		if err != nil {
			s.logger.Warn("mcp_search_retrieve_failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
		}
		for _, p := range passages {
			po := PassageOutput{
				ID:          p.ID,
				URL:         p.URL,
				Text:        p.Text,
				Score:       p.Score,
				InBothLists: p.InBoth(),
			}
			if s.deps.Catalog != nil {
				po.URI = chunkURI(p.ID)
			}
			out.Passages = append(out.Passages, po)
		}
	}

	s.logger.Info("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.String("run_id", agg.RunID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("passages", len(out.Passages)),
		slog.Int("failures", len(out.Failures)))
	return out, nil
}

func (s *Server) logFailure(requestID string, start time.Time, err error) {
	s.logger.Error("mcp_search_failed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("error_code", serrors.GetCode(err)),
		slog.String("error", err.Error()))
}

func toSearchOutput(agg *pipeline.Aggregated) SearchOutput {
	out := SearchOutput{
		RunID:      agg.RunID,
		Query:      agg.Query,
		Passages:   []PassageOutput{},
		DurationMS: agg.Duration.Milliseconds(),
	}
	for _, r := range agg.Results {
		if r.OK() {
			out.Indexed++
			out.Chunks += len(r.IDs)
			continue
		}
		out.Failures = append(out.Failures, FailureOutput{
			URL:      r.URL,
			FailedAt: string(r.FailedAt),
			Code:     r.ErrorCode,
			Error:    r.Error,
		})
	}
	return out
}

func (s *Server) indexStatus() IndexStatusOutput {
	out := IndexStatusOutput{SharedIndex: s.deps.Catalog != nil}
	if sp, ok := s.deps.Runner.(interface{ Stats() pipeline.StatsSnapshot }); ok {
		out.Pipeline = sp.Stats()
	}
	if s.deps.Catalog != nil {
		out.Chunks = s.deps.Catalog.Len()
	}
	if s.deps.Telemetry != nil {
		sum := s.deps.Telemetry.Summary()
		out.Runs = sum.Runs
		out.FailureRate = sum.FailureRate()
	}
	return out
}

// Serve runs the server on the named transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return serrors.ConfigError(fmt.Sprintf("unknown transport: %s (supported: stdio)", transport), nil)
	}
}
