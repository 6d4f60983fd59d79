// Package server exposes the indexing pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
	"github.com/Aman-CERP/searchidx/internal/retrieve"
	"github.com/Aman-CERP/searchidx/internal/store"
	"github.com/Aman-CERP/searchidx/internal/telemetry"
	"github.com/Aman-CERP/searchidx/pkg/version"
)

// Runner runs the pipeline for a query.
type Runner interface {
	Run(ctx context.Context, query string) (*pipeline.Aggregated, error)
}

// Retriever answers a query from the index.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieve.Passage, error)
}

// Catalog resolves chunk ids.
type Catalog interface {
	Entry(id uint64) (store.Entry, bool)
	Len() int
}

// Recorder keeps run history.
type Recorder interface {
	RecordRun(ctx context.Context, agg *pipeline.Aggregated)
	Summary() telemetry.Summary
}

// Workspace is the index one /search request writes to and reads from.
type Workspace struct {
	Runner    Runner
	Retriever Retriever
	// Release frees the workspace once the response is written. Optional.
	Release func()
}

// WorkspaceFactory builds the Workspace for one request.
type WorkspaceFactory func(ctx context.Context) (*Workspace, error)

// Config holds the listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Deps are the handlers' collaborators. Only Runner is required.
type Deps struct {
	Runner    Runner
	Retriever Retriever
	Catalog   Catalog
	Telemetry Recorder
	// NewWorkspace, when set, gives every /search its own index. Runner
	// then only reports /stats, and Retriever is unused. Catalog should be
	// nil, since chunk ids do not outlive their request.
	NewWorkspace WorkspaceFactory
	// DefaultK is the passage count when the request has no k.
	DefaultK int
}

// SearchResponse is the body of GET /search.
type SearchResponse struct {
	RunID    string                 `json:"run_id"`
	Query    string                 `json:"query"`
	Results  []pipeline.Result      `json:"results"`
	Passages []retrieve.Passage     `json:"passages"`
	Index    map[uint64]store.Entry `json:"index"`
	Stats    pipeline.StatsSnapshot `json:"stats"`
	Duration time.Duration          `json:"duration_ns"`
}

type handlers struct {
	deps Deps
}

// NewRouter builds the HTTP routes.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{deps: deps}
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(AccessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.GetInfo())
	})
	r.Get("/search", h.search)
	r.Get("/chunks/{id}", h.chunk)
	r.Get("/stats", h.stats)

	return r
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, serrors.New(serrors.ErrCodeQueryEmpty, "missing query parameter q", nil))
		return
	}

	k := h.deps.DefaultK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, serrors.ValidationError(fmt.Sprintf("k must be a positive integer, got %q", raw), err))
			return
		}
		k = n
	}

	runner, retriever := h.deps.Runner, h.deps.Retriever
	if h.deps.NewWorkspace != nil {
		ws, err := h.deps.NewWorkspace(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if ws.Release != nil {
			defer ws.Release()
		}
		runner, retriever = ws.Runner, ws.Retriever
	}

	agg, err := runner.Run(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.deps.Telemetry != nil {
		h.deps.Telemetry.RecordRun(r.Context(), agg)
	}

	resp := SearchResponse{
		RunID:    agg.RunID,
		Query:    agg.Query,
		Results:  make([]pipeline.Result, len(agg.Results)),
		Passages: []retrieve.Passage{},
		Index:    agg.Index(),
		Stats:    agg.Stats,
		Duration: agg.Duration,
	}
	for i, res := range agg.Results {
		resp.Results[i] = res.WithoutVectors()
	}

	if retriever != nil {
		passages, err := retriever.Retrieve(r.Context(), q, k)
		if err != nil {
			slog.Warn("search_retrieve_failed",
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("error", err.Error()))
		} else {
			resp.Passages = passages
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) chunk(w http.ResponseWriter, r *http.Request) {
	if h.deps.Catalog == nil {
		writeError(w, serrors.New(serrors.ErrCodeFileNotFound, "chunk ids are only valid inside their /search response", nil).
			WithSuggestion("Serve with --shared-index to resolve ids after the request"))
		return
	}
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, serrors.ValidationError(fmt.Sprintf("invalid chunk id %q", raw), err))
		return
	}
	e, ok := h.deps.Catalog.Entry(id)
	if !ok {
		writeError(w, serrors.New(serrors.ErrCodeFileNotFound, fmt.Sprintf("chunk %d not found", id), nil))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Pipeline pipeline.StatsSnapshot `json:"pipeline"`
	Chunks   int                    `json:"chunks"`
	History  *telemetry.Summary     `json:"history,omitempty"`
}

func (h *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	var resp StatsResponse
	if sp, ok := h.deps.Runner.(interface{ Stats() pipeline.StatsSnapshot }); ok {
		resp.Pipeline = sp.Stats()
	}
	if h.deps.Catalog != nil {
		resp.Chunks = h.deps.Catalog.Len()
	}
	if h.deps.Telemetry != nil {
		sum := h.deps.Telemetry.Summary()
		resp.History = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

// Serve listens on cfg.Addr until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func Serve(ctx context.Context, cfg Config, handler http.Handler) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return serrors.New(serrors.ErrCodeNetworkUnavailable, "listen on "+cfg.Addr, err)
	}
	return ServeListener(ctx, cfg, ln, handler)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, cfg Config, ln net.Listener, handler http.Handler) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_started", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server_stopped")
	return nil
}
