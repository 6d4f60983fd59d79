package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, load string
	var shared bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search and retrieval over HTTP",
		Long: `Start an HTTP server exposing the pipeline.

Endpoints:
  GET /search?q=<query>&k=<n>   run the pipeline and return passages
  GET /chunks/{id}              resolve one indexed chunk (shared index only)
  GET /stats                    pipeline counters and run history
  GET /healthz                  liveness
  GET /version                  build information

By default every request indexes into a fresh catalog that is dropped
after the response. With --shared-index all requests commit into one
catalog capped at index.max_chunks, so later queries can retrieve
passages from pages indexed by earlier ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *root.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("shared-index") {
				cfg.Server.SharedIndex = shared
			}
			if load != "" && !cfg.Server.SharedIndex {
				return serrors.ValidationError("--load needs a shared index", nil).
					WithSuggestion("Add --shared-index, or set server.shared_index: true")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, &cfg, appOptions{catalogPath: load})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			deps := server.Deps{
				Runner:    a.pipeline,
				Telemetry: a.telemetry,
				DefaultK:  cfg.Retrieve.TopK,
			}
			if cfg.Server.SharedIndex {
				deps.Retriever = a.retriever
				deps.Catalog = a.catalog
			} else {
				deps.NewWorkspace = a.newWorkspace
			}
			slog.Info("serve_index_mode",
				slog.Bool("shared", cfg.Server.SharedIndex),
				slog.Int("max_chunks", cfg.Index.MaxChunks))

			return server.Serve(ctx, server.Config{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, server.NewRouter(deps))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().StringVar(&load, "load", "", "Start the shared index from a catalog snapshot")
	cmd.Flags().BoolVar(&shared, "shared-index", false, "Keep one catalog across requests (default: server.shared_index)")

	return cmd
}
