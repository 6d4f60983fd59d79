package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/mcp"
	"github.com/Aman-CERP/searchidx/internal/server"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	var transport, load string
	var shared bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve search and retrieval to MCP clients",
		Long: `Start a Model Context Protocol server on stdin and stdout.

Tools:
  search         run the pipeline for a query and return passages
  index_status   pipeline counters and index mode

Resources:
  chunk://{id}   text of one indexed chunk (shared index only)

Logs go to stderr and the log file, never stdout. The index mode
follows serve: a fresh catalog per call unless --shared-index is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *root.cfg
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

			srv, err := mcp.NewServer(deps)
			if err != nil {
				return serrors.InternalError("failed to create MCP server", err)
			}
			slog.Info("mcp_index_mode",
				slog.Bool("shared", cfg.Server.SharedIndex),
				slog.Int("max_chunks", cfg.Index.MaxChunks))
			return srv.Serve(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio)")
	cmd.Flags().StringVar(&load, "load", "", "Start the shared index from a catalog snapshot")
	cmd.Flags().BoolVar(&shared, "shared-index", false, "Keep one catalog across calls (default: server.shared_index)")

	return cmd
}
