package cmd

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchidx/internal/cache"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/preflight"
	"github.com/Aman-CERP/searchidx/internal/searx"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var jsonOut, verbose, offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the search engine, embedder and cache are usable",
		Long: `Run preflight checks against the configured stack:

  search_engine      one query against search.url (skipped with --offline)
  embedder           one embedding, checked against embeddings.dimensions
  cache              write and read back one key
  write_permissions  the data directory (~/.searchidx)
  disk_space         free space for the cache and logs
  file_descriptors   enough for pipeline.concurrency

Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := root.cfg
			out := cmd.OutOrStdout()

			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			dataDir := filepath.Dir(cache.DefaultSQLitePath())
			checker := preflight.New(preflight.WithOutput(out), preflight.WithVerbose(verbose))
			var checks []preflight.Check
			if !offline {
				client, err := searx.New(cfg.Search.URL, cfg.Search.Timeout)
				if err != nil {
					return err
				}
				checks = append(checks, checker.SearchEngine(client))
			}
			checks = append(checks,
				checker.Embedder(a.embedder, cfg.Embeddings.Dimensions),
				checker.Cache(cfg.Cache.Backend, a.cache),
				checker.WritePermissions(dataDir),
				checker.DiskSpace(dataDir),
				checker.FileDescriptors(cfg.Pipeline.Concurrency),
			)
			results := checker.Run(ctx, checks...)

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return serrors.New(serrors.ErrCodeInternal, "preflight checks failed", nil).
					WithSuggestion("Fix the FAIL lines above, then rerun 'searchidx doctor'")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the search engine check")

	return cmd
}
