package cmd

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/output"
	"github.com/Aman-CERP/searchidx/internal/telemetry"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOut bool
		since   time.Duration
		recent  int
		prune   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the local run history",
		Long: `Summarise past runs from the telemetry database: how many URLs were
indexed, which stages and error codes failed, and which hosts fail most.

Examples:
  searchidx stats
  searchidx stats --since 24h --json
  searchidx stats --prune 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			if !cfg.Telemetry.Enabled {
				return serrors.ConfigError("telemetry is disabled", nil).
					WithSuggestion("Set telemetry.enabled: true to record run history")
			}

			history, err := telemetry.NewSQLiteStore(telemetryPath(cfg))
			if err != nil {
				return serrors.Wrap(serrors.ErrCodeFileNotFound, err)
			}
			defer func() { _ = history.Close() }()

			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			if prune > 0 {
				n, err := history.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				out.Successf("Pruned %d runs older than %s", n, prune)
			}

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			sum, err := history.Summary(ctx, from, recent)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			printSummary(out, sum)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	cmd.Flags().DurationVar(&since, "since", 0, "Only runs newer than this (e.g. 24h); 0 means all")
	cmd.Flags().IntVar(&recent, "recent", 5, "Recent runs to list")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete runs older than this before summarising")

	return cmd
}

func printSummary(out *output.Writer, sum telemetry.Summary) {
	out.Heading("Run history")
	if sum.Runs == 0 {
		out.Status("", "No runs recorded")
		return
	}

	out.Statusf("📊", "%d runs, %d URLs, %d indexed, %d failed (%.1f%%)",
		sum.Runs, sum.URLs, sum.Succeeded, sum.Failed, 100*sum.FailureRate())
	out.Statusf("🧩", "%d chunks indexed, %d pages from cache", sum.Chunks, sum.CacheHits)

	if len(sum.FailedStages) > 0 {
		out.Newline()
		out.Status("", "Failures by stage:")
		for _, k := range sortedByCount(sum.FailedStages) {
			out.Statusf("", "  %-12s %d", k, sum.FailedStages[k])
		}
		out.Status("", "Failures by code:")
		for _, k := range sortedByCount(sum.ErrorCodes) {
			out.Statusf("", "  %-28s %d", k, sum.ErrorCodes[k])
		}
	}
	if len(sum.FailingHosts) > 0 {
		out.Status("", "Failing hosts:")
		for _, h := range sum.FailingHosts {
			out.Statusf("", "  %-28s %d", h.Host, h.Failures)
		}
	}

	if len(sum.Recent) > 0 {
		out.Newline()
		out.Status("", "Recent runs:")
		for _, ev := range sum.Recent {
			out.Statusf("", "  %s  %-30q %d/%d indexed  %s",
				ev.Timestamp.Format(time.DateTime), output.Snippet(ev.Query, 28),
				ev.Succeeded, ev.URLs, ev.Duration.Round(time.Millisecond))
		}
	}
}

// sortedByCount orders map keys by count descending, then by key.
func sortedByCount(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
