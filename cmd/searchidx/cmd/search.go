package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/output"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
	"github.com/Aman-CERP/searchidx/internal/retrieve"
	"github.com/Aman-CERP/searchidx/internal/store"
	"github.com/Aman-CERP/searchidx/internal/ui"
)

// snippetRunes bounds passage text in text output.
const snippetRunes = 240

type searchOptions struct {
	format      string
	k           int
	concurrency int
	chunkSize   int
	maxResults  int
	urls        []string
	save        string
	load        string
	noRetrieve  bool
	progress    string
}

// searchReport is the JSON document printed by search.
type searchReport struct {
	RunID    string                 `json:"run_id"`
	Query    string                 `json:"query"`
	Results  []pipeline.Result      `json:"results"`
	Passages []retrieve.Passage     `json:"passages"`
	Index    map[uint64]store.Entry `json:"index"`
	Stats    pipeline.StatsSnapshot `json:"stats"`
	Duration time.Duration          `json:"duration_ns"`
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search, fetch, embed and index the results for a query",
		Long: `Run the full pipeline for a query and print the best matching passages.

Each result URL is fetched, extracted, chunked, embedded and indexed
independently. Failed URLs are listed with their error and never stop
the rest of the run.

Examples:
  searchidx search "golang generics"
  searchidx search "rate limiting" --k 10 --format json
  searchidx search "context cancellation" --url https://go.dev/blog/context
  searchidx search "goroutines" --save index.snap
  searchidx search "channels" --progress plain 2>progress.log`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, root, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", output.FormatAuto, "Output format: auto, text, json")
	cmd.Flags().IntVar(&opts.k, "k", 0, "Passages to return (default: retrieve.top_k)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "URLs processed in parallel (default: pipeline.concurrency)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Maximum words per chunk (default: chunk.max_words)")
	cmd.Flags().IntVarP(&opts.maxResults, "limit", "n", 0, "Search results to index (default: pipeline.max_results)")
	cmd.Flags().StringArrayVar(&opts.urls, "url", nil, "Index this URL instead of querying the search engine (repeatable)")
	cmd.Flags().StringVar(&opts.save, "save", "", "Write the catalog snapshot to this path after the run")
	cmd.Flags().StringVar(&opts.load, "load", "", "Start from a catalog snapshot saved with --save")
	cmd.Flags().BoolVar(&opts.noRetrieve, "no-retrieve", false, "Index only; skip passage retrieval")
	cmd.Flags().StringVar(&opts.progress, "progress", ui.ModeAuto, "Progress on stderr: auto, tui, plain, none")

	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, opts *searchOptions, query string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	out := cmd.OutOrStdout()

	format, err := output.ResolveFormat(opts.format, out)
	if err != nil {
		return serrors.ValidationError(err.Error(), nil)
	}

	cfg := *root.cfg
	if opts.concurrency > 0 {
		cfg.Pipeline.Concurrency = opts.concurrency
	}
	if opts.chunkSize > 0 {
		cfg.Chunk.MaxWords = opts.chunkSize
	}
	if opts.maxResults > 0 {
		cfg.Pipeline.MaxResults = opts.maxResults
	}
	if len(opts.urls) > cfg.Pipeline.MaxResults {
		cfg.Pipeline.MaxResults = len(opts.urls)
	}
	k := opts.k
	if k <= 0 {
		k = cfg.Retrieve.TopK
	}

	progress, err := ui.ForMode(opts.progress, ui.NewConfig(cmd.ErrOrStderr(), ui.WithInterrupt(cancel)))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, &cfg, appOptions{urls: opts.urls, catalogPath: opts.load, observer: progress})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if progress != nil {
		if err := progress.Start(ctx); err != nil {
			return err
		}
	}
	agg, err := a.pipeline.Run(ctx, query)
	if progress != nil {
		_ = progress.Stop()
	}
	if err != nil {
		return err
	}
	a.telemetry.RecordRun(ctx, agg)

	passages := []retrieve.Passage{}
	if !opts.noRetrieve {
		got, err := a.retriever.Retrieve(ctx, query, k)
		if err != nil {
			slog.Warn("retrieve_failed", serrors.LogAttrs(err)...)
		} else {
			passages = got
		}
	}

	if opts.save != "" {
		if err := a.catalog.Save(opts.save); err != nil {
			return err
		}
		slog.Info("catalog_saved",
			slog.String("path", opts.save),
			slog.Int("entries", a.catalog.Len()))
	}

	if format == output.FormatJSON {
		return writeSearchJSON(out, agg, passages)
	}
	writeSearchText(out, agg, passages, opts.save)
	return nil
}

func writeSearchJSON(w io.Writer, agg *pipeline.Aggregated, passages []retrieve.Passage) error {
	report := searchReport{
		RunID:    agg.RunID,
		Query:    agg.Query,
		Results:  make([]pipeline.Result, len(agg.Results)),
		Passages: passages,
		Index:    agg.Index(),
		Stats:    agg.Stats,
		Duration: agg.Duration,
	}
	for i, res := range agg.Results {
		report.Results[i] = res.WithoutVectors()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeSearchText(w io.Writer, agg *pipeline.Aggregated, passages []retrieve.Passage, saved string) {
	out := output.New(w)

	out.Statusf("🔍", "%q: %d of %d URLs indexed, %d chunks (%s)",
		agg.Query, agg.Succeeded(), len(agg.Results), agg.Stats.IndexedChunks, agg.Duration.Round(time.Millisecond))
	for _, res := range agg.Failed() {
		out.Errorf("%s failed at %s: %s", res.URL, res.FailedAt, res.Error)
	}
	if agg.Stats.CacheHits > 0 {
		out.Status("", fmt.Sprintf("%d pages served from cache", agg.Stats.CacheHits))
	}
	out.Newline()

	if len(passages) == 0 {
		out.Warning("No passages matched")
	} else {
		out.Heading("Top passages")
		for i, p := range passages {
			out.Passage(i+1, p.Score, p.URL, p.Text, snippetRunes)
		}
	}

	if saved != "" {
		out.Successf("Catalog saved to %s", saved)
	}
}
