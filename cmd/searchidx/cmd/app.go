package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Aman-CERP/searchidx/internal/cache"
	"github.com/Aman-CERP/searchidx/internal/chunk"
	"github.com/Aman-CERP/searchidx/internal/config"
	"github.com/Aman-CERP/searchidx/internal/embed"
	"github.com/Aman-CERP/searchidx/internal/extract"
	"github.com/Aman-CERP/searchidx/internal/fetch"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
	"github.com/Aman-CERP/searchidx/internal/retrieve"
	"github.com/Aman-CERP/searchidx/internal/searx"
	"github.com/Aman-CERP/searchidx/internal/server"
	"github.com/Aman-CERP/searchidx/internal/store"
	"github.com/Aman-CERP/searchidx/internal/telemetry"
	"github.com/Aman-CERP/searchidx/internal/workpool"
)

// app is the set of components one command works with.
type app struct {
	cfg       *config.Config
	embedder  embed.Embedder
	cache     *cache.Advisory
	catalog   *store.Catalog
	keywords  *store.KeywordIndex
	pipeline  *pipeline.Pipeline
	retriever *retrieve.Retriever
	telemetry *telemetry.Collector
	history   *telemetry.SQLiteStore
}

// appOptions override parts of the loaded configuration for one command.
type appOptions struct {
	// urls replaces the search engine with a fixed URL list.
	urls []string
	// catalogPath loads a saved catalog instead of starting empty.
	catalogPath string
	// observer follows the pipeline's stage transitions.
	observer pipeline.Observer
}

// newApp builds every component from cfg. The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var searcher searx.Searcher
	if len(opts.urls) > 0 {
		searcher = searx.Static(opts.urls)
	} else {
		client, err := searx.New(cfg.Search.URL, cfg.Search.Timeout)
		if err != nil {
			return nil, err
		}
		searcher = client
	}

	a.embedder, err = embed.New(ctx, embed.Config{
		Provider:        cfg.Embeddings.Provider,
		Model:           cfg.Embeddings.Model,
		Dimensions:      cfg.Embeddings.Dimensions,
		BatchSize:       cfg.Embeddings.BatchSize,
		Timeout:         cfg.Embeddings.Timeout,
		OllamaHost:      cfg.Embeddings.OllamaHost,
		OpenAIBaseURL:   cfg.Embeddings.OpenAIBaseURL,
		OpenAIAPIKey:    cfg.Embeddings.OpenAIAPIKey,
		CacheSize:       cfg.Embeddings.CacheSize,
		Serialize:       cfg.Embeddings.Serialize,
		BreakerFailures: cfg.Embeddings.BreakerFailures,
		BreakerTimeout:  cfg.Embeddings.BreakerTimeout,
	})
	if err != nil {
		return nil, err
	}

	a.cache, err = cache.New(ctx, cache.Config{
		Backend:    cfg.Cache.Backend,
		TTL:        cfg.Cache.TTL,
		Size:       cfg.Cache.Size,
		RedisURL:   cfg.Cache.RedisURL,
		SQLitePath: cfg.Cache.SQLitePath,
	})
	if err != nil {
		return nil, err
	}

	if opts.catalogPath != "" {
		a.catalog, err = store.LoadCatalog(opts.catalogPath)
		if err != nil {
			return nil, err
		}
		a.catalog.SetMaxChunks(cfg.Index.MaxChunks)
	} else {
		a.catalog, err = newCatalog(cfg, a.embedder.Dimensions())
		if err != nil {
			return nil, err
		}
	}

	a.keywords, err = store.NewKeywordIndex()
	if err != nil {
		return nil, err
	}
	if existing := a.catalog.Entries(); len(existing) > 0 {
		if err := a.keywords.Add(existing); err != nil {
			return nil, err
		}
		slog.Info("catalog_loaded",
			slog.String("path", opts.catalogPath),
			slog.Int("entries", len(existing)))
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Searcher:  searcher,
		Fetcher:   newFetcher(cfg),
		Extractor: extract.New(cfg.Extract.MaxTextBytes),
		Chunker: chunk.Chunker{
			MaxWords:  cfg.Chunk.MaxWords,
			MaxChunks: cfg.Chunk.MaxChunks,
		},
		Embedder:     a.embedder,
		Cache:        a.cache,
		CacheTTL:     cfg.Cache.TTL,
		Catalog:      a.catalog,
		Keywords:     a.keywords,
		Pool:         workpool.New(cfg.Pipeline.Workers),
		Concurrency:  cfg.Pipeline.Concurrency,
		MaxResults:   cfg.Pipeline.MaxResults,
		FetchRetries: cfg.Pipeline.FetchRetries,
		Observer:     opts.observer,
	})
	if err != nil {
		return nil, err
	}

	a.retriever, err = a.newRetriever(a.catalog, a.keywords)
	if err != nil {
		return nil, err
	}

	a.telemetry, a.history = newTelemetry(cfg)
	return a, nil
}

// newCatalog builds an empty catalog capped at index.max_chunks.
func newCatalog(cfg *config.Config, dims int) (*store.Catalog, error) {
	index, err := store.NewVectorIndex(store.IndexConfig{
		Backend:    cfg.Index.Backend,
		Dimensions: dims,
		M:          cfg.Index.M,
		EfSearch:   cfg.Index.EfSearch,
	})
	if err != nil {
		return nil, err
	}
	catalog := store.NewCatalog(index)
	catalog.SetMaxChunks(cfg.Index.MaxChunks)
	return catalog, nil
}

func (a *app) newRetriever(catalog *store.Catalog, keywords *store.KeywordIndex) (*retrieve.Retriever, error) {
	return retrieve.New(a.embedder, catalog,
		retrieve.WithKeywordIndex(keywords),
		retrieve.WithConfig(retrieve.Config{
			TopK:          a.cfg.Retrieve.TopK,
			VectorWeight:  a.cfg.Retrieve.VectorWeight,
			KeywordWeight: a.cfg.Retrieve.KeywordWeight,
			RRFConstant:   a.cfg.Retrieve.RRFConstant,
		}))
}

// newWorkspace gives one HTTP request its own catalog and keyword index.
// The pipeline's other collaborators and counters stay shared.
func (a *app) newWorkspace(context.Context) (_ *server.Workspace, err error) {
	catalog, err := newCatalog(a.cfg, a.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	keywords, err := store.NewKeywordIndex()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = keywords.Close()
		}
	}()

	p, err := a.pipeline.WithCatalog(catalog, keywords)
	if err != nil {
		return nil, err
	}
	retriever, err := a.newRetriever(catalog, keywords)
	if err != nil {
		return nil, err
	}
	return &server.Workspace{
		Runner:    p,
		Retriever: retriever,
		Release:   func() { _ = keywords.Close() },
	}, nil
}

// newTelemetry always returns a collector. History is persisted only when
// telemetry is enabled and its database opens.
func newTelemetry(cfg *config.Config) (*telemetry.Collector, *telemetry.SQLiteStore) {
	if !cfg.Telemetry.Enabled {
		return telemetry.NewCollector(cfg.Telemetry.RecentRuns), nil
	}
	path := telemetryPath(cfg)
	history, err := telemetry.NewSQLiteStore(path)
	if err != nil {
		slog.Warn("telemetry_unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return telemetry.NewCollector(cfg.Telemetry.RecentRuns), nil
	}
	return telemetry.NewCollector(cfg.Telemetry.RecentRuns, telemetry.WithStore(history)), history
}

func telemetryPath(cfg *config.Config) string {
	if cfg.Telemetry.Path != "" {
		return cfg.Telemetry.Path
	}
	return telemetry.DefaultPath()
}

func newFetcher(cfg *config.Config) *fetch.HTTPFetcher {
	return fetch.New(fetch.Config{
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		RatePerHost:  cfg.Fetch.RatePerHost,
		RateBurst:    cfg.Fetch.RateBurst,
	})
}

// Close releases every component holding a connection or file.
func (a *app) Close() error {
	var errs []error
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.keywords != nil {
		errs = append(errs, a.keywords.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
