package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchidx/internal/cache"
	"github.com/Aman-CERP/searchidx/internal/chunk"
	"github.com/Aman-CERP/searchidx/internal/embed"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/extract"
	"github.com/Aman-CERP/searchidx/internal/fetch"
	"github.com/Aman-CERP/searchidx/internal/searx"
	"github.com/Aman-CERP/searchidx/internal/store"
	"github.com/Aman-CERP/searchidx/internal/workpool"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultConcurrency = 10
	DefaultMaxResults  = 10
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Config wires an orchestrator to its collaborators.
type Config struct {
	// Searcher resolves a query to URLs. Only Run needs it.
	Searcher searx.Searcher

	// Fetcher downloads pages. Required.
	Fetcher fetch.Fetcher

	// Extractor turns HTML into text. Defaults to extract.New(0).
	Extractor *extract.Extractor

	// Chunker splits text into word windows.
	Chunker chunk.Chunker

	// Embedder vectorises chunks. Required; its dimension must match the
	// catalog's.
	Embedder embed.Embedder

	// Cache stores chunk and embedding results by content hash. Nil
	// disables caching.
	Cache cache.Cache
	// CacheTTL defaults to cache.DefaultTTL.
	CacheTTL time.Duration

	// Catalog receives committed chunks. Required.
	Catalog *store.Catalog

	// Keywords mirrors committed chunks for full-text retrieval. Optional.
	Keywords *store.KeywordIndex

	// Pool bounds extraction and embedding. Defaults to runtime.NumCPU() slots.
	Pool *workpool.Pool

	// Concurrency caps the number of URLs in flight.
	Concurrency int

	// MaxResults caps the search results consumed by Run.
	MaxResults int

	// FetchRetries is the number of extra attempts for retryable fetch
	// errors. Zero means a single attempt.
	FetchRetries int
	RetryDelay   time.Duration

	// Observer is told about every stage transition. Optional.
	Observer Observer
}

// Observer receives progress notifications. StageChanged is called from
// the goroutine processing the URL, so implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	RunStarted(runID string, urls []string)
	StageChanged(runID string, index int, res Result)
	RunFinished(agg *Aggregated)
}

// Pipeline is the orchestrator. It is safe for concurrent use; concurrent
// runs share the catalog.
type Pipeline struct {
	cfg   Config
	stats *Stats
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Fetcher == nil {
		return nil, serrors.ConfigError("pipeline requires a fetcher", nil)
	}
	if cfg.Embedder == nil {
		return nil, serrors.ConfigError("pipeline requires an embedder", nil)
	}
	if cfg.Catalog == nil {
		return nil, serrors.ConfigError("pipeline requires a catalog", nil)
	}
	if cfg.Embedder.Dimensions() != cfg.Catalog.Dimensions() {
		return nil, serrors.New(serrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d-dimensional vectors but the index expects %d",
				cfg.Embedder.Dimensions(), cfg.Catalog.Dimensions()), nil).
			WithSuggestion("Set embeddings.dimensions to match the index, or rebuild the index")
	}

	if cfg.Extractor == nil {
		cfg.Extractor = extract.New(0)
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.None{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.Pool == nil {
		cfg.Pool = workpool.New(0)
	}
	if cfg.Chunker.MaxWords <= 0 {
		cfg.Chunker.MaxWords = chunk.DefaultMaxWords
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Pipeline{cfg: cfg, stats: &Stats{}}, nil
}

// WithCatalog returns a pipeline that commits into catalog and keywords
// instead. It shares every other collaborator and the accumulated Stats
// with p.
func (p *Pipeline) WithCatalog(catalog *store.Catalog, keywords *store.KeywordIndex) (*Pipeline, error) {
	if catalog == nil {
		return nil, serrors.ConfigError("pipeline requires a catalog", nil)
	}
	if catalog.Dimensions() != p.cfg.Embedder.Dimensions() {
		return nil, serrors.New(serrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d-dimensional vectors but the index expects %d",
				p.cfg.Embedder.Dimensions(), catalog.Dimensions()), nil)
	}
	cfg := p.cfg
	cfg.Catalog = catalog
	cfg.Keywords = keywords
	return &Pipeline{cfg: cfg, stats: p.stats}, nil
}

// Stats returns the counters accumulated over every finished run.
func (p *Pipeline) Stats() StatsSnapshot {
	snap := p.stats.Snapshot()
	if cc, ok := p.cfg.Embedder.(*embed.ChunkCache); ok {
		cs := cc.CacheStats()
		snap.ChunkCache = &cs
	}
	return snap
}

// Catalog returns the catalog runs commit into.
func (p *Pipeline) Catalog() *store.Catalog { return p.cfg.Catalog }

// Run searches for query and processes up to MaxResults result URLs. A
// failed search is the only error returned; per-URL failures are in the
// Aggregated results.
func (p *Pipeline) Run(ctx context.Context, query string) (*Aggregated, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, serrors.New(serrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if p.cfg.Searcher == nil {
		return nil, serrors.ConfigError("pipeline has no search engine configured", nil)
	}

	results, err := p.cfg.Searcher.Search(ctx, query)
	if err != nil {
		if serrors.GetCode(err) == "" {
			err = serrors.New(serrors.ErrCodeSearchFailed, "search failed", err).WithDetail("query", query)
		}
		slog.Error("search_failed", append([]any{slog.String("query", query)}, serrors.LogAttrs(err)...)...)
		return nil, err
	}

	urls := searx.URLs(results)
	if len(urls) > p.cfg.MaxResults {
		urls = urls[:p.cfg.MaxResults]
	}
	slog.Debug("search_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Int("urls", len(urls)))

	agg := p.process(ctx, query, urls)
	return agg, nil
}

// Process runs every URL to completion and returns one Result per input
// URL, in input order. It never returns early: a failed URL only marks its
// own Result.
func (p *Pipeline) Process(ctx context.Context, urls []string) *Aggregated {
	return p.process(ctx, "", urls)
}

func (p *Pipeline) process(ctx context.Context, query string, urls []string) *Aggregated {
	start := time.Now()
	agg := &Aggregated{
		RunID:   uuid.NewString(),
		Query:   query,
		Results: make([]Result, len(urls)),
	}
	run := &Stats{}

	slog.Info("pipeline_started",
		slog.String("run_id", agg.RunID),
		slog.Int("urls", len(urls)),
		slog.Int("concurrency", min(p.cfg.Concurrency, len(urls))))

	if p.cfg.Observer != nil {
		p.cfg.Observer.RunStarted(agg.RunID, urls)
	}

	seen := make(map[string]int, len(urls))
	var g errgroup.Group
	if len(urls) > 0 {
		g.SetLimit(min(p.cfg.Concurrency, len(urls)))
	}
	for i, u := range urls {
		key := strings.TrimSpace(u)
		if first, dup := seen[key]; dup {
			err := serrors.New(serrors.ErrCodeDuplicateURL,
				fmt.Sprintf("duplicate of result %d", first), nil).WithDetail("url", u)
			agg.Results[i] = Result{URL: u, Stage: StagePending}
			fail(&agg.Results[i], err)
			run.failed.Add(1)
			p.observe(agg.RunID, i, agg.Results[i])
			continue
		}
		seen[key] = i

		g.Go(func() error {
			agg.Results[i] = p.processURL(ctx, agg.RunID, i, u, run)
			return nil
		})
	}
	_ = g.Wait()

	agg.Duration = time.Since(start)
	agg.Stats = run.Snapshot()
	p.stats.add(agg.Stats)

	slog.Info("pipeline_complete",
		slog.String("run_id", agg.RunID),
		slog.Int("urls", len(urls)),
		slog.Int("succeeded", agg.Succeeded()),
		slog.Int64("failed", agg.Stats.Failed),
		slog.Int64("cache_hits", agg.Stats.CacheHits),
		slog.Int64("indexed_chunks", agg.Stats.IndexedChunks),
		slog.Duration("duration", agg.Duration))

	if p.cfg.Observer != nil {
		p.cfg.Observer.RunFinished(agg)
	}
	return agg
}

// processURL drives one URL through the state machine. It always returns
// a Result in a terminal stage.
func (p *Pipeline) processURL(ctx context.Context, runID string, i int, u string, run *Stats) (res Result) {
	start := time.Now()
	res = Result{URL: u, Stage: StagePending}
	defer func() {
		res.Duration = time.Since(start)
		if res.Stage != StageFailed {
			return
		}
		run.failed.Add(1)
		slog.Warn("url_failed", append([]any{
			slog.String("run_id", runID),
			slog.String("url", u),
			slog.String("stage", string(res.FailedAt)),
		}, serrors.LogAttrs(res.Err)...)...)
		p.observe(runID, i, res)
	}()

	p.step(runID, i, &res, StageFetching)
	raw, err := p.fetch(ctx, u)
	if err != nil {
		run.fetchErrors.Add(1)
		fail(&res, err)
		return res
	}
	run.fetched.Add(1)

	p.step(runID, i, &res, StageExtracting)
	content, err := workpool.Call(ctx, p.cfg.Pool, func() (RawContent, error) {
		text, err := p.cfg.Extractor.Extract(raw)
		if err != nil {
			return RawContent{}, err
		}
		return RawContent{URL: u, Text: text, ContentHash: cache.ContentHash(text)}, nil
	})
	if err != nil {
		fail(&res, err)
		return res
	}
	run.extracted.Add(1)

	key := cache.Key(content.ContentHash, p.cfg.Chunker.MaxWords, p.cfg.Embedder.ModelName())
	texts, vectors, hit := p.lookup(ctx, key)
	if hit {
		run.cacheHits.Add(1)
		res.Cached = true
		p.step(runID, i, &res, StageChunking)
		p.step(runID, i, &res, StageEmbedding)
	} else {
		run.cacheMisses.Add(1)

		p.step(runID, i, &res, StageChunking)
		chunks := p.cfg.Chunker.Chunk(u, content.Text)
		if len(chunks) == 0 {
			fail(&res, serrors.New(serrors.ErrCodeExtractionEmpty, "document produced no chunks", nil).WithDetail("url", u))
			return res
		}
		texts = chunk.Texts(chunks)

		p.step(runID, i, &res, StageEmbedding)
		vectors, err = workpool.Call(ctx, p.cfg.Pool, func() ([][]float32, error) {
			return embed.EmbedChecked(ctx, p.cfg.Embedder, texts)
		})
		if err != nil {
			fail(&res, err)
			return res
		}
		run.embeddedChunks.Add(int64(len(vectors)))
		p.store(ctx, key, texts, vectors)
	}

	p.step(runID, i, &res, StageIndexing)
	ids, err := p.cfg.Catalog.Commit(u, texts, vectors)
	if err != nil {
		fail(&res, err)
		return res
	}
	run.indexedChunks.Add(int64(len(ids)))

	res.Chunks = chunk.FromTexts(u, texts)
	res.Embeddings = vectors
	res.IDs = ids

	if p.cfg.Keywords != nil {
		entries := make([]store.Entry, len(ids))
		for i, id := range ids {
			entries[i] = store.Entry{ID: id, URL: u, ChunkText: texts[i]}
		}
		// The vector catalog is authoritative; a keyword miss only narrows
		// hybrid retrieval.
		if err := p.cfg.Keywords.Add(entries); err != nil {
			slog.Warn("keyword_index_failed", slog.String("url", u), slog.String("error", err.Error()))
		}
	}

	p.step(runID, i, &res, StageDone)
	return res
}

// fetch downloads u, retrying retryable failures FetchRetries times.
func (p *Pipeline) fetch(ctx context.Context, u string) ([]byte, error) {
	retry := serrors.RetryConfig{
		MaxRetries:   p.cfg.FetchRetries,
		InitialDelay: p.cfg.RetryDelay,
		MaxDelay:     8 * p.cfg.RetryDelay,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry:  serrors.IsRetryable,
	}
	return serrors.RetryWithResult(ctx, retry, func() ([]byte, error) {
		return p.cfg.Fetcher.Fetch(ctx, u)
	})
}

// lookup returns cached chunk texts and vectors for key. Any cache problem,
// including a payload for another dimension, is a miss.
func (p *Pipeline) lookup(ctx context.Context, key string) ([]string, [][]float32, bool) {
	data, ok, err := p.cfg.Cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, nil, false
	}
	payload, err := cache.Decode(data, p.cfg.Embedder.Dimensions())
	if err != nil {
		slog.Debug("cache_payload_rejected", slog.String("key", key), slog.String("error", err.Error()))
		return nil, nil, false
	}
	texts, vectors := payload.Chunks, payload.Embeddings
	if n := p.cfg.Chunker.MaxChunks; n > 0 && len(texts) > n {
		texts, vectors = texts[:n], vectors[:n]
	}
	return texts, vectors, true
}

// store writes a result to the cache. Failures are logged by the cache
// and otherwise ignored.
func (p *Pipeline) store(ctx context.Context, key string, texts []string, vectors [][]float32) {
	data, err := cache.Encode(cache.Payload{Chunks: texts, Embeddings: vectors})
	if err != nil {
		return
	}
	_ = p.cfg.Cache.Set(ctx, key, data, p.cfg.CacheTTL)
}

// step advances res and tells the observer.
func (p *Pipeline) step(runID string, i int, res *Result, next Stage) {
	advance(res, next)
	p.observe(runID, i, *res)
}

func (p *Pipeline) observe(runID string, i int, res Result) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.StageChanged(runID, i, res)
	}
}

func advance(res *Result, next Stage) {
	res.Stage = next
	slog.Debug("url_stage", slog.String("url", res.URL), slog.String("stage", string(next)))
}

// fail moves res to StageFailed, remembering where it stopped. Errors
// without a code (context cancellation, panics in collaborators) are
// reported as internal.
func fail(res *Result, err error) {
	if serrors.GetCode(err) == "" {
		err = serrors.Wrap(serrors.ErrCodeInternal, err)
	}
	res.FailedAt = res.Stage
	res.Stage = StageFailed
	res.Err = err
	res.Error = err.Error()
	res.ErrorCode = serrors.GetCode(err)
}
