// Package retrieve answers queries against the indexed chunks by fusing
// vector similarity with BM25 keyword matches.
package retrieve

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchidx/internal/embed"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/store"
)

// Config holds the fusion parameters.
type Config struct {
	TopK          int     // Passages returned when the caller passes k <= 0
	VectorWeight  float64 // Weight of the semantic ranking
	KeywordWeight float64 // Weight of the BM25 ranking
	RRFConstant   int     // Smoothing constant k in 1/(k + rank)
}

// DefaultConfig returns the standard fusion parameters.
func DefaultConfig() Config {
	return Config{
		TopK:          5,
		VectorWeight:  0.65,
		KeywordWeight: 0.35,
		RRFConstant:   60,
	}
}

// Passage is one retrieved chunk.
type Passage struct {
	ID          uint64  `json:"id"`
	URL         string  `json:"url"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	VectorRank  int     `json:"vector_rank,omitempty"`  // 1-based, 0 if absent
	KeywordRank int     `json:"keyword_rank,omitempty"` // 1-based, 0 if absent
}

// InBoth reports whether both rankings returned the passage.
func (p Passage) InBoth() bool { return p.VectorRank > 0 && p.KeywordRank > 0 }

// Retriever runs hybrid search over a catalog.
//
// Thread-safe for concurrent use.
type Retriever struct {
	embedder embed.Embedder
	catalog  *store.Catalog
	keywords *store.KeywordIndex
	config   Config
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithKeywordIndex enables the BM25 side of the search.
func WithKeywordIndex(k *store.KeywordIndex) Option {
	return func(r *Retriever) { r.keywords = k }
}

// WithConfig replaces the fusion parameters. Zero fields keep defaults.
func WithConfig(c Config) Option {
	return func(r *Retriever) {
		if c.TopK > 0 {
			r.config.TopK = c.TopK
		}
		if c.VectorWeight > 0 {
			r.config.VectorWeight = c.VectorWeight
		}
		if c.KeywordWeight > 0 {
			r.config.KeywordWeight = c.KeywordWeight
		}
		if c.RRFConstant > 0 {
			r.config.RRFConstant = c.RRFConstant
		}
	}
}

// New creates a Retriever. Without WithKeywordIndex it is vector-only.
func New(embedder embed.Embedder, catalog *store.Catalog, opts ...Option) (*Retriever, error) {
	if embedder == nil || catalog == nil {
		return nil, serrors.ConfigError("retriever requires an embedder and a catalog", nil)
	}
	r := &Retriever{embedder: embedder, catalog: catalog, config: DefaultConfig()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns the k best passages for query. The vector and keyword
// searches run in parallel; if one fails the other's ranking is used
// alone, and only both failing is an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, serrors.New(serrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if k <= 0 {
		k = r.config.TopK
	}

	// Fetch more candidates than requested so fusion has overlap to work with.
	fetchLimit := max(k*2, 20)

	var (
		vectorHits  []store.Match
		keywordHits []store.Match
		vectorErr   error
		keywordErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectorHits, vectorErr = r.vectorSearch(gctx, query, fetchLimit)
		return nil
	})
	if r.keywords != nil {
		g.Go(func() error {
			keywordHits, keywordErr = r.keywordSearch(gctx, query, fetchLimit)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case vectorErr != nil && (r.keywords == nil || keywordErr != nil):
		return nil, serrors.New(serrors.ErrCodeIndexFailed, "all retrievers failed",
			errors.Join(vectorErr, keywordErr))
	case vectorErr != nil:
		slog.Warn("retrieve_vector_failed", slog.String("error", vectorErr.Error()))
	case keywordErr != nil:
		slog.Warn("retrieve_keyword_failed", slog.String("error", keywordErr.Error()))
	}

	passages := fuse(vectorHits, keywordHits, r.config)
	if len(passages) > k {
		passages = passages[:k]
	}

	slog.Debug("retrieve_complete",
		slog.String("query", query),
		slog.Int("vector_hits", len(vectorHits)),
		slog.Int("keyword_hits", len(keywordHits)),
		slog.Int("passages", len(passages)),
		slog.Duration("duration", time.Since(start)))

	return passages, nil
}

func (r *Retriever) vectorSearch(ctx context.Context, query string, limit int) ([]store.Match, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.catalog.Search(vec, limit)
}

func (r *Retriever) keywordSearch(ctx context.Context, query string, limit int) ([]store.Match, error) {
	hits, err := r.keywords.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]store.Match, 0, len(hits))
	for _, h := range hits {
		e, ok := r.catalog.Entry(h.ID)
		if !ok {
			continue
		}
		out = append(out, store.Match{Entry: e, Score: float32(h.Score)})
	}
	return out, nil
}

// fuse applies weighted Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_i / (k + rank_i)
//
// with 1-based ranks. Ties are broken by ascending id so output is stable.
func fuse(vector, keyword []store.Match, cfg Config) []Passage {
	byID := make(map[uint64]*Passage, len(vector)+len(keyword))

	add := func(m store.Match, rank int, weight float64) *Passage {
		p, ok := byID[m.ID]
		if !ok {
			p = &Passage{ID: m.ID, URL: m.URL, Text: m.ChunkText}
			byID[m.ID] = p
		}
		p.Score += weight / float64(cfg.RRFConstant+rank)
		return p
	}

	for i, m := range vector {
		add(m, i+1, cfg.VectorWeight).VectorRank = i + 1
	}
	for i, m := range keyword {
		add(m, i+1, cfg.KeywordWeight).KeywordRank = i + 1
	}

	out := make([]Passage, 0, len(byID))
	for _, p := range byID {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Passage) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
