// Package pipeline turns search results into indexed, retrievable chunks.
//
// Every URL runs through its own fetch, extract, chunk, embed and index
// sequence. A failure at any step is recorded on that URL's Result and
// never stops the others; the only fatal error is a failed search.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/searchidx/internal/chunk"
	"github.com/Aman-CERP/searchidx/internal/embed"
	"github.com/Aman-CERP/searchidx/internal/store"
)

// Stage is a step in the per-URL state machine.
type Stage string

const (
	StagePending    Stage = "pending"
	StageFetching   Stage = "fetching"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// RawContent is the extracted text of one URL.
type RawContent struct {
	URL         string
	Text        string
	ContentHash string // hex SHA-256 of Text
}

// Result is the outcome of processing one URL. On success Chunks,
// Embeddings and IDs are parallel slices. On failure Error and ErrorCode
// are set and nothing from this URL is in the index.
type Result struct {
	URL        string        `json:"url"`
	Stage      Stage         `json:"stage"`
	FailedAt   Stage         `json:"failed_at,omitempty"`
	Chunks     []chunk.Chunk `json:"chunks,omitempty"`
	Embeddings [][]float32   `json:"embeddings,omitempty"`
	IDs        []uint64      `json:"ids,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Duration   time.Duration `json:"duration_ns"`

	Err error `json:"-"`
}

// OK reports whether the URL was indexed.
func (r Result) OK() bool { return r.Stage == StageDone }

// WithoutVectors returns a copy of r with Embeddings dropped.
func (r Result) WithoutVectors() Result {
	r.Embeddings = nil
	return r
}

// Aggregated collects the results of one run, in input order.
type Aggregated struct {
	RunID    string        `json:"run_id"`
	Query    string        `json:"query,omitempty"`
	Results  []Result      `json:"results"`
	Stats    StatsSnapshot `json:"stats"`
	Duration time.Duration `json:"duration_ns"`
}

// Entries returns every chunk committed by this run as id, url and text,
// in result order then chunk order.
func (a *Aggregated) Entries() []store.Entry {
	var out []store.Entry
	for _, r := range a.Results {
		if !r.OK() {
			continue
		}
		for i, id := range r.IDs {
			out = append(out, store.Entry{ID: id, URL: r.URL, ChunkText: r.Chunks[i].Text})
		}
	}
	return out
}

// Index returns the id -> entry mapping of every chunk committed by this run.
func (a *Aggregated) Index() map[uint64]store.Entry {
	entries := a.Entries()
	out := make(map[uint64]store.Entry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out
}

// Failed returns the results that did not reach StageDone.
func (a *Aggregated) Failed() []Result {
	var out []Result
	for _, r := range a.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Succeeded counts indexed URLs.
func (a *Aggregated) Succeeded() int {
	return len(a.Results) - len(a.Failed())
}

// Stats are the counters of one orchestrator, safe for concurrent updates.
type Stats struct {
	fetched        atomic.Int64
	fetchErrors    atomic.Int64
	extracted      atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	embeddedChunks atomic.Int64
	indexedChunks  atomic.Int64
	failed         atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Fetched        int64 `json:"fetched"`
	FetchErrors    int64 `json:"fetch_errors"`
	Extracted      int64 `json:"extracted"`
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	EmbeddedChunks int64 `json:"embedded_chunks"`
	IndexedChunks  int64 `json:"indexed_chunks"`
	Failed         int64 `json:"failed"`

	// ChunkCache counts lookups in the embedder's chunk cache across every
	// run. Only Pipeline.Stats fills it.
	ChunkCache *embed.ChunkCacheStats `json:"chunk_cache,omitempty"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Fetched:        s.fetched.Load(),
		FetchErrors:    s.fetchErrors.Load(),
		Extracted:      s.extracted.Load(),
		CacheHits:      s.cacheHits.Load(),
		CacheMisses:    s.cacheMisses.Load(),
		EmbeddedChunks: s.embeddedChunks.Load(),
		IndexedChunks:  s.indexedChunks.Load(),
		Failed:         s.failed.Load(),
	}
}

func (s *Stats) add(o StatsSnapshot) {
	s.fetched.Add(o.Fetched)
	s.fetchErrors.Add(o.FetchErrors)
	s.extracted.Add(o.Extracted)
	s.cacheHits.Add(o.CacheHits)
	s.cacheMisses.Add(o.CacheMisses)
	s.embeddedChunks.Add(o.EmbeddedChunks)
	s.indexedChunks.Add(o.IndexedChunks)
	s.failed.Add(o.Failed)
}
