package store

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Backend names accepted by NewVectorIndex.
const (
	BackendHNSW = "hnsw"
	BackendFlat = "flat"
)

// IndexConfig selects a VectorIndex implementation.
type IndexConfig struct {
	Backend    string
	Dimensions int
	M          int
	EfSearch   int
}

// NewVectorIndex builds the configured backend.
func NewVectorIndex(cfg IndexConfig) (VectorIndex, error) {
	switch cfg.Backend {
	case "", BackendHNSW:
		return NewHNSWIndex(HNSWConfig{Dimensions: cfg.Dimensions, M: cfg.M, EfSearch: cfg.EfSearch})
	case BackendFlat:
		if cfg.Dimensions <= 0 {
			return nil, fmt.Errorf("flat: dimensions must be positive, got %d", cfg.Dimensions)
		}
		return NewFlatIndex(cfg.Dimensions), nil
	default:
		return nil, serrors.ConfigError("unknown index backend: "+cfg.Backend, nil)
	}
}

// Catalog pairs a VectorIndex with the side table resolving its ids. The
// two are one shared resource: every mutation happens inside a single
// critical section that allocates the id, inserts the vector and records
// the entry, so no reader ever sees an id in one without the other.
type Catalog struct {
	mu      sync.RWMutex
	index   VectorIndex
	entries map[uint64]Entry
	backend string
	max     int // 0 means unlimited

	nextID atomic.Uint64 // next id to hand out; ids start at 1
}

// NewCatalog creates an empty catalog over index.
func NewCatalog(index VectorIndex) *Catalog {
	c := &Catalog{
		index:   index,
		entries: make(map[uint64]Entry),
		backend: backendOf(index),
	}
	c.nextID.Store(1)
	return c
}

// SetMaxChunks caps the number of chunks the catalog accepts. Zero or a
// negative n removes the cap. Chunks already committed are kept.
func (c *Catalog) SetMaxChunks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.max = max(n, 0)
}

// MaxChunks returns the cap set by SetMaxChunks, 0 when unlimited.
func (c *Catalog) MaxChunks() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.max
}

// Insert commits one chunk and returns its id. A vector of the wrong
// dimension is rejected before an id is allocated.
func (c *Catalog) Insert(url, text string, vec []float32) (uint64, error) {
	if len(vec) != c.index.Dimensions() {
		return 0, asIndexError(ErrDimensionMismatch{Expected: c.index.Dimensions(), Got: len(vec)}, url)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkRoom(url, 1); err != nil {
		return 0, err
	}
	return c.insertLocked(url, text, vec)
}

// checkRoom fails when n more chunks would exceed the cap. c.mu must be
// held.
func (c *Catalog) checkRoom(url string, n int) error {
	if c.max == 0 || len(c.entries)+n <= c.max {
		return nil
	}
	return serrors.New(serrors.ErrCodeIndexFull,
		fmt.Sprintf("index holds %d of %d chunks, no room for %d more", len(c.entries), c.max, n), nil).
		WithDetail("url", url).
		WithSuggestion("Raise index.max_chunks, or serve without a shared index")
}

// insertLocked allocates the id and writes the vector and entry. c.mu must
// be held.
func (c *Catalog) insertLocked(url, text string, vec []float32) (uint64, error) {
	id := c.nextID.Load()
	if err := c.index.Insert(id, vec); err != nil {
		return 0, asIndexError(err, url)
	}
	c.nextID.Store(id + 1)
	c.entries[id] = Entry{ID: id, URL: url, ChunkText: text}
	return id, nil
}

// Commit inserts all chunks of one document. Every vector and the
// capacity are checked before anything is inserted, so a document is
// committed completely or not at all.
func (c *Catalog) Commit(url string, texts []string, vectors [][]float32) ([]uint64, error) {
	if len(texts) != len(vectors) {
		return nil, serrors.New(serrors.ErrCodeIndexFailed,
			fmt.Sprintf("%d chunks but %d vectors", len(texts), len(vectors)), nil).WithDetail("url", url)
	}
	dims := c.index.Dimensions()
	for _, v := range vectors {
		if len(v) != dims {
			return nil, asIndexError(ErrDimensionMismatch{Expected: dims, Got: len(v)}, url)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkRoom(url, len(texts)); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(texts))
	for i, text := range texts {
		id, err := c.insertLocked(url, text, vectors[i])
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Search runs a similarity search and resolves every hit to its entry.
func (c *Catalog) Search(query []float32, k int) ([]Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits, err := c.index.Search(query, k)
	if err != nil {
		return nil, asIndexError(err, "")
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		e, ok := c.entries[h.ID]
		if !ok {
			continue
		}
		matches = append(matches, Match{Entry: e, Score: h.Score})
	}
	return matches, nil
}

// Entry returns the side-table record for id.
func (c *Catalog) Entry(id uint64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Entries returns every committed entry ordered by id.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of committed chunks.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// VectorLen returns the number of vectors in the underlying index. It
// always equals Len.
func (c *Catalog) VectorLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Len()
}

// Dimensions returns the vector length every insert must match.
func (c *Catalog) Dimensions() int { return c.index.Dimensions() }

func backendOf(index VectorIndex) string {
	if _, ok := index.(*FlatIndex); ok {
		return BackendFlat
	}
	return BackendHNSW
}
