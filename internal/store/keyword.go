package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
)

// KeywordIndex is an in-memory BM25 full-text index over committed chunk
// text, keyed by the catalog id of each chunk.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// KeywordHit is one full-text result.
type KeywordHit struct {
	ID    uint64
	Score float64
}

// keywordDocument is the document structure for Bleve indexing.
type keywordDocument struct {
	Content string `json:"content"`
	URL     string `json:"url"`
}

// NewKeywordIndex creates an empty in-memory index using the English
// analyzer (stemming and stop words).
func NewKeywordIndex() (*KeywordIndex, error) {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &KeywordIndex{index: idx}, nil
}

// Add indexes entries in one batch.
func (k *KeywordIndex) Add(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("index is closed")
	}

	batch := k.index.NewBatch()
	for _, e := range entries {
		doc := keywordDocument{Content: e.ChunkText, URL: e.URL}
		if err := batch.Index(strconv.FormatUint(e.ID, 10), doc); err != nil {
			return fmt.Errorf("failed to index chunk %d: %w", e.ID, err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns chunks matching query, scored by BM25.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []KeywordHit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]KeywordHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		id, err := strconv.ParseUint(h.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, KeywordHit{ID: id, Score: h.Score})
	}
	return hits, nil
}

// Len returns the number of indexed chunks.
func (k *KeywordIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0
	}
	n, _ := k.index.DocCount()
	return int(n)
}

// Close releases the index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}
