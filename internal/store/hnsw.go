package store

import (
	"bufio"
	"fmt"
	"io"

	"github.com/coder/hnsw"
)

// HNSWConfig configures an HNSWIndex.
type HNSWConfig struct {
	Dimensions int
	M          int // Max neighbours per node (default 16)
	EfSearch   int // Candidate list size at query time (default 64)
}

// HNSWIndex is an approximate cosine index on coder/hnsw, a pure Go HNSW
// implementation. Vectors are normalised on insert and query.
//
// HNSWIndex does no locking of its own; see VectorIndex.
type HNSWIndex struct {
	graph *hnsw.Graph[uint64]
	dims  int
}

var _ VectorIndex = (*HNSWIndex)(nil)

// NewHNSWIndex creates an empty index.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // default level generation factor (1/ln(M))

	return &HNSWIndex{graph: graph, dims: cfg.Dimensions}, nil
}

// Insert adds a normalised copy of vec under id.
func (h *HNSWIndex) Insert(id uint64, vec []float32) error {
	if len(vec) != h.dims {
		return ErrDimensionMismatch{Expected: h.dims, Got: len(vec)}
	}
	h.graph.Add(hnsw.MakeNode(id, normalizedCopy(vec)))
	return nil
}

// Search returns the k approximate nearest neighbours of query. A zero
// query vector has no direction and matches nothing.
func (h *HNSWIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != h.dims {
		return nil, ErrDimensionMismatch{Expected: h.dims, Got: len(query)}
	}
	if k <= 0 || h.graph.Len() == 0 || isZero(query) {
		return []Hit{}, nil
	}

	q := normalizedCopy(query)
	nodes := h.graph.Search(q, k)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		hits = append(hits, Hit{
			ID:    node.Key,
			Score: distanceToScore(h.graph.Distance(q, node.Value)),
		})
	}
	sortHits(hits)
	return hits, nil
}

// Len returns the number of nodes in the graph.
func (h *HNSWIndex) Len() int { return h.graph.Len() }

// Dimensions returns the configured vector length.
func (h *HNSWIndex) Dimensions() int { return h.dims }

// Export writes the graph in coder/hnsw's binary format.
func (h *HNSWIndex) Export(w io.Writer) error {
	if err := h.graph.Export(w); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}
	return nil
}

// Import replaces the graph with one written by Export.
func (h *HNSWIndex) Import(r io.Reader) error {
	// coder/hnsw Import requires an io.ByteReader
	if err := h.graph.Import(bufio.NewReader(r)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
