package store

import (
	"cmp"
	"encoding/gob"
	"fmt"
	"io"
	"slices"
)

// FlatIndex is an exact cosine index: every search scans all vectors.
// Results are deterministic, ties broken by ascending id.
type FlatIndex struct {
	dims    int
	ids     []uint64
	vectors [][]float32
}

var _ VectorIndex = (*FlatIndex)(nil)

// NewFlatIndex creates an empty exact index.
func NewFlatIndex(dims int) *FlatIndex {
	return &FlatIndex{dims: dims}
}

// Insert stores a normalised copy of vec.
func (f *FlatIndex) Insert(id uint64, vec []float32) error {
	if len(vec) != f.dims {
		return ErrDimensionMismatch{Expected: f.dims, Got: len(vec)}
	}
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, normalizedCopy(vec))
	return nil
}

// Search scores every vector against query.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dims {
		return nil, ErrDimensionMismatch{Expected: f.dims, Got: len(query)}
	}
	if k <= 0 || len(f.ids) == 0 || isZero(query) {
		return []Hit{}, nil
	}

	q := normalizedCopy(query)
	hits := make([]Hit, len(f.ids))
	for i, v := range f.vectors {
		var dot float32
		for j := range v {
			dot += v[j] * q[j]
		}
		hits[i] = Hit{ID: f.ids[i], Score: distanceToScore(1 - dot)}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of stored vectors.
func (f *FlatIndex) Len() int { return len(f.ids) }

// Dimensions returns the configured vector length.
func (f *FlatIndex) Dimensions() int { return f.dims }

type flatSnapshot struct {
	IDs     []uint64
	Vectors [][]float32
}

// Export writes the stored vectors as gob.
func (f *FlatIndex) Export(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(flatSnapshot{IDs: f.ids, Vectors: f.vectors}); err != nil {
		return fmt.Errorf("encode flat index: %w", err)
	}
	return nil
}

// Import replaces the stored vectors with ones written by Export.
func (f *FlatIndex) Import(r io.Reader) error {
	var snap flatSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode flat index: %w", err)
	}
	for _, v := range snap.Vectors {
		if len(v) != f.dims {
			return ErrDimensionMismatch{Expected: f.dims, Got: len(v)}
		}
	}
	f.ids, f.vectors = snap.IDs, snap.Vectors
	return nil
}

// sortHits orders by descending score, then ascending id.
func sortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
