// Package store holds the retrieval index built by one pipeline run: a
// vector index, the id -> (url, chunk text) side table that resolves its
// hits, and a keyword index over the same chunks.
package store

import (
	"errors"
	"fmt"
	"math"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// VectorIndex is a similarity index over uint64 ids. Implementations are
// not required to be safe for concurrent mutation; Catalog serialises
// writers and lets readers share a read lock.
type VectorIndex interface {
	// Insert adds vec under id. A vector whose length differs from
	// Dimensions() is rejected with ErrDimensionMismatch.
	Insert(id uint64, vec []float32) error

	// Search returns at most k hits ordered by descending score.
	Search(query []float32, k int) ([]Hit, error)

	// Len returns the number of stored vectors.
	Len() int

	// Dimensions returns the configured vector length.
	Dimensions() int
}

// Hit is one raw similarity result.
type Hit struct {
	ID    uint64
	Score float32 // Normalized similarity (0-1, higher is better)
}

// Entry is the side-table record of one indexed chunk.
type Entry struct {
	ID        uint64 `json:"id"`
	URL       string `json:"url"`
	ChunkText string `json:"text"`
}

// Match is a hit resolved to its entry.
type Match struct {
	Entry
	Score float32 `json:"score"`
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// asIndexError converts a dimension mismatch into the structured
// ERR_402 error and anything else into ERR_505.
func asIndexError(err error, url string) error {
	if err == nil {
		return nil
	}
	var dm ErrDimensionMismatch
	if errors.As(err, &dm) {
		return serrors.New(serrors.ErrCodeDimensionMismatch, dm.Error(), dm).WithDetail("url", url)
	}
	return serrors.New(serrors.ErrCodeIndexFailed, "index insert rejected", err).WithDetail("url", url)
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// normalizedCopy returns a unit-length copy of v.
func normalizedCopy(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	normalizeVectorInPlace(out)
	return out
}

// distanceToScore converts a cosine distance (0 identical, 2 opposite) to a
// similarity score in [0, 1].
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
