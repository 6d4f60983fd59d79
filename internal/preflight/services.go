package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/searchidx/internal/cache"
	"github.com/Aman-CERP/searchidx/internal/embed"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/searx"
)

// probeQuery is sent to the search engine and the embedder.
const probeQuery = "searchidx preflight"

// SearchEngine runs one query. Without a search engine only fixed URL
// lists can be indexed, so a failure is critical.
func (c *Checker) SearchEngine(s searx.Searcher) Check {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{
			Name:     "search_engine",
			Required: true,
		}

		start := time.Now()
		results, err := s.Search(ctx, probeQuery)
		if err != nil {
			result.Status = StatusFail
			result.Message = err.Error()
			var se *serrors.Error
			if errors.As(err, &se) && se.Suggestion != "" {
				result.Details = se.Suggestion
			}
			return result
		}

		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d results in %s", len(results), time.Since(start).Round(time.Millisecond))
		return result
	}
}

// Embedder embeds one text and checks the vector length.
func (c *Checker) Embedder(e embed.Embedder, wantDims int) Check {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{
			Name:     "embedder",
			Required: true,
		}

		start := time.Now()
		vecs, err := embed.EmbedChecked(ctx, e, []string{probeQuery})
		if err != nil {
			result.Status = StatusFail
			result.Message = err.Error()
			return result
		}
		if got := len(vecs[0]); wantDims > 0 && got != wantDims {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("%s produced %d dimensions, configured %d", e.ModelName(), got, wantDims)
			result.Details = "Set embeddings.dimensions to the model's output size"
			return result
		}

		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s, %d dimensions, %s", e.ModelName(), len(vecs[0]), time.Since(start).Round(time.Millisecond))
		return result
	}
}

// Cache writes and reads back one short-lived key. The cache only saves
// work, so a failure is a warning.
func (c *Checker) Cache(backend string, store cache.Cache) Check {
	return func(ctx context.Context) CheckResult {
		result := CheckResult{Name: "cache"}

		if backend == "none" {
			result.Status = StatusPass
			result.Message = "disabled"
			return result
		}

		key := "preflight:" + uuid.NewString()
		want := []byte(key)
		if err := store.Set(ctx, key, want, time.Minute); err != nil {
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("%s: write failed: %v", backend, err)
			return result
		}
		got, ok, err := store.Get(ctx, key)
		switch {
		case err != nil:
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("%s: read failed: %v", backend, err)
		case !ok || !bytes.Equal(got, want):
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("%s: value written was not read back", backend)
		default:
			result.Status = StatusPass
			result.Message = backend
		}
		return result
	}
}
