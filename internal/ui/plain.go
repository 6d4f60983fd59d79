package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

// PlainRenderer outputs plain text progress (for CI/pipes). It prints one
// line when a run starts, one per settled URL and one when the run ends.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	tracker *ProgressTracker
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		tracker: NewProgressTracker(),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

// RunStarted implements pipeline.Observer.
func (r *PlainRenderer) RunStarted(runID string, urls []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Start(runID, urls)
	_, _ = fmt.Fprintf(r.out, "Indexing %d URLs (run %s)\n", len(urls), shortID(runID))
}

// StageChanged implements pipeline.Observer.
func (r *PlainRenderer) StageChanged(_ string, index int, res pipeline.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.tracker.Update(index, res) {
		return
	}
	snap := r.tracker.Snapshot()
	prefix := fmt.Sprintf("[%s] %d/%d %s", StageLabel(res.Stage), snap.Settled(), snap.Total, res.URL)

	if res.Stage == pipeline.StageFailed {
		_, _ = fmt.Fprintf(r.out, "%s at %s: %s\n", prefix, res.FailedAt, res.Error)
		return
	}
	detail := fmt.Sprintf("%d chunks", len(res.IDs))
	if res.Cached {
		detail += ", cached"
	}
	_, _ = fmt.Fprintf(r.out, "%s (%s)\n", prefix, detail)
}

// RunFinished implements pipeline.Observer.
func (r *PlainRenderer) RunFinished(agg *pipeline.Aggregated) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Finish(agg.Duration)
	_, _ = fmt.Fprintf(r.out, "Complete: %d of %d URLs indexed, %d chunks in %s\n",
		agg.Succeeded(), len(agg.Results), agg.Stats.IndexedChunks, agg.Duration.Round(time.Millisecond))
}

// shortID returns the first block of a uuid.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
