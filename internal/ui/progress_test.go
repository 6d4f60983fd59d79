package ui

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

var testURLs = []string{"https://a.example/", "https://b.example/", "https://c.example/"}

func TestProgressTracker_StartResetsState(t *testing.T) {
	// Given: a tracker that already saw a finished URL
	p := NewProgressTracker()
	p.Start("run-1", testURLs[:1])
	p.Update(0, pipeline.Result{URL: testURLs[0], Stage: pipeline.StageDone})

	// When: a new run starts
	p.Start("run-2", testURLs)

	// Then: every URL is pending and nothing is settled
	snap := p.Snapshot()
	assert.Equal(t, "run-2", snap.RunID)
	assert.Equal(t, 3, snap.Total)
	assert.Zero(t, snap.Settled())
	for i, u := range snap.URLs {
		assert.Equal(t, testURLs[i], u.URL)
		assert.Equal(t, pipeline.StagePending, u.Stage)
	}
}

func TestProgressTracker_Update_CountsTerminalStages(t *testing.T) {
	// Given: a run of three URLs
	p := NewProgressTracker()
	p.Start("run", testURLs)

	// When: one finishes, one fails and one is still embedding
	assert.False(t, p.Update(0, pipeline.Result{Stage: pipeline.StageFetching}))
	assert.True(t, p.Update(0, pipeline.Result{Stage: pipeline.StageDone, IDs: []uint64{1, 2}, Cached: true}))
	assert.True(t, p.Update(1, pipeline.Result{Stage: pipeline.StageFailed, FailedAt: pipeline.StageFetching, Error: "404"}))
	assert.False(t, p.Update(2, pipeline.Result{Stage: pipeline.StageEmbedding}))

	// Then: counts and per-URL state follow
	snap := p.Snapshot()
	assert.Equal(t, 1, snap.Done)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Active())
	assert.InDelta(t, 2.0/3.0, snap.Percent(), 1e-9)
	assert.Equal(t, 2, snap.URLs[0].Chunks)
	assert.True(t, snap.URLs[0].Cached)
	assert.Equal(t, pipeline.StageFetching, snap.URLs[1].FailedAt)
	assert.Equal(t, "404", snap.URLs[1].Error)
}

func TestProgressTracker_Update_IgnoresLateAndUnknownUpdates(t *testing.T) {
	p := NewProgressTracker()
	p.Start("run", testURLs[:1])
	require.True(t, p.Update(0, pipeline.Result{Stage: pipeline.StageDone}))

	assert.False(t, p.Update(0, pipeline.Result{Stage: pipeline.StageFailed}))
	assert.False(t, p.Update(5, pipeline.Result{Stage: pipeline.StageDone}))
	assert.False(t, p.Update(-1, pipeline.Result{Stage: pipeline.StageDone}))

	snap := p.Snapshot()
	assert.Equal(t, 1, snap.Done)
	assert.Zero(t, snap.Failed)
}

func TestSnapshot_Percent_EmptyRunIsComplete(t *testing.T) {
	assert.Equal(t, 1.0, Snapshot{}.Percent())
}

func TestProgressTracker_FinishFreezesElapsed(t *testing.T) {
	p := NewProgressTracker()
	p.Start("run", nil)

	p.Finish(1500 * time.Millisecond)

	snap := p.Snapshot()
	assert.True(t, snap.Finished)
	assert.Equal(t, 1500*time.Millisecond, snap.Elapsed)
}

func TestProgressTracker_ThreadSafety(t *testing.T) {
	// Given: many URLs updated from many goroutines
	urls := make([]string, 100)
	for i := range urls {
		urls[i] = testURLs[i%len(testURLs)]
	}
	p := NewProgressTracker()
	p.Start("run", urls)

	// When: each goroutine walks its URL to done
	var wg sync.WaitGroup
	for i := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range []pipeline.Stage{pipeline.StageFetching, pipeline.StageIndexing, pipeline.StageDone} {
				p.Update(i, pipeline.Result{Stage: s})
				_ = p.Snapshot()
			}
		}()
	}
	wg.Wait()

	// Then: every URL is counted once
	assert.Equal(t, 100, p.Snapshot().Done)
}
