package ui

import (
	"sync"
	"time"

	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

// URLState is the last known state of one URL.
type URLState struct {
	URL      string
	Stage    pipeline.Stage
	FailedAt pipeline.Stage
	Error    string
	Chunks   int
	Cached   bool
}

// Snapshot is a consistent copy of a tracker's state.
type Snapshot struct {
	RunID    string
	URLs     []URLState
	Total    int
	Done     int
	Failed   int
	Elapsed  time.Duration
	Finished bool
}

// Settled returns the number of URLs in a terminal stage.
func (s Snapshot) Settled() int { return s.Done + s.Failed }

// Percent returns the settled fraction in [0, 1]. An empty run is complete.
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Settled()) / float64(s.Total)
}

// Active returns the number of URLs between pending and a terminal stage.
func (s Snapshot) Active() int {
	n := 0
	for _, u := range s.URLs {
		if u.Stage != pipeline.StagePending && !u.Stage.Terminal() {
			n++
		}
	}
	return n
}

// ProgressTracker follows the URLs of one run.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu       sync.RWMutex
	runID    string
	urls     []URLState
	done     int
	failed   int
	start    time.Time
	elapsed  time.Duration
	finished bool
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{start: time.Now()}
}

// Start resets the tracker for a new run.
func (p *ProgressTracker) Start(runID string, urls []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runID = runID
	p.urls = make([]URLState, len(urls))
	for i, u := range urls {
		p.urls[i] = URLState{URL: u, Stage: pipeline.StagePending}
	}
	p.done, p.failed = 0, 0
	p.start = time.Now()
	p.elapsed = 0
	p.finished = false
}

// Update records a stage transition. It returns true when the URL just
// reached a terminal stage. Out of range indexes and updates after a
// terminal stage are ignored.
func (p *ProgressTracker) Update(index int, res pipeline.Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.urls) {
		return false
	}
	u := &p.urls[index]
	if u.Stage.Terminal() {
		return false
	}

	u.Stage = res.Stage
	u.Cached = res.Cached
	switch res.Stage {
	case pipeline.StageDone:
		u.Chunks = len(res.IDs)
		p.done++
		return true
	case pipeline.StageFailed:
		u.FailedAt = res.FailedAt
		u.Error = res.Error
		p.failed++
		return true
	}
	return false
}

// Finish freezes the elapsed time.
func (p *ProgressTracker) Finish(elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finished = true
	p.elapsed = elapsed
}

// Snapshot returns a copy of the current state.
func (p *ProgressTracker) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	elapsed := p.elapsed
	if !p.finished {
		elapsed = time.Since(p.start)
	}
	return Snapshot{
		RunID:    p.runID,
		URLs:     append([]URLState(nil), p.urls...),
		Total:    len(p.urls),
		Done:     p.done,
		Failed:   p.failed,
		Elapsed:  elapsed,
		Finished: p.finished,
	}
}
