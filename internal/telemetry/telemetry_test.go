package telemetry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

func sampleRun(id string, at time.Time) *pipeline.Aggregated {
	return &pipeline.Aggregated{
		RunID: id,
		Query: "golang",
		Results: []pipeline.Result{
			{URL: "https://go.dev/doc", Stage: pipeline.StageDone},
			{URL: "https://slow.example/a", Stage: pipeline.StageFailed, FailedAt: pipeline.StageFetching, ErrorCode: serrors.ErrCodeNetworkTimeout},
			{URL: "https://empty.example/", Stage: pipeline.StageFailed, FailedAt: pipeline.StageChunking, ErrorCode: serrors.ErrCodeExtractionEmpty},
		},
		Stats:    pipeline.StatsSnapshot{IndexedChunks: 4, CacheHits: 1},
		Duration: 2 * time.Second,
	}
}

type failingStore struct{ calls int }

func (f *failingStore) Record(context.Context, RunEvent) error {
	f.calls++
	return errors.New("disk full")
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{300 * time.Millisecond, BucketUnder1s},
		{time.Second, BucketUnder5s},
		{10 * time.Second, BucketUnder15s},
		{30 * time.Second, BucketUnder60s},
		{2 * time.Minute, BucketOver60s},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.d))
		})
	}
}

func TestFromAggregated(t *testing.T) {
	// Given: a run with one success and two failures
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// When: converting it
	ev := FromAggregated(sampleRun("r1", at), at)

	// Then: counts and failures carry over with hosts
	assert.Equal(t, 3, ev.URLs)
	assert.Equal(t, 1, ev.Succeeded)
	assert.Equal(t, 2, ev.Failed)
	assert.Equal(t, int64(4), ev.Chunks)
	require.Len(t, ev.Failures, 2)
	assert.Equal(t, Failure{
		URL:   "https://slow.example/a",
		Host:  "slow.example",
		Stage: "fetching",
		Code:  serrors.ErrCodeNetworkTimeout,
	}, ev.Failures[0])
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}

	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{3, 4, 5}, b.Items())
	assert.Empty(t, NewCircularBuffer[int](0).Items())
}

// TS01: Collector aggregates runs and ranks failing hosts
func TestCollector_Summary(t *testing.T) {
	// Given: a collector keeping two runs
	c := NewCollector(2)
	ctx := context.Background()

	// When: recording three runs
	for i := 0; i < 3; i++ {
		c.RecordRun(ctx, sampleRun(fmt.Sprintf("r%d", i), time.Now()))
	}
	s := c.Summary()

	// Then: totals cover every run, history only the newest two
	assert.Equal(t, int64(3), s.Runs)
	assert.Equal(t, int64(9), s.URLs)
	assert.Equal(t, int64(6), s.Failed)
	assert.InDelta(t, 2.0/3.0, s.FailureRate(), 1e-9)
	assert.Equal(t, int64(3), s.ErrorCodes[serrors.ErrCodeNetworkTimeout])
	assert.Equal(t, int64(3), s.FailedStages["chunking"])
	assert.Equal(t, int64(3), s.Latency[BucketUnder5s])
	require.Len(t, s.Recent, 2)
	assert.Equal(t, "r2", s.Recent[0].RunID)
	assert.Equal(t, "r1", s.Recent[1].RunID)
	require.Len(t, s.FailingHosts, 2)
	assert.Equal(t, HostCount{Host: "empty.example", Failures: 3}, s.FailingHosts[0])
}

func TestCollector_StoreFailureIsSwallowed(t *testing.T) {
	store := &failingStore{}
	c := NewCollector(0, WithStore(store))

	c.RecordRun(context.Background(), sampleRun("r", time.Now()))

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, int64(1), c.Summary().Runs)
}

func TestSummary_FailureRateWithoutURLs(t *testing.T) {
	assert.Zero(t, Summary{}.FailureRate())
}

// TS02: SQLite history survives reopening
func TestSQLiteStore_RecordAndSummary(t *testing.T) {
	// Given: a store with two runs a day apart
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	now := time.Now()
	require.NoError(t, s.Record(ctx, FromAggregated(sampleRun("old", old), old)))
	require.NoError(t, s.Record(ctx, FromAggregated(sampleRun("new", now), now)))
	require.NoError(t, s.Close())

	// When: reopening and summarising the last day
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	day, err := s.Summary(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	all, err := s.Summary(ctx, time.Time{}, 1)
	require.NoError(t, err)

	// Then: the window filters runs and failures
	assert.Equal(t, int64(1), day.Runs)
	assert.Equal(t, int64(2), day.Failed)
	assert.Equal(t, int64(1), day.ErrorCodes[serrors.ErrCodeExtractionEmpty])
	require.Len(t, day.Recent, 1)
	assert.Equal(t, "new", day.Recent[0].RunID)
	assert.Equal(t, 2*time.Second, day.Recent[0].Duration)

	assert.Equal(t, int64(2), all.Runs)
	assert.Len(t, all.Recent, 1)
	require.NotEmpty(t, all.FailingHosts)
	assert.Equal(t, int64(2), all.FailingHosts[0].Failures)
}

func TestSQLiteStore_RecordIsIdempotentPerRun(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	ev := FromAggregated(sampleRun("same", time.Now()), time.Now())

	require.NoError(t, s.Record(ctx, ev))
	require.NoError(t, s.Record(ctx, ev))
	sum, err := s.Summary(ctx, time.Time{}, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Runs)
	assert.Equal(t, int64(2), sum.Failed)
	assert.Equal(t, int64(1), sum.FailedStages["fetching"])
}

func TestSQLiteStore_Prune(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, s.Record(ctx, FromAggregated(sampleRun("old", old), old)))
	require.NoError(t, s.Record(ctx, FromAggregated(sampleRun("new", time.Now()), time.Now())))

	n, err := s.Prune(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	sum, err := s.Summary(ctx, time.Time{}, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), sum.Runs)
	require.Len(t, sum.FailingHosts, 2)
	assert.Equal(t, int64(1), sum.FailingHosts[0].Failures)
}
