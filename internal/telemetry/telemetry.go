// Package telemetry keeps a local history of pipeline runs: how many URLs
// each run indexed, where the failures happened and which hosts keep
// failing. All data stays on the machine.
package telemetry

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

// DefaultRecentRuns is the collector's history size.
const DefaultRecentRuns = 100

// maxTrackedHosts bounds the failing-host table.
const maxTrackedHosts = 512

// topHosts is how many failing hosts a Summary lists.
const topHosts = 10

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a run duration histogram bucket.
type LatencyBucket string

const (
	BucketUnder1s  LatencyBucket = "lt_1s"
	BucketUnder5s  LatencyBucket = "lt_5s"
	BucketUnder15s LatencyBucket = "lt_15s"
	BucketUnder60s LatencyBucket = "lt_60s"
	BucketOver60s  LatencyBucket = "ge_60s"
)

// LatencyToBucket converts a run duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Second:
		return BucketUnder1s
	case d < 5*time.Second:
		return BucketUnder5s
	case d < 15*time.Second:
		return BucketUnder15s
	case d < time.Minute:
		return BucketUnder60s
	default:
		return BucketOver60s
	}
}

// =============================================================================
// Run Events
// =============================================================================

// Failure is one URL that did not make it into the index.
type Failure struct {
	URL   string `json:"url"`
	Host  string `json:"host"`
	Stage string `json:"stage"`
	Code  string `json:"code"`
}

// RunEvent summarises one pipeline run.
type RunEvent struct {
	RunID     string        `json:"run_id"`
	Query     string        `json:"query,omitempty"`
	URLs      int           `json:"urls"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Chunks    int64         `json:"chunks"`
	CacheHits int64         `json:"cache_hits"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
	Failures  []Failure     `json:"failures,omitempty"`
}

// FromAggregated builds the event for a finished run.
func FromAggregated(agg *pipeline.Aggregated, at time.Time) RunEvent {
	ev := RunEvent{
		RunID:     agg.RunID,
		Query:     agg.Query,
		URLs:      len(agg.Results),
		Succeeded: agg.Succeeded(),
		Chunks:    agg.Stats.IndexedChunks,
		CacheHits: agg.Stats.CacheHits,
		Duration:  agg.Duration,
		Timestamp: at,
	}
	for _, res := range agg.Failed() {
		ev.Failures = append(ev.Failures, Failure{
			URL:   res.URL,
			Host:  hostOf(res.URL),
			Stage: string(res.FailedAt),
			Code:  res.ErrorCode,
		})
	}
	ev.Failed = len(ev.Failures)
	return ev
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(invalid)"
	}
	return u.Hostname()
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Summary
// =============================================================================

// HostCount is a host and how many of its URLs failed.
type HostCount struct {
	Host     string `json:"host"`
	Failures int64  `json:"failures"`
}

// Summary aggregates runs.
type Summary struct {
	Runs         int64                   `json:"runs"`
	URLs         int64                   `json:"urls"`
	Succeeded    int64                   `json:"succeeded"`
	Failed       int64                   `json:"failed"`
	Chunks       int64                   `json:"chunks"`
	CacheHits    int64                   `json:"cache_hits"`
	ErrorCodes   map[string]int64        `json:"error_codes"`
	FailedStages map[string]int64        `json:"failed_stages"`
	Latency      map[LatencyBucket]int64 `json:"latency"`
	FailingHosts []HostCount             `json:"failing_hosts"`
	Recent       []RunEvent              `json:"recent"`
}

// FailureRate is the share of URLs that failed, 0 with no URLs.
func (s Summary) FailureRate() float64 {
	if s.URLs == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.URLs)
}

func newSummary() Summary {
	return Summary{
		ErrorCodes:   map[string]int64{},
		FailedStages: map[string]int64{},
		Latency:      map[LatencyBucket]int64{},
		FailingHosts: []HostCount{},
		Recent:       []RunEvent{},
	}
}

func (s *Summary) add(ev RunEvent) {
	s.Runs++
	s.URLs += int64(ev.URLs)
	s.Succeeded += int64(ev.Succeeded)
	s.Failed += int64(ev.Failed)
	s.Chunks += ev.Chunks
	s.CacheHits += ev.CacheHits
	s.Latency[LatencyToBucket(ev.Duration)]++
	for _, f := range ev.Failures {
		s.ErrorCodes[f.Code]++
		s.FailedStages[f.Stage]++
	}
}

// sortHosts orders by failures descending, then host, and keeps the top n.
func sortHosts(hosts []HostCount, n int) []HostCount {
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Failures != hosts[j].Failures {
			return hosts[i].Failures > hosts[j].Failures
		}
		return hosts[i].Host < hosts[j].Host
	})
	if len(hosts) > n {
		hosts = hosts[:n]
	}
	return hosts
}

// =============================================================================
// Collector
// =============================================================================

// Store persists run events.
type Store interface {
	Record(ctx context.Context, ev RunEvent) error
}

// Collector aggregates runs in memory and optionally persists them. It is
// safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	summary Summary
	recent  *CircularBuffer[RunEvent]
	hosts   *lru.Cache[string, int64]
	store   Store
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithStore persists every recorded run.
func WithStore(s Store) CollectorOption {
	return func(c *Collector) {
		c.store = s
	}
}

// NewCollector keeps the last recent runs in memory.
func NewCollector(recent int, opts ...CollectorOption) *Collector {
	if recent <= 0 {
		recent = DefaultRecentRuns
	}
	hosts, _ := lru.New[string, int64](maxTrackedHosts) // size is a positive constant
	c := &Collector{
		summary: newSummary(),
		recent:  NewCircularBuffer[RunEvent](recent),
		hosts:   hosts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record adds ev. A persistence failure is logged, never returned: run
// history must not fail a search.
func (c *Collector) Record(ctx context.Context, ev RunEvent) {
	c.mu.Lock()
	c.summary.add(ev)
	for _, f := range ev.Failures {
		n, _ := c.hosts.Get(f.Host)
		c.hosts.Add(f.Host, n+1)
	}
	c.mu.Unlock()
	c.recent.Add(ev)

	if c.store != nil {
		if err := c.store.Record(ctx, ev); err != nil {
			slog.Warn("telemetry_persist_failed",
				slog.String("run_id", ev.RunID),
				slog.String("error", err.Error()))
		}
	}
}

// RecordRun is Record for a finished pipeline run.
func (c *Collector) RecordRun(ctx context.Context, agg *pipeline.Aggregated) {
	c.Record(ctx, FromAggregated(agg, time.Now()))
}

// Summary returns a copy of the aggregate, newest runs first.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	s := Summary{
		Runs:         c.summary.Runs,
		URLs:         c.summary.URLs,
		Succeeded:    c.summary.Succeeded,
		Failed:       c.summary.Failed,
		Chunks:       c.summary.Chunks,
		CacheHits:    c.summary.CacheHits,
		ErrorCodes:   copyMap(c.summary.ErrorCodes),
		FailedStages: copyMap(c.summary.FailedStages),
		Latency:      copyMap(c.summary.Latency),
	}
	hosts := make([]HostCount, 0, c.hosts.Len())
	for _, h := range c.hosts.Keys() {
		if n, ok := c.hosts.Peek(h); ok {
			hosts = append(hosts, HostCount{Host: h, Failures: n})
		}
	}
	c.mu.Unlock()

	s.FailingHosts = sortHosts(hosts, topHosts)
	items := c.recent.Items()
	s.Recent = make([]RunEvent, len(items))
	for i, ev := range items {
		s.Recent[len(items)-1-i] = ev
	}
	return s
}

func copyMap[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
