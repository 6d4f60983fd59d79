package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchidx/internal/cache"
	"github.com/Aman-CERP/searchidx/internal/embed"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/searx"
)

type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, string) ([]searx.Result, error) {
	return nil, f.err
}

// brokenCache accepts writes and loses them.
type brokenCache struct{ setErr error }

func (b brokenCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (b brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return b.setErr
}
func (b brokenCache) Close() error { return nil }

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSONUsesStatusName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "cache", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail, Required: false}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
	}{
		{"all pass", []CheckResult{{Status: StatusPass}, {Status: StatusPass}}, "ready"},
		{"with warnings", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings"},
		{"with critical failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail, Required: true}}, "failed"},
		{"with optional failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail}}, "ready_with_warnings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
			assert.Equal(t, tt.expected == "failed", checker.HasCriticalFailures(tt.results))
		})
	}
}

// TS01: A reachable stack passes every check
func TestChecker_Run_AllPass(t *testing.T) {
	// Given: a static searcher, the static embedder and a memory cache
	mem, err := cache.NewMemory(8)
	require.NoError(t, err)
	checker := New()

	// When: running the service checks
	results := checker.Run(context.Background(),
		checker.SearchEngine(searx.Static{"https://go.dev/"}),
		checker.Embedder(embed.NewStaticEmbedder(32), 32),
		checker.Cache("memory", mem),
		checker.WritePermissions(t.TempDir()),
	)

	// Then: each reports PASS in order
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, StatusPass, r.Status, "%s: %s", r.Name, r.Message)
	}
	assert.Equal(t, "search_engine", results[0].Name)
	assert.Contains(t, results[1].Message, "32 dimensions")
	assert.Equal(t, "ready", checker.SummaryStatus(results))
}

// TS02: An unreachable search engine is critical
func TestChecker_SearchEngine_Failure(t *testing.T) {
	// Given: a searcher failing with a suggestion
	err := serrors.New(serrors.ErrCodeSearchFailed, "search engine unreachable", nil).
		WithSuggestion("Check search.url")
	checker := New()

	// When: checking it
	r := checker.SearchEngine(failingSearcher{err: err})(context.Background())

	// Then: required failure with the suggestion as details
	assert.Equal(t, StatusFail, r.Status)
	assert.True(t, r.IsCritical())
	assert.Equal(t, "Check search.url", r.Details)
}

func TestChecker_Embedder_DimensionMismatch(t *testing.T) {
	checker := New()

	r := checker.Embedder(embed.NewStaticEmbedder(16), 384)(context.Background())

	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Message, "16 dimensions, configured 384")
}

// TS03: Cache problems are warnings only
func TestChecker_Cache(t *testing.T) {
	checker := New()
	ctx := context.Background()

	lost := checker.Cache("redis", brokenCache{})(ctx)
	failed := checker.Cache("redis", brokenCache{setErr: errors.New("connection refused")})(ctx)
	off := checker.Cache("none", cache.None{})(ctx)

	assert.Equal(t, StatusWarn, lost.Status)
	assert.Contains(t, lost.Message, "not read back")
	assert.Equal(t, StatusWarn, failed.Status)
	assert.Contains(t, failed.Message, "connection refused")
	assert.False(t, failed.IsCritical())
	assert.Equal(t, StatusPass, off.Status)
	assert.Equal(t, "disabled", off.Message)
}

func TestChecker_WritePermissions_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	r := New().WritePermissions(dir)(context.Background())

	assert.Equal(t, StatusPass, r.Status)
	assert.DirExists(t, dir)
}

func TestChecker_WritePermissions_ReadOnly(t *testing.T) {
	// Given: a read-only directory (skip on CI/root)
	if os.Getuid() == 0 {
		t.Skip("Skipping read-only test when running as root")
	}
	readOnlyDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0o555))
	defer func() { _ = os.Chmod(readOnlyDir, 0o755) }()

	// When: checking write permissions
	r := New().WritePermissions(readOnlyDir)(context.Background())

	// Then: fails
	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Message, "permission denied")
}

func TestChecker_DiskSpace_MissingDirUsesParent(t *testing.T) {
	r := New().DiskSpace(filepath.Join(t.TempDir(), "not", "yet"))(context.Background())

	assert.NotEqual(t, StatusFail, r.Status)
	assert.Contains(t, r.Message, "free at")
}

func TestChecker_FileDescriptors_ScalesWithConcurrency(t *testing.T) {
	var lim syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim))
	checker := New()

	low := checker.FileDescriptors(1)(context.Background())
	assert.Contains(t, low.Message, "minimum for concurrency 1: 256")

	if lim.Cur >= 1<<40 {
		t.Skip("descriptor limit is effectively unlimited")
	}
	absurd := checker.FileDescriptors(1 << 30)(context.Background())
	assert.Equal(t, StatusFail, absurd.Status)
	assert.NotEmpty(t, absurd.Details)
}

func TestChecker_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := New()

	results := checker.Run(ctx, checker.WritePermissions(t.TempDir()))

	require.Len(t, results, 1)
	assert.Equal(t, StatusFail, results[0].Status)
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: some check results
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "cache", Status: StatusWarn, Message: "redis: write failed"},
		{Name: "embedder", Status: StatusFail, Message: "connection refused", Required: true, Details: "start ollama"},
	}
	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf), WithVerbose(true))

	// When: printing results
	checker.PrintResults(results)

	// Then: output contains formatted results and the summary
	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space")
	assert.Contains(t, out, "[WARN] cache")
	assert.Contains(t, out, "[FAIL] embedder")
	assert.Contains(t, out, "start ollama")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s)")
}
