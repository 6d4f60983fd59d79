package logging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

const (
	infoLine  = `{"time":"2026-03-01T10:00:00.123Z","level":"INFO","msg":"pipeline_started","run_id":"r1","urls":3}`
	warnLine  = `{"time":"2026-03-01T10:00:01Z","level":"WARN","msg":"url_failed","url":"https://b.example/","stage":"fetching"}`
	debugLine = `{"time":"2026-03-01T10:00:02Z","level":"DEBUG","msg":"url_stage","stage":"embedding"}`
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "searchidx.log")
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l + "\n")
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestParseLine(t *testing.T) {
	// When: parsing a JSON line and a plain one
	entry := ParseLine(infoLine)
	plain := ParseLine("not json")

	// Then: standard fields are split from the attributes
	assert.True(t, entry.IsValid)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "pipeline_started", entry.Msg)
	assert.Equal(t, 123*time.Millisecond, time.Duration(entry.Time.Nanosecond()))
	assert.Equal(t, map[string]any{"run_id": "r1", "urls": float64(3)}, entry.Attrs)

	assert.False(t, plain.IsValid)
	assert.Equal(t, "not json", plain.Raw)
}

func TestViewer_Tail_LastLinesAndLevel(t *testing.T) {
	// Given: a log with three entries
	path := writeLog(t, infoLine, warnLine, debugLine)

	// When: tailing the last two at warn and above
	v := NewViewer(ViewerConfig{Level: "warn"}, &bytes.Buffer{})
	entries, err := v.Tail(path, 2)

	// Then: only the warning remains
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "url_failed", entries[0].Msg)
}

func TestViewer_Tail_LongFile(t *testing.T) {
	// Given: a log much longer than the requested tail
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"time":"2026-03-01T10:00:00Z","level":"INFO","msg":"line_%d"}`, i)
	}
	path := writeLog(t, lines...)

	// When: tailing five
	entries, err := NewViewer(ViewerConfig{}, &bytes.Buffer{}).Tail(path, 5)

	// Then: the last five are returned in order
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "line_95", entries[0].Msg)
	assert.Equal(t, "line_99", entries[4].Msg)
}

func TestViewer_Tail_Pattern(t *testing.T) {
	path := writeLog(t, infoLine, warnLine, debugLine)

	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`b\.example`)}, &bytes.Buffer{})
	entries, err := v.Tail(path, 50)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "url_failed", entries[0].Msg)
}

func TestViewer_Tail_MissingFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}, &bytes.Buffer{}).Tail(filepath.Join(t.TempDir(), "nope.log"), 10)

	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeFileNotFound, serrors.GetCode(err))
}

func TestViewer_FormatEntry(t *testing.T) {
	// Given: a viewer without color
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})

	// When: formatting a parsed line and a raw one
	got := v.FormatEntry(ParseLine(infoLine))
	raw := v.FormatEntry(ParseLine("panic: boom"))

	// Then: attributes are sorted and raw lines pass through
	assert.Equal(t, "10:00:00.123 INFO  pipeline_started run_id=r1 urls=3", got)
	assert.Equal(t, "panic: boom", raw)
}

func TestViewer_FormatEntry_ColorsLevel(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})

	assert.Contains(t, v.FormatEntry(ParseLine(warnLine)), "\033[33mWARN \033[0m")
}

func TestViewer_Print(t *testing.T) {
	buf := &bytes.Buffer{}
	v := NewViewer(ViewerConfig{NoColor: true}, buf)

	v.Print([]LogEntry{ParseLine(infoLine), ParseLine(warnLine)})

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestViewer_Follow_SeesAppendedLines(t *testing.T) {
	// Given: an existing log being followed
	path := writeLog(t, infoLine)
	v := NewViewer(ViewerConfig{Level: "info"}, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan LogEntry, 10)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(100 * time.Millisecond)

	// When: new lines are appended, one below the level filter
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(debugLine + "\n" + warnLine + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only the new warning arrives
	select {
	case entry := <-entries:
		assert.Equal(t, "url_failed", entry.Msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no entry followed")
	}

	// And: Follow returns once cancelled
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Follow did not return")
	}
	assert.Empty(t, entries)
}

func TestTailReader_KeepsPartialLines(t *testing.T) {
	// Given: a reader at the end of an empty file
	path := writeLog(t)
	tr, err := openTail(path)
	require.NoError(t, err)
	defer func() { _ = tr.file.Close() }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	// When: a line arrives in two writes
	_, _ = f.WriteString(`{"msg":"hal`)
	first := tr.readLines()
	_, _ = f.WriteString("f\"}\n")
	second := tr.readLines()

	// Then: it is returned once, whole
	assert.Empty(t, first)
	assert.Equal(t, []string{`{"msg":"half"}`}, second)
}
