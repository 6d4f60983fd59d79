package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()

	assert.Equal(t, "searchidx.log", filepath.Base(path))
	assert.Contains(t, path, filepath.Join(".searchidx", "logs"))
}

func TestDebugConfig_EnablesFileLogging(t *testing.T) {
	cfg := DebugConfig()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, DefaultLogPath(), cfg.FilePath)
	assert.Equal(t, 10, cfg.MaxSizeMB)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLevel(in))
		})
	}
	assert.True(t, ValidLevel("Warn"))
	assert.False(t, ValidLevel("verbose"))
}

// TS01: Setup writes JSON to the file and text to stderr
func TestSetup_FileAndStderr(t *testing.T) {
	// Given: a config with both sinks
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	cfg := Config{Level: "info", FilePath: path, Stderr: &stderr}

	// When: logging an event
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("pipeline_started", slog.String("query", "golang"), slog.Int("urls", 3))
	logger.Debug("hidden")
	cleanup()

	// Then: the file holds one JSON record
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "pipeline_started", rec["msg"])
	assert.Equal(t, "golang", rec["query"])

	// And: stderr holds the text rendering
	assert.Contains(t, stderr.String(), "msg=pipeline_started")
	assert.NotContains(t, stderr.String(), "hidden")
}

func TestSetup_NoSinksDiscards(t *testing.T) {
	logger, cleanup, err := Setup(Config{})
	require.NoError(t, err)
	defer cleanup()

	assert.NotPanics(t, func() { logger.Error("dropped") })
}

func TestFanout_WithAttrsReachesAllHandlers(t *testing.T) {
	var a, b bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}

	slog.New(h).With("run_id", "r1").WithGroup("g").Info("x", "k", "v")

	assert.Contains(t, a.String(), "run_id=r1")
	assert.Contains(t, b.String(), "g.k=v")
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a writer with a tiny size limit
	path := filepath.Join(t.TempDir(), "r.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 10

	// When: writing past the limit three times
	for _, s := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		_, err := w.Write([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Then: current plus two backups, oldest dropped
	cur, _ := os.ReadFile(path)
	one, _ := os.ReadFile(path + ".1")
	two, _ := os.ReadFile(path + ".2")
	assert.Equal(t, "dddddddd\n", string(cur))
	assert.Equal(t, "cccccccc\n", string(one))
	assert.Equal(t, "bbbbbbbb\n", string(two))
	assert.NoFileExists(t, path+".3")
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "c.log"), 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, w.Close())
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, strings.Count(string(data), "line\n"))
}
