package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Poll intervals for Follow. The slow one backs up fsnotify; the fast one
// is used when no watcher could be created.
const (
	followPollWithWatcher = time.Second
	followPollOnly        = 100 * time.Millisecond
)

// maxLineBytes bounds one log line when tailing.
const maxLineBytes = 1024 * 1024

// LogEntry is one parsed line of the JSON log file.
type LogEntry struct {
	Time    time.Time
	Level   string
	Msg     string
	Attrs   map[string]any
	Raw     string
	IsValid bool
}

// ViewerConfig configures the log viewer.
type ViewerConfig struct {
	Level   string         // Minimum level (debug, info, warn, error)
	Pattern *regexp.Regexp // Raw lines must match
	NoColor bool
}

// Viewer reads, filters and formats the JSON log file.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer creates a new log viewer.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > 2*n {
			lines = append(lines[:0], lines[len(lines)-n:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, serrors.Wrapf(serrors.ErrCodeFilePermission, err, "failed to read log file %s", path)
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	var entries []LogEntry
	for _, line := range lines {
		entry := ParseLine(line)
		if v.Matches(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Follow sends entries appended to path until ctx is done. A rotated file
// is reopened from its start.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	t, err := openTail(path)
	if err != nil {
		return err
	}
	defer func() { _ = t.file.Close() }()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	poll := followPollOnly
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer func() { _ = watcher.Close() }()
		// The directory is watched so a rename plus create is seen.
		if err := watcher.Add(filepath.Dir(path)); err == nil {
			events, watchErrs = watcher.Events, watcher.Errors
			poll = followPollWithWatcher
		}
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	send := func() bool {
		for _, line := range t.readLines() {
			entry := ParseLine(line)
			if !v.Matches(entry) {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// Flush what the old file still holds before switching.
				if !send() {
					return nil
				}
				if err := t.reopen(path); err != nil {
					return err
				}
			}
			if !send() {
				return nil
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			slog.Debug("log_watch_error", slog.String("path", path), slog.String("error", err.Error()))
		case <-ticker.C:
			if !send() {
				return nil
			}
		}
	}
}

// tailReader reads complete lines appended to an open file.
type tailReader struct {
	file    *os.File
	reader  *bufio.Reader
	partial string
}

func openTail(path string) (*tailReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, serrors.Wrapf(serrors.ErrCodeFilePermission, err, "failed to seek log file %s", path)
	}
	return &tailReader{file: file, reader: bufio.NewReader(file)}, nil
}

func (t *tailReader) reopen(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return openError(path, err)
	}
	_ = t.file.Close()
	t.file = file
	t.reader.Reset(file)
	t.partial = ""
	return nil
}

// readLines returns the complete, non-empty lines available now. A trailing
// line without a newline is kept for the next call.
func (t *tailReader) readLines() []string {
	var lines []string
	for {
		chunk, err := t.reader.ReadString('\n')
		if err != nil {
			t.partial += chunk
			return lines
		}
		line := strings.TrimRight(t.partial+chunk, "\r\n")
		t.partial = ""
		if line != "" {
			lines = append(lines, line)
		}
	}
}

func openError(path string, err error) error {
	if os.IsNotExist(err) {
		return serrors.New(serrors.ErrCodeFileNotFound, fmt.Sprintf("log file %s does not exist", path), err).
			WithSuggestion("Run a command with --debug, or set logging.file_path, to write a log file")
	}
	return serrors.Wrapf(serrors.ErrCodeFilePermission, err, "failed to open log file %s", path)
}

// ParseLine parses one JSON log line. Lines that are not JSON come back
// with IsValid false and only Raw set.
func ParseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			entry.Time = parsed
		}
	}
	if l, ok := data["level"].(string); ok {
		entry.Level = l
	}
	if m, ok := data["msg"].(string); ok {
		entry.Msg = m
	}

	entry.Attrs = make(map[string]any, len(data))
	for k, val := range data {
		if k != "time" && k != "level" && k != "msg" {
			entry.Attrs[k] = val
		}
	}
	return entry
}

// Matches reports whether entry passes the level and pattern filters.
// Unparsed lines pass the level filter.
func (v *Viewer) Matches(entry LogEntry) bool {
	if v.config.Level != "" && entry.IsValid {
		if parseLevel(entry.Level) < parseLevel(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

// FormatEntry formats an entry as "15:04:05.000 LEVEL msg k=v ...", with
// attributes sorted by key.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(entry.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.formatLevel(entry.Level))
	b.WriteByte(' ')
	b.WriteString(entry.Msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Attrs[k])
	}
	return b.String()
}

// Print writes entries to the output, one per line.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

func (v *Viewer) formatLevel(level string) string {
	label := strings.ToUpper(level)
	if len(label) > 5 {
		label = label[:5]
	}
	label = fmt.Sprintf("%-5s", label)

	if v.config.NoColor {
		return label
	}
	switch parseLevel(level) {
	case slog.LevelDebug:
		return "\033[90m" + label + "\033[0m"
	case slog.LevelWarn:
		return "\033[33m" + label + "\033[0m"
	case slog.LevelError:
		return "\033[31m" + label + "\033[0m"
	default:
		return "\033[32m" + label + "\033[0m"
	}
}
