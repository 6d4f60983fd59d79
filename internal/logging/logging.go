package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath enables JSON file logging when non-empty.
	FilePath string
	// MaxSizeMB is the size at which the log file rotates (default: 10).
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept (default: 5).
	MaxFiles int
	// Stderr receives human-readable text logs. Nil disables them.
	Stderr io.Writer
}

// DefaultConfig logs info and above to stderr only.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		MaxSizeMB: 10,
		MaxFiles:  5,
		Stderr:    os.Stderr,
	}
}

// DebugConfig adds debug-level JSON file logging at DefaultLogPath.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.FilePath = DefaultLogPath()
	return cfg
}

// Setup builds a logger from cfg and returns it with a cleanup function
// that flushes and closes the log file, if any.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)
	var handlers []slog.Handler
	cleanup := func() {}

	if cfg.FilePath != "" {
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}))
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}

	if cfg.Stderr != nil {
		handlers = append(handlers, slog.NewTextHandler(cfg.Stderr, &slog.HandlerOptions{Level: level}))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), cleanup, nil
	case 1:
		return slog.New(handlers[0]), cleanup, nil
	default:
		return slog.New(fanout(handlers)), cleanup, nil
	}
}

// Discard returns a logger that drops everything. Used as the default for
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// parseLevel converts a level name to slog.Level. Unknown names mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
