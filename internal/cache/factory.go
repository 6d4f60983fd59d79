package cache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string // memory, redis, sqlite, none
	TTL        time.Duration
	Size       int
	RedisURL   string
	SQLitePath string
}

// DefaultSQLitePath is ~/.searchidx/cache.db.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".searchidx", "cache.db")
	}
	return filepath.Join(home, ".searchidx", "cache.db")
}

// New builds the configured backend wrapped in Advisory. A remote backend
// that cannot be reached falls back to an in-memory cache with a warning,
// since the cache never decides whether a run succeeds.
func New(ctx context.Context, cfg Config) (*Advisory, error) {
	var inner Cache
	var err error

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		inner, err = NewMemory(cfg.Size)
	case "none":
		inner = None{}
	case "redis":
		inner, err = NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("cache_backend_unavailable",
				slog.String("backend", "redis"),
				slog.String("error", err.Error()),
				slog.String("fallback", "memory"))
			inner, err = NewMemory(cfg.Size)
		}
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = DefaultSQLitePath()
		}
		inner, err = NewSQLite(path)
	default:
		return nil, serrors.ConfigError("unknown cache backend: "+cfg.Backend, nil).
			WithSuggestion("use memory, redis, sqlite or none")
	}
	if err != nil {
		return nil, serrors.Wrapf(serrors.ErrCodeCacheFailed, err, "failed to open %s cache", cfg.Backend)
	}

	return NewAdvisory(inner), nil
}
