// Package config loads searchidx configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults (NewConfig)
//  2. User config ($XDG_CONFIG_HOME/searchidx/config.yaml)
//  3. Project config (.searchidx.yaml / .searchidx.yml in the working dir,
//     or the file passed with --config)
//  4. .env in the working dir (never overrides variables already set)
//  5. SEARCHIDX_* environment variables
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEARCHIDX_"

// Config is the complete searchidx configuration.
type Config struct {
	Search     SearchConfig     `yaml:"search" json:"search"`
	Fetch      FetchConfig      `yaml:"fetch" json:"fetch"`
	Extract    ExtractConfig    `yaml:"extract" json:"extract"`
	Chunk      ChunkConfig      `yaml:"chunk" json:"chunk"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Retrieve   RetrieveConfig   `yaml:"retrieve" json:"retrieve"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// SearchConfig points at the SearXNG instance producing result URLs.
type SearchConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// FetchConfig configures page downloads.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	// RatePerHost is requests per second per host; 0 disables limiting.
	RatePerHost float64 `yaml:"rate_per_host" json:"rate_per_host"`
	RateBurst   int     `yaml:"rate_burst" json:"rate_burst"`
}

// ExtractConfig configures HTML to text extraction.
type ExtractConfig struct {
	MaxTextBytes int `yaml:"max_text_bytes" json:"max_text_bytes"`
}

// ChunkConfig configures the chunker.
type ChunkConfig struct {
	MaxWords int `yaml:"max_words" json:"max_words"`
	// MaxChunks caps chunks per document; 0 means unlimited.
	MaxChunks int `yaml:"max_chunks" json:"max_chunks"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of static, ollama, openai.
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	OllamaHost    string `yaml:"ollama_host" json:"ollama_host"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	// OpenAIAPIKey is only read from the environment.
	OpenAIAPIKey string `yaml:"-" json:"-"`

	// CacheSize is the number of chunk vectors kept in memory; 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Serialize funnels all embedding calls through one lock.
	Serialize bool `yaml:"serialize" json:"serialize"`

	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" json:"breaker_timeout"`
}

// CacheConfig configures the content cache.
type CacheConfig struct {
	// Backend is one of memory, redis, sqlite, none.
	Backend    string        `yaml:"backend" json:"backend"`
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	Size       int           `yaml:"size" json:"size"`
	RedisURL   string        `yaml:"redis_url" json:"redis_url"`
	SQLitePath string        `yaml:"sqlite_path" json:"sqlite_path"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Backend is hnsw or flat.
	Backend  string `yaml:"backend" json:"backend"`
	M        int    `yaml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" json:"ef_search"`
	// MaxChunks caps the chunks one catalog holds; 0 means unlimited.
	// Commits past the cap fail the document.
	MaxChunks int `yaml:"max_chunks" json:"max_chunks"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	Concurrency  int `yaml:"concurrency" json:"concurrency"`
	Workers      int `yaml:"workers" json:"workers"`
	MaxResults   int `yaml:"max_results" json:"max_results"`
	FetchRetries int `yaml:"fetch_retries" json:"fetch_retries"`
}

// RetrieveConfig configures hybrid query-time retrieval.
type RetrieveConfig struct {
	TopK          int     `yaml:"top_k" json:"top_k"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`
	RRFConstant   int     `yaml:"rrf_constant" json:"rrf_constant"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// SharedIndex keeps one catalog across requests instead of a fresh
	// one per /search.
	SharedIndex bool `yaml:"shared_index" json:"shared_index"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// TelemetryConfig configures the local run history. Nothing leaves the
// machine.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Path is the history database; empty means ~/.searchidx/telemetry.db.
	Path string `yaml:"path" json:"path"`
	// RecentRuns is how many runs the in-process collector keeps.
	RecentRuns int `yaml:"recent_runs" json:"recent_runs"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Search: SearchConfig{
			URL:     "http://localhost:8888",
			Timeout: 15 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:      10 * time.Second,
			MaxBodyBytes: 5 << 20,
			UserAgent:    "searchidx/1.0 (+https://github.com/Aman-CERP/searchidx)",
			RatePerHost:  5,
			RateBurst:    2,
		},
		Extract: ExtractConfig{
			MaxTextBytes: 200_000,
		},
		Chunk: ChunkConfig{
			MaxWords:  512,
			MaxChunks: 256,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "static",
			Model:           "static-hash",
			Dimensions:      384,
			BatchSize:       32,
			Timeout:         60 * time.Second,
			CacheSize:       4096,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Hour,
			Size:    1024,
		},
		Index: IndexConfig{
			Backend:   "hnsw",
			M:         16,
			EfSearch:  64,
			MaxChunks: 100000,
		},
		Pipeline: PipelineConfig{
			Concurrency: 10,
			Workers:     runtime.NumCPU(),
			MaxResults:  10,
		},
		Retrieve: RetrieveConfig{
			TopK:          5,
			VectorWeight:  0.65,
			KeywordWeight: 0.35,
			RRFConstant:   60,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			RecentRuns: 100,
		},
	}
}

// GetUserConfigPath returns the user configuration file path, following XDG:
//   - $XDG_CONFIG_HOME/searchidx/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/searchidx/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "searchidx", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "searchidx", "config.yaml")
	}
	return filepath.Join(home, ".config", "searchidx", "config.yaml")
}

// ProjectConfigPath returns the project config file in dir, preferring
// .searchidx.yaml over .searchidx.yml. Empty if neither exists.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".searchidx.yaml", ".searchidx.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// Load builds the effective configuration for dir. A non-empty file
// replaces the project config lookup and must exist.
func Load(dir, file string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	projectPath := file
	if projectPath == "" {
		projectPath = ProjectConfigPath(dir)
	} else if !fileExists(projectPath) {
		return nil, serrors.New(serrors.ErrCodeConfigNotFound,
			fmt.Sprintf("config file not found: %s", projectPath), nil)
	}
	if projectPath != "" {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, serrors.ConfigError("failed to read .env", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over the current values. Keys absent from the
// file keep their current value; unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return serrors.Wrapf(serrors.ErrCodeConfigNotFound, err, "failed to read config file %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return serrors.Wrapf(serrors.ErrCodeConfigInvalid, err, "failed to parse config file %s", path).
			WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies SEARCHIDX_* variables. OPENAI_API_KEY is also
// honoured for the OpenAI provider.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"SEARCH_URL":       &c.Search.URL,
		"EMBEDDER":         &c.Embeddings.Provider,
		"EMBEDDINGS_MODEL": &c.Embeddings.Model,
		"OLLAMA_HOST":      &c.Embeddings.OllamaHost,
		"OPENAI_BASE_URL":  &c.Embeddings.OpenAIBaseURL,
		"CACHE_BACKEND":    &c.Cache.Backend,
		"REDIS_URL":        &c.Cache.RedisURL,
		"SQLITE_PATH":      &c.Cache.SQLitePath,
		"INDEX_BACKEND":    &c.Index.Backend,
		"SERVER_ADDR":      &c.Server.Addr,
		"LOG_LEVEL":        &c.Logging.Level,
		"USER_AGENT":       &c.Fetch.UserAgent,
		"TELEMETRY_PATH":   &c.Telemetry.Path,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CONCURRENCY":           &c.Pipeline.Concurrency,
		"WORKERS":               &c.Pipeline.Workers,
		"MAX_RESULTS":           &c.Pipeline.MaxResults,
		"FETCH_RETRIES":         &c.Pipeline.FetchRetries,
		"CHUNK_MAX_WORDS":       &c.Chunk.MaxWords,
		"EMBEDDINGS_DIMENSIONS": &c.Embeddings.Dimensions,
		"TOP_K":                 &c.Retrieve.TopK,
		"INDEX_MAX_CHUNKS":      &c.Index.MaxChunks,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return serrors.ConfigError(fmt.Sprintf("%s%s must be an integer, got %q", EnvPrefix, name, v), err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"FETCH_TIMEOUT":  &c.Fetch.Timeout,
		"SEARCH_TIMEOUT": &c.Search.Timeout,
		"CACHE_TTL":      &c.Cache.TTL,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return serrors.ConfigError(fmt.Sprintf("%s%s must be a duration, got %q", EnvPrefix, name, v), err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv(EnvPrefix + "TELEMETRY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return serrors.ConfigError(fmt.Sprintf("%sTELEMETRY must be a boolean, got %q", EnvPrefix, v), err)
		}
		c.Telemetry.Enabled = b
	}

	if v := os.Getenv(EnvPrefix + "OPENAI_API_KEY"); v != "" {
		c.Embeddings.OpenAIAPIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embeddings.OpenAIAPIKey = v
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Search.Timeout <= 0 {
		bad("search.timeout must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		bad("fetch.timeout must be positive")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		bad("fetch.max_body_bytes must be positive, got %d", c.Fetch.MaxBodyBytes)
	}
	if c.Fetch.RatePerHost < 0 {
		bad("fetch.rate_per_host must be non-negative")
	}
	if c.Chunk.MaxWords <= 0 {
		bad("chunk.max_words must be positive, got %d", c.Chunk.MaxWords)
	}
	if c.Chunk.MaxChunks < 0 {
		bad("chunk.max_chunks must be non-negative, got %d", c.Chunk.MaxChunks)
	}
	if !oneOf(c.Embeddings.Provider, "static", "ollama", "openai") {
		bad("embeddings.provider must be 'static', 'ollama' or 'openai', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		bad("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		bad("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if !oneOf(c.Cache.Backend, "memory", "redis", "sqlite", "none") {
		bad("cache.backend must be 'memory', 'redis', 'sqlite' or 'none', got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		bad("cache.redis_url is required for the redis backend")
	}
	if c.Cache.TTL <= 0 {
		bad("cache.ttl must be positive")
	}
	if !oneOf(c.Index.Backend, "hnsw", "flat") {
		bad("index.backend must be 'hnsw' or 'flat', got %q", c.Index.Backend)
	}
	if c.Index.MaxChunks < 0 {
		bad("index.max_chunks must be non-negative, got %d", c.Index.MaxChunks)
	}
	if c.Pipeline.Concurrency <= 0 {
		bad("pipeline.concurrency must be positive, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.Workers <= 0 {
		bad("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxResults <= 0 {
		bad("pipeline.max_results must be positive, got %d", c.Pipeline.MaxResults)
	}
	if c.Pipeline.FetchRetries < 0 {
		bad("pipeline.fetch_retries must be non-negative, got %d", c.Pipeline.FetchRetries)
	}
	if c.Retrieve.TopK <= 0 {
		bad("retrieve.top_k must be positive, got %d", c.Retrieve.TopK)
	}
	if c.Retrieve.VectorWeight < 0 || c.Retrieve.KeywordWeight < 0 ||
		c.Retrieve.VectorWeight+c.Retrieve.KeywordWeight == 0 {
		bad("retrieve weights must be non-negative and not both zero")
	}
	if c.Retrieve.RRFConstant <= 0 {
		bad("retrieve.rrf_constant must be positive, got %d", c.Retrieve.RRFConstant)
	}
	if c.Server.Addr == "" {
		bad("server.addr must not be empty")
	}
	if c.Telemetry.RecentRuns < 0 {
		bad("telemetry.recent_runs must be non-negative, got %d", c.Telemetry.RecentRuns)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		bad("logging.level must be 'debug', 'info', 'warn' or 'error', got %q", c.Logging.Level)
	}

	if len(problems) == 0 {
		return nil
	}
	err := serrors.ConfigError("invalid configuration: "+strings.Join(problems, "; "), nil)
	return err.WithSuggestion("run 'searchidx config show' to inspect the effective configuration")
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(v)
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
