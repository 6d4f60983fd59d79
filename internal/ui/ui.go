// Package ui renders pipeline progress on the terminal.
//
// A Renderer is a pipeline.Observer: hand it to pipeline.Config.Observer
// and it follows every URL through its stages. The TUI renderer draws a
// live panel with bubbletea; the plain renderer prints one line per
// finished URL and suits CI logs and pipes.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/output"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

// Progress modes accepted by ForMode.
const (
	ModeAuto  = "auto"
	ModeTUI   = "tui"
	ModePlain = "plain"
	ModeNone  = "none"
)

// Renderer displays pipeline progress.
type Renderer interface {
	pipeline.Observer

	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool

	// Interrupt is called when the user presses ctrl+c in the TUI.
	Interrupt func()
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithInterrupt sets the function run on ctrl+c.
func WithInterrupt(fn func()) ConfigOption {
	return func(c *Config) {
		c.Interrupt = fn
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates an appropriate renderer based on config and environment.
// It returns a TUI renderer for interactive terminals, and a plain text
// renderer for CI environments, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !output.IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// ForMode returns the renderer for a --progress value. auto shows progress
// only when cfg.Output is a terminal. A nil Renderer means no progress.
func ForMode(mode string, cfg Config) (Renderer, error) {
	switch mode {
	case "", ModeAuto:
		if !output.IsTTY(cfg.Output) {
			return nil, nil
		}
		return NewRenderer(cfg), nil
	case ModeTUI:
		tui, err := NewTUIRenderer(cfg)
		if err != nil {
			return nil, err
		}
		return tui, nil
	case ModePlain:
		return NewPlainRenderer(cfg), nil
	case ModeNone:
		return nil, nil
	default:
		return nil, serrors.ValidationError(
			fmt.Sprintf("unknown progress mode %q (want auto, tui, plain or none)", mode), nil)
	}
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// StageLabel returns the short label used for a stage in both renderers.
func StageLabel(s pipeline.Stage) string {
	switch s {
	case pipeline.StagePending:
		return "WAIT"
	case pipeline.StageFetching:
		return "FETCH"
	case pipeline.StageExtracting:
		return "EXTRACT"
	case pipeline.StageChunking:
		return "CHUNK"
	case pipeline.StageEmbedding:
		return "EMBED"
	case pipeline.StageIndexing:
		return "INDEX"
	case pipeline.StageDone:
		return "DONE"
	case pipeline.StageFailed:
		return "FAIL"
	default:
		return "???"
	}
}
