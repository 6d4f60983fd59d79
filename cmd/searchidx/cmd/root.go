// Package cmd provides the CLI commands for searchidx.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchidx/internal/config"
	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/logging"
	"github.com/Aman-CERP/searchidx/internal/profiling"
	"github.com/Aman-CERP/searchidx/pkg/version"
)

// rootOptions holds the persistent flags and the state they produce.
type rootOptions struct {
	debug      bool
	configPath string
	logLevel   string
	profileDir string

	cfg            *config.Config
	loggingCleanup func()
	profile        *profiling.Session
}

// NewRootCmd creates the root command for the searchidx CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "searchidx",
		Short: "Turn web search results into a searchable vector index",
		Long: `searchidx sends a query to a SearXNG instance, downloads every result
page, extracts its text, splits it into chunks, embeds the chunks and
indexes them for hybrid (vector + BM25) retrieval.

A page that cannot be fetched, parsed or embedded is reported and skipped;
it never stops the others.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("searchidx version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.searchidx/logs/")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: .searchidx.yaml in the working directory)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.profileDir, "profile-dir", "", "Write CPU, heap, trace, block and goroutine profiles to this directory")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.setup(cmd)
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		opts.teardown()
		return nil
	}

	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd, opts
}

// setup loads configuration and installs the default logger.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.Load(dir, o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		if !logging.ValidLevel(o.logLevel) {
			return serrors.ConfigError(fmt.Sprintf("invalid log level %q", o.logLevel), nil)
		}
		cfg.Logging.Level = o.logLevel
	}
	o.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = cfg.Logging.FilePath
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	logCfg.Stderr = cmd.ErrOrStderr()
	if o.debug {
		logCfg.Level = "debug"
		if logCfg.FilePath == "" {
			logCfg.FilePath = logging.DefaultLogPath()
		}
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if o.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Short()))
	}

	if o.profileDir != "" {
		session, err := profiling.Start(profiling.All(o.profileDir))
		if err != nil {
			return err
		}
		o.profile = session
	}
	return nil
}

// teardown stops profiling and flushes logs. It is safe to call twice.
func (o *rootOptions) teardown() {
	if o.profile != nil {
		files, err := o.profile.Stop()
		o.profile = nil
		mem := profiling.MemStats()
		attrs := []any{
			slog.String("dir", o.profileDir),
			slog.Int("files", len(files)),
			slog.String("heap_in_use", profiling.FormatBytes(mem.HeapInuse)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.Info("profiles_written", attrs...)
	}
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

// Execute runs the root command and prints errors in the CLI format.
func Execute() error {
	cmd, opts := newRootCmd()
	defer opts.teardown()
	err := cmd.Execute()
	if err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), serrors.FormatForCLI(err))
	}
	return err
}
