package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/logging"
	"github.com/Aman-CERP/searchidx/internal/output"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	file    string
}

func newLogsCmd(root *rootOptions) *cobra.Command {
	opts := &logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the searchidx log file",
		Long: `Show the JSON log file written with --debug or logging.file_path.

By default the last 50 lines are shown. Use -f to follow new entries as
they are written (like 'tail -f').

Examples:
  searchidx logs                   # Last 50 lines
  searchidx logs -n 200            # Last 200 lines
  searchidx logs -f                # Follow new entries
  searchidx logs --level warn      # Warnings and errors only
  searchidx logs --filter url_failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only lines matching this regular expression")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: logging.file_path or ~/.searchidx/logs/searchidx.log)")

	return cmd
}

func runLogs(cmd *cobra.Command, root *rootOptions, opts *logsOptions) error {
	if opts.level != "" && !logging.ValidLevel(opts.level) {
		return serrors.ValidationError(fmt.Sprintf("invalid log level %q", opts.level), nil)
	}
	var pattern *regexp.Regexp
	if opts.filter != "" {
		var err error
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return serrors.ValidationError("invalid filter pattern", err)
		}
	}

	path := opts.file
	if path == "" {
		path = root.cfg.Logging.FilePath
	}
	if path == "" {
		path = logging.DefaultLogPath()
	}

	out := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor || !output.IsTTY(out) || output.DetectNoColor(),
	}, out)

	if !opts.follow {
		entries, err := viewer.Tail(path, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	errOut := cmd.ErrOrStderr()
	_, _ = fmt.Fprintf(errOut, "Following %s (Ctrl+C to stop)\n---\n", path)
	return followLogs(ctx, viewer, path)
}

func followLogs(ctx context.Context, viewer *logging.Viewer, path string) error {
	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Follow(ctx, path, entries)
	}()

	for {
		select {
		case entry := <-entries:
			viewer.Print([]logging.LogEntry{entry})
		case err := <-errCh:
			return err
		}
	}
}
