// Package logging configures log/slog for searchidx.
//
// Without --debug, logs go to stderr as text at the configured level.
// With --debug, JSON logs are additionally written to a size-rotated file
// under ~/.searchidx/logs/. Viewer reads that file back for the logs
// command, tailing or following it with level and pattern filters.
package logging
