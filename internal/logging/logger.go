// Package logging provides structured logging and tagged console output for procctl.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// consoleTimeFormat keeps log lines short enough to sit between tagged
// process output on the same terminal.
const consoleTimeFormat = "15:04:05.000"

// Options selects the handler for a logger.
type Options struct {
	// Format is "json" or "text" (the default).
	Format string

	// Level is "debug", "info", "warn" or "error". Unknown values mean info.
	Level string

	// Verbose forces debug level and adds source locations.
	Verbose bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger from opts.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := parseLevel(opts.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: opts.Verbose,
	}

	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, hopts))
	}
	hopts.ReplaceAttr = shortTime
	return slog.New(slog.NewTextHandler(out, hopts))
}

// NewLogger creates a stderr logger with the given format and level.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return New(Options{Format: format, Level: level, Verbose: verbose})
}

// shortTime renders the top-level timestamp as wall-clock time only.
func shortTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().Format(consoleTimeFormat))
	}
	return a
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithRunID attaches the session's run identifier to every record.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

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

// SetDefault installs logger as the slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
