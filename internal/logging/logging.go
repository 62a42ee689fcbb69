// Package logging builds the process slog.Logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options mirror the log.* config keys.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	// Verbose forces debug, Quiet forces error. Verbose wins.
	Verbose bool
	Quiet   bool
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelError
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		h = slog.NewTextHandler(w, hopts)
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", opts.Format)
	}
	return slog.New(h), nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
