// Package log is the logging layer for the quill service.
//
// Loggers are injected, never global: every component takes a log.Logger
// in its constructor and scopes it with logger.With("component", ...).
// The alias keeps full slog compatibility without a custom interface.
//
// Usage:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	registry := project.NewRegistry(rootDir, logger.With("component", "project"))
//
//	// In tests, discard output or capture it to a buffer.
//	testLogger := log.NewNop()
//	var buf bytes.Buffer
//	testLogger = log.NewWithWriter(&buf, log.Config{})
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is an alias for *slog.Logger. Components accept it as a
// constructor dependency.
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON enables JSON format output. Default: false (text format)
	JSON bool

	// AddSource adds source file information to log entries. Default: false
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger that writes to w. Tests use this to
// capture output in a buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test-only; production
// code always configures New or NewWithWriter.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
