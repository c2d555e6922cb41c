// Package logging configures the process-wide slog logger: console output
// plus rotating indexsync.log and errors.log files.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syntrixbase/indexsync/internal/config"
)

const (
	MainLogFile  = "indexsync.log"
	ErrorLogFile = "errors.log"
)

var (
	// Open rotating files, closed by Shutdown.
	logFiles   []*lumberjack.Logger
	logFilesMu sync.Mutex
)

// Initialize sets up the global logger based on configuration
func Initialize(cfg config.LoggingConfig) error {
	return InitializeWithConsole(cfg, os.Stdout)
}

// InitializeWithConsole is Initialize with console output sent to w. One-shot
// CLI commands log to stderr so stdout stays machine readable.
func InitializeWithConsole(cfg config.LoggingConfig, w io.Writer) error {
	logger, err := newLogger(cfg, w)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("Logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"dir", cfg.Dir,
		"console_enabled", cfg.Console.Enabled,
		"file_enabled", cfg.File.Enabled,
	)
	return nil
}

// NewLogger creates a logger writing to every enabled output.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LoggingConfig, console io.Writer) (*slog.Logger, error) {
	var handlers fanout

	if cfg.Console.Enabled {
		handlers = append(handlers, createHandler(console, cfg.Console.Format, parseLevel(cfg.Console.Level), true))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		main := openLogFile(cfg, MainLogFile)
		handlers = append(handlers, createHandler(main, cfg.File.Format, parseLevel(cfg.File.Level), false))

		errs := openLogFile(cfg, ErrorLogFile)
		handlers = append(handlers, newLevelFilter(createHandler(errs, cfg.File.Format, slog.LevelWarn, false), slog.LevelWarn))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	case 1:
		return slog.New(handlers[0]), nil
	default:
		return slog.New(handlers), nil
	}
}

// Shutdown closes all log files.
func Shutdown() error {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()

	var firstErr error
	for _, f := range logFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log file: %w", err)
		}
	}
	logFiles = nil
	return firstErr
}

func openLogFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	logFilesMu.Lock()
	logFiles = append(logFiles, f)
	logFilesMu.Unlock()
	return f
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// createHandler picks the encoder for an output. Text on a console gets
// the compact console format; text in files stays logfmt for grepping.
func createHandler(w io.Writer, format string, level slog.Level, console bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	switch {
	case format == "json":
		return slog.NewJSONHandler(w, opts)
	case console:
		return newConsoleHandler(w, level)
	default:
		return slog.NewTextHandler(w, opts)
	}
}
