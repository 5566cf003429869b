// Package log provides logging setup for the application.
package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	charmlog "charm.land/log/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var initialized atomic.Bool

// Options configures logging setup.
type Options struct {
	// Debug enables debug-level logging.
	Debug bool
	// File, when non-empty, additionally writes logs to this path with
	// rotation. Console output stays on stderr.
	File string
}

// Setup installs the default slog logger.
func Setup(opts Options) error {
	level := charmlog.InfoLevel
	if opts.Debug {
		level = charmlog.DebugLevel
	}

	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
	})

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return err
		}
		logger.SetOutput(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	slog.SetDefault(slog.New(logger))
	initialized.Store(true)
	return nil
}

// Initialized reports whether [Setup] has been called.
func Initialized() bool {
	return initialized.Load()
}

// RecoverPanic recovers from panics, logs them, and runs the cleanup func.
func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		slog.Error("Panic recovered", "name", name, "panic", r)
		if cleanup != nil {
			cleanup()
		}
	}
}
