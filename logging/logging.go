// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = slog.Default()
	globalMu     sync.RWMutex

	logWriter   io.WriteCloser
	logWriterMu sync.Mutex
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// File is an optional path that receives a copy of every log line.
	// The file is rotated at MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// JSON switches both outputs to the JSON handler.
	JSON bool
}

// Initialize builds the global logger from cfg and installs it as slog's default.
func Initialize(cfg Config) error {
	return initialize(cfg, os.Stderr)
}

func initialize(cfg Config, console io.Writer) error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		logWriter.Close()
		logWriter = nil
	}

	out := console
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		logWriter = lj
		out = io.MultiWriter(console, lj)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	slog.SetDefault(logger)
	return nil
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()
	if logWriter == nil {
		return nil
	}
	err := logWriter.Close()
	logWriter = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// Get returns the global logger.
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Component returns a logger tagged with the given component name.
func Component(name string) *slog.Logger {
	return Get().With("component", name)
}

func Gate() *slog.Logger     { return Component("gate") }
func Storage() *slog.Logger  { return Component("storage") }
func Activity() *slog.Logger { return Component("activity") }
func HTTP() *slog.Logger     { return Component("http") }

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
