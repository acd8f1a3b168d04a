package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// New constructs a text logger with the desired log level.
func New(service string) *slog.Logger {
	return newLogger(os.Stdout, service)
}

// NewWithFile behaves like New and additionally mirrors every record into
// the file at path. The returned close func must be called at shutdown.
// An empty path yields a stdout-only logger and a no-op close.
func NewWithFile(service, path string) (*slog.Logger, func() error, error) {
	if strings.TrimSpace(path) == "" {
		return New(service), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	return newLogger(io.MultiWriter(os.Stdout, f), service), f.Close, nil
}

func newLogger(w io.Writer, service string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
