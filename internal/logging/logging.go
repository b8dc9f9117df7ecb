package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Config controls logger construction. Zero values mean info-level text
// output on stderr.
type Config struct {
	Level  string
	Format string
	File   string
}

// Logger is the process logger plus its optional file sink.
type Logger struct {
	*log.Logger
	file *os.File
}

// New builds a structured logger from cfg. When cfg.File is set the logger
// writes there instead of stderr; Close releases the file.
func New(cfg Config) (*Logger, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var w *os.File = os.Stderr
	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		file = f
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})

	switch strings.ToLower(cfg.Format) {
	case "", "text":
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	default:
		if file != nil {
			file.Close()
		}
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return &Logger{Logger: logger, file: file}, nil
}

// Close flushes and closes the log file sink, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
