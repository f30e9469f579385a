package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process log sinks: console, optional append file, and the
// redaction layer in front of both.
type Logger struct {
	logger   zerolog.Logger
	file     *os.File
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, appended to
	Console   bool   // also log to stdout
	Pretty    bool   // human-readable console format
	Redaction bool   // mask secrets before any sink sees them
}

// New builds the logger and installs it as the zerolog global, so packages
// logging through log.Logger share the same sinks and redaction.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	sink, file, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	// Agent environment overlays carry API keys; they must never reach a
	// log sink in the clear.
	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		sink = redactor.Wrap(sink)
	}

	zl := zerolog.New(sink).Level(level).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{logger: zl, file: file, redactor: redactor}, nil
}

// buildSink assembles the configured writers. With nothing configured it
// falls back to stdout rather than swallowing logs.
func buildSink(cfg Config) (io.Writer, *os.File, error) {
	var writers []io.Writer

	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil, nil
	case 1:
		return writers[0], file, nil
	default:
		return io.MultiWriter(writers...), file, nil
	}
}

// Close releases the log file, if one is open.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With creates a child logger context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig matches the server's logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    false,
		Redaction: true,
	}
}
