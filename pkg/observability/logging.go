package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogFormat selects the slog handler used by NewLogger
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// LoggerConfig configures NewLogger
type LoggerConfig struct {
	Level     slog.Level
	Format    LogFormat
	Output    io.Writer
	AddSource bool
}

// NewLogger creates a structured logger writing to cfg.Output (stdout when
// nil). The returned level var can be changed at runtime.
func NewLogger(cfg LoggerConfig) (*slog.Logger, *slog.LevelVar) {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler), level
}

// NewDefaultLogger creates an info-level text logger on stdout
func NewDefaultLogger() *slog.Logger {
	logger, _ := NewLogger(LoggerConfig{Level: slog.LevelInfo})
	return logger
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "fatal":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// ParseLogFormat parses a log format string
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", format)
	}
}

// LogOperation logs the start and end of an operation
func LogOperation(logger *slog.Logger, operation string, fn func() error, attrs ...any) error {
	logger = logger.With(attrs...)
	start := time.Now()
	logger.Info("starting operation", slog.String("operation", operation))

	err := fn()

	duration := time.Since(start)
	if err != nil {
		logger.Error("operation failed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.Any("error", err))
	} else {
		logger.Info("operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration))
	}
	return err
}

// AccessLogger logs HTTP/gRPC access logs
type AccessLogger struct {
	logger *slog.Logger
}

// NewAccessLogger creates a new access logger
func NewAccessLogger(logger *slog.Logger) *AccessLogger {
	return &AccessLogger{logger: logger.With(slog.String("component", "access"))}
}

// LogAccess logs an access entry
func (al *AccessLogger) LogAccess(method, path, status string, duration time.Duration, attrs ...any) {
	args := append([]any{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("status", status),
		slog.Duration("duration", duration),
	}, attrs...)
	al.logger.Info("access", args...)
}
