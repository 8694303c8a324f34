// Package log provides structured logging for promine services.
// It wraps the standard library's slog package with mining-chain helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with service context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return NewWithWriter(io.Discard, "test", "dev", "error", "text")
}

// ParseLevel maps a level name to slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type ctxKey string

// RequestIDKey is the context key carrying an HTTP request id
const RequestIDKey ctxKey = "request_id"

// WithContext returns a logger carrying the request id found in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if reqID := ctx.Value(RequestIDKey); reqID != nil {
		return l.WithFields("request_id", reqID)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithOperation returns a logger scoped to a mining operation
func (l *Logger) WithOperation(operationID int64, workType string, difficulty int) *Logger {
	return l.WithFields("operation_id", operationID, "work_type", workType, "difficulty", difficulty)
}

// WithProducer returns a logger scoped to an autonomous producer
func (l *Logger) WithProducer(name, workType string) *Logger {
	if workType == "" {
		workType = "any"
	}
	return l.WithFields("producer", name, "work_type", workType)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, d time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ms", float64(d.Nanoseconds())/1e6,
	)
}

// LogSubmission logs accepted work submissions
func (l *Logger) LogSubmission(operationID int64, minerID, workType string, difficulty int) {
	l.Info("work submitted",
		"operation_id", operationID,
		"miner_id", minerID,
		"work_type", workType,
		"difficulty", difficulty,
	)
}

// LogDiscovery logs a recorded discovery
func (l *Logger) LogDiscovery(discoveryID int64, workType, mode string, verified bool, value float64) {
	l.Info("discovery recorded",
		"discovery_id", discoveryID,
		"work_type", workType,
		"computation_mode", mode,
		"verified", verified,
		"scientific_value", value,
	)
}

// LogBlockAppended logs a block appended to the chain
func (l *Logger) LogBlockAppended(index int64, blockHash, minerID string, value float64) {
	l.Info("block appended",
		"block_index", index,
		"block_hash", blockHash,
		"miner_id", minerID,
		"scientific_value", value,
	)
}
