// Package logger provides structured logging utilities.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/ricesearch/rice-eval/internal/pkg/security"
)

type ctxKey struct{}

// Logger wraps slog.Logger with pipeline-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stderr with the given level and format.
// Stdout is left to commands that stream records.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewContext returns a context carrying the run ID for log correlation.
func NewContext(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runID)
}

// WithContext returns a logger annotated with the run ID found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if runID, ok := ctx.Value(ctxKey{}).(string); ok && runID != "" {
		return &Logger{Logger: l.With("run_id", runID)}
	}
	return l
}

// WithComponent returns a logger tagged with a pipeline component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithPair returns a logger tagged with a (query, document) pair. The query
// is sanitized.
func (l *Logger) WithPair(query, documentID string) *Logger {
	return &Logger{Logger: l.With("query", security.SanitizeForLog(query), "document_id", documentID)}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.With("error", err.Error())}
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

// Default returns the default logger.
func Default() *Logger {
	return New("info", "text")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// OrDefault returns l, or the default logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return Default()
	}
	return l
}
