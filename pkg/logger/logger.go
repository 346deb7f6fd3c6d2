// Package logger provides structured logging using slog with request context support.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "request_id"
	// RemoteAddrKey is the context key for the caller's address.
	RemoteAddrKey contextKey = "remote_addr"
)

// Logger wraps slog.Logger with additional context-aware methods.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger writing to stdout with the specified level and format.
func New(level slog.Level, json bool) *Logger {
	return NewWithWriter(os.Stdout, level, json)
}

// NewWithWriter creates a new Logger that writes to w.
func NewWithWriter(w io.Writer, level slog.Level, json bool) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Default creates a logger with default settings (INFO level, JSON format).
func Default() *Logger {
	return New(slog.LevelInfo, true)
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// WithContext returns a new Logger with fields extracted from the context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logger = logger.With("request_id", requestID)
	}

	if addr, ok := ctx.Value(RemoteAddrKey).(string); ok && addr != "" {
		logger = logger.With("remote_addr", addr)
	}

	return &Logger{Logger: logger}
}

// WithRequestID returns a new Logger with the request ID field.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("request_id", requestID),
	}
}

// WithComponent returns a new Logger with the component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

// WithError returns a new Logger with the error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With("error", err.Error()),
	}
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithRemoteAddr adds the caller's address to the context.
func ContextWithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
