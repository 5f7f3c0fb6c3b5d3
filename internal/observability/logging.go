// Package observability provides logging and tracing helpers for the storage layer.
package observability

import (
	"context"
	"log/slog"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableStoreLogging bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableStoreLogging: true,
}

// StoreLogger provides structured logging for durable map operations.
type StoreLogger struct {
	mapName string
	logger  *slog.Logger
}

// NewStoreLogger creates a StoreLogger for the named map. A nil logger falls
// back to slog.Default().
func NewStoreLogger(mapName string, logger *slog.Logger) *StoreLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreLogger{mapName: mapName, logger: logger}
}

// LogOp logs a completed map operation at debug level, or at info level for
// mutations.
func (l *StoreLogger) LogOp(ctx context.Context, operation, key string, fields ...slog.Attr) {
	if !Config.EnableStoreLogging {
		return
	}
	level := slog.LevelInfo
	if operation == "get" || operation == "values" {
		level = slog.LevelDebug
	}
	attrs := []slog.Attr{
		slog.String("map", l.mapName),
		slog.String("operation", operation),
	}
	if key != "" {
		attrs = append(attrs, slog.String("key", key))
	}
	attrs = append(attrs, fields...)
	l.logger.LogAttrs(ctx, level, "store "+operation, attrs...)
}

// LogError logs a failed map operation.
func (l *StoreLogger) LogError(ctx context.Context, err error, operation, key string) {
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.ErrorContext(ctx, "store error",
		slog.String("map", l.mapName),
		slog.String("operation", operation),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}
