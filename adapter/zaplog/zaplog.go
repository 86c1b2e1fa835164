// Package zaplog adapts *zap.Logger to adapter.Logger, the same way the
// teacher library wires go.uber.org/zap into its WithWorkerLogger /
// WithPoolLogger options.
package zaplog

import (
	"go.uber.org/zap"

	"github.com/essandess/gojobqueue/adapter"
)

// Logger wraps a *zap.Logger.
type Logger struct {
	l *zap.Logger
}

// New wraps an existing zap logger.
func New(l *zap.Logger) *Logger {
	return &Logger{l: l}
}

func toZapFields(fields []adapter.Field) []zap.Field {
	zfs := make([]zap.Field, len(fields))
	for i, f := range fields {
		zfs[i] = zap.Any(f.Key, f.Value)
	}
	return zfs
}

// Debug implements adapter.Logger.
func (l *Logger) Debug(msg string, fields ...adapter.Field) {
	l.l.Debug(msg, toZapFields(fields)...)
}

// Info implements adapter.Logger.
func (l *Logger) Info(msg string, fields ...adapter.Field) {
	l.l.Info(msg, toZapFields(fields)...)
}

// Error implements adapter.Logger.
func (l *Logger) Error(msg string, fields ...adapter.Field) {
	l.l.Error(msg, toZapFields(fields)...)
}

// With implements adapter.Logger.
func (l *Logger) With(fields ...adapter.Field) adapter.Logger {
	return &Logger{l: l.l.With(toZapFields(fields)...)}
}
