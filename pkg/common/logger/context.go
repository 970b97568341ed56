package logger

import "context"

// LoggerContext carries a logger plus a growing set of attributes gathered
// over the course of a single request or workflow. It lets call sites add
// identifying fields as they become known without rebuilding the logger for
// every message.
type LoggerContext struct {
	log *Logger
}

// NewLoggerContext constructs a LoggerContext around the provided logger.
func NewLoggerContext(log *Logger) *LoggerContext {
	return &LoggerContext{log: log}
}

// Add appends attributes to every subsequent log record.
func (lc *LoggerContext) Add(args ...any) {
	lc.log = lc.log.With(args...)
}

// Debug logs at LevelDebug with the given context.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.log.Debugc(ctx, 3, msg, args...)
}

// Info logs at LevelInfo with the given context.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.log.Infoc(ctx, 3, msg, args...)
}

// Warn logs at LevelWarn with the given context.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.log.Warnc(ctx, 3, msg, args...)
}

// Error logs at LevelError with the given context.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.log.Errorc(ctx, 3, msg, args...)
}
