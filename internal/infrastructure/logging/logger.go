// Package logging provides structured logging for offsync.
// It wraps log/slog with context enrichment and domain-specific helpers for
// fetches, writes, connectivity transitions and queue replay.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// contextKey is used for storing logger-related values in context.
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"
	// DrainIDKey is the context key for the current replay pass.
	DrainIDKey contextKey = "drain_id"
	// MutationIDKey is the context key for the mutation being written or replayed.
	MutationIDKey contextKey = "mutation_id"
	// CategoryKey is the context key for the fetch category.
	CategoryKey contextKey = "category"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns info-level text logs on stderr.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger.
type Logger struct {
	slogger *slog.Logger
	level   *slog.LevelVar
}

// New creates a new Logger with the provided configuration.
func New(cfg Config) *Logger {
	level := &slog.LevelVar{}
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		slogger: slog.New(handler),
		level:   level,
	}
}

// Discard returns a logger that drops everything. Used when no logger is supplied.
func Discard() *Logger {
	return New(Config{Output: io.Discard, Level: LevelError})
}

// OrDiscard returns l, or a discarding logger if l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s), true
	}
	return LevelInfo, false
}

func parseLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the log level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(parseLevel(level))
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...), level: l.level}
}

// WithGroup returns a new Logger with the given group name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{slogger: l.slogger.WithGroup(name), level: l.level}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}

// DebugContext logs at debug level with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, enrichArgs(ctx, args)...)
}

// InfoContext logs at info level with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, enrichArgs(ctx, args)...)
}

// WarnContext logs at warn level with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, enrichArgs(ctx, args)...)
}

// ErrorContext logs at error level with context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, enrichArgs(ctx, args)...)
}

// enrichArgs prepends known context values as log attributes.
func enrichArgs(ctx context.Context, args []any) []any {
	enriched := make([]any, 0, len(args)+8)
	for _, key := range []contextKey{CorrelationIDKey, DrainIDKey, MutationIDKey, CategoryKey} {
		if v := ctx.Value(key); v != nil {
			enriched = append(enriched, string(key), v)
		}
	}
	return append(enriched, args...)
}

// Underlying returns the underlying slog.Logger.
func (l *Logger) Underlying() *slog.Logger {
	return l.slogger
}

// --- Context helpers ---

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithDrainID adds a drain ID to the context.
func WithDrainID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DrainIDKey, id)
}

// WithMutationID adds a mutation ID to the context.
func WithMutationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, MutationIDKey, id)
}

// WithCategory adds a fetch category to the context.
func WithCategory(ctx context.Context, category string) context.Context {
	return context.WithValue(ctx, CategoryKey, category)
}

// CorrelationID extracts the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if s, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return s
	}
	return ""
}

// --- Domain-specific logging helpers ---

// LogTransition logs a committed connectivity change.
func LogTransition(ctx context.Context, logger *Logger, from, to string) {
	logger.InfoContext(ctx, "connectivity changed",
		"from", from,
		"to", to,
	)
}

// LogFetchFallback logs a read served from the cache after a remote failure.
func LogFetchFallback(ctx context.Context, logger *Logger, category string, cause error, cached int) {
	logger.WarnContext(ctx, "remote fetch failed, serving cache",
		"category", category,
		"error", cause.Error(),
		"cached", cached,
	)
}

// LogWriteQueued logs a write that was stored for later replay.
func LogWriteQueued(ctx context.Context, logger *Logger, mutationID, method, endpoint, reason string) {
	logger.InfoContext(ctx, "write queued",
		"mutation_id", mutationID,
		"method", method,
		"endpoint", endpoint,
		"reason", reason,
	)
}

// LogDrainStart logs the start of a replay pass.
func LogDrainStart(ctx context.Context, logger *Logger, trigger string, queued int) {
	logger.InfoContext(ctx, "drain started",
		"trigger", trigger,
		"queued", queued,
	)
}

// LogDrainComplete logs the end of a replay pass.
func LogDrainComplete(ctx context.Context, logger *Logger, synced, failed, deferred, poisoned int, duration time.Duration) {
	logger.InfoContext(ctx, "drain completed",
		"synced", synced,
		"failed", failed,
		"deferred", deferred,
		"poisoned", poisoned,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogMutationReplayed logs the outcome of replaying one mutation. err is nil on success.
func LogMutationReplayed(ctx context.Context, logger *Logger, mutationID string, retries int, err error) {
	if err == nil {
		logger.DebugContext(ctx, "mutation replayed",
			"mutation_id", mutationID,
		)
		return
	}
	logger.WarnContext(ctx, "mutation replay failed",
		"mutation_id", mutationID,
		"retries", retries,
		"error", err.Error(),
	)
}
