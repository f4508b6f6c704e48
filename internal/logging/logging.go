// Package logging builds the structured slog.Logger the rest of the
// runtime core logs through, with optional rotating file output, and
// carries transaction/component attribution on context.Context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// contextKey is the type for context keys used by this package.
type contextKey string

const (
	transactionIDKey contextKey = "katalyst_transaction_id"
	componentKey     contextKey = "katalyst_component"
)

// RotationConfig bounds a size-rotated log file.
type RotationConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config selects the level, encoding, and destination of the runtime's
// logger. The zero value logs text at info level to stdout.
type Config struct {
	Level string
	JSON  bool
	// Writer overrides the destination; nil means stdout.
	Writer io.Writer
	// Rotate, when set, sends output to a size-rotated file instead of
	// Writer.
	Rotate *RotationConfig
}

func (c Config) destination() io.Writer {
	if c.Rotate != nil && c.Rotate.Filename != "" {
		return &lumberjack.Logger{
			Filename:   c.Rotate.Filename,
			MaxSize:    c.Rotate.MaxSizeMB,
			MaxBackups: c.Rotate.MaxBackups,
			MaxAge:     c.Rotate.MaxAgeDays,
			Compress:   c.Rotate.Compress,
		}
	}
	if c.Writer != nil {
		return c.Writer
	}
	return os.Stdout
}

// New builds the logger described by cfg.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(cfg.destination(), opts))
	}
	return slog.New(slog.NewTextHandler(cfg.destination(), opts))
}

// levelNames maps accepted level spellings to slog levels.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel resolves a level name, defaulting to info for unknown or
// empty input.
func ParseLevel(level string) slog.Level {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return slog.LevelInfo
}

// WithTransactionID attaches a transaction id to ctx for later retrieval
// by FromContext, so TransactionManager can correlate phase and hook
// log lines with the owning TransactionContext.
func WithTransactionID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, transactionIDKey, txID)
}

// WithComponent attaches a component name to ctx.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FromContext returns a logger enriched with the transaction id and
// component name carried on ctx, if any.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if txID, ok := ctx.Value(transactionIDKey).(string); ok && txID != "" {
		logger = logger.With("transaction_id", txID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		logger = logger.With("component", component)
	}
	return logger
}
