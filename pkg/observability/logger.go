package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LogLevel is the minimum severity a logger emits
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger emits structured JSON lines over slog. Billing code keys its fields
// on the ledger's vocabulary: customer_org, provider_org, event_id,
// charge_id, unit, amount. Loggers are immutable; WithField returns a child.
type Logger struct {
	slogger *slog.Logger
	level   LogLevel
}

// NewLogger creates a logger writing JSON to output at the given level
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level.slogLevel(),
	})
	return &Logger{slogger: slog.New(handler), level: level}
}

// WithField returns a child logger carrying one extra field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{slogger: l.slogger.With(key, value), level: l.level}
}

// WithFields returns a child logger carrying all the given fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{slogger: l.slogger.With(args...), level: l.level}
}

// WithError returns a child logger carrying the error, or l when err is nil
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs at debug level
func (l *Logger) Debug(message string) {
	l.slogger.Debug(message)
}

// Debugf logs a formatted message at debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.slogger.Debug(fmt.Sprintf(format, args...))
}

// Info logs at info level
func (l *Logger) Info(message string) {
	l.slogger.Info(message)
}

// Infof logs a formatted message at info level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.slogger.Info(fmt.Sprintf(format, args...))
}

// Warn logs at warn level
func (l *Logger) Warn(message string) {
	l.slogger.Warn(message)
}

// Warnf logs a formatted message at warn level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.slogger.Warn(fmt.Sprintf(format, args...))
}

// Error logs at error level
func (l *Logger) Error(message string) {
	l.slogger.Error(message)
}

// Errorf logs a formatted message at error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.slogger.Error(fmt.Sprintf(format, args...))
}

// Billing identifiers travel on the context so that every layer a sweep or a
// checkout passes through logs against the same customer and ledger event.
type billingCtxKey int

const (
	ctxKeyCustomerOrg billingCtxKey = iota
	ctxKeyEventID
	ctxKeyLogger
)

// ContextWithCustomerOrg annotates the context with the paying organization
func ContextWithCustomerOrg(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, ctxKeyCustomerOrg, orgID)
}

// CustomerOrgFrom returns the paying organization on the context, or 0
func CustomerOrgFrom(ctx context.Context) int64 {
	if orgID, ok := ctx.Value(ctxKeyCustomerOrg).(int64); ok {
		return orgID
	}
	return 0
}

// ContextWithEventID annotates the context with the ledger event being billed
func ContextWithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, ctxKeyEventID, eventID)
}

// EventIDFrom returns the ledger event on the context, or ""
func EventIDFrom(ctx context.Context) string {
	if eventID, ok := ctx.Value(ctxKeyEventID).(string); ok {
		return eventID
	}
	return ""
}

// ContextWithLogger stashes a logger on the context, typically one already
// scoped to a sweep run
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// LoggerFrom returns the logger on the context, or nil when none was set.
// Callers keep their usual nil guard.
func LoggerFrom(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(ctxKeyLogger).(*Logger); ok {
		return logger
	}
	return nil
}

// BillingLogger annotates base with whatever billing identifiers the context
// carries. A nil base stays nil so call sites keep their nil guard.
func BillingLogger(ctx context.Context, base *Logger) *Logger {
	if base == nil {
		return nil
	}
	if orgID := CustomerOrgFrom(ctx); orgID != 0 {
		base = base.WithField("customer_org", orgID)
	}
	if eventID := EventIDFrom(ctx); eventID != "" {
		base = base.WithField("event_id", eventID)
	}
	return base
}
