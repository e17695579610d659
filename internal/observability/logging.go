package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"
)

// Logger provides structured logging with evaluation correlation fields and
// sensitive data redaction.
//
// Records written through Logger, or through the *slog.Logger returned by
// Slog, pass the same redacting handler, so packages that only accept a
// *slog.Logger are covered too.
//
// Usage:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "auto"})
//	ctx = observability.WithRunID(ctx, runID)
//	logger.Info(ctx, "evaluation started", "questions", 40)
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string `yaml:"level" json:"level"`

	// Format is "json", "text", or "auto" (text on a terminal, json otherwise)
	Format string `yaml:"format" json:"format"`

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer `yaml:"-" json:"-"`

	// AddSource includes file and line number in log records
	AddSource bool `yaml:"add_source" json:"add_source"`

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string `yaml:"redact_patterns" json:"redact_patterns"`
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RunIDKey carries the evaluation run id.
	RunIDKey ContextKey = "run_id"

	// StrategyKey carries the strategy answering the current pair.
	StrategyKey ContextKey = "strategy"

	// QuestionKey carries the question index of the current pair.
	QuestionKey ContextKey = "question_index"
)

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	// API keys and tokens
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{20,}`,

	// OpenAI API keys
	`sk-[a-zA-Z0-9_-]{32,}`,

	// AWS access key ids
	`\b(AKIA|ASIA)[A-Z0-9]{16}\b`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

var sensitiveKeys = map[string]bool{
	"password":          true,
	"secret":            true,
	"token":             true,
	"api_key":           true,
	"apikey":            true,
	"authorization":     true,
	"secret_access_key": true,
	"session_token":     true,
}

// NewLogger creates a logger. An invalid level, format, or redact pattern
// is an error.
func NewLogger(config LogConfig) (*Logger, error) {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	format, err := ResolveFormat(config.Format, config.Output)
	if err != nil {
		return nil, err
	}
	config.Format = format

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string(nil), DefaultRedactPatterns...), config.RedactPatterns...) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("observability: redact pattern %q: %w", pattern, err)
		}
		redacts = append(redacts, re)
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(config.Output, opts)
	} else {
		inner = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger:  slog.New(&redactingHandler{inner: inner, redacts: redacts}),
		config:  config,
		redacts: redacts,
	}, nil
}

// ParseLevel maps a level name onto slog; empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("observability: unknown log level %q", level)
}

// ResolveFormat turns "auto" into "text" when w is a terminal and "json"
// otherwise. Empty means auto.
func ResolveFormat(format string, w io.Writer) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json", nil
	case "text":
		return "text", nil
	case "", "auto":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return "text", nil
		}
		return "json", nil
	}
	return "", fmt.Errorf("observability: unknown log format %q", format)
}

// Slog returns the underlying redacting *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.Log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
//
// Example:
//
//	logger.Info(ctx, "checkpoint saved", "completed_questions", 10)
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.Log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.Log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message. Errors passed as args are rendered
// and redacted like strings.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.Log(ctx, slog.LevelError, msg, args...)
}

// WithFields returns a new logger with the given fields added to all log records.
//
// Example:
//
//	componentLogger := logger.WithFields("component", "checkpoint")
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		config:  l.config,
		redacts: l.redacts,
	}
}

// Redact applies the logger's patterns to s.
func (l *Logger) Redact(s string) string {
	return redactString(l.redacts, s)
}

// WithRunID adds the run id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithPair adds the strategy and question index to the context.
func WithPair(ctx context.Context, strategy string, question int) context.Context {
	ctx = context.WithValue(ctx, StrategyKey, strategy)
	return context.WithValue(ctx, QuestionKey, question)
}

// redactingHandler adds context fields and scrubs secrets before records
// reach the inner handler.
type redactingHandler struct {
	inner   slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, redactString(h.redacts, r.Message), r.PC)
	if ctx != nil {
		if v, ok := ctx.Value(RunIDKey).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(RunIDKey), v))
		}
		if v, ok := ctx.Value(StrategyKey).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(StrategyKey), v))
		}
		if v, ok := ctx.Value(QuestionKey).(int); ok {
			out.AddAttrs(slog.Int(string(QuestionKey), v))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted), redacts: h.redacts}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), redacts: h.redacts}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))] {
		return slog.String(a.Key, "[REDACTED]")
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, redactString(h.redacts, v.String()))
	case slog.KindGroup:
		group := v.Group()
		out := make([]any, len(group))
		for i, g := range group {
			out[i] = h.redactAttr(g)
		}
		return slog.Group(a.Key, out...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, redactString(h.redacts, err.Error()))
		}
		if s, ok := v.Any().(fmt.Stringer); ok {
			return slog.String(a.Key, redactString(h.redacts, s.String()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func redactString(redacts []*regexp.Regexp, s string) string {
	for _, re := range redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
