package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, cfg LogConfig) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %q", err, buf.String())
	}
	return entry
}

func TestNewLogger_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "bad level", config: LogConfig{Level: "loud"}},
		{name: "bad format", config: LogConfig{Format: "xml"}},
		{name: "bad pattern", config: LogConfig{Format: "json", RedactPatterns: []string{"("}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Output = &bytes.Buffer{}
			if _, err := NewLogger(tt.config); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger(t, LogConfig{Level: "warn"})
	ctx := context.Background()
	logger.Info(ctx, "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	logger.Warn(ctx, "shown")
	if entry := decodeLine(t, buf); entry["level"] != "WARN" || entry["msg"] != "shown" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestLogger_ContextFields(t *testing.T) {
	logger, buf := newTestLogger(t, LogConfig{})
	ctx := WithPair(WithRunID(context.Background(), "run-7"), "retrieval", 3)
	logger.Info(ctx, "pair scored", "match", true)

	entry := decodeLine(t, buf)
	if entry["run_id"] != "run-7" || entry["strategy"] != "retrieval" || entry["question_index"] != float64(3) {
		t.Fatalf("entry = %v", entry)
	}
}

func TestLogger_Redaction(t *testing.T) {
	logger, buf := newTestLogger(t, LogConfig{RedactPatterns: []string{`caller-\d+`}})
	key := "sk-" + strings.Repeat("a", 40)

	logger.Error(context.Background(), "call failed with "+key,
		"error", errors.New("bearer abcdefghijklmnopqrstuvwxyz"),
		"api_key", "short",
		"caller", "caller-42",
	)
	out := buf.String()
	for _, secret := range []string{key, "abcdefghijklmnopqrstuvwxyz", "short", "caller-42"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked: %s", secret, out)
		}
	}
	if strings.Count(out, "[REDACTED]") < 4 {
		t.Fatalf("expected redaction markers: %s", out)
	}
}

func TestLogger_SlogSharesRedaction(t *testing.T) {
	logger, buf := newTestLogger(t, LogConfig{})
	sl := logger.Slog().With("component", "llm", "token", "plain-value")
	sl.Info("retrying", "detail", "api_key=ABCDEFGHIJKLMNOPQRST")

	entry := decodeLine(t, buf)
	if entry["token"] != "[REDACTED]" || entry["component"] != "llm" {
		t.Fatalf("entry = %v", entry)
	}
	if strings.Contains(buf.String(), "ABCDEFGHIJKLMNOPQRST") {
		t.Fatalf("attr not redacted: %s", buf.String())
	}
}

func TestLogger_WithFields(t *testing.T) {
	logger, buf := newTestLogger(t, LogConfig{})
	logger.WithFields("component", "checkpoint").Info(context.Background(), "saved")
	if entry := decodeLine(t, buf); entry["component"] != "checkpoint" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", "json"},
		{"TEXT", "text"},
		{"auto", "json"},
		{"", "json"},
	}
	for _, tt := range tests {
		got, err := ResolveFormat(tt.format, &bytes.Buffer{})
		if err != nil || got != tt.want {
			t.Fatalf("ResolveFormat(%q) = %q, %v; want %q", tt.format, got, err, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
	}
	for in, want := range tests {
		if got, err := ParseLevel(in); err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}
