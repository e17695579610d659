package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/recallbench/internal/match"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chunk.ChunkSize != 10 || cfg.Chunk.ChunkOverlap != 3 {
		t.Fatalf("chunk = %+v", cfg.Chunk)
	}
	if cfg.Strategies.TopK != 5 || cfg.Strategies.FullContext.MaxChars != 100000 {
		t.Fatalf("strategies = %+v", cfg.Strategies)
	}
	if cfg.Strategies.Generation.MaxTokens != 300 || cfg.Strategies.Generation.Temperature != 0.1 {
		t.Fatalf("generation = %+v", cfg.Strategies.Generation)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Eval.Concurrency != 1 || cfg.Eval.CheckpointEvery != 5 {
		t.Fatalf("retry = %+v eval = %+v", cfg.Retry, cfg.Eval)
	}
	if cfg.Strategies.Generation.Model != "gpt-4o" {
		t.Fatalf("generation model = %q", cfg.Strategies.Generation.Model)
	}
	if strings.Join(cfg.Strategies.Enabled, ",") != "full_context,retrieval,delegated" {
		t.Fatalf("enabled = %v", cfg.Strategies.Enabled)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoad_YAMLOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("RECALLBENCH_TEST_KEY", "sk-test")
	path := writeConfig(t, "bench.yaml", `
transcript: data/conversation.txt
llm:
  provider: anthropic
  model: claude-sonnet
  api_key: ${RECALLBENCH_TEST_KEY}
retry:
  max_retries: 5
  base_unit: 250ms
chunk:
  chunk_size: 8
  chunk_overlap: 2
strategies:
  enabled: [retrieval]
  top_k: 3
eval:
  concurrency: 4
checkpoint:
  backend: sqlite
  dsn: bench.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" || cfg.LLM.Provider != "anthropic" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.Strategies.Generation.Model != "claude-sonnet" {
		t.Fatalf("generation model = %q, want llm.model", cfg.Strategies.Generation.Model)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.BaseUnit != 250*time.Millisecond {
		t.Fatalf("retry = %+v", cfg.Retry)
	}
	if cfg.Retry.RateLimitFallback != 2*time.Second {
		t.Fatalf("unset retry field lost its default: %+v", cfg.Retry)
	}
	if cfg.Chunk.ChunkSize != 8 || cfg.Strategies.TopK != 3 || cfg.Eval.Concurrency != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Strategies.Enabled) != 1 || cfg.Strategies.Enabled[0] != "retrieval" {
		t.Fatalf("enabled = %v", cfg.Strategies.Enabled)
	}
	if cfg.Checkpoint.Key != "latest" || cfg.Checkpoint.Dir != ".recallbench" {
		t.Fatalf("checkpoint defaults = %+v", cfg.Checkpoint)
	}
}

func TestLoad_JSON5WithInclude(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("eval:\n  concurrency: 2\nlogging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "bench.json5")
	content := `{
  // shared settings
  include: "base.yaml",
  eval: { checkpoint_every: 10 },
  logging: { format: "json" },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Eval.Concurrency != 2 || cfg.Eval.CheckpointEvery != 10 {
		t.Fatalf("eval = %+v", cfg.Eval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, content, want string
	}{
		{"unknown field", "chunk:\n  chunk_size: 10\n  extra: true\n", "extra"},
		{"overlap too large", "chunk:\n  chunk_size: 4\n  chunk_overlap: 4\n", "chunk_overlap"},
		{"zero chunk size", "chunk:\n  chunk_size: 0\n", "chunk_size"},
		{"unknown strategy", "strategies:\n  enabled: [full_context, oracle]\n", "oracle"},
		{"duplicate strategy", "strategies:\n  enabled: [retrieval, retrieval]\n", "twice"},
		{"unknown provider", "llm:\n  provider: palm\n", "provider"},
		{"concurrency", "eval:\n  concurrency: 0\n", "concurrency"},
		{"checkpoint backend", "checkpoint:\n  backend: tape\n", "backend"},
		{"checkpoint key", "checkpoint:\n  key: ../x\n", "checkpoint.key"},
		{"postgres without dsn", "checkpoint:\n  backend: postgres\n", "dsn"},
		{"redis without url", "checkpoint:\n  backend: redis\n", "redis_url"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"rate limit", "rate_limit:\n  enabled: true\n  requests_per_second: 0\n", "rate_limit"},
		{"publish url", "publish:\n  url: https://bucket\n", "publish.url"},
		{"newer version", "version: 9\n", "newer"},
		{"thresholds", "match:\n  thresholds:\n    excellent: 0.1\n    good: 0.5\n", "match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bench.yaml", tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want include cycle", err)
	}
}

func TestEmptyDetector(t *testing.T) {
	cfg := Default()
	if err := cfg.EmptyDetector().Check("I'm having trouble responding right now"); err == nil {
		t.Fatal("default sentinel not detected")
	}
}

func TestLoad_MergesSentinels(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
strategies:
  empty_sentinels: ["Service is busy"]
match:
  sentinels: ["no data found", "service is BUSY"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"Service is busy", "no data found"}
	for _, got := range [][]string{cfg.Strategies.EmptySentinels, cfg.Match.Sentinels} {
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("sentinels = %q, want %q", got, want)
		}
	}

	if err := cfg.EmptyDetector().Check("Sorry, no data found."); err == nil {
		t.Fatal("match sentinel not retried as empty")
	}
	evaluator, err := match.New(cfg.Match)
	if err != nil {
		t.Fatalf("match.New: %v", err)
	}
	if v := evaluator.Evaluate("Jake", "Service is busy, Jake"); v.Reason != match.ReasonNoValidResponse {
		t.Fatalf("verdict = %+v, want no valid response", v)
	}
}

func TestLoadRaw_EmptyAndMultiDocument(t *testing.T) {
	empty := writeConfig(t, "empty.yaml", "")
	raw, err := LoadRaw(empty)
	if err != nil {
		t.Fatalf("LoadRaw(empty): %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("raw = %v, want empty", raw)
	}

	multi := writeConfig(t, "multi.yaml", "output_dir: a\n---\noutput_dir: b\n")
	if _, err := LoadRaw(multi); err == nil || !strings.Contains(err.Error(), "multi.yaml") {
		t.Fatalf("err = %v, want error naming the file", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", data)
	}
	for _, key := range []string{"llm", "graphqa", "retry", "rate_limit", "chunk", "strategies", "eval", "checkpoint", "logging"} {
		if _, ok := props[key]; !ok {
			t.Fatalf("schema is missing %q", key)
		}
	}
	chunk, _ := props["chunk"].(map[string]any)
	chunkProps, _ := chunk["properties"].(map[string]any)
	if _, ok := chunkProps["chunk_overlap"]; !ok {
		t.Fatalf("chunk schema uses yaml names? %v", chunk)
	}
}

func TestLoad_DollarIncludeSurvivesEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("eval:\n  concurrency: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "bench.yaml")
	if err := os.WriteFile(path, []byte("$include: base.yaml\noutput_dir: out\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Eval.Concurrency != 3 || cfg.OutputDir != "out" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
