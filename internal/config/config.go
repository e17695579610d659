// Package config loads the recallbench configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/recallbench/internal/checkpoint"
	"github.com/haasonsaas/recallbench/internal/eval"
	"github.com/haasonsaas/recallbench/internal/graphqa"
	"github.com/haasonsaas/recallbench/internal/llm"
	"github.com/haasonsaas/recallbench/internal/match"
	"github.com/haasonsaas/recallbench/internal/observability"
	"github.com/haasonsaas/recallbench/internal/rag/chunker"
	"github.com/haasonsaas/recallbench/internal/ratelimit"
	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/sink"
	"github.com/haasonsaas/recallbench/internal/strategy"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the main configuration structure for recallbench.
type Config struct {
	Version int `yaml:"version"`

	// Transcript is the conversation file questions are asked about.
	Transcript string `yaml:"transcript"`
	// Questions is a CSV, TSV, Q/A text or YAML question set.
	Questions string `yaml:"questions"`
	// OutputDir receives report.json, report.md and results.csv.
	OutputDir string `yaml:"output_dir"`
	// Publish optionally uploads the same artifacts to S3.
	Publish sink.S3Config `yaml:"publish"`

	LLM        llm.Config        `yaml:"llm"`
	GraphQA    graphqa.Config    `yaml:"graphqa"`
	Retry      retry.Config      `yaml:"retry"`
	RateLimit  ratelimit.Config  `yaml:"rate_limit"`
	Chunk      chunker.Config    `yaml:"chunk"`
	Strategies StrategiesConfig  `yaml:"strategies"`
	Match      match.Tables      `yaml:"match"`
	Eval       eval.Config       `yaml:"eval"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`

	Logging observability.LogConfig   `yaml:"logging"`
	Tracing observability.TraceConfig `yaml:"tracing"`
	Metrics MetricsConfig             `yaml:"metrics"`
}

// StrategiesConfig selects and tunes the answer strategies.
type StrategiesConfig struct {
	// Enabled lists strategy names in run order.
	Enabled     []string                   `yaml:"enabled"`
	Generation  strategy.Generation        `yaml:"generation"`
	FullContext strategy.FullContextConfig `yaml:"full_context"`
	TopK        int                        `yaml:"top_k"`
	// EmptySentinels mark replies that are treated as empty and retried.
	// Load merges them with match.sentinels so a reply that is retried as
	// empty is also scored as "no valid response", and the reverse.
	EmptySentinels []string `yaml:"empty_sentinels"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr, when set, serves /metrics for the duration of a run.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Version:   CurrentVersion,
		OutputDir: "results",
		LLM:       llm.DefaultConfig(),
		GraphQA:   graphqa.DefaultConfig(),
		Retry:     retry.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Chunk:     chunker.DefaultConfig(),
		Strategies: StrategiesConfig{
			Enabled:        strategy.Names(),
			Generation:     defaultGeneration(),
			FullContext:    strategy.DefaultFullContextConfig(),
			TopK:           strategy.DefaultTopK,
			EmptySentinels: append([]string(nil), retry.DefaultSentinels...),
		},
		Match:      match.DefaultTables(),
		Eval:       eval.DefaultConfig(),
		Checkpoint: checkpoint.DefaultConfig(),
		Logging:    observability.LogConfig{Level: "info", Format: "auto"},
		Tracing:    observability.TraceConfig{ServiceName: "recallbench", SamplingRate: 1},
	}
}

// Load reads, expands, defaults and validates the configuration file.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		applyDefaults(&cfg)
		return &cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := decodeRawConfig(raw, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultGeneration leaves the model empty so it follows llm.model.
func defaultGeneration() strategy.Generation {
	g := strategy.DefaultGeneration()
	g.Model = ""
	return g
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = d.OutputDir
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
	if len(cfg.Strategies.Enabled) == 0 {
		cfg.Strategies.Enabled = d.Strategies.Enabled
	}
	if cfg.Strategies.Generation.Model == "" {
		cfg.Strategies.Generation.Model = cfg.LLM.Model
	}
	if cfg.Strategies.Generation.MaxTokens == 0 {
		cfg.Strategies.Generation.MaxTokens = d.Strategies.Generation.MaxTokens
	}
	if cfg.Strategies.TopK == 0 {
		cfg.Strategies.TopK = d.Strategies.TopK
	}
	if cfg.Strategies.FullContext.MaxChars == 0 {
		cfg.Strategies.FullContext.MaxChars = d.Strategies.FullContext.MaxChars
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = d.Checkpoint.Backend
	}
	if cfg.Checkpoint.Key == "" {
		cfg.Checkpoint.Key = d.Checkpoint.Key
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = d.Checkpoint.Dir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = d.Tracing.ServiceName
	}
	sentinels := mergeSentinels(cfg.Strategies.EmptySentinels, cfg.Match.Sentinels)
	cfg.Strategies.EmptySentinels = sentinels
	cfg.Match.Sentinels = append([]string(nil), sentinels...)
}

// mergeSentinels returns the non-blank phrases of both lists in order,
// dropping case-insensitive duplicates.
func mergeSentinels(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, s := range list {
			key := strings.ToLower(strings.TrimSpace(s))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

// Validate reports the first invalid setting, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Chunk.ChunkSize <= 0 {
		return invalid("chunk.chunk_size must be positive, got %d", c.Chunk.ChunkSize)
	}
	if c.Chunk.ChunkOverlap < 0 || c.Chunk.ChunkOverlap >= c.Chunk.ChunkSize {
		return invalid("chunk.chunk_overlap must be in [0, chunk_size), got %d", c.Chunk.ChunkOverlap)
	}
	if c.Strategies.TopK < 0 {
		return invalid("strategies.top_k must not be negative, got %d", c.Strategies.TopK)
	}
	if c.Strategies.FullContext.MaxChars < 0 || c.Strategies.FullContext.WindowLimit < 0 {
		return invalid("strategies.full_context limits must not be negative")
	}
	seen := map[string]bool{}
	for _, name := range c.Strategies.Enabled {
		if !strategy.Valid(name) {
			return invalid("strategies.enabled: unknown strategy %q (want one of %s)", name, strings.Join(strategy.Names(), ", "))
		}
		if seen[name] {
			return invalid("strategies.enabled: %q listed twice", name)
		}
		seen[name] = true
	}
	if !contains(llm.Providers(), llm.NormalizeProvider(c.LLM.Provider)) {
		return invalid("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	if t := c.Strategies.Generation.Temperature; t < 0 || t > 2 {
		return invalid("strategies.generation.temperature must be in [0, 2], got %v", t)
	}
	if c.Strategies.Generation.MaxTokens < 0 {
		return invalid("strategies.generation.max_tokens must not be negative")
	}
	if seen[strategy.NameDelegated] && strings.TrimSpace(c.GraphQA.BaseURL) == "" {
		return invalid("graphqa.base_url is required by the delegated strategy")
	}
	if c.Retry.MaxRetries < 0 {
		return invalid("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.BurstSize < 1) {
		return invalid("rate_limit needs requests_per_second > 0 and burst_size >= 1 when enabled")
	}
	if err := c.Match.Validate(); err != nil {
		return fmt.Errorf("%w: match: %v", ErrInvalid, err)
	}
	if c.Eval.Concurrency < 1 {
		return invalid("eval.concurrency must be at least 1, got %d", c.Eval.Concurrency)
	}
	if c.Eval.CheckpointEvery < 0 {
		return invalid("eval.checkpoint_every must not be negative, got %d", c.Eval.CheckpointEvery)
	}
	if !contains(checkpoint.Backends(), strings.ToLower(c.Checkpoint.Backend)) {
		return invalid("checkpoint.backend: unknown backend %q", c.Checkpoint.Backend)
	}
	if err := checkpoint.ValidateKey(c.Checkpoint.Key); err != nil {
		return fmt.Errorf("%w: checkpoint.key: %v", ErrInvalid, err)
	}
	if strings.EqualFold(c.Checkpoint.Backend, checkpoint.BackendPostgres) && c.Checkpoint.DSN == "" {
		return invalid("checkpoint.dsn is required for the postgres backend")
	}
	if strings.EqualFold(c.Checkpoint.Backend, checkpoint.BackendRedis) && c.Checkpoint.RedisURL == "" {
		return invalid("checkpoint.redis_url is required for the redis backend")
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "auto":
	default:
		return invalid("logging.format must be json, text or auto, got %q", c.Logging.Format)
	}
	if r := c.Tracing.SamplingRate; r < 0 || r > 1 {
		return invalid("tracing.sampling_rate must be in [0, 1], got %v", r)
	}
	if c.Publish.URL != "" {
		if _, _, err := sink.ParseS3URL(c.Publish.URL); err != nil {
			return fmt.Errorf("%w: publish.url: %v", ErrInvalid, err)
		}
	}
	return nil
}

// EmptyDetector returns the detector configured for the strategies.
func (c *Config) EmptyDetector() retry.EmptyDetector {
	return retry.EmptyDetector{Sentinels: c.Strategies.EmptySentinels}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
