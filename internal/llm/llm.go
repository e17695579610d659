// Package llm provides language-model backends behind a single Completer
// interface, and runs completions through the resilient retry client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/recallbench/internal/retry"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderBedrock   = "bedrock"
	ProviderOllama    = "ollama"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Request is a single-turn completion request.
type Request struct {
	// System carries the instruction template and conversation context.
	System string
	// Prompt is the user question.
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the text a backend produced for a Request.
type Response struct {
	Text         string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
}

// Completer is implemented by every language-model backend.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// APIKey falls back to the provider's conventional environment variable.
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Region and the AWS credential fields apply to bedrock only.
	Region          string        `yaml:"region" json:"region"`
	AccessKeyID     string        `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key" json:"secret_access_key"`
	SessionToken    string        `yaml:"session_token" json:"session_token"`
	MaxTokens       int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature     float64       `yaml:"temperature" json:"temperature"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the reference model settings.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o",
		MaxTokens:   300,
		Temperature: 0.1,
		Timeout:     2 * time.Minute,
	}
}

// Providers lists the supported provider names.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderBedrock, ProviderOllama}
}

// NormalizeProvider maps aliases onto canonical provider names.
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "openai-compatible":
		return ProviderOpenAI
	case "google", "genai":
		return ProviderGemini
	case "claude":
		return ProviderAnthropic
	}
	return name
}

// New constructs the backend cfg names.
func New(ctx context.Context, cfg Config) (Completer, error) {
	switch NormalizeProvider(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderBedrock:
		return NewBedrock(ctx, cfg)
	case ProviderOllama:
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func apiKey(explicit string, envs ...string) string {
	if k := strings.TrimSpace(explicit); k != "" {
		return k
	}
	for _, env := range envs {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return ""
}

func pickModel(requested, fallback string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return fallback
}

// Call runs one completion through rc. Blank answers and answers holding
// an empty sentinel are reported as empty responses so they are retried.
func Call(ctx context.Context, rc *retry.Client, c Completer, req *Request, empty retry.EmptyDetector) retry.Outcome[*Response] {
	return retry.Call(ctx, rc, func(ctx context.Context) (*Response, error) {
		resp, err := c.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := empty.Check(resp.Text); err != nil {
			return nil, err
		}
		return resp, nil
	})
}
