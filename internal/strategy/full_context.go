package strategy

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/recallbench/internal/llm"
	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// FullContextConfig configures the full-context strategy.
type FullContextConfig struct {
	// MaxChars is the context budget; older content is dropped first.
	MaxChars int `yaml:"max_chars" json:"max_chars"`
	// WindowLimit, when positive, keeps only the most recent utterances.
	WindowLimit int `yaml:"window_limit" json:"window_limit"`
}

// DefaultFullContextConfig returns the reference budget.
func DefaultFullContextConfig() FullContextConfig {
	return FullContextConfig{MaxChars: 100000}
}

// FullContext sends the whole (tail-truncated) transcript with every question.
type FullContext struct {
	completer llm.Completer
	client    *retry.Client
	gen       Generation
	config    FullContextConfig
	empty     retry.EmptyDetector
	logger    *slog.Logger
}

// NewFullContext creates the full-context strategy.
func NewFullContext(completer llm.Completer, client *retry.Client, gen Generation, cfg FullContextConfig, empty retry.EmptyDetector, logger *slog.Logger) *FullContext {
	return &FullContext{
		completer: completer,
		client:    client,
		gen:       gen,
		config:    cfg,
		empty:     empty,
		logger:    defaultLogger(logger, NameFullContext),
	}
}

// Name returns the strategy name.
func (s *FullContext) Name() string {
	return NameFullContext
}

// Answer asks the model with the full conversation as context.
func (s *FullContext) Answer(ctx context.Context, q models.Question, store *transcript.Store) models.AnswerRecord {
	start := time.Now()

	history := store.FullText()
	if s.config.WindowLimit > 0 {
		history = models.RenderUtterances(store.Windowed(s.config.WindowLimit))
	}
	history, truncated := TailTruncate(history, s.config.MaxChars)

	meta := map[string]any{
		"truncated":    truncated,
		"context_size": len(history),
	}
	req := &llm.Request{
		System:      FullContextPrompt(history),
		Prompt:      q.Prompt,
		Model:       s.gen.Model,
		MaxTokens:   s.gen.MaxTokens,
		Temperature: s.gen.Temperature,
	}

	out := llm.Call(ctx, s.client, s.completer, req, s.empty)
	if out.Succeeded() {
		meta["model"] = out.Value.Model
	}
	s.logger.Debug("answered", "question", q.Index, "kind", out.Kind, "attempts", out.Attempts, "truncated", truncated)
	return record(NameFullContext, q, start, out, responseText, meta)
}

// TailTruncate keeps the last max bytes of s, advanced to a rune boundary.
// A non-positive max disables truncation.
func TailTruncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:], true
}

func responseText(r *llm.Response) string {
	return r.Text
}
