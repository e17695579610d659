// Package strategy implements the interchangeable answer strategies that
// are compared by an evaluation run.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// Strategy names, in the order a comparison runs them.
const (
	NameFullContext = "full_context"
	NameRetrieval   = "retrieval"
	NameDelegated   = "delegated"
)

// ErrUnknownStrategy is returned for a strategy name that is not recognised.
var ErrUnknownStrategy = errors.New("strategy: unknown strategy")

// Names returns every strategy name in run order.
func Names() []string {
	return []string{NameFullContext, NameRetrieval, NameDelegated}
}

// Valid reports whether name is a known strategy.
func Valid(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Strategy answers one question about a transcript. Implementations never
// return an error: failures are reported as a record with Succeeded false.
type Strategy interface {
	Name() string
	Answer(ctx context.Context, q models.Question, store *transcript.Store) models.AnswerRecord
}

// Generation holds the language-model parameters shared by the
// model-backed strategies.
type Generation struct {
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// DefaultGeneration returns the reference generation parameters.
func DefaultGeneration() Generation {
	return Generation{Model: "gpt-4o", MaxTokens: 300, Temperature: 0.1}
}

// FailureText renders the diagnostic answer of a failed record.
func FailureText(kind retry.Kind, attempts int, err error) string {
	msg := "no response"
	if err != nil {
		msg = err.Error()
	}
	return fmt.Sprintf("Error: %s after %d attempts: %s", kind, attempts, msg)
}

// record builds the AnswerRecord for a finished call.
func record[T any](name string, q models.Question, start time.Time, out retry.Outcome[T], text func(T) string, meta map[string]any) models.AnswerRecord {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["attempts"] = out.Attempts
	if len(out.Waits) > 0 {
		meta["waits"] = len(out.Waits)
	}
	rec := models.AnswerRecord{
		Strategy:  name,
		Question:  q.Prompt,
		Elapsed:   time.Since(start),
		Succeeded: out.Succeeded(),
		Metadata:  meta,
	}
	if rec.Succeeded {
		rec.Answer = text(out.Value)
	} else {
		rec.Answer = FailureText(out.Kind, out.Attempts, out.Err)
		meta["failure_kind"] = string(out.Kind)
	}
	return rec
}

// failed builds a record for a failure that happened before any call.
func failed(name string, q models.Question, start time.Time, err error, meta map[string]any) models.AnswerRecord {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["attempts"] = 0
	meta["failure_kind"] = string(retry.KindPermanent)
	return models.AnswerRecord{
		Strategy: name,
		Question: q.Prompt,
		Answer:   FailureText(retry.KindPermanent, 0, err),
		Elapsed:  time.Since(start),
		Metadata: meta,
	}
}

// Guard runs s and converts a panic into a failed record.
func Guard(ctx context.Context, s Strategy, q models.Question, store *transcript.Store, logger *slog.Logger) (rec models.AnswerRecord) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("strategy panicked", "strategy", s.Name(), "question", q.Index, "panic", r)
			}
			rec = failed(s.Name(), q, start, fmt.Errorf("panic: %v", r), nil)
		}
	}()
	return s.Answer(ctx, q, store)
}

func defaultLogger(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "strategy", "strategy", name)
}
