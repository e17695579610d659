package strategy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/recallbench/internal/llm"
	"github.com/haasonsaas/recallbench/internal/rag/index"
	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 5

// Retrieval answers from the chunks that best overlap the question.
type Retrieval struct {
	completer llm.Completer
	client    *retry.Client
	cache     *index.Cache
	topK      int
	gen       Generation
	empty     retry.EmptyDetector
	logger    *slog.Logger
}

// NewRetrieval creates the retrieval strategy. The index for a transcript is
// built on first use and cached.
func NewRetrieval(completer llm.Completer, client *retry.Client, cache *index.Cache, topK int, gen Generation, empty retry.EmptyDetector, logger *slog.Logger) *Retrieval {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retrieval{
		completer: completer,
		client:    client,
		cache:     cache,
		topK:      topK,
		gen:       gen,
		empty:     empty,
		logger:    defaultLogger(logger, NameRetrieval),
	}
}

// Name returns the strategy name.
func (s *Retrieval) Name() string {
	return NameRetrieval
}

// Answer retrieves excerpts for the question and asks the model.
func (s *Retrieval) Answer(ctx context.Context, q models.Question, store *transcript.Store) models.AnswerRecord {
	start := time.Now()

	ix, err := s.cache.Get(store)
	if err != nil {
		return failed(NameRetrieval, q, start, err, map[string]any{"chunks_retrieved": 0, "context_size": 0})
	}

	results := ix.Retrieve(q.Prompt, s.topK)
	ids := make([]int, 0, len(results))
	texts := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Chunk.ID)
		texts = append(texts, r.Chunk.Text())
	}
	excerpts := strings.Join(texts, ChunkSeparator)

	meta := map[string]any{
		"chunk_ids":        ids,
		"chunks_retrieved": len(results),
		"context_size":     len(excerpts),
	}
	req := &llm.Request{
		System:      RetrievalPrompt(excerpts),
		Prompt:      q.Prompt,
		Model:       s.gen.Model,
		MaxTokens:   s.gen.MaxTokens,
		Temperature: s.gen.Temperature,
	}

	out := llm.Call(ctx, s.client, s.completer, req, s.empty)
	if out.Succeeded() {
		meta["model"] = out.Value.Model
	}
	s.logger.Debug("answered", "question", q.Index, "kind", out.Kind, "attempts", out.Attempts, "chunks", ids)
	return record(NameRetrieval, q, start, out, responseText, meta)
}
