package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/recallbench/internal/graphqa"
	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// Asker posts a question to the graph-backed answering service.
type Asker interface {
	Ask(ctx context.Context, question string) (*graphqa.Reply, error)
}

// Delegated forwards each question to the answering service.
type Delegated struct {
	asker  Asker
	client *retry.Client
	empty  retry.EmptyDetector
	logger *slog.Logger
}

// NewDelegated creates the delegated strategy.
func NewDelegated(asker Asker, client *retry.Client, empty retry.EmptyDetector, logger *slog.Logger) *Delegated {
	return &Delegated{
		asker:  asker,
		client: client,
		empty:  empty,
		logger: defaultLogger(logger, NameDelegated),
	}
}

// Name returns the strategy name.
func (s *Delegated) Name() string {
	return NameDelegated
}

// Answer asks the service. The transcript is not consulted; the service
// holds its own copy of the conversation.
func (s *Delegated) Answer(ctx context.Context, q models.Question, _ *transcript.Store) models.AnswerRecord {
	start := time.Now()

	// Attempts run sequentially, so lastStatus needs no locking.
	var lastStatus int
	out := retry.Call(ctx, s.client, func(ctx context.Context) (*graphqa.Reply, error) {
		reply, err := s.asker.Ask(ctx, q.Prompt)
		if err != nil {
			if code := graphqa.StatusCode(err); code != 0 {
				lastStatus = code
			}
			return nil, err
		}
		lastStatus = reply.StatusCode
		if err := s.empty.Check(reply.Content); err != nil {
			return nil, err
		}
		return reply, nil
	})

	meta := map[string]any{
		"reachable":   lastStatus != 0,
		"status_code": lastStatus,
	}
	s.logger.Debug("answered", "question", q.Index, "kind", out.Kind, "attempts", out.Attempts, "status", lastStatus)
	return record(NameDelegated, q, start, out, func(r *graphqa.Reply) string { return r.Content }, meta)
}
