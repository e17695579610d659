// Package eval runs questions across answer strategies, scores every
// answer, and builds the comparison report.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/haasonsaas/recallbench/internal/match"
	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/strategy"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// ErrInterrupted is returned with the partial report of a cancelled run.
var ErrInterrupted = errors.New("eval: run interrupted")

// Checkpointer persists partial and final reports.
type Checkpointer interface {
	Save(ctx context.Context, r *Report) error
}

// Observer is notified of every scored pair.
type Observer interface {
	ObservePair(rec models.AnswerRecord, verdict models.MatchVerdict)
}

// Config controls scheduling and persistence cadence.
type Config struct {
	// Concurrency is the number of pairs evaluated at once; 1 is sequential.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// CheckpointEvery saves a snapshot after this many completed questions.
	// Zero disables periodic checkpoints; the final report is always saved.
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every"`
}

// DefaultConfig returns sequential evaluation with a checkpoint every 5
// questions.
func DefaultConfig() Config {
	return Config{Concurrency: 1, CheckpointEvery: 5}
}

// Orchestrator evaluates (question, strategy) pairs.
type Orchestrator struct {
	strategies     []strategy.Strategy
	evaluator      *match.Evaluator
	store          *transcript.Store
	config         Config
	checkpoint     Checkpointer
	observer       Observer
	logger         *slog.Logger
	tracer         trace.Tracer
	now            func() time.Time
	questionSource string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCheckpointer persists snapshots and the final report through c.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Orchestrator) { o.checkpoint = c }
}

// WithObserver reports each scored pair to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer records one span per pair.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithQuestionSource records where the questions came from.
func WithQuestionSource(source string) Option {
	return func(o *Orchestrator) { o.questionSource = source }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator running strategies in the given order.
func New(strategies []strategy.Strategy, evaluator *match.Evaluator, store *transcript.Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	o := &Orchestrator{
		strategies: strategies,
		evaluator:  evaluator,
		store:      store,
		config:     cfg,
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("recallbench/eval"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "eval")
	return o
}

// Names returns the strategy names in run order.
func (o *Orchestrator) Names() []string {
	names := make([]string, len(o.strategies))
	for i, s := range o.strategies {
		names[i] = s.Name()
	}
	return names
}

type pair struct {
	question models.Question
	strategy strategy.Strategy
}

// Run evaluates every pair not already present in prior. A complete prior
// covering all pairs is returned unchanged. On cancellation no new pair
// starts, in-flight pairs finish, and the partial report is saved and
// returned with ErrInterrupted.
func (o *Orchestrator) Run(ctx context.Context, questions []models.Question, prior *Report) (*Report, error) {
	names := o.Names()
	if prior != nil && prior.Metadata.Complete && prior.Covers(questions, names) {
		o.logger.Info("report already complete", "run_id", prior.Metadata.RunID, "pairs", len(prior.Results))
		return prior, nil
	}

	report := o.startReport(prior, names, len(questions))
	done := report.Completed()

	var pending []pair
	remaining := make(map[int]int)
	for _, q := range questions {
		for _, s := range o.strategies {
			if _, ok := done[models.PairKey{QuestionIndex: q.Index, Strategy: s.Name()}]; ok {
				continue
			}
			pending = append(pending, pair{question: q, strategy: s})
			remaining[q.Index]++
		}
	}

	o.logger.Info("evaluation started",
		"run_id", report.Metadata.RunID,
		"questions", len(questions),
		"strategies", names,
		"pending_pairs", len(pending),
		"resumed", report.Metadata.Resumed,
		"concurrency", o.config.Concurrency,
	)

	col := &collector{
		orch:      o,
		report:    report,
		names:     names,
		remaining: remaining,
	}

	work := make(chan pair)
	var wg sync.WaitGroup
	workers := o.config.Concurrency
	if workers > len(pending) {
		workers = len(pending)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				o.runPair(ctx, p, col)
			}
		}()
	}

dispatch:
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case work <- p:
		}
	}
	close(work)
	wg.Wait()

	report.Sort(names)
	report.Recompute(o.now())
	covered := report.Covers(questions, names)
	report.Metadata.Complete = covered
	interrupted := !covered && ctx.Err() != nil

	saveErr := col.save(ctx, report.Clone(), -1)

	o.logger.Info("evaluation finished",
		"run_id", report.Metadata.RunID,
		"completed_pairs", report.Metadata.CompletedPairs,
		"successful", report.Metadata.SuccessfulResponses,
		"errors", report.Metadata.ErrorResponses,
		"accuracy", report.Metadata.Accuracy,
		"complete", report.Metadata.Complete,
	)

	if interrupted {
		return report, errors.Join(ErrInterrupted, saveErr)
	}
	if saveErr != nil {
		return report, saveErr
	}
	return report, nil
}

func (o *Orchestrator) startReport(prior *Report, names []string, total int) *Report {
	var report *Report
	if prior != nil {
		report = prior.Clone()
		report.Metadata.Resumed = true
		for _, n := range names {
			if !contains(report.Metadata.Strategies, n) {
				report.Metadata.Strategies = append(report.Metadata.Strategies, n)
			}
		}
	} else {
		report = NewReport(uuid.NewString(), names, o.now())
	}
	report.Metadata.TotalQuestions = total
	report.Metadata.Complete = false
	if o.store != nil {
		report.Metadata.Transcript = o.store.Source()
	}
	if o.questionSource != "" {
		report.Metadata.QuestionSource = o.questionSource
	}
	return report
}

func (o *Orchestrator) runPair(ctx context.Context, p pair, col *collector) {
	name := p.strategy.Name()
	ctx, span := o.tracer.Start(ctx, "eval.pair", trace.WithAttributes(
		attribute.String("eval.strategy", name),
		attribute.Int("eval.question", p.question.Index),
	))
	defer span.End()

	rec := strategy.Guard(ctx, p.strategy, p.question, o.store, o.logger)
	if !rec.Succeeded && ctx.Err() != nil && rec.Metadata["failure_kind"] == string(retry.KindCanceled) {
		// Left out of the report so a resumed run retries it.
		o.logger.Info("pair abandoned on cancellation", "strategy", name, "question", p.question.Index)
		span.SetStatus(codes.Error, "canceled")
		return
	}

	verdict := o.Score(p.question, rec)
	span.SetAttributes(
		attribute.Bool("eval.succeeded", rec.Succeeded),
		attribute.Bool("eval.match", verdict.IsMatch),
		attribute.Float64("eval.confidence", verdict.Confidence),
	)
	if !rec.Succeeded {
		span.SetStatus(codes.Error, rec.Answer)
	}
	if o.observer != nil {
		o.observer.ObservePair(rec, verdict)
	}
	o.logger.Debug("pair scored",
		"strategy", name,
		"question", p.question.Index,
		"succeeded", rec.Succeeded,
		"match", verdict.IsMatch,
		"confidence", verdict.Confidence,
		"elapsed", rec.Elapsed,
	)

	col.add(ctx, models.ScoredAnswer{
		QuestionIndex: p.question.Index,
		Category:      p.question.Category,
		GroundTruth:   p.question.GroundTruth,
		Record:        rec,
		Verdict:       verdict,
	})
}

// Score grades a record. Failed records never match.
func (o *Orchestrator) Score(q models.Question, rec models.AnswerRecord) models.MatchVerdict {
	if !rec.Succeeded {
		return models.MatchVerdict{Reason: match.ReasonNoValidResponse, Grade: models.GradeInvalid}
	}
	return o.evaluator.Evaluate(q.GroundTruth, rec.Answer)
}

// collector is the only state shared between workers.
type collector struct {
	orch      *Orchestrator
	report    *Report
	names     []string
	remaining map[int]int

	mu       sync.Mutex
	finished int

	saveMu    sync.Mutex
	savedSeq  int
	snapshots int
}

func (c *collector) add(ctx context.Context, s models.ScoredAnswer) {
	var snapshot *Report
	var seq int

	c.mu.Lock()
	c.report.Results = append(c.report.Results, s)
	c.remaining[s.QuestionIndex]--
	if c.remaining[s.QuestionIndex] == 0 {
		c.finished++
		every := c.orch.config.CheckpointEvery
		if every > 0 && c.finished%every == 0 {
			snapshot = c.report.Clone()
			seq = c.finished
		}
	}
	c.mu.Unlock()

	if snapshot != nil {
		snapshot.Sort(c.names)
		snapshot.Recompute(c.orch.now())
		if err := c.save(ctx, snapshot, seq); err != nil {
			c.orch.logger.Warn("checkpoint failed", "completed_questions", seq, "error", err)
		}
	}
}

// save persists r unless a newer snapshot was already saved. A negative
// seq marks the final report, which is always saved.
func (c *collector) save(ctx context.Context, r *Report, seq int) error {
	if c.orch.checkpoint == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if seq >= 0 && seq <= c.savedSeq {
		return nil
	}
	if err := c.orch.checkpoint.Save(context.WithoutCancel(ctx), r); err != nil {
		return fmt.Errorf("eval: save report: %w", err)
	}
	if seq >= 0 {
		c.savedSeq = seq
		c.snapshots++
		c.orch.logger.Info("checkpoint saved", "completed_questions", seq, "pairs", len(r.Results))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
