package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recallbench/internal/checkpoint"
	"github.com/haasonsaas/recallbench/internal/config"
	"github.com/haasonsaas/recallbench/internal/eval"
	"github.com/haasonsaas/recallbench/internal/markdown"
	"github.com/haasonsaas/recallbench/internal/match"
	"github.com/haasonsaas/recallbench/internal/observability"
	"github.com/haasonsaas/recallbench/internal/rag/index"
	"github.com/haasonsaas/recallbench/internal/sink"
	"github.com/haasonsaas/recallbench/internal/transcript"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// apply copies the flags that were set onto cfg.
func (f *runFlags) apply(cfg *config.Config) {
	if f.transcript != "" {
		cfg.Transcript = f.transcript
	}
	if f.questions != "" {
		cfg.Questions = f.questions
	}
	if f.output != "" {
		cfg.OutputDir = f.output
	}
	if f.publish != "" {
		cfg.Publish.URL = f.publish
	}
	if len(f.strategies) > 0 {
		cfg.Strategies.Enabled = f.strategies
	}
	if f.concurrency > 0 {
		cfg.Eval.Concurrency = f.concurrency
	}
	if f.checkpointEvery >= 0 {
		cfg.Eval.CheckpointEvery = f.checkpointEvery
	}
	if f.checkpointKey != "" {
		cfg.Checkpoint.Key = f.checkpointKey
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
}

func runCompare(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, g)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	cfg := a.cfg
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Transcript == "" || cfg.Questions == "" {
		return errors.New("both a transcript and a question set are required (--transcript, --questions)")
	}

	store, err := transcript.Load(cfg.Transcript)
	if err != nil {
		return err
	}
	questions, err := eval.LoadQuestions(cfg.Questions)
	if err != nil {
		return err
	}
	if f.limit > 0 && f.limit < len(questions) {
		questions = questions[:f.limit]
	}
	strategies, err := a.buildStrategies(ctx, cfg.Strategies.Enabled)
	if err != nil {
		return err
	}
	evaluator, err := match.New(cfg.Match)
	if err != nil {
		return err
	}

	cp, err := checkpoint.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer cp.Close()
	var prior *eval.Report
	if !f.fresh {
		prior, err = checkpoint.LoadOrNil(ctx, cp, cfg.Checkpoint.Key)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint %q: %w", cfg.Checkpoint.Key, err)
		}
	}
	if prior != nil {
		ctx = observability.WithRunID(ctx, prior.Metadata.RunID)
		a.logger.Info(ctx, "resuming from checkpoint", "key", cfg.Checkpoint.Key, "pairs", len(prior.Results))
	}

	if cfg.Metrics.Addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()
		go func() {
			if err := a.metrics.Serve(metricsCtx, cfg.Metrics.Addr); err != nil {
				a.logger.Warn(ctx, "metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	orch := eval.New(strategies, evaluator, store, cfg.Eval,
		eval.WithCheckpointer(checkpoint.Bind(cp, cfg.Checkpoint.Key)),
		eval.WithObserver(a.metrics),
		eval.WithLogger(a.logger.Slog()),
		eval.WithTracer(a.tracer.Trace()),
		eval.WithQuestionSource(cfg.Questions),
	)
	report, runErr := orch.Run(ctx, questions, prior)
	if report == nil {
		return runErr
	}

	// Artifacts are written even for an interrupted run.
	writeCtx := context.WithoutCancel(ctx)
	pubs, err := publishers(writeCtx, cfg, cfg.OutputDir)
	if err != nil {
		return errors.Join(runErr, err)
	}
	locations, err := sink.Write(writeCtx, report, pubs...)
	if err != nil {
		return errors.Join(runErr, err)
	}
	out := cmd.OutOrStdout()
	printSummary(out, report)
	for _, loc := range locations {
		fmt.Fprintf(out, "wrote %s\n", loc)
	}
	if errors.Is(runErr, eval.ErrInterrupted) {
		fmt.Fprintf(out, "interrupted: rerun with --checkpoint-key %s to resume\n", cfg.Checkpoint.Key)
	}
	return runErr
}

func printSummary(w io.Writer, r *eval.Report) {
	m := r.Metadata
	fmt.Fprintf(w, "run %s: %d/%d pairs, accuracy %.1f%%\n", m.RunID, m.CompletedPairs, m.TotalQuestions*len(m.Strategies), m.Accuracy*100)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tANSWERED\tSUCCESS\tCORRECT\tACCURACY\tAVG TIME")
	for _, name := range m.Strategies {
		s := r.Strategies[name]
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%d\t%.1f%%\t%.2fs\n", name, s.Answered, s.SuccessRate*100, s.Correct, s.Accuracy*100, s.AvgTimeSeconds)
	}
	_ = tw.Flush()
}

func runRescore(cmd *cobra.Command, g *globalFlags, reportPath, transcriptPath, output, publish string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd, g)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	cfg := a.cfg
	if publish != "" {
		cfg.Publish.URL = publish
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if output == "" {
		output = cfg.OutputDir
	}

	report, err := eval.ReadReportFile(reportPath)
	if err != nil {
		return err
	}
	evaluator, err := match.New(cfg.Match)
	if err != nil {
		return err
	}

	evidence := eval.IndexEvidence{Evaluator: evaluator}
	explicit := transcriptPath != ""
	if !explicit {
		transcriptPath = report.Metadata.Transcript
	}
	if transcriptPath != "" {
		store, err := transcript.Load(transcriptPath)
		switch {
		case err == nil:
			ix, err := index.Build(store.Utterances(), cfg.Chunk)
			if err != nil {
				return err
			}
			evidence.Index = ix
		case explicit:
			return err
		default:
			a.logger.Warn(ctx, "transcript unavailable; gap evidence disabled", "path", transcriptPath, "error", err)
		}
	}

	rescored, summary := eval.Rescore(report, evaluator, evidence, time.Now())
	pubs, err := publishers(ctx, cfg, output)
	if err != nil {
		return err
	}
	locations, err := sink.Write(ctx, rescored, pubs...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSummary(out, rescored)
	fmt.Fprintf(out, "\nrescored %d answers: %d changed, %d reclassified, %d misses\n",
		len(rescored.Results), summary.Changed, summary.Reclassified, summary.Misses)
	if len(summary.Gaps) > 0 {
		table := markdown.Table{
			Headers: []string{"Gap", "Count", "Share", "Examples"},
			Align:   []markdown.Align{markdown.AlignLeft, markdown.AlignRight, markdown.AlignRight, markdown.AlignLeft},
		}
		for _, gap := range summary.Gaps {
			table.AddRow(gap.Type, strconv.Itoa(gap.Count), fmt.Sprintf("%.1f%%", gap.Percentage), strings.Join(gap.Examples, "; "))
		}
		fmt.Fprintf(out, "\n%s", table.Render())
	}
	for _, loc := range locations {
		fmt.Fprintf(out, "wrote %s\n", loc)
	}
	return nil
}

func runRetrieve(cmd *cobra.Command, g *globalFlags, transcriptPath, query string, topK, chunkSize, chunkOverlap int, asJSON bool) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if transcriptPath == "" {
		transcriptPath = cfg.Transcript
	}
	if transcriptPath == "" {
		return errors.New("a transcript is required (--transcript)")
	}
	chunkCfg := cfg.Chunk
	if chunkSize > 0 {
		chunkCfg.ChunkSize = chunkSize
	}
	if chunkOverlap >= 0 {
		chunkCfg.ChunkOverlap = chunkOverlap
	}
	if topK == 0 {
		topK = cfg.Strategies.TopK
	}

	store, err := transcript.Load(transcriptPath)
	if err != nil {
		return err
	}
	ix, err := index.Build(store.Utterances(), chunkCfg)
	if err != nil {
		return err
	}
	results := ix.Retrieve(query, topK)

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	fmt.Fprintf(out, "%d chunks indexed (size %d, overlap %d); top %d for %q\n",
		ix.Len(), chunkCfg.ChunkSize, chunkCfg.ChunkOverlap, len(results), query)
	for _, r := range results {
		fmt.Fprintf(out, "\n#%d score=%.3f utterances [%d, %d)\n%s\n",
			r.Chunk.ID, r.Score, r.Chunk.StartIndex, r.Chunk.EndIndex, r.Chunk.Text())
	}
	return nil
}

func runScore(cmd *cobra.Command, g *globalFlags, truth, answer string, enhanced bool) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	evaluator, err := match.New(cfg.Match)
	if err != nil {
		return err
	}
	var verdict models.MatchVerdict
	if enhanced {
		verdict = evaluator.EvaluateEnhanced(truth, answer)
	} else {
		verdict = evaluator.Evaluate(truth, answer)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, g *globalFlags) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	source := g.configPath
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (strategies %s, llm %s/%s, checkpoint %s)\n",
		source, strings.Join(cfg.Strategies.Enabled, ","), cfg.LLM.Provider, cfg.LLM.Model, cfg.Checkpoint.Backend)
	return nil
}
