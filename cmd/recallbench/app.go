package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recallbench/internal/config"
	"github.com/haasonsaas/recallbench/internal/graphqa"
	"github.com/haasonsaas/recallbench/internal/llm"
	"github.com/haasonsaas/recallbench/internal/observability"
	"github.com/haasonsaas/recallbench/internal/rag/index"
	"github.com/haasonsaas/recallbench/internal/ratelimit"
	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/internal/sink"
	"github.com/haasonsaas/recallbench/internal/strategy"
)

// app holds the ambient services of one command invocation.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	shutdown func(context.Context) error
}

// loadConfig reads the configuration and applies the logging overrides.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	return cfg, nil
}

// newApp loads the configuration and starts logging, metrics and tracing.
func newApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Logging
	logCfg.Output = cmd.ErrOrStderr()
	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger.Slog())

	traceCfg := cfg.Tracing
	traceCfg.ServiceVersion = version
	tracer, shutdown, err := observability.NewTracer(cmd.Context(), traceCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start tracing: %w", err)
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  observability.NewMetrics(),
		tracer:   tracer,
		shutdown: shutdown,
	}, nil
}

// close flushes pending spans.
func (a *app) close(ctx context.Context) {
	if a.shutdown == nil {
		return
	}
	if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn(ctx, "tracer shutdown failed", "error", err)
	}
}

func (a *app) retryOptions(limiter *ratelimit.Limiter) []retry.Option {
	return []retry.Option{
		retry.WithLimiter(limiter),
		retry.WithLogger(a.logger.Slog()),
		retry.WithObserver(a.metrics),
		retry.WithTracer(a.tracer.Trace()),
	}
}

// buildStrategies constructs the named strategies in order. Backends are
// only created for strategies that need them.
func (a *app) buildStrategies(ctx context.Context, names []string) ([]strategy.Strategy, error) {
	cfg := a.cfg
	empty := cfg.EmptyDetector()
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	opts := a.retryOptions(limiter)
	log := a.logger.Slog()

	var (
		completer llm.Completer
		llmClient *retry.Client
	)
	model := func() (llm.Completer, *retry.Client, error) {
		if completer != nil {
			return completer, llmClient, nil
		}
		c, err := llm.New(ctx, cfg.LLM)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create %s backend: %w", cfg.LLM.Provider, err)
		}
		completer, llmClient = c, retry.New(c.Name(), cfg.Retry, opts...)
		return completer, llmClient, nil
	}

	out := make([]strategy.Strategy, 0, len(names))
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case strategy.NameFullContext:
			c, rc, err := model()
			if err != nil {
				return nil, err
			}
			out = append(out, strategy.NewFullContext(c, rc, cfg.Strategies.Generation, cfg.Strategies.FullContext, empty, log))
		case strategy.NameRetrieval:
			c, rc, err := model()
			if err != nil {
				return nil, err
			}
			cache, err := index.NewCache(cfg.Chunk)
			if err != nil {
				return nil, err
			}
			out = append(out, strategy.NewRetrieval(c, rc, cache, cfg.Strategies.TopK, cfg.Strategies.Generation, empty, log))
		case strategy.NameDelegated:
			client := graphqa.New(cfg.GraphQA)
			out = append(out, strategy.NewDelegated(client, retry.New("graphqa", cfg.Retry, opts...), empty, log))
		default:
			return nil, fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, name)
		}
	}
	return out, nil
}

// publishers returns the directory writer plus an S3 uploader when a
// destination is configured.
func publishers(ctx context.Context, cfg *config.Config, outputDir string) ([]sink.Publisher, error) {
	pubs := []sink.Publisher{sink.Dir{Path: outputDir}}
	if cfg.Publish.URL != "" {
		s3, err := sink.NewS3(ctx, cfg.Publish)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, s3)
	}
	return pubs, nil
}
