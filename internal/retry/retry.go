// Package retry calls flaky external services with rate-limit-aware
// waiting and exponential backoff, and always hands back an Outcome.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/haasonsaas/recallbench/internal/backoff"
	"github.com/haasonsaas/recallbench/internal/ratelimit"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the attempt budget for transient and empty failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// BaseUnit scales the 2^attempt + 1 backoff schedule.
	BaseUnit time.Duration `yaml:"base_unit" json:"base_unit"`
	// MaxBackoff caps a single backoff wait.
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
	// RateLimitMargin is added to the service-advised wait.
	RateLimitMargin time.Duration `yaml:"rate_limit_margin" json:"rate_limit_margin"`
	// RateLimitFallback is waited when a rate limit carries no advice.
	RateLimitFallback time.Duration `yaml:"rate_limit_fallback" json:"rate_limit_fallback"`
	// MaxRateLimitWait caps a single rate-limit wait.
	MaxRateLimitWait time.Duration `yaml:"max_rate_limit_wait" json:"max_rate_limit_wait"`
	// MaxRateLimitWaits is the hard cap on rate-limit waits per call.
	// Zero selects the default; a negative value disables rate-limit retries.
	MaxRateLimitWaits int `yaml:"max_rate_limit_waits" json:"max_rate_limit_waits"`
	// AttemptTimeout bounds a single attempt. Zero means no bound.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseUnit:          time.Second,
		MaxBackoff:        time.Minute,
		RateLimitMargin:   time.Second,
		RateLimitFallback: 2 * time.Second,
		MaxRateLimitWait:  2 * time.Minute,
		MaxRateLimitWaits: 10,
		AttemptTimeout:    2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseUnit <= 0 {
		c.BaseUnit = d.BaseUnit
	}
	if c.MaxRateLimitWaits == 0 {
		c.MaxRateLimitWaits = d.MaxRateLimitWaits
	}
	return c
}

// Backoff returns the transient-failure schedule for this config.
func (c Config) Backoff() backoff.Policy {
	return backoff.Policy{Unit: c.BaseUnit, Base: 2, Offset: 1, Max: c.MaxBackoff}
}

// RateLimit returns the rate-limit wait policy for this config.
func (c Config) RateLimit() backoff.RateLimitPolicy {
	return backoff.RateLimitPolicy{Margin: c.RateLimitMargin, Fallback: c.RateLimitFallback, Max: c.MaxRateLimitWait}
}

// State is the retry bookkeeping for one call. It is a value: each
// iteration derives the next State instead of mutating shared counters.
type State struct {
	// Attempts is the number of attempts made so far.
	Attempts int
	// Failures counts attempts charged against MaxRetries.
	Failures int
	// RateLimitWaits counts rate-limit waits taken.
	RateLimitWaits int
	// Waits lists every wait taken, in order.
	Waits []time.Duration
	// LastKind and LastErr describe the most recent attempt.
	LastKind Kind
	LastErr  error
}

// record returns the state after an attempt finished with kind and err.
func (s State) record(kind Kind, err error) State {
	s.Attempts++
	s.LastKind = kind
	s.LastErr = err
	return s
}

// plan decides whether to try again and how long to wait first.
func (s State) plan(cfg Config, advised time.Duration) (State, time.Duration, bool) {
	switch s.LastKind {
	case KindRateLimited:
		if s.RateLimitWaits >= cfg.MaxRateLimitWaits {
			return s, 0, false
		}
		s.RateLimitWaits++
		return s, cfg.RateLimit().Wait(advised), true
	case KindTransient, KindEmpty:
		s.Failures++
		if s.Failures >= cfg.MaxRetries {
			return s, 0, false
		}
		return s, cfg.Backoff().Delay(s.Failures - 1), true
	default:
		return s, 0, false
	}
}

// waited returns the state after a completed wait of d.
func (s State) waited(d time.Duration) State {
	waits := make([]time.Duration, len(s.Waits), len(s.Waits)+1)
	copy(waits, s.Waits)
	s.Waits = append(waits, d)
	return s
}

// Outcome is either a success carrying Value or a failure carrying the
// final Kind. Attempts is always the number of attempts used.
type Outcome[T any] struct {
	Value    T
	Kind     Kind
	Attempts int
	Waits    []time.Duration
	Elapsed  time.Duration
	Err      error
}

// Succeeded reports whether the outcome carries a value.
func (o Outcome[T]) Succeeded() bool {
	return o.Kind == KindOK
}

// Observer receives per-attempt and per-call events, e.g. for metrics.
type Observer interface {
	ObserveAttempt(service string, kind Kind, wait time.Duration)
	ObserveCall(service string, kind Kind, attempts int, elapsed time.Duration)
}

// Operation is one attempt against a service.
type Operation[T any] func(ctx context.Context) (T, error)

// Client runs operations against one named service.
type Client struct {
	service  string
	config   Config
	sleeper  backoff.Sleeper
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithSleeper replaces the timer-based sleeper.
func WithSleeper(s backoff.Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

// WithLimiter paces every attempt through l.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the attempt logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTracer records one span per attempt.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New creates a client for service.
func New(service string, cfg Config, opts ...Option) *Client {
	c := &Client{
		service: service,
		config:  cfg.withDefaults(),
		sleeper: backoff.TimerSleeper,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("recallbench/retry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "retry", "service", service)
	return c
}

// Service returns the service name.
func (c *Client) Service() string {
	return c.service
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Call runs op until it succeeds, fails permanently, or exhausts its
// budget. Each attempt runs on a context detached from cancellation so an
// in-flight request completes; cancellation of ctx stops further attempts.
// Call never panics and never returns a nil-kind Outcome.
func Call[T any](ctx context.Context, c *Client, op Operation[T]) Outcome[T] {
	start := time.Now()
	var state State

	finish := func(kind Kind, err error) Outcome[T] {
		out := Outcome[T]{Kind: kind, Attempts: state.Attempts, Waits: state.Waits, Elapsed: time.Since(start), Err: err}
		if c.observer != nil {
			c.observer.ObserveCall(c.service, kind, out.Attempts, out.Elapsed)
		}
		return out
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(KindCanceled, joinLast(err, state.LastErr))
		}
		if err := c.limiter.Wait(ctx, c.service); err != nil {
			return finish(KindCanceled, joinLast(err, state.LastErr))
		}

		value, err := runAttempt(ctx, c, state.Attempts+1, op)
		kind, advised := Classify(err)
		state = state.record(kind, err)

		if kind == KindOK {
			c.logger.Debug("attempt succeeded", "attempt", state.Attempts)
			if c.observer != nil {
				c.observer.ObserveAttempt(c.service, kind, 0)
			}
			out := finish(KindOK, nil)
			out.Value = value
			return out
		}

		var wait time.Duration
		var again bool
		state, wait, again = state.plan(c.config, advised)

		c.logger.Warn("attempt failed",
			"attempt", state.Attempts,
			"kind", string(kind),
			"wait", wait,
			"retrying", again,
			"error", err,
		)
		if c.observer != nil {
			c.observer.ObserveAttempt(c.service, kind, wait)
		}

		if !again {
			if kind.Retryable() {
				err = fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, kind, state.Attempts, err)
			}
			return finish(kind, err)
		}

		if serr := c.sleeper.Sleep(ctx, wait); serr != nil {
			return finish(KindCanceled, joinLast(serr, err))
		}
		state = state.waited(wait)
	}
}

// runAttempt invokes op once on a detached context, recovering panics
// as permanent failures and recording a span.
func runAttempt[T any](ctx context.Context, c *Client, n int, op Operation[T]) (value T, err error) {
	attemptCtx := context.WithoutCancel(ctx)
	if c.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, c.config.AttemptTimeout)
		defer cancel()
	}

	attemptCtx, span := c.tracer.Start(attemptCtx, c.service+".attempt",
		trace.WithAttributes(
			attribute.String("retry.service", c.service),
			attribute.Int("retry.attempt", n),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic in %s attempt: %v", c.service, r))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return op(attemptCtx)
}

func joinLast(err, last error) error {
	if last == nil {
		return err
	}
	return errors.Join(err, last)
}
