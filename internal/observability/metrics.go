package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/recallbench/internal/retry"
	"github.com/haasonsaas/recallbench/pkg/models"
)

// Metrics collects evaluation metrics on a private registry.
//
// It tracks:
//   - external service attempts, forced waits, and finished calls
//   - answers per strategy, with their grades and confidences
//   - time spent producing each answer
//
// Metrics satisfies retry.Observer and the orchestrator's pair observer.
type Metrics struct {
	registry *prometheus.Registry

	// Attempts counts service attempts.
	// Labels: service (llm|graphqa|...), kind (ok|rate_limited|transient_error|empty_response|permanent_error|canceled)
	Attempts *prometheus.CounterVec

	// Waits measures forced waits between attempts in seconds.
	// Labels: service
	Waits *prometheus.HistogramVec

	// Calls counts finished resilient calls by final kind.
	// Labels: service, kind
	Calls *prometheus.CounterVec

	// CallDuration measures resilient call latency including waits.
	// Labels: service
	CallDuration *prometheus.HistogramVec

	// Answers counts answer records.
	// Labels: strategy, status (success|error)
	Answers *prometheus.CounterVec

	// Verdicts counts match verdicts.
	// Labels: strategy, grade
	Verdicts *prometheus.CounterVec

	// Confidence observes verdict confidence.
	// Labels: strategy
	Confidence *prometheus.HistogramVec

	// AnswerDuration measures the time a strategy spent on one answer.
	// Labels: strategy
	AnswerDuration *prometheus.HistogramVec
}

var _ retry.Observer = (*Metrics)(nil)

// NewMetrics creates the metrics on a fresh registry, alongside the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recallbench_service_attempts_total",
			Help: "Attempts against external services by outcome kind",
		}, []string{"service", "kind"}),
		Waits: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recallbench_service_wait_seconds",
			Help:    "Forced waits between attempts in seconds",
			Buckets: []float64{1, 2, 3, 5, 10, 30, 60, 120},
		}, []string{"service"}),
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recallbench_service_calls_total",
			Help: "Resilient calls by final outcome kind",
		}, []string{"service", "kind"}),
		CallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recallbench_service_call_duration_seconds",
			Help:    "Duration of resilient calls including waits",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"service"}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recallbench_answers_total",
			Help: "Answer records by strategy and status",
		}, []string{"strategy", "status"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recallbench_verdicts_total",
			Help: "Match verdicts by strategy and grade",
		}, []string{"strategy", "grade"}),
		Confidence: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recallbench_verdict_confidence",
			Help:    "Confidence of match verdicts",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 1},
		}, []string{"strategy"}),
		AnswerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recallbench_answer_duration_seconds",
			Help:    "Time a strategy spent producing one answer",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"strategy"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt implements retry.Observer.
func (m *Metrics) ObserveAttempt(service string, kind retry.Kind, wait time.Duration) {
	m.Attempts.WithLabelValues(service, string(kind)).Inc()
	if wait > 0 {
		m.Waits.WithLabelValues(service).Observe(wait.Seconds())
	}
}

// ObserveCall implements retry.Observer.
func (m *Metrics) ObserveCall(service string, kind retry.Kind, _ int, elapsed time.Duration) {
	m.Calls.WithLabelValues(service, string(kind)).Inc()
	m.CallDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// ObservePair records a scored answer.
func (m *Metrics) ObservePair(rec models.AnswerRecord, v models.MatchVerdict) {
	status := "success"
	if !rec.Succeeded {
		status = "error"
	}
	grade := v.Grade
	if grade == "" {
		grade = models.GradeNone
	}
	m.Answers.WithLabelValues(rec.Strategy, status).Inc()
	m.Verdicts.WithLabelValues(rec.Strategy, grade).Inc()
	m.Confidence.WithLabelValues(rec.Strategy).Observe(v.Confidence)
	m.AnswerDuration.WithLabelValues(rec.Strategy).Observe(rec.Elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
