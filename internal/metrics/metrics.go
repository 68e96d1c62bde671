// Package metrics exposes Prometheus instrumentation for evaluation runs.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rice_eval"

// Metrics holds all application metrics.
type Metrics struct {
	// Reasoning service
	ReasoningCalls   *prometheus.CounterVec // labels: outcome
	ReasoningLatency prometheus.Histogram
	BreakerState     *prometheus.GaugeVec // labels: name

	// Synthesizer
	QueriesSynthesized prometheus.Counter

	// Judge
	JudgeAttempts *prometheus.CounterVec // labels: state, kind
	Judgments     *prometheus.CounterVec // labels: mode, label

	// Retrieval
	SearchLatency *prometheus.HistogramVec // labels: backend
	Candidates    prometheus.Histogram

	// Orchestrator
	Skipped     *prometheus.CounterVec // labels: stage
	RunDuration *prometheus.HistogramVec // labels: status

	// Event bus
	BusPublished *prometheus.CounterVec   // labels: topic, outcome
	BusLatency   *prometheus.HistogramVec // labels: topic

	// Embedding cache
	EmbeddingCache *prometheus.CounterVec // labels: result

	// HTTP
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		ReasoningCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_calls_total",
			Help:      "Reasoning service calls by outcome.",
		}, []string{"outcome"}),
		ReasoningLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_latency_seconds",
			Help:      "Reasoning service call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
		QueriesSynthesized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_synthesized_total",
			Help:      "Queries generated from documents.",
		}),
		JudgeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_attempts_total",
			Help:      "Failed judge attempts by state and error kind.",
		}, []string{"state", "kind"}),
		Judgments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judgments_total",
			Help:      "Validated judgments by mode and final label.",
		}, []string{"mode", "label"}),
		SearchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Retrieval backend latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		Candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranked_candidates",
			Help:      "Candidates per fused ranking.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 500, 1000},
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Tasks or pairs skipped by stage.",
		}, []string{"stage"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Evaluation run duration by final status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"status"}),
		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Events published by topic and outcome.",
		}, []string{"topic", "outcome"}),
		BusLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_latency_seconds",
			Help:      "Event publish latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		EmbeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Query embedding cache lookups by result.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.ReasoningCalls, m.ReasoningLatency, m.BreakerState,
		m.QueriesSynthesized,
		m.JudgeAttempts, m.Judgments,
		m.SearchLatency, m.Candidates,
		m.Skipped, m.RunDuration,
		m.BusPublished, m.BusLatency,
		m.EmbeddingCache,
		m.HTTPRequests, m.HTTPDuration, m.HTTPRequestsInFlight,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordReasoningCall records one reasoning service call.
func (m *Metrics) RecordReasoningCall(d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.ReasoningCalls.WithLabelValues(outcome).Inc()
	m.ReasoningLatency.Observe(d.Seconds())
}

// SetBreakerState records a circuit breaker state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordQuerySynthesized counts a generated query.
func (m *Metrics) RecordQuerySynthesized() {
	if m == nil {
		return
	}
	m.QueriesSynthesized.Inc()
}

// RecordJudgeRetry counts a failed judge attempt.
func (m *Metrics) RecordJudgeRetry(state, kind string) {
	if m == nil {
		return
	}
	m.JudgeAttempts.WithLabelValues(state, kind).Inc()
}

// RecordJudgment counts a validated judgment.
func (m *Metrics) RecordJudgment(mode string, label int) {
	if m == nil {
		return
	}
	m.Judgments.WithLabelValues(mode, strconv.Itoa(label)).Inc()
}

// RecordSearch records a backend search and the size of its fused ranking.
func (m *Metrics) RecordSearch(backend string, d time.Duration, candidates int) {
	if m == nil {
		return
	}
	m.SearchLatency.WithLabelValues(backend).Observe(d.Seconds())
	m.Candidates.Observe(float64(candidates))
}

// RecordSkip counts a skipped task or pair.
func (m *Metrics) RecordSkip(stage string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(stage).Inc()
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordHTTP records a served HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordBusPublish records one event publish.
func (m *Metrics) RecordBusPublish(topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BusPublished.WithLabelValues(topic, outcome).Inc()
	m.BusLatency.WithLabelValues(topic).Observe(d.Seconds())
}

// RecordEmbeddingCache records an embedding cache hit or miss.
func (m *Metrics) RecordEmbeddingCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EmbeddingCache.WithLabelValues(result).Inc()
}
