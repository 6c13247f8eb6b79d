// Package metrics provides Prometheus instrumentation for cascade.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only cascade metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/solatis/cascade/internal/rules"
)

// Metrics holds all Prometheus collectors used by cascade.
type Metrics struct {
	Registry *prometheus.Registry

	EventsReceivedTotal   *prometheus.CounterVec
	EventsProcessedTotal  prometheus.Counter
	EventsDroppedTotal    prometheus.Counter
	ProcessingDuration    prometheus.Histogram
	QueueDepth            prometheus.Gauge
	RuleOutcomesTotal     *prometheus.CounterVec
	DispatchTotal         *prometheus.CounterVec
	DispatchDuration      *prometheus.HistogramVec
	ReloadsTotal          *prometheus.CounterVec
	RuleSetGeneration     prometheus.Gauge
	RuleSetRules          prometheus.Gauge
	ArchiveOpenHandles    prometheus.Gauge
	ArchiveEvictionsTotal *prometheus.CounterVec
	GRPCRequestsTotal     *prometheus.CounterVec
	GRPCRequestDuration   *prometheus.HistogramVec
	AuthFailuresTotal     prometheus.Counter
}

// New creates and registers all cascade metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		EventsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_events_received_total",
			Help: "Total number of events submitted to the engine.",
		}, []string{"source"}),

		EventsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_events_processed_total",
			Help: "Total number of events run through the rule set.",
		}),

		EventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_events_dropped_total",
			Help: "Total number of events rejected because the queue was full or closed.",
		}),

		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cascade_event_processing_duration_seconds",
			Help:    "Time spent matching one event and dispatching its actions.",
			Buckets: prometheus.DefBuckets,
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_queue_depth",
			Help: "Number of events waiting for a worker.",
		}),

		RuleOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_rule_outcomes_total",
			Help: "Per-rule evaluation outcomes.",
		}, []string{"rule", "status"}),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_dispatch_total",
			Help: "Total number of action dispatches by executor and result.",
		}, []string{"executor", "result"}),

		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cascade_dispatch_duration_seconds",
			Help:    "Executor latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"executor"}),

		ReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_rule_reloads_total",
			Help: "Total number of rule set reload attempts by result.",
		}, []string{"result"}),

		RuleSetGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_ruleset_generation",
			Help: "Generation number of the active rule set.",
		}),

		RuleSetRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_ruleset_rules",
			Help: "Number of rules in the active rule set.",
		}),

		ArchiveOpenHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_archive_open_handles",
			Help: "Number of archive file handles currently cached.",
		}),

		ArchiveEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_archive_evictions_total",
			Help: "Total number of archive handles closed, by reason.",
		}, []string{"reason"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cascade_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_auth_failures_total",
			Help: "Total number of failed collector authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.EventsReceivedTotal,
		m.EventsProcessedTotal,
		m.EventsDroppedTotal,
		m.ProcessingDuration,
		m.QueueDepth,
		m.RuleOutcomesTotal,
		m.DispatchTotal,
		m.DispatchDuration,
		m.ReloadsTotal,
		m.RuleSetGeneration,
		m.RuleSetRules,
		m.ArchiveOpenHandles,
		m.ArchiveEvictionsTotal,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		st, _ := status.FromError(err)
		code := st.Code().String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// IncReceived counts an event submitted through source ("grpc", "cli", ...).
func (m *Metrics) IncReceived(source string) {
	m.EventsReceivedTotal.WithLabelValues(source).Inc()
}

// IncDropped counts an event the pipeline refused.
func (m *Metrics) IncDropped() {
	m.EventsDroppedTotal.Inc()
}

// SetQueueDepth updates the pending event gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// ObserveProcessed records one processed event and its per-rule outcomes.
// not_processed outcomes are not counted.
func (m *Metrics) ObserveProcessed(p *rules.ProcessedEvent, d time.Duration) {
	m.EventsProcessedTotal.Inc()
	m.ProcessingDuration.Observe(d.Seconds())
	for _, r := range p.Rules {
		if r.Status == rules.StatusNotProcessed {
			continue
		}
		m.RuleOutcomesTotal.WithLabelValues(r.Rule, string(r.Status)).Inc()
	}
}

// ObserveDispatch records one executor call.
func (m *Metrics) ObserveDispatch(executorID string, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.DispatchTotal.WithLabelValues(executorID, result).Inc()
	m.DispatchDuration.WithLabelValues(executorID).Observe(d.Seconds())
}

// ObserveReload records a reload attempt and, on success, the new generation.
func (m *Metrics) ObserveReload(generation uint64, ruleCount int, err error) {
	if err != nil {
		m.ReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.ReloadsTotal.WithLabelValues("success").Inc()
	m.RuleSetGeneration.Set(float64(generation))
	m.RuleSetRules.Set(float64(ruleCount))
}

// SetOpenHandles updates the archive handle gauge.
func (m *Metrics) SetOpenHandles(n int) {
	m.ArchiveOpenHandles.Set(float64(n))
}

// IncEviction counts an archive handle closed for reason.
func (m *Metrics) IncEviction(reason string) {
	m.ArchiveEvictionsTotal.WithLabelValues(reason).Inc()
}

// IncAuthFailures counts a rejected collector credential.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}
