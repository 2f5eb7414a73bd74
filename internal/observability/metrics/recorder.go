// Package metrics records pipeline metrics to both statsd and a Prometheus registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/target/ticket-enhancer/internal/domain/model"
	obserrors "github.com/target/ticket-enhancer/internal/observability/errors"
	"github.com/target/ticket-enhancer/internal/observability/statsd"
)

const namespace = "enhancer"

// Options configures NewRecorder.
type Options struct {
	// Sink receives statsd metrics; nil discards them.
	Sink statsd.Sink
	// Registerer receives the Prometheus collectors; nil skips Prometheus.
	Registerer prometheus.Registerer
}

// Recorder is the single entry point services use for metrics. A nil *Recorder
// records nothing, so components can be constructed without metrics in tests.
type Recorder struct {
	sink statsd.Sink

	webhooks        *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	sourceFetches   *prometheus.HistogramVec
	synthesisTokens *prometheus.CounterVec
	queueJobs       *prometheus.GaugeVec
	oldestPending   prometheus.Gauge
	isolation       *prometheus.CounterVec
	httpRequests    *prometheus.HistogramVec
}

// NewRecorder builds the collectors and registers them when a Registerer is given.
func NewRecorder(opts Options) (*Recorder, error) {
	sink := opts.Sink
	if sink == nil {
		sink = statsd.Discard
	}
	r := &Recorder{
		sink: sink,
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job lifecycle transitions by result and terminal outcome.",
		}, []string{"transition", "result", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end processing time of one job delivery.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"}),
		sourceFetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Context source fetch latency by source and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "outcome"}),
		synthesisTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_tokens_total",
			Help:      "Tokens consumed by synthesis calls.",
		}, []string{"model", "kind"}),
		queueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the queue by status.",
		}, []string{"status"}),
		oldestPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_oldest_pending_seconds",
			Help:      "Age of the oldest pending job; the autoscaling signal.",
		}),
		isolation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_isolation_violations_total",
			Help:      "Accesses refused because they crossed a tenant boundary.",
		}, []string{"component"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	if opts.Registerer != nil {
		for _, c := range r.collectors() {
			if err := opts.Registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.webhooks, r.jobs, r.jobDuration, r.sourceFetches, r.synthesisTokens,
		r.queueJobs, r.oldestPending, r.isolation, r.httpRequests,
	}
}

// Sink returns the statsd sink, never nil.
func (r *Recorder) Sink() statsd.Sink {
	if r == nil {
		return statsd.Discard
	}
	return r.sink
}

// WebhookOutcome counts one webhook delivery.
func (r *Recorder) WebhookOutcome(outcome string) {
	if r == nil {
		return
	}
	r.webhooks.WithLabelValues(outcome).Inc()
	r.sink.Count("webhook.request", 1, map[string]string{"outcome": outcome})
}

// JobLifecycle records a queue transition.
func (r *Recorder) JobLifecycle(in JobMetric) {
	if r == nil {
		return
	}
	EmitJobLifecycle(r.sink, in)
	r.jobs.WithLabelValues(in.Transition, in.Result, in.Outcome).Inc()
	if in.Duration > 0 && in.Outcome != "" {
		r.jobDuration.WithLabelValues(in.Outcome).Observe(in.Duration.Seconds())
	}
}

// SourceFetch records one source's contribution to a bundle.
func (r *Recorder) SourceFetch(source string, res model.SourceResult) {
	if r == nil {
		return
	}
	outcome := "available"
	if !res.Available {
		outcome = res.Reason
	}
	r.sourceFetches.WithLabelValues(source, outcome).Observe(res.Latency.Seconds())
	tags := map[string]string{"source": source, "outcome": outcome, "cached": strconv.FormatBool(res.Cached)}
	r.sink.Timing("source.fetch", res.Latency, tags)
}

// SynthesisUsage records token consumption for one synthesis.
func (r *Recorder) SynthesisUsage(usage model.TokenUsage, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.synthesisTokens.WithLabelValues(usage.Model, "prompt").Add(float64(usage.PromptTokens))
	r.synthesisTokens.WithLabelValues(usage.Model, "completion").Add(float64(usage.CompletionTokens))

	tags := map[string]string{"model": usage.Model, "result": ResultSuccess}
	if err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(err)
	}
	r.sink.Timing("synthesis.duration", duration, tags)
	r.sink.Count("synthesis.tokens", int64(usage.TotalTokens), map[string]string{"model": usage.Model})
}

// QueueStats publishes depth gauges.
func (r *Recorder) QueueStats(stats model.QueueStats) {
	if r == nil {
		return
	}
	for status, n := range map[string]int{
		string(model.JobStatusPending): stats.Pending,
		string(model.JobStatusRunning): stats.Running,
		string(model.JobStatusDead):    stats.Dead,
	} {
		r.queueJobs.WithLabelValues(status).Set(float64(n))
		r.sink.Gauge("queue.jobs", float64(n), map[string]string{"status": status})
	}
	r.oldestPending.Set(stats.OldestPendingAge.Seconds())
	r.sink.Gauge("queue.oldest_pending_seconds", stats.OldestPendingAge.Seconds(), nil)
}

// IsolationViolation counts a refused cross-tenant access.
func (r *Recorder) IsolationViolation(component string) {
	if r == nil {
		return
	}
	r.isolation.WithLabelValues(component).Inc()
	r.sink.Count("security.isolation_violation", 1, map[string]string{"component": component})
}

// HTTPRequest records one served request.
func (r *Recorder) HTTPRequest(route, method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(duration.Seconds())
}
