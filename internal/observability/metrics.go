package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	invocationTotal    *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	parseFailuresTotal *prometheus.CounterVec
	resumeFallbacks    *prometheus.CounterVec
	timeoutsTotal      *prometheus.CounterVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec

	bridgeUpsertsTotal prometheus.Counter
	bridgeLookupsTotal *prometheus.CounterVec

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	jobsActive          prometheus.Gauge
	jobsTotal           *prometheus.CounterVec
	summarizerFailures  prometheus.Counter
	summarizerDuration  prometheus.Histogram
	advisoryCallsTotal  *prometheus.CounterVec
	gatewayRequestTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			invocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_invocation_total",
					Help: "Total agent invocations by agent and outcome.",
				},
				[]string{"agent", "outcome"},
			),
			invocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_invocation_duration_seconds",
					Help:    "Agent invocation duration in seconds by agent.",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
				[]string{"agent"},
			),
			parseFailuresTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_output_parse_failures_total",
					Help: "Total agent output parse failures by agent.",
				},
				[]string{"agent"},
			),
			resumeFallbacks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_resume_fallbacks_total",
					Help: "Total resume attempts that fell back to a fresh session.",
				},
				[]string{"agent"},
			),
			timeoutsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_timeouts_total",
					Help: "Total agent invocations that hit the wall-clock timeout.",
				},
				[]string{"agent"},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			bridgeUpsertsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "bridge_upserts_total",
					Help: "Total native-token upserts into the session bridge.",
				},
			),
			bridgeLookupsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bridge_lookups_total",
					Help: "Total native-token lookups by result (hit or miss).",
				},
				[]string{"result"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active logical session count.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Conversation turn load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Conversation turn append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			jobsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "jobs_active",
					Help: "Currently running background jobs.",
				},
			),
			jobsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "jobs_total",
					Help: "Total background jobs by terminal status.",
				},
				[]string{"status"},
			),
			summarizerFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "summarizer_failures_total",
					Help: "Total summarization calls that failed and degraded to truncation.",
				},
			),
			summarizerDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "summarizer_duration_seconds",
					Help:    "Summarization call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			advisoryCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "advisory_calls_total",
					Help: "Total advisory model API calls by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			gatewayRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_requests_total",
					Help: "Total gateway HTTP requests by route and status class.",
				},
				[]string{"route", "status"},
			),
		}

		prometheus.MustRegister(
			m.invocationTotal,
			m.invocationDuration,
			m.parseFailuresTotal,
			m.resumeFallbacks,
			m.timeoutsTotal,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.bridgeUpsertsTotal,
			m.bridgeLookupsTotal,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.jobsActive,
			m.jobsTotal,
			m.summarizerFailures,
			m.summarizerDuration,
			m.advisoryCallsTotal,
			m.gatewayRequestTotal,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from every
// package that records metrics.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordInvocation records an agent invocation outcome and duration.
func RecordInvocation(agent, outcome string, duration time.Duration) {
	m := getMetrics()
	m.invocationTotal.WithLabelValues(agent, outcome).Inc()
	m.invocationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordParseFailure records an output parse failure for an agent.
func RecordParseFailure(agent string) {
	getMetrics().parseFailuresTotal.WithLabelValues(agent).Inc()
}

// RecordResumeFallback records a resume attempt that fell back to a fresh session.
func RecordResumeFallback(agent string) {
	getMetrics().resumeFallbacks.WithLabelValues(agent).Inc()
}

// RecordTimeout records an invocation that hit the wall-clock timeout.
func RecordTimeout(agent string) {
	getMetrics().timeoutsTotal.WithLabelValues(agent).Inc()
}

// SetQueueSize sets the current queue size for a lane.
func SetQueueSize(lane string, size int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(size))
}

// RecordEnqueue records an enqueue operation for a lane.
func RecordEnqueue(lane string) {
	getMetrics().enqueueTotal.WithLabelValues(lane).Inc()
}

// RecordDequeue records a task completion for a lane.
func RecordDequeue(lane, status string) {
	getMetrics().dequeueTotal.WithLabelValues(lane, status).Inc()
}

// RecordBridgeUpsert records a native-token upsert.
func RecordBridgeUpsert() {
	getMetrics().bridgeUpsertsTotal.Inc()
}

// RecordBridgeLookup records a native-token lookup hit or miss.
func RecordBridgeLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	getMetrics().bridgeLookupsTotal.WithLabelValues(result).Inc()
}

// SetActiveSessions sets the active logical session gauge.
func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// RecordSessionLoad records a turn-store load duration.
func RecordSessionLoad(d time.Duration) {
	getMetrics().sessionLoadDuration.Observe(d.Seconds())
}

// RecordSessionSave records a turn-store append duration.
func RecordSessionSave(d time.Duration) {
	getMetrics().sessionSaveDuration.Observe(d.Seconds())
}

// SetJobsActive sets the running background job gauge.
func SetJobsActive(count int) {
	getMetrics().jobsActive.Set(float64(count))
}

// RecordJobFinished records a job reaching a terminal status.
func RecordJobFinished(status string) {
	getMetrics().jobsTotal.WithLabelValues(status).Inc()
}

// RecordSummarizerFailure records a failed summarization call.
func RecordSummarizerFailure() {
	getMetrics().summarizerFailures.Inc()
}

// RecordSummarizerDuration records a summarization call duration.
func RecordSummarizerDuration(d time.Duration) {
	getMetrics().summarizerDuration.Observe(d.Seconds())
}

// RecordAdvisoryCall records an advisory API call outcome.
func RecordAdvisoryCall(provider, outcome string) {
	getMetrics().advisoryCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordGatewayRequest records a gateway HTTP request.
func RecordGatewayRequest(route, status string) {
	getMetrics().gatewayRequestTotal.WithLabelValues(route, status).Inc()
}
