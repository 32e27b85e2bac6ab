// ABOUTME: Prometheus metrics for the gateway
// ABOUTME: Request, auth, token, event log and maintenance counters on a dedicated registry

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passkey_gateway"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	authFailures     *prometheus.CounterVec
	tokensIssued     *prometheus.CounterVec
	tokenValidations *prometheus.CounterVec
	eventFlushErrors prometheus.Counter
	maintenanceRuns  *prometheus.CounterVec
	keysPurged       prometheus.Counter
}

// New creates metrics registered on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected API key authentications, by reason.",
		}, []string{"reason"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued, by kind.",
		}, []string{"kind"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Token validations, by kind and result.",
		}, []string{"kind", "result"}),
		eventFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_flush_errors_total",
			Help:      "Audit event batches that could not be written.",
		}),
		maintenanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Maintenance job executions, by job and result.",
		}, []string{"job", "result"}),
		keysPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_keys_purged_total",
			Help:      "Expired signing keys deleted by maintenance.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.authFailures,
		m.tokensIssued,
		m.tokenValidations,
		m.eventFlushErrors,
		m.maintenanceRuns,
		m.keysPurged,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) TokenValidated(kind, result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(kind, result).Inc()
}

// EventFlushError has the signature eventlog.Middleware expects for its error hook.
func (m *Metrics) EventFlushError(error) {
	if m == nil {
		return
	}
	m.eventFlushErrors.Inc()
}

func (m *Metrics) MaintenanceRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.maintenanceRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) KeysPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.keysPurged.Add(float64(n))
}
