// Package metrics exports task pool and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/jobmanager/taskpool"
)

const unmatched = "unmatched"

// Metrics implements taskpool.Observer and records HTTP requests.
type Metrics struct {
	reg *prometheus.Registry

	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	drainDuration prometheus.Histogram
	drainsExpired prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ taskpool.Observer = (*Metrics)(nil)

// New creates metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobmanager_tasks_total",
				Help: "Total number of tasks finished, by kind and status.",
			},
			[]string{"kind", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobmanager_task_duration_seconds",
				Help:    "Task run time in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobmanager_drain_duration_seconds",
				Help:    "Duration of task pool drains in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		drainsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jobmanager_drain_grace_expired_total",
				Help: "Drains whose grace period ended with pending tasks still running.",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobmanager_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobmanager_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	m.reg.MustRegister(
		m.tasksTotal,
		m.taskDuration,
		m.drainDuration,
		m.drainsExpired,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	// Label combinations appear with value 0 from startup.
	for _, kind := range []taskpool.Kind{taskpool.KindPending, taskpool.KindBackground} {
		for _, status := range []taskpool.Status{taskpool.StatusCompleted, taskpool.StatusFailed, taskpool.StatusCancelled} {
			m.tasksTotal.WithLabelValues(kind.String(), status.String())
		}
	}
	return m
}

// WatchPool exports the pool's live task counts as gauges.
func (m *Metrics) WatchPool(pool *taskpool.Pool) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "jobmanager_pending_tasks",
			Help: "Number of pending tasks currently running.",
		}, func() float64 { return float64(pool.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "jobmanager_background_tasks",
			Help: "Number of background tasks currently running.",
		}, func() float64 { return float64(pool.Background()) }),
	)
}

// TaskFinished implements taskpool.Observer.
func (m *Metrics) TaskFinished(kind taskpool.Kind, status taskpool.Status, d time.Duration) {
	m.tasksTotal.WithLabelValues(kind.String(), status.String()).Inc()
	m.taskDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

// Drained implements taskpool.Observer.
func (m *Metrics) Drained(result *taskpool.DrainResult) {
	m.drainDuration.Observe(result.Duration.Seconds())
	if result.GraceExpired {
		m.drainsExpired.Inc()
	}
}

// Middleware records request count and duration. It labels by chi route
// pattern, not raw path, to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}
