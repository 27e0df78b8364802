// Package metrics holds the Prometheus collectors of the portal.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/gradedesk/internal/grading"
)

// Metrics is a set of collectors registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BackendRequests *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	OracleCalls     *prometheus.CounterVec
	OracleDuration  prometheus.Histogram
	GradeCommits    *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		BackendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_requests_total",
				Help: "Total number of requests to the grading backend",
			},
			[]string{"op", "status"},
		),
		BackendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_request_duration_seconds",
				Help:    "Duration of requests to the grading backend",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		OracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_calls_total",
				Help: "Total number of auto-grade calls",
			},
			[]string{"outcome"},
		),
		OracleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oracle_call_duration_seconds",
				Help:    "Duration of auto-grade calls",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		GradeCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grade_commits_total",
				Help: "Total number of saved submissions",
			},
			[]string{"exam_id"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCounter,
		m.RequestDuration,
		m.BackendRequests,
		m.BackendDuration,
		m.OracleCalls,
		m.OracleDuration,
		m.GradeCommits,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by route pattern, so ids in the path do not
// create new series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// ObserveBackend records one backend request. It matches backend.Observer.
func (m *Metrics) ObserveBackend(op string, status int, d time.Duration) {
	m.BackendRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()
	m.BackendDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveOracle records one oracle call. It matches grading.OracleObserver.
func (m *Metrics) ObserveOracle(outcome string, d time.Duration) {
	m.OracleCalls.WithLabelValues(outcome).Inc()
	m.OracleDuration.Observe(d.Seconds())
}

// CommitHook counts saved submissions.
func (m *Metrics) CommitHook(_ context.Context, c grading.Committed) {
	m.GradeCommits.WithLabelValues(strconv.FormatInt(c.Exam.ID, 10)).Inc()
}
