package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// appMetrics owns a private registry so tests can build many Apps.
// Every recording method is a no-op on a nil receiver.
type appMetrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	issuesCreated     prometheus.Counter
	votesTotal        *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	bulkItems         *prometheus.CounterVec
	rateLimitedTotal  *prometheus.CounterVec
	loginsTotal       *prometheus.CounterVec
}

func newAppMetrics() *appMetrics {
	m := &appMetrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		issuesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civic_issues_created_total",
			Help: "Issues accepted through ingestion.",
		}),
		votesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_votes_total",
			Help: "Vote attempts by outcome.",
		}, []string{"result"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_status_transitions_total",
			Help: "Committed issue status transitions.",
		}, []string{"from", "to"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_bulk_items_total",
			Help: "Bulk operation items by operation and outcome.",
		}, []string{"operation", "result"}),
		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		}, []string{"scope"}),
		loginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_logins_total",
			Help: "Password logins by outcome.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.issuesCreated,
		m.votesTotal,
		m.statusTransitions,
		m.bulkItems,
		m.rateLimitedTotal,
		m.loginsTotal,
	)
	return m
}

func (m *appMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// instrument records in-flight count, totals and latency per matched route.
func (m *appMetrics) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.httpInFlight.Inc()
		start := time.Now()
		c.Next()
		m.httpInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}

func (m *appMetrics) issueCreated() {
	if m == nil {
		return
	}
	m.issuesCreated.Inc()
}

func (m *appMetrics) voteRecorded(err error) {
	if m == nil {
		return
	}
	result := "accepted"
	var apiErr *apiError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.Code == "already_voted":
		result = "duplicate"
	case errors.As(err, &apiErr) && apiErr.Code == "issue_not_found":
		result = "not_found"
	default:
		result = "error"
	}
	m.votesTotal.WithLabelValues(result).Inc()
}

func (m *appMetrics) statusChanged(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func (m *appMetrics) bulkCompleted(operation string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(operation, "success").Add(float64(succeeded))
	m.bulkItems.WithLabelValues(operation, "failed").Add(float64(failed))
}

func (m *appMetrics) rateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(scope).Inc()
}

func (m *appMetrics) loginAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "success"
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}
