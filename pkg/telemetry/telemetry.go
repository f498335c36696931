// Package telemetry exposes the service's own Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	systems      *prometheus.GaugeVec
	ingested     *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	rateLimited  prometheus.Counter
}

// New registers every collector on a private registry labelled with service.
func New(service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests served, by route and status code",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		systems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "monitored_systems",
			Help:        "Registered systems by status",
			ConstLabels: labels,
		}, []string{"status"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ingested_records_total",
			Help:        "Metrics and logs accepted by the API",
			ConstLabels: labels,
		}, []string{"kind"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "poll_failures_total",
			Help:        "Failed dashboard refreshes by resource",
			ConstLabels: labels,
		}, []string{"resource"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_rate_limited_total",
			Help:        "Requests rejected by the gateway rate limiter",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.requests, m.duration, m.systems, m.ingested, m.pollFailures, m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware records count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetSystemCounts(counts models.SystemCounts) {
	m.systems.WithLabelValues(string(models.StatusOnline)).Set(float64(counts.Online))
	m.systems.WithLabelValues(string(models.StatusWarning)).Set(float64(counts.Warning))
	m.systems.WithLabelValues(string(models.StatusOffline)).Set(float64(counts.Offline))
}

func (m *Metrics) RecordIngested(kind string, n int) {
	m.ingested.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) RecordPollFailure(resource string) {
	m.pollFailures.WithLabelValues(resource).Inc()
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}
