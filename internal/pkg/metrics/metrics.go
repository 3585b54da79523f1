package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess       = "success"
	OutcomeProviderError = "provider_error"
	OutcomeNotFound      = "not_found"
	OutcomeFailed        = "failed"
)

// Metrics owns its registry so several apps (tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec
	ExchangesTotal      *prometheus.CounterVec
	ProviderLatency     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HttpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HttpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		ExchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mindmate_chat_exchanges_total",
			Help: "Chat exchanges by outcome",
		}, []string{"outcome"}),
		ProviderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mindmate_provider_latency_seconds",
			Help:    "Completion provider call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HttpRequestsTotal,
		m.HttpRequestDuration,
		m.ExchangesTotal,
		m.ProviderLatency,
	)
	return m
}

// ObserveExchange is nil-safe so services can run without metrics.
func (m *Metrics) ObserveExchange(outcome string, providerLatency time.Duration) {
	if m == nil {
		return
	}
	m.ExchangesTotal.WithLabelValues(outcome).Inc()
	if providerLatency > 0 {
		m.ProviderLatency.Observe(providerLatency.Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Middleware records request count and latency by route template.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		labels := prometheus.Labels{"method": c.Method(), "path": path, "status": strconv.Itoa(status)}
		m.HttpRequestsTotal.With(labels).Inc()
		m.HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}
