// Package metrics defines the Prometheus collectors used by the portfolio
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	AutocompleteQueries  *prometheus.CounterVec
	AutocompleteLatency  prometheus.Histogram
	IndexKeywords        prometheus.Gauge
	IndexMutationsTotal  *prometheus.CounterVec
	IndexRebuildsTotal   *prometheus.CounterVec
	IndexRebuildDuration prometheus.Histogram
	PortfolioOpsTotal    *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ReplicationEvents    *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
	registry             *prometheus.Registry
}

// New creates all collectors and registers them on a fresh registry that
// also carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		AutocompleteQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocomplete_queries_total",
				Help: "Autocomplete queries by outcome (match, empty).",
			},
			[]string{"outcome"},
		),
		AutocompleteLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autocomplete_latency_seconds",
				Help:    "Prefix lookup latency in seconds.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
		),
		IndexKeywords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autocomplete_index_keywords",
				Help: "Number of live keywords in the prefix index.",
			},
		),
		IndexMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocomplete_index_mutations_total",
				Help: "Index mutations by operation (create, update, delete, replicate).",
			},
			[]string{"op"},
		),
		IndexRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocomplete_index_rebuilds_total",
				Help: "Full index rebuilds by status.",
			},
			[]string{"status"},
		),
		IndexRebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autocomplete_index_rebuild_duration_seconds",
				Help:    "Duration of a full rebuild including the store read.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		PortfolioOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_operations_total",
				Help: "Portfolio lifecycle operations by operation and status.",
			},
			[]string{"op", "status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portfolio_cache_hits_total",
				Help: "Total number of portfolio cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portfolio_cache_misses_total",
				Help: "Total number of portfolio cache misses.",
			},
		),
		ReplicationEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocomplete_replication_events_total",
				Help: "Portfolio events consumed from Kafka by outcome (applied, skipped, invalid, failed).",
			},
			[]string{"outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.AutocompleteQueries,
		m.AutocompleteLatency,
		m.IndexKeywords,
		m.IndexMutationsTotal,
		m.IndexRebuildsTotal,
		m.IndexRebuildDuration,
		m.PortfolioOpsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ReplicationEvents,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
