// Package metrics defines the Prometheus metric collectors used by the index
// manager and exposes an HTTP handler for scraping.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	ResourceOpensTotal   *prometheus.CounterVec
	ReaderGeneration     *prometheus.GaugeVec
	CommitsTotal         *prometheus.CounterVec
	DocsMutatedTotal     *prometheus.CounterVec
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	HighlightsTotal      *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheBreakerState    prometheus.Gauge
	IngestEventsTotal    *prometheus.CounterVec
	ImportedRowsTotal    prometheus.Counter
	RateLimitedTotal     *prometheus.CounterVec
}

// New creates all collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests and one-shot CLI runs want.
func New(reg prometheus.Registerer) *Metrics {
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
		ResourceOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_resource_opens_total",
				Help: "Index resource constructions by kind (writer, reader, searcher) and outcome (open, refresh, error).",
			},
			[]string{"kind", "outcome"},
		),
		ReaderGeneration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fts_reader_generation",
				Help: "Reader generation per index location.",
			},
			[]string{"location"},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_commits_total",
				Help: "Index transactions by operation and status (committed, rolled_back).",
			},
			[]string{"op", "status"},
		),
		DocsMutatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_documents_mutated_total",
				Help: "Documents submitted in committed transactions by operation.",
			},
			[]string{"op"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_queries_total",
				Help: "Queries by operation and result (hit, zero_result, error).",
			},
			[]string{"op", "result"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fts_query_latency_seconds",
				Help:    "Query latency in seconds by operation.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"op"},
		),
		HighlightsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_highlights_total",
				Help: "Highlighted field values by result (fragment, raw).",
			},
			[]string{"result"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_result_cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_result_cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		CacheBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fts_result_cache_breaker_state",
				Help: "Result cache circuit breaker state (0 closed, 1 open, 2 half-open).",
			},
		),
		IngestEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_ingest_events_total",
				Help: "Mutation events consumed by operation and status.",
			},
			[]string{"op", "status"},
		),
		ImportedRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_imported_rows_total",
				Help: "Rows imported from SQL sources.",
			},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by method.",
			},
			[]string{"method"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.ResourceOpensTotal,
			m.ReaderGeneration,
			m.CommitsTotal,
			m.DocsMutatedTotal,
			m.QueriesTotal,
			m.QueryLatency,
			m.HighlightsTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheBreakerState,
			m.IngestEventsTotal,
			m.ImportedRowsTotal,
			m.RateLimitedTotal,
		)
	}

	return m
}

// Handler returns the Prometheus scrape HTTP handler for g. Collection
// errors are logged and the remaining metrics are still served.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
