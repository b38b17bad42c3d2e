// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lexical_retriever"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	ResponseCacheTotal   *prometheus.CounterVec
	DocsIndexedTotal     prometheus.Counter
	DocsDeletedTotal     prometheus.Counter
	IngestFailuresTotal  prometheus.Counter
	IDFRefreshTotal      *prometheus.CounterVec
	IDFTerms             prometheus.Gauge
	IDFLastRefresh       prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
	RateLimitedTotal     prometheus.Counter

	reg prometheus.Registerer
}

// New creates all collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_queries_total",
				Help:      "Total search queries by result type (results, zero_result, degraded).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_latency_seconds",
				Help:      "Search latency in seconds by pipeline stage.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"stage"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results_count",
				Help:      "Number of results returned per search query.",
				Buckets:   []float64{0, 1, 3, 5, 10, 25, 50, 100},
			},
		),
		ResponseCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_cache_total",
				Help:      "Redis search response cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "docs_indexed_total",
				Help:      "Total documents stored and indexed.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "docs_deleted_total",
				Help:      "Total documents deleted.",
			},
		),
		IngestFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_failures_total",
				Help:      "Document creations rolled back.",
			},
		),
		IDFRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idf_refresh_total",
				Help:      "IDF recomputation cycles by status (success, skipped, error).",
			},
			[]string{"status"},
		),
		IDFTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "idf_terms",
				Help:      "Number of terms in the IDF table.",
			},
		),
		IDFLastRefresh: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "idf_last_refresh_timestamp_seconds",
				Help:      "Unix time of the last successful IDF recomputation.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-client rate limiter.",
			},
		),
		reg: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.ResponseCacheTotal,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.IngestFailuresTotal,
		m.IDFRefreshTotal,
		m.IDFTerms,
		m.IDFLastRefresh,
		m.CircuitBreakerState,
		m.RateLimitedTotal,
	)

	return m
}

// CacheStatsFunc reports cumulative counters and the current size of a cache.
type CacheStatsFunc func() (hits, misses, evictions uint64, size int)

// RegisterCache exposes a cache's counters under the "cache" label.
func (m *Metrics) RegisterCache(name string, stats CacheStatsFunc) {
	labels := prometheus.Labels{"cache": name}
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "LRU cache hits.", ConstLabels: labels,
		}, func() float64 { h, _, _, _ := stats(); return float64(h) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "LRU cache misses.", ConstLabels: labels,
		}, func() float64 { _, mi, _, _ := stats(); return float64(mi) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_evictions_total",
			Help: "LRU cache capacity evictions.", ConstLabels: labels,
		}, func() float64 { _, _, e, _ := stats(); return float64(e) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_entries",
			Help: "Entries currently held by the LRU cache.", ConstLabels: labels,
		}, func() float64 { _, _, _, s := stats(); return float64(s) }),
	)
}

// PoolStatsFunc reports the instantaneous state of a connection pool.
type PoolStatsFunc func() (inUse, idle, waiting int)

// RegisterPool exposes a connection pool's gauges under the "pool" label.
func (m *Metrics) RegisterPool(name string, stats PoolStatsFunc) {
	labels := prometheus.Labels{"pool": name}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_connections_in_use",
			Help: "Connections currently lent out.", ConstLabels: labels,
		}, func() float64 { u, _, _ := stats(); return float64(u) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_connections_idle",
			Help: "Connections waiting to be acquired.", ConstLabels: labels,
		}, func() float64 { _, i, _ := stats(); return float64(i) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_waiters",
			Help: "Callers blocked in Acquire.", ConstLabels: labels,
		}, func() float64 { _, _, w := stats(); return float64(w) }),
	)
}

// Handler returns the Prometheus scrape HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
