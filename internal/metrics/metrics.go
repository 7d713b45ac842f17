// Package metrics defines the Prometheus collectors for rxsearch. Collectors
// are registered explicitly from main (no init()) so tests can use fresh
// registries without double-registration panics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts requests by method, route pattern, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsearch_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxsearch_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// SearchStageDuration observes per-stage orchestrator latency.
	SearchStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxsearch_search_stage_duration_seconds",
			Help:    "Search pipeline stage latency.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"stage"},
	)

	// SearchesTotal counts searches by terminal status (ok, degraded, failed).
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsearch_searches_total",
			Help: "Searches by terminal status.",
		},
		[]string{"status"},
	)

	// EmbeddingCacheTotal counts embedding cache lookups by result (hit, miss).
	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsearch_embedding_cache_total",
			Help: "Embedding cache lookups by result.",
		},
		[]string{"result"},
	)

	// EmbeddingRequestsTotal counts provider calls by provider and status.
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsearch_embedding_requests_total",
			Help: "Embedding provider calls by provider and status.",
		},
		[]string{"provider", "status"},
	)

	// QueryParsesTotal counts LLM query parses by outcome (ok, fallback).
	QueryParsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsearch_query_parses_total",
			Help: "Query parses by outcome.",
		},
		[]string{"outcome"},
	)

	// IngestRowsTotal counts ingested rows by result (indexed, dead_letter, skipped).
	IngestRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxsearch_ingest_rows_total",
			Help: "Catalog rows processed by result.",
		},
		[]string{"result"},
	)

	// IngestBatchDuration observes per-batch ingestion latency.
	IngestBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rxsearch_ingest_batch_duration_seconds",
			Help:    "Ingestion batch latency.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// Register registers every rxsearch collector with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SearchStageDuration,
		SearchesTotal,
		EmbeddingCacheTotal,
		EmbeddingRequestsTotal,
		QueryParsesTotal,
		IngestRowsTotal,
		IngestBatchDuration,
	)
}

// RegisterDefault registers every collector with the default registry.
func RegisterDefault() {
	Register(prometheus.DefaultRegisterer)
}

// Handler serves the default gatherer at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP requests. Labels use the chi route pattern
// ("/drugs/{ndc}") rather than the raw path to bound cardinality.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// ObserveStage records one orchestrator stage duration.
func ObserveStage(stage string, d time.Duration) {
	SearchStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
