// Package metrics provides Prometheus instrumentation for the weather proxy.
// All metric collectors are registered via the Init function and exposed
// through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts API requests by endpoint and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormproxy_requests_total",
			Help: "Total API requests processed",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDuration observes request latency in seconds by endpoint.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stormproxy_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// CacheHits counts cache hits by endpoint.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormproxy_cache_hits_total",
			Help: "Total responses served from the cache",
		},
		[]string{"endpoint"},
	)

	// CacheMisses counts cache misses by endpoint.
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormproxy_cache_misses_total",
			Help: "Total requests that missed the cache",
		},
		[]string{"endpoint"},
	)

	// RateLimitHits counts rate limit rejections.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stormproxy_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
	)

	// UpstreamErrors counts upstream fetch failures by endpoint and reason.
	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormproxy_upstream_errors_total",
			Help: "Total upstream fetch failures",
		},
		[]string{"endpoint", "reason"},
	)

	// UpstreamDuration observes upstream fetch latency in seconds.
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stormproxy_upstream_duration_seconds",
			Help:    "Upstream fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// FallbacksTotal counts deterministic fallback substitutions by endpoint.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormproxy_fallbacks_total",
			Help: "Total responses substituted with fallback data",
		},
		[]string{"endpoint"},
	)

	// BreakerState reports the upstream circuit breaker state
	// (0=closed, 1=open, 2=half-open) per upstream host.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stormproxy_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"upstream"},
	)

	// BreakerTransitions counts breaker state changes per upstream host.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stormproxy_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"upstream", "from", "to"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		CacheHits,
		CacheMisses,
		RateLimitHits,
		UpstreamErrors,
		UpstreamDuration,
		FallbacksTotal,
		BreakerState,
		BreakerTransitions,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
