// Package metrics holds the ambient Prometheus instrumentation exposed at
// /metrics (promhttp.Handler, per vjache-cie's "cie index --metrics-addr"
// wiring), covering route latency, cache hit/miss, and verification
// outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RouteRequests counts HTTP requests by route and status class.
	RouteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registryproxy_http_requests_total",
		Help: "Total HTTP requests by route and status class.",
	}, []string{"route", "status"})

	// RouteDuration observes per-route handler latency.
	RouteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registryproxy_http_request_duration_seconds",
		Help:    "HTTP handler latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// TarballCacheResult counts Package Cache outcomes for tarball fetches.
	TarballCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registryproxy_tarball_cache_result_total",
		Help: "Package Cache tarball resolutions by result (hit, miss, error).",
	}, []string{"result"})

	// VerificationResult counts Integrity Verifier outcomes.
	VerificationResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registryproxy_verification_result_total",
		Help: "Integrity Verifier outcomes by kind (success, threat_detected, failure).",
	}, []string{"kind"})

	// EmbeddingCacheResult counts Embedding Cache lookups.
	EmbeddingCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registryproxy_embedding_cache_result_total",
		Help: "Embedding Cache lookups by result (hit, miss).",
	}, []string{"result"})

	// ResponseCacheResult counts Response Cache lookups.
	ResponseCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registryproxy_response_cache_result_total",
		Help: "Response Cache lookups by result (hit, miss).",
	}, []string{"result"})

	// DownloadCoordinatorWaits counts followers that waited on an
	// in-progress single-flight download rather than leading one.
	DownloadCoordinatorWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registryproxy_download_coordinator_waits_total",
		Help: "Requests that joined an in-progress tarball download instead of starting one.",
	})
)
