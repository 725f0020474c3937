package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the console API.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	cacheWrite        prometheus.Observer
	profileResolution *prometheus.HistogramVec
	profileAutoCreate *prometheus.CounterVec
	termRefreshes     *prometheus.CounterVec
	termContexts      prometheus.Gauge
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	profileResolution := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "profile_resolution_seconds",
		Help:    "Time spent resolving a profile, by outcome",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8},
	}, []string{"entry_point", "outcome"})

	profileAutoCreate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_auto_create_total",
		Help: "Default-role profile inserts, by result",
	}, []string{"entry_point", "result"})

	termRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "term_context_refresh_total",
		Help: "Term context loads, by result",
	}, []string{"result"})

	termContexts := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "term_contexts_active",
		Help: "Console sessions holding a term context",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLookups, cacheWrite, profileResolution, profileAutoCreate, termRefreshes, termContexts, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLookups:      cacheLookups,
		cacheWrite:        cacheWrite,
		profileResolution: profileResolution,
		profileAutoCreate: profileAutoCreate,
		termRefreshes:     termRefreshes,
		termContexts:      termContexts,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveProfileResolution records how long a profile fetch took and how it ended.
func (m *MetricsService) ObserveProfileResolution(entryPoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.profileResolution.WithLabelValues(entryPoint, outcome).Observe(duration.Seconds())
}

// RecordProfileAutoCreate counts default-role inserts.
func (m *MetricsService) RecordProfileAutoCreate(entryPoint, result string) {
	if m == nil {
		return
	}
	m.profileAutoCreate.WithLabelValues(entryPoint, result).Inc()
}

// RecordTermRefresh counts term loads.
func (m *MetricsService) RecordTermRefresh(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.termRefreshes.WithLabelValues("ok").Inc()
		return
	}
	m.termRefreshes.WithLabelValues("error").Inc()
}

// SetTermContexts publishes the number of live term contexts.
func (m *MetricsService) SetTermContexts(n int) {
	if m == nil {
		return
	}
	m.termContexts.Set(float64(n))
}
