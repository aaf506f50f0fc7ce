package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides metrics collection for the scan service
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration prometheus.Histogram
	activeScans  prometheus.Gauge

	// Cache metrics
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	cacheHitRatio    prometheus.Gauge

	// Precheck metrics
	precheckTotal *prometheus.CounterVec

	// Browser metrics
	browserRestartsTotal prometheus.Counter
	redirectLimitsTotal  prometheus.Counter
	droppedDomainsTotal  prometheus.Counter

	// Compression metrics
	compressionRatio         *prometheus.HistogramVec
	bytesSavedTotal          *prometheus.CounterVec
	decompressionErrorsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "scans_total",
		Help:      "Total domain scans by outcome",
	}, []string{"outcome"}) // outcome: ok, skipped, blocked, error, timeout

	pm.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "scan_duration_seconds",
		Help:      "Time spent scanning a domain end to end",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11), // 0.1s to ~100s
	})

	pm.activeScans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "active_scans",
		Help:      "Number of browser scans currently in flight",
	})

	pm.cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "cache_hits_total",
		Help:      "Total cache hits",
	})

	pm.cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "cache_misses_total",
		Help:      "Total cache misses",
	})

	pm.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "cache_hit_ratio",
		Help:      "Cache hit ratio (hits / total lookups)",
	})

	pm.precheckTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "prechecks_total",
		Help:      "Total precheck walks by termination class",
	}, []string{"class"})

	pm.browserRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "browser_restarts_total",
		Help:      "Total browser process relaunches",
	})

	pm.redirectLimitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "redirect_limits_total",
		Help:      "Total scans stopped by the document redirect limit",
	})

	pm.droppedDomainsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "dropped_domains_total",
		Help:      "Observed hostnames dropped after the per-scan cap",
	})

	pm.compressionRatio = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "cache_compression_ratio",
		Help:      "Compression ratio (compressed / original) for cache writes",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"algorithm"})

	pm.bytesSavedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "cache_bytes_saved_total",
		Help:      "Total bytes saved by cache compression",
	}, []string{"algorithm"})

	pm.decompressionErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "cache_decompression_errors_total",
		Help:      "Total cache reads that failed to decompress",
	}, []string{"algorithm"})

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	registerer.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.activeScans,
		pm.cacheHitsTotal,
		pm.cacheMissesTotal,
		pm.cacheHitRatio,
		pm.precheckTotal,
		pm.browserRestartsTotal,
		pm.redirectLimitsTotal,
		pm.droppedDomainsTotal,
		pm.compressionRatio,
		pm.bytesSavedTotal,
		pm.decompressionErrorsTotal,
		pm.httpRequests,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Scan service Prometheus metrics initialized")
	return pm
}

// RecordScan records a finished scan request by outcome
func (pm *PrometheusMetrics) RecordScan(outcome string) {
	pm.scansTotal.WithLabelValues(outcome).Inc()
}

// RecordScanDuration records end-to-end scan duration
func (pm *PrometheusMetrics) RecordScanDuration(seconds float64) {
	pm.scanDuration.Observe(seconds)
}

// IncActiveScans increments the in-flight scan gauge
func (pm *PrometheusMetrics) IncActiveScans() {
	pm.activeScans.Inc()
}

// DecActiveScans decrements the in-flight scan gauge
func (pm *PrometheusMetrics) DecActiveScans() {
	pm.activeScans.Dec()
}

// RecordCacheHit records a cache hit and refreshes the hit ratio
func (pm *PrometheusMetrics) RecordCacheHit() {
	pm.cacheHitsTotal.Inc()
	pm.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss and refreshes the hit ratio
func (pm *PrometheusMetrics) RecordCacheMiss() {
	pm.cacheMissesTotal.Inc()
	pm.updateCacheHitRatio()
}

// RecordPrecheck records a precheck termination class
func (pm *PrometheusMetrics) RecordPrecheck(class string) {
	pm.precheckTotal.WithLabelValues(class).Inc()
}

// RecordBrowserRestart records a browser process relaunch
func (pm *PrometheusMetrics) RecordBrowserRestart() {
	pm.browserRestartsTotal.Inc()
}

// RecordRedirectLimit records a scan stopped by the document redirect cap
func (pm *PrometheusMetrics) RecordRedirectLimit() {
	pm.redirectLimitsTotal.Inc()
}

// RecordDroppedDomains records hostnames dropped past the per-scan cap
func (pm *PrometheusMetrics) RecordDroppedDomains(count int) {
	if count > 0 {
		pm.droppedDomainsTotal.Add(float64(count))
	}
}

// RecordCompressionRatio records the compression ratio for a cache write
func (pm *PrometheusMetrics) RecordCompressionRatio(algorithm string, ratio float64) {
	pm.compressionRatio.WithLabelValues(algorithm).Observe(ratio)
}

// RecordBytesSaved records bytes saved by compression
func (pm *PrometheusMetrics) RecordBytesSaved(algorithm string, bytesSaved int64) {
	if bytesSaved > 0 {
		pm.bytesSavedTotal.WithLabelValues(algorithm).Add(float64(bytesSaved))
	}
}

// RecordDecompressionError records a decompression failure
func (pm *PrometheusMetrics) RecordDecompressionError(algorithm string) {
	pm.decompressionErrorsTotal.WithLabelValues(algorithm).Inc()
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// updateCacheHitRatio calculates and updates cache hit ratio
func (pm *PrometheusMetrics) updateCacheHitRatio() {
	hits := pm.getCounterValue(pm.cacheHitsTotal)
	misses := pm.getCounterValue(pm.cacheMissesTotal)

	total := hits + misses
	if total > 0 {
		pm.cacheHitRatio.Set(hits / total)
	}
}

// getCounterValue extracts current value from a counter (helper function)
func (pm *PrometheusMetrics) getCounterValue(counter prometheus.Counter) float64 {
	// Use a metric DTO to read the current value
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		pm.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
