package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector centralizes all metrics recording for the scan service
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithPrometheus wires a collector to an existing metrics instance
func NewMetricsCollectorWithPrometheus(pm *PrometheusMetrics, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: pm,
		logger:     logger,
	}
}

// RecordScanOutcome records a finished scan by outcome (ok, skipped, blocked, error, timeout)
func (mc *MetricsCollector) RecordScanOutcome(outcome string) {
	mc.prometheus.RecordScan(outcome)
}

// RecordScanDuration records the end-to-end duration of a scan request
func (mc *MetricsCollector) RecordScanDuration(d time.Duration) {
	mc.prometheus.RecordScanDuration(d.Seconds())
}

// ScanStarted marks a browser scan as in flight
func (mc *MetricsCollector) ScanStarted() {
	mc.prometheus.IncActiveScans()
}

// ScanFinished marks a browser scan as done
func (mc *MetricsCollector) ScanFinished() {
	mc.prometheus.DecActiveScans()
}

// RecordCacheHit records a cache hit
func (mc *MetricsCollector) RecordCacheHit() {
	mc.prometheus.RecordCacheHit()
}

// RecordCacheMiss records a cache miss
func (mc *MetricsCollector) RecordCacheMiss() {
	mc.prometheus.RecordCacheMiss()
}

// RecordPrecheckClass records the termination class of a precheck walk
func (mc *MetricsCollector) RecordPrecheckClass(class string) {
	mc.prometheus.RecordPrecheck(class)
}

// RecordBrowserRestart records a browser relaunch
func (mc *MetricsCollector) RecordBrowserRestart() {
	mc.prometheus.RecordBrowserRestart()
	mc.logger.Debug("Recorded browser restart")
}

// RecordRedirectLimit records a scan hitting the document redirect cap
func (mc *MetricsCollector) RecordRedirectLimit() {
	mc.prometheus.RecordRedirectLimit()
}

// RecordDroppedDomains records hostnames dropped past the per-scan cap
func (mc *MetricsCollector) RecordDroppedDomains(count int) {
	mc.prometheus.RecordDroppedDomains(count)
}

// RecordCompression records the outcome of compressing a cache value
func (mc *MetricsCollector) RecordCompression(algorithm string, originalSize, compressedSize int) {
	if originalSize <= 0 {
		return
	}
	mc.prometheus.RecordCompressionRatio(algorithm, float64(compressedSize)/float64(originalSize))
	mc.prometheus.RecordBytesSaved(algorithm, int64(originalSize-compressedSize))
}

// RecordDecompressionError records a cache read that failed to decompress
func (mc *MetricsCollector) RecordDecompressionError(algorithm string) {
	mc.prometheus.RecordDecompressionError(algorithm)
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(endpoint, status string) {
	mc.prometheus.RecordHTTPRequest(endpoint, status)
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
