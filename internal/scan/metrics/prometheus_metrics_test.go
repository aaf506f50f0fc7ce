package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func TestPrometheusMetrics_Recording(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("domainscout", registry, logger)

	// Scan metrics
	pm.RecordScan("ok")
	pm.RecordScan("skipped")
	pm.RecordScanDuration(2.5)

	// Cache metrics
	pm.RecordCacheHit()
	pm.RecordCacheMiss()

	// Precheck metrics
	pm.RecordPrecheck("attachment")
	pm.RecordPrecheck("proceed")

	// Browser metrics
	pm.RecordBrowserRestart()
	pm.RecordRedirectLimit()
	pm.RecordDroppedDomains(5)
	pm.RecordDroppedDomains(0)

	// Compression metrics
	pm.RecordCompressionRatio("lz4", 0.4)
	pm.RecordBytesSaved("lz4", 600)
	pm.RecordDecompressionError("gzip")

	// Active scans
	pm.IncActiveScans()
	pm.IncActiveScans()
	pm.DecActiveScans()

	// If we got here without panicking, metrics recording works
	assert.NotNil(t, pm)
}

func TestPrometheusMetrics_CacheHitRatio(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("domainscout", registry, logger)

	readGauge := func() float64 {
		metric := &dto.Metric{}
		require.NoError(t, pm.cacheHitRatio.Write(metric))
		return metric.GetGauge().GetValue()
	}

	// No lookups yet, the gauge stays at its zero value
	assert.Equal(t, 0.0, readGauge())

	pm.RecordCacheHit()
	assert.Equal(t, 1.0, readGauge())

	pm.RecordCacheMiss()
	assert.Equal(t, 0.5, readGauge())

	pm.RecordCacheMiss()
	pm.RecordCacheMiss()
	assert.Equal(t, 0.25, readGauge())
}

func TestPrometheusMetrics_HTTPEndpoint(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("domainscout", registry, logger)

	// Record some test metrics
	pm.RecordScan("ok")
	pm.RecordCacheHit()
	pm.RecordHTTPRequest("/domains", "200")

	// Create a test HTTP context
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")

	// Serve metrics
	pm.ServeHTTP(ctx)

	// Check response
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.Peek("Content-Type")), "text/plain")

	body := string(ctx.Response.Body())
	assert.Contains(t, body, "domainscout_scan_scans_total")
	assert.Contains(t, body, "domainscout_scan_cache_hits_total")
	assert.Contains(t, body, "domainscout_scan_http_requests_total")
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
}

func TestMetricsCollector_Facade(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("domainscout", registry, logger)
	mc := NewMetricsCollectorWithPrometheus(pm, logger)

	mc.RecordScanOutcome("blocked")
	mc.RecordScanDuration(3 * time.Second)
	mc.ScanStarted()
	mc.ScanFinished()
	mc.RecordCacheMiss()
	mc.RecordPrecheckClass("marketing_redirect")
	mc.RecordBrowserRestart()
	mc.RecordRedirectLimit()
	mc.RecordDroppedDomains(3)
	mc.RecordHTTPRequest("/domains", "403")

	// Compression ratio and bytes saved derive from the raw sizes
	mc.RecordCompression("lz4", 1000, 250)
	// Zero original size must not divide by zero
	mc.RecordCompression("lz4", 0, 0)
	mc.RecordDecompressionError("lz4")

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")
	mc.ServeHTTP(ctx)

	body := string(ctx.Response.Body())
	assert.Contains(t, body, `domainscout_scan_scans_total{outcome="blocked"} 1`)
	assert.Contains(t, body, `domainscout_scan_prechecks_total{class="marketing_redirect"} 1`)
	assert.Contains(t, body, `domainscout_scan_http_requests_total{endpoint="/domains",status="403"} 1`)
	assert.Contains(t, body, `domainscout_scan_cache_bytes_saved_total{algorithm="lz4"} 750`)
	assert.Contains(t, body, `domainscout_scan_dropped_domains_total 3`)
}
