package server

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/httputil"
	"github.com/domainscout/engine/internal/common/requestid"
	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/pkg/types"
)

const requestIDHeader = "X-Request-ID"

// blockedBody merges a blocked report with the error envelope so a 403 caller
// still sees what the scan observed.
type blockedBody struct {
	*types.DomainReport
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HandleDomains processes GET /domains?domain=<raw> requests.
func HandleDomains(ctx *fasthttp.RequestCtx, orch Orchestrator, mc *metrics.MetricsCollector, logger *zap.Logger) {
	requestID := requestid.New(string(ctx.Request.Header.Peek(requestIDHeader)))
	ctx.Response.Header.Set(requestIDHeader, requestID)

	rawDomain := string(ctx.QueryArgs().Peek("domain"))
	if rawDomain == "" {
		httputil.WriteError(ctx, fasthttp.StatusBadRequest, types.CodeBadDomain, "domain query parameter is required")
		mc.RecordHTTPRequest("/domains", "400")
		logger.Warn("Missing domain parameter",
			zap.String("request_id", requestID))
		return
	}

	report, apiErr := orch.Handle(ctx, requestID, rawDomain)
	if apiErr != nil {
		if apiErr.Report != nil {
			httputil.WriteJSON(ctx, apiErr.Status, blockedBody{
				DomainReport: apiErr.Report,
				Error:        apiErr.Message,
				Code:         apiErr.Code,
			})
		} else {
			httputil.WriteError(ctx, apiErr.Status, apiErr.Code, apiErr.Message)
		}
		mc.RecordHTTPRequest("/domains", strconv.Itoa(apiErr.Status))
		return
	}

	body, err := json.Marshal(report)
	if err != nil {
		httputil.WriteError(ctx, fasthttp.StatusInternalServerError, types.CodeInternal, "response serialization failed")
		mc.RecordHTTPRequest("/domains", "500")
		logger.Error("Failed to marshal domain report",
			zap.String("request_id", requestID),
			zap.Error(err))
		return
	}

	// Strong ETag over the exact payload; cached responses are byte-stable
	// for the remainder of the TTL.
	etag := fmt.Sprintf(`"%x"`, xxhash.Sum64(body))
	ctx.Response.Header.Set(fasthttp.HeaderETag, etag)

	if string(ctx.Request.Header.Peek(fasthttp.HeaderIfNoneMatch)) == etag {
		ctx.SetStatusCode(fasthttp.StatusNotModified)
		mc.RecordHTTPRequest("/domains", "304")
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	mc.RecordHTTPRequest("/domains", "200")
}

// HandleHealth reports liveness. It deliberately does not touch the browser:
// a wedged scan must not fail the health check.
func HandleHealth(ctx *fasthttp.RequestCtx, mc *metrics.MetricsCollector) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"ok":true}`)
	mc.RecordHTTPRequest("/health", "200")
}
