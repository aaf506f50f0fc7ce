package server

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/internal/scan/orchestrator"
	"github.com/domainscout/engine/pkg/types"
)

// Orchestrator resolves one domain request end to end. Satisfied by
// *orchestrator.Orchestrator.
type Orchestrator interface {
	Handle(ctx context.Context, requestID, rawDomain string) (*types.DomainReport, *orchestrator.APIError)
}

// NewHandler builds the main HTTP request handler with routing.
func NewHandler(orch Orchestrator, mc *metrics.MetricsCollector, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch path {
		case "/domains":
			if method != fasthttp.MethodGet {
				writeMethodNotAllowed(ctx, path, mc)
				return
			}
			HandleDomains(ctx, orch, mc, logger)
		case "/health":
			if method != fasthttp.MethodGet {
				writeMethodNotAllowed(ctx, path, mc)
				return
			}
			HandleHealth(ctx, mc)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			mc.RecordHTTPRequest(path, "404")
		}
	}
}

func writeMethodNotAllowed(ctx *fasthttp.RequestCtx, path string, mc *metrics.MetricsCollector) {
	ctx.Response.Header.Set(fasthttp.HeaderAllow, fasthttp.MethodGet)
	ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	ctx.SetBodyString("Method Not Allowed")
	mc.RecordHTTPRequest(path, "405")
}
