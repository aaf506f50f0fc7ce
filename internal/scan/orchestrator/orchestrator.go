package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	"github.com/domainscout/engine/internal/common/urlutil"
	"github.com/domainscout/engine/internal/scan/cache"
	"github.com/domainscout/engine/internal/scan/chrome"
	"github.com/domainscout/engine/internal/scan/events"
	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/internal/scan/precheck"
	"github.com/domainscout/engine/pkg/types"
)

// Scanner drives one browser scan. Satisfied by *chrome.Scanner; the
// acceptance suite substitutes a scripted implementation.
type Scanner interface {
	Scan(ctx context.Context, requestID, origin, startURL string) (*types.ScanResult, error)
}

// Prechecker classifies a domain before a browser session is spent on it.
// Satisfied by *precheck.Checker.
type Prechecker interface {
	Check(ctx context.Context, domain string) *precheck.Result
}

// Orchestrator runs the request state machine: normalise, cache lookup,
// concurrency slot, precheck routing, browser scan, cache write.
type Orchestrator struct {
	store   cache.Store
	checker Prechecker
	scanner Scanner
	emitter events.Emitter
	mc      *metrics.MetricsCollector
	logger  *zap.Logger

	sem         chan struct{}
	hardTimeout time.Duration

	maxRedirectSteps int
	allowPrivate     bool
}

func New(
	cfg *config.ScanConfig,
	concurrency int,
	store cache.Store,
	checker Prechecker,
	scanner Scanner,
	emitter events.Emitter,
	mc *metrics.MetricsCollector,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:            store,
		checker:          checker,
		scanner:          scanner,
		emitter:          emitter,
		mc:               mc,
		logger:           logger,
		sem:              make(chan struct{}, concurrency),
		hardTimeout:      cfg.HardTimeout.ToDuration(),
		maxRedirectSteps: cfg.MaxRedirectSteps,
		allowPrivate:     cfg.AllowPrivateHosts,
	}
}

// Handle resolves one domain request end to end. A nil *APIError means the
// report should be served with HTTP 200; a non-nil one carries the status,
// code and optionally a blocked report to merge into the error body.
func (o *Orchestrator) Handle(ctx context.Context, requestID, rawDomain string) (*types.DomainReport, *APIError) {
	start := time.Now()

	domain, err := urlutil.NormalizeDomain(rawDomain)
	if err != nil {
		o.logger.Info("Rejected unscannable domain",
			zap.String("request_id", requestID),
			zap.String("raw_domain", rawDomain),
			zap.Error(err))
		apiErr := badDomain(err)
		o.finish(requestID, rawDomain, start, "error", nil, apiErr, "", "")
		return nil, apiErr
	}

	if err := urlutil.ValidateTargetHost(domain, o.allowPrivate); err != nil {
		o.logger.Info("Rejected private scan target",
			zap.String("request_id", requestID),
			zap.String("domain", domain),
			zap.Error(err))
		apiErr := forbidden(err.Error(), nil)
		o.finish(requestID, domain, start, "error", nil, apiErr, "", "")
		return nil, apiErr
	}

	ctx, cancel := context.WithTimeout(ctx, o.hardTimeout)
	defer cancel()

	if entry, err := o.store.Lookup(ctx, domain); err != nil {
		// A broken store degrades to scanning; it must not fail requests.
		o.logger.Warn("Cache lookup failed, scanning instead",
			zap.String("request_id", requestID),
			zap.String("domain", domain),
			zap.Error(err))
	} else if entry != nil {
		o.mc.RecordCacheHit()
		report := cachedReport(entry)
		o.finish(requestID, domain, start, string(report.Status), report, nil, "hit", "")
		return report, nil
	}
	o.mc.RecordCacheMiss()

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		apiErr := timeout("waiting for a scan slot")
		o.finish(requestID, domain, start, "error", nil, apiErr, "miss", "")
		return nil, apiErr
	}

	o.mc.ScanStarted()
	defer o.mc.ScanFinished()

	pr := o.checker.Check(ctx, domain)
	o.mc.RecordPrecheckClass(pr.Class)

	if pr.Skip && !pr.TryBrowser {
		report := skippedReport(domain, pr)
		o.finish(requestID, domain, start, string(report.Status), report, nil, "miss", pr.Class)
		return report, nil
	}

	report, apiErr := o.runScan(ctx, requestID, domain, pr)
	o.finish(requestID, domain, start, outcomeOf(report, apiErr), report, apiErr, "miss", pr.Class)
	if apiErr != nil {
		return nil, apiErr
	}
	return report, nil
}

// runScan executes the browser scan and classifies its outcome.
func (o *Orchestrator) runScan(ctx context.Context, requestID, domain string, pr *precheck.Result) (*types.DomainReport, *APIError) {
	startURL := pr.StartURL
	if startURL == "" {
		startURL = "https://" + domain + "/"
	}

	result, err := o.scanner.Scan(ctx, requestID, domain, startURL)
	if err == nil {
		if upErr := o.store.Upsert(ctx, domain, result); upErr != nil {
			o.logger.Warn("Cache write failed",
				zap.String("request_id", requestID),
				zap.String("domain", domain),
				zap.Error(upErr))
		}
		report := okReport(domain, result)
		if pr.Class == precheck.ClassMarketingRedirect {
			report.Note = pr.Reason
		}
		return report, nil
	}

	o.logger.Warn("Browser scan failed",
		zap.String("request_id", requestID),
		zap.String("domain", domain),
		zap.String("start_url", startURL),
		zap.String("precheck_class", pr.Class),
		zap.Error(err))

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, timeout(fmt.Sprintf("scan of %s exceeded the hard deadline", domain))

	case errors.Is(err, chrome.ErrTooManyRedirects):
		return blockedReport(domain, types.ReasonRedirectLoopExceeded(o.maxRedirectSteps)), nil

	case pr.Class == precheck.ClassForbidden:
		return nil, forbidden(err.Error(), blockedReport(domain, types.ReasonForbidden))

	case strings.Contains(err.Error(), "403"):
		// The scan surfaced a WAF/anti-bot denial even though the probe
		// did not see a clean 403.
		return nil, forbidden(err.Error(), blockedReport(domain, types.ReasonForbidden))

	case pr.Reason != "":
		return blockedReport(domain, pr.Reason), nil

	default:
		return nil, internal(err)
	}
}

// finish records metrics and emits the scan event for every terminal path.
func (o *Orchestrator) finish(requestID, domain string, start time.Time, outcome string, report *types.DomainReport, apiErr *APIError, cacheStatus, precheckClass string) {
	duration := time.Since(start)
	o.mc.RecordScanOutcome(outcome)
	o.mc.RecordScanDuration(duration)

	ev := &events.ScanEvent{
		RequestID:     requestID,
		Domain:        domain,
		Outcome:       outcome,
		CacheStatus:   cacheStatus,
		PrecheckClass: precheckClass,
		Duration:      duration.Seconds(),
		CreatedAt:     time.Now(),
	}
	if report != nil {
		ev.FinalURL = report.FinalURL
		ev.DomainCount = len(report.RelatedDomains)
		ev.RedirectHops = len(report.RedirectChain)
		ev.Reason = report.Reason
	}
	if apiErr != nil {
		ev.Code = apiErr.Code
		if apiErr.Report != nil {
			ev.Reason = apiErr.Report.Reason
		}
	}
	o.emitter.Emit(ev)
}

func outcomeOf(report *types.DomainReport, apiErr *APIError) string {
	if apiErr != nil {
		if apiErr.Report != nil {
			return string(types.ScanStatusBlocked)
		}
		return "error"
	}
	return string(report.Status)
}

func cachedReport(entry *cache.Entry) *types.DomainReport {
	return &types.DomainReport{
		Domain:         entry.Domain,
		FinalURL:       entry.FinalURL,
		RelatedDomains: entry.RelatedDomains,
		RedirectChain:  entry.RedirectChain,
		Cached:         true,
		CachedAt:       entry.UpdatedAt,
		TTLAt:          entry.TTLAt,
		Status:         types.ScanStatusOK,
	}
}

func okReport(domain string, result *types.ScanResult) *types.DomainReport {
	return &types.DomainReport{
		Domain:         domain,
		FinalURL:       result.FinalURL,
		RelatedDomains: result.RelatedDomains,
		RedirectChain:  result.RedirectChain,
		Status:         types.ScanStatusOK,
	}
}

// skippedReport is origin-only: the browser never ran, so the domain itself
// is the entire related set.
func skippedReport(domain string, pr *precheck.Result) *types.DomainReport {
	finalURL := pr.FinalURL
	if finalURL == "" {
		finalURL = "https://" + domain + "/"
	}
	return &types.DomainReport{
		Domain:         domain,
		FinalURL:       finalURL,
		RelatedDomains: []string{domain},
		RedirectChain:  []types.RedirectHop{},
		Status:         types.ScanStatusSkipped,
		Reason:         pr.Reason,
	}
}

func blockedReport(domain, reason string) *types.DomainReport {
	return &types.DomainReport{
		Domain:         domain,
		FinalURL:       "https://" + domain + "/",
		RelatedDomains: []string{domain},
		RedirectChain:  []types.RedirectHop{},
		Status:         types.ScanStatusBlocked,
		Reason:         reason,
	}
}
