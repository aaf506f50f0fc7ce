package chrome

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	"github.com/domainscout/engine/internal/common/urlutil"
	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/pkg/types"
)

const (
	redirectLimitBody = "Loop Detected: too many redirects"
	fetchCmdTimeout   = 2 * time.Second
	downloadGrace     = 1 * time.Second
)

// Scanner drives a full page load in a fresh tab and reports every hostname
// the page touched, plus the main-document redirect chain.
type Scanner struct {
	cfg    *config.ScanConfig
	pool   *Pool
	filter *NoiseFilter
	mc     *metrics.MetricsCollector
	logger *zap.Logger
}

func NewScanner(cfg *config.ScanConfig, pool *Pool, filter *NoiseFilter, mc *metrics.MetricsCollector, logger *zap.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		pool:   pool,
		filter: filter,
		mc:     mc,
		logger: logger,
	}
}

// Scan loads startURL in a new tab, waits for the network to settle and
// returns the observed hostnames and redirect chain for origin. The caller's
// context bounds the whole scan; cancellation tears the tab down.
func (s *Scanner) Scan(ctx context.Context, requestID, origin, startURL string) (*types.ScanResult, error) {
	browserCtx, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	// Kill the tab when the caller's deadline fires; the tab context is
	// derived from the browser context, not from ctx.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	obs := newObserver(s.cfg.MaxDomains, s.cfg.MaxRedirectLog)

	var limitHit atomic.Bool
	var downloadStarted atomic.Bool

	deadline := time.Now().Add(s.cfg.NavTimeout.ToDuration())

	err = chromedp.Run(tabCtx,
		s.installListeners(obs, &limitHit, &downloadStarted, requestID),
		network.Enable(),
		// Intercept main-document requests only; asset requests are
		// observed but never paused.
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*", ResourceType: network.ResourceTypeDocument},
		}),
		enableLifecycleEvents(),
		emulation.SetUserAgentOverride(s.cfg.UserAgent),
		emulation.SetLocaleOverride().WithLocale("en-US"),
		emulation.SetTimezoneOverride("UTC"),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "en-US",
		}),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath("/tmp").
			WithEventsEnabled(true),
		s.navigate(startURL, requestID, &downloadStarted),
	)
	if err != nil {
		s.pool.HandleScanFailure()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrNavTimeout, ctx.Err())
		}
		return nil, err
	}

	settled := obs.WaitQuiet(tabCtx, s.cfg.QuietWindow.ToDuration(), deadline)
	if !settled && tabCtx.Err() != nil {
		s.pool.HandleScanFailure()
		return nil, fmt.Errorf("%w: %v", ErrNavTimeout, tabCtx.Err())
	}

	if limitHit.Load() || obs.DocumentHops() > s.cfg.MaxRedirectSteps {
		if s.mc != nil {
			s.mc.RecordRedirectLimit()
		}
		return nil, fmt.Errorf("%w (%d)", ErrTooManyRedirects, s.cfg.MaxRedirectSteps)
	}

	var finalURL string
	if err := chromedp.Run(tabCtx, chromedp.Location(&finalURL)); err != nil {
		s.pool.HandleScanFailure()
		return nil, fmt.Errorf("%w: reading final url: %v", ErrNavigateFailed, err)
	}
	if finalURL == "" || finalURL == "about:blank" {
		// A download aborted the navigation and the tab never left its
		// initial document.
		finalURL = startURL
	}

	chain := obs.RedirectLog()
	if len(chain) > s.cfg.MaxRedirectSteps {
		if s.mc != nil {
			s.mc.RecordRedirectLimit()
		}
		return nil, fmt.Errorf("%w (%d)", ErrTooManyRedirects, s.cfg.MaxRedirectSteps)
	}

	hosts, dropped := obs.Hostnames(s.filter)
	hosts = ensureOrigin(hosts, origin)
	if dropped > 0 && s.mc != nil {
		s.mc.RecordDroppedDomains(dropped)
	}

	s.logger.Debug("Scan settled",
		zap.String("request_id", requestID),
		zap.String("origin", origin),
		zap.String("final_url", finalURL),
		zap.Int("domains", len(hosts)),
		zap.Int("redirect_hops", len(chain)),
		zap.Bool("settled", settled),
		zap.Bool("download", downloadStarted.Load()))

	return &types.ScanResult{
		Origin:         origin,
		FinalURL:       finalURL,
		RelatedDomains: hosts,
		RedirectChain:  chain,
		DroppedDomains: dropped,
	}, nil
}

// installListeners wires the CDP event stream into the observer. Fetch pause
// events are handled in goroutines with their own command timeout so a slow
// Continue never stalls the listener.
func (s *Scanner) installListeners(obs *observer, limitHit, downloadStarted *atomic.Bool, requestID string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		chromedp.ListenTarget(ctx, func(event interface{}) {
			switch ev := event.(type) {
			case *fetch.EventRequestPaused:
				go func(ev *fetch.EventRequestPaused) {
					cmdCtx, cancel := context.WithTimeout(ctx, fetchCmdTimeout)
					defer cancel()
					c := chromedp.FromContext(cmdCtx)
					executor := cdp.WithExecutor(cmdCtx, c.Target)

					if obs.DocumentHops() >= s.cfg.MaxRedirectSteps {
						limitHit.Store(true)
						body := base64.StdEncoding.EncodeToString([]byte(redirectLimitBody))
						err := fetch.FulfillRequest(ev.RequestID, 508).
							WithResponseHeaders([]*fetch.HeaderEntry{
								{Name: "Content-Type", Value: "text/plain"},
							}).
							WithBody(body).
							Do(executor)
						if err != nil {
							s.logger.Warn("Failed to fulfill redirect-limit sentinel",
								zap.String("request_id", requestID),
								zap.String("url", ev.Request.URL),
								zap.Error(err))
							fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(executor)
						}
						return
					}

					if err := fetch.ContinueRequest(ev.RequestID).Do(executor); err != nil {
						s.logger.Warn("Failed to continue request, failing instead to prevent hang",
							zap.String("request_id", requestID),
							zap.String("url", ev.Request.URL),
							zap.Error(err))
						fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(executor)
					}
				}(ev)

			case *network.EventRequestWillBeSent:
				host := urlutil.ExtractHost(ev.Request.URL)
				if ev.RedirectResponse != nil {
					// Continuation of an earlier request; the in-flight
					// slot carries over.
					obs.RequestStarted(host, true)
					obs.HostSeen(urlutil.ExtractHost(ev.RedirectResponse.URL))
					obs.RedirectObserved(
						ev.RedirectResponse.URL,
						ev.Request.URL,
						int(ev.RedirectResponse.Status),
						ev.Type == network.ResourceTypeDocument,
					)
				} else {
					obs.RequestStarted(host, false)
				}

			case *network.EventResponseReceived:
				obs.ResponseReceived(urlutil.ExtractHost(ev.Response.URL))
				if ev.Type == network.ResourceTypeDocument && ev.Response.Status == 508 {
					limitHit.Store(true)
				}

			case *network.EventLoadingFailed:
				obs.RequestFailed()

			case *browser.EventDownloadWillBegin:
				downloadStarted.Store(true)
				obs.HostSeen(urlutil.ExtractHost(ev.URL))
				s.logger.Info("Download started during scan, ignoring",
					zap.String("request_id", requestID),
					zap.String("url", ev.URL))
			}
		})
		return nil
	}
}

// navigate starts the page load and waits for DOMContentLoaded. The wait is
// soft: the settle loop still runs when the event never arrives in time. A
// navigation abort caused by a download is swallowed.
func (s *Scanner) navigate(startURL, requestID string, downloadStarted *atomic.Bool) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		frameID, loaderID, errorText, _, err := page.Navigate(startURL).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNavigateFailed, err)
		}
		if errorText != "" {
			// The download event can trail the navigate reply.
			graceEnd := time.Now().Add(downloadGrace)
			for !downloadStarted.Load() && time.Now().Before(graceEnd) && ctx.Err() == nil {
				time.Sleep(50 * time.Millisecond)
			}
			if downloadStarted.Load() {
				s.logger.Debug("Navigation aborted by download",
					zap.String("request_id", requestID),
					zap.String("url", startURL),
					zap.String("error_text", errorText))
				return nil
			}
			return fmt.Errorf("%w: %s", ErrNavigateFailed, errorText)
		}

		err = waitDOMContentLoaded(ctx, string(frameID), string(loaderID), s.cfg.NavTimeout.ToDuration())
		if err != nil {
			// Soft: the page may still be usable, the settle loop decides.
			s.logger.Debug("DOMContentLoaded wait gave up",
				zap.String("request_id", requestID),
				zap.String("url", startURL),
				zap.Error(err))
		}
		return nil
	}
}

// waitDOMContentLoaded blocks until the DOMContentLoaded lifecycle event for
// the given navigation, the timeout, or context cancellation.
func waitDOMContentLoaded(ctx context.Context, frameID, loaderID string, timeout time.Duration) error {
	ch := make(chan struct{})

	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			if string(e.FrameID) == frameID && string(e.LoaderID) == loaderID &&
				e.Name == "DOMContentLoaded" {
				cancel()
				close(ch)
			}
		}
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return ErrNavTimeout
	}
}

func enableLifecycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

// ensureOrigin guarantees the scanned domain appears in its own report even
// when a noise pattern would have filtered it.
func ensureOrigin(hosts []string, origin string) []string {
	for _, h := range hosts {
		if h == origin {
			return hosts
		}
	}
	out := make([]string, 0, len(hosts)+1)
	inserted := false
	for _, h := range hosts {
		if !inserted && h > origin {
			out = append(out, origin)
			inserted = true
		}
		out = append(out, h)
	}
	if !inserted {
		out = append(out, origin)
	}
	return out
}
