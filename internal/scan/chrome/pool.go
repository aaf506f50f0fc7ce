package chrome

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	"github.com/domainscout/engine/internal/scan/metrics"
)

const healthCheckTimeout = 5 * time.Second

// Pool owns the single long-lived Chromium process. Scans acquire the shared
// browser context and open their own short-lived tab contexts off it; only
// the pool mutates the process handle, on launch, disconnection recovery and
// shutdown. States: absent (no process) and connected.
type Pool struct {
	cfg    *config.BrowserConfig
	mc     *metrics.MetricsCollector
	logger *zap.Logger

	mu              sync.Mutex
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	launched        bool

	heartbeatCtx    context.Context
	heartbeatCancel context.CancelFunc
	heartbeatWg     sync.WaitGroup
}

func NewPool(cfg *config.BrowserConfig, mc *metrics.MetricsCollector, logger *zap.Logger) *Pool {
	hbCtx, hbCancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:             cfg,
		mc:              mc,
		logger:          logger,
		heartbeatCtx:    hbCtx,
		heartbeatCancel: hbCancel,
	}
}

// Acquire returns the shared browser context, launching the process on first
// demand and relaunching when the stored handle has died. The returned
// context is only used to derive per-scan tab contexts.
func (p *Pool) Acquire(ctx context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.launched {
		if p.isAliveLocked() {
			return p.browserCtx, nil
		}
		p.logger.Warn("Browser process unresponsive, relaunching")
		p.teardownLocked()
		if p.mc != nil {
			p.mc.RecordBrowserRestart()
		}
	}

	if err := p.launchLocked(); err != nil {
		return nil, err
	}
	return p.browserCtx, nil
}

// launchLocked starts Chromium with the containerised flag set. Callers hold p.mu.
func (p *Pool) launchLocked() error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	}
	if p.cfg.ChromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(p.cfg.ChromiumPath))
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	p.allocatorCtx, p.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	p.browserCtx, p.browserCancel = chromedp.NewContext(p.allocatorCtx)

	// Starting the browser without navigating anywhere.
	if err := chromedp.Run(p.browserCtx); err != nil {
		p.teardownLocked()
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	p.launched = true
	p.logger.Info("Browser process launched",
		zap.String("exec_path", p.cfg.ChromiumPath))
	return nil
}

// isAliveLocked probes the process with a version query. Callers hold p.mu.
func (p *Pool) isAliveLocked() bool {
	ctx, cancel := context.WithTimeout(p.browserCtx, healthCheckTimeout)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))
	return err == nil
}

func (p *Pool) teardownLocked() {
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCancel = nil
	}
	if p.allocatorCancel != nil {
		p.allocatorCancel()
		p.allocatorCancel = nil
	}
	p.browserCtx = nil
	p.allocatorCtx = nil
	p.launched = false
}

// HandleScanFailure checks the handle after a failed scan and tears down a
// disconnected process so the next Acquire relaunches. The failing scan still
// fails; recovery is for the next caller.
func (p *Pool) HandleScanFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.launched {
		return
	}
	if p.isAliveLocked() {
		return
	}

	p.logger.Warn("Browser disconnected after failed scan, tearing down")
	p.teardownLocked()
	if p.mc != nil {
		p.mc.RecordBrowserRestart()
	}
}

// StartHeartbeat launches a background liveness check that reclaims a dead
// process between scans.
func (p *Pool) StartHeartbeat(interval time.Duration) {
	p.heartbeatWg.Add(1)
	go func() {
		defer p.heartbeatWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.checkHeartbeat()
			case <-p.heartbeatCtx.Done():
				return
			}
		}
	}()
}

func (p *Pool) checkHeartbeat() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.launched {
		return
	}
	if p.isAliveLocked() {
		return
	}

	p.logger.Warn("Heartbeat found browser dead, tearing down")
	p.teardownLocked()
	if p.mc != nil {
		p.mc.RecordBrowserRestart()
	}
}

// Shutdown stops the heartbeat and closes the browser process. The pool is
// not terminal: a later Acquire relaunches the process on demand.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.heartbeatCancel()

	done := make(chan struct{})
	go func() {
		p.heartbeatWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("Timed out waiting for heartbeat goroutine")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.launched {
		p.teardownLocked()
		p.logger.Info("Browser process closed")
	}
	return nil
}
