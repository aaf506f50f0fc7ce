package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	"github.com/domainscout/engine/internal/scan/cache"
	"github.com/domainscout/engine/internal/scan/chrome"
	"github.com/domainscout/engine/internal/scan/events"
	"github.com/domainscout/engine/internal/scan/metrics"
	"github.com/domainscout/engine/internal/scan/precheck"
	"github.com/domainscout/engine/pkg/types"
)

type fakeStore struct {
	mu        sync.Mutex
	entries   map[string]*cache.Entry
	lookupErr error
	upsertErr error
	upserts   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*cache.Entry)}
}

func (s *fakeStore) Init(ctx context.Context) error { return nil }

func (s *fakeStore) Lookup(ctx context.Context, domain string) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.entries[domain], nil
}

func (s *fakeStore) Upsert(ctx context.Context, domain string, result *types.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, domain)
	now := time.Now().Unix()
	s.entries[domain] = &cache.Entry{
		Domain:         domain,
		RelatedDomains: result.RelatedDomains,
		FinalURL:       result.FinalURL,
		RedirectChain:  result.RedirectChain,
		UpdatedAt:      now,
		TTLAt:          now + 3600,
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeChecker struct {
	result *precheck.Result
}

func (c *fakeChecker) Check(ctx context.Context, domain string) *precheck.Result {
	if c.result != nil {
		return c.result
	}
	return &precheck.Result{Class: precheck.ClassOK, StartURL: "https://" + domain + "/"}
}

type fakeScanner struct {
	mu        sync.Mutex
	result    *types.ScanResult
	err       error
	block     bool
	gate      chan struct{}
	calls     int
	active    int
	maxActive int
	lastStart string
}

func (f *fakeScanner) Scan(ctx context.Context, requestID, origin, startURL string) (*types.ScanResult, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.lastStart = startURL
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &types.ScanResult{
		Origin:         origin,
		FinalURL:       startURL,
		RelatedDomains: []string{origin},
		RedirectChain:  []types.RedirectHop{},
	}, nil
}

func (f *fakeScanner) scanCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeScanner) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

type captureEmitter struct {
	mu     sync.Mutex
	events []*events.ScanEvent
}

func (c *captureEmitter) Emit(event *events.ScanEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEmitter) Close() error { return nil }

func (c *captureEmitter) last() *events.ScanEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

type fixture struct {
	orch    *Orchestrator
	store   *fakeStore
	checker *fakeChecker
	scanner *fakeScanner
	emitter *captureEmitter
}

func newFixture(t *testing.T, mutate func(cfg *config.ScanConfig)) *fixture {
	t.Helper()

	cfg := &config.ScanConfig{
		MaxRedirectSteps: types.DefaultMaxRedirectSteps,
		HardTimeout:      types.Duration(5 * time.Second),
	}
	if mutate != nil {
		mutate(cfg)
	}

	mc := metrics.NewMetricsCollectorWithPrometheus(
		metrics.NewPrometheusMetricsWithRegistry("test", prometheus.NewRegistry(), zap.NewNop()),
		zap.NewNop(),
	)

	f := &fixture{
		store:   newFakeStore(),
		checker: &fakeChecker{},
		scanner: &fakeScanner{},
		emitter: &captureEmitter{},
	}
	f.orch = New(cfg, 2, f.store, f.checker, f.scanner, f.emitter, mc, zap.NewNop())
	return f
}

func TestHandleBadDomain(t *testing.T) {
	f := newFixture(t, nil)

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "not a domain at all///")
	assert.Nil(t, report)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, types.CodeBadDomain, apiErr.Code)
	assert.Equal(t, 0, f.scanner.scanCalls())

	ev := f.emitter.last()
	require.NotNil(t, ev)
	assert.Equal(t, "error", ev.Outcome)
	assert.Equal(t, types.CodeBadDomain, ev.Code)
}

func TestHandlePrivateTarget(t *testing.T) {
	f := newFixture(t, nil)

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "127.0.0.1")
	assert.Nil(t, report)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, types.CodeForbidden, apiErr.Code)
	assert.Equal(t, 0, f.scanner.scanCalls())
}

func TestHandlePrivateTargetAllowed(t *testing.T) {
	f := newFixture(t, func(cfg *config.ScanConfig) {
		cfg.AllowPrivateHosts = true
	})

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "127.0.0.1")
	require.Nil(t, apiErr)
	require.NotNil(t, report)
	assert.Equal(t, types.ScanStatusOK, report.Status)
	assert.Equal(t, 1, f.scanner.scanCalls())
}

func TestHandleCacheHit(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().Unix()
	f.store.entries["example.com"] = &cache.Entry{
		Domain:         "example.com",
		RelatedDomains: []string{"cdn.example.com", "example.com"},
		FinalURL:       "https://www.example.com/",
		RedirectChain:  []types.RedirectHop{{From: "https://example.com/", To: "https://www.example.com/", Status: 301}},
		UpdatedAt:      now - 60,
		TTLAt:          now + 3600,
	}

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	require.Nil(t, apiErr)
	require.NotNil(t, report)
	assert.True(t, report.Cached)
	assert.Equal(t, now-60, report.CachedAt)
	assert.Equal(t, now+3600, report.TTLAt)
	assert.Equal(t, types.ScanStatusOK, report.Status)
	assert.Equal(t, "https://www.example.com/", report.FinalURL)
	assert.Equal(t, 0, f.scanner.scanCalls())

	ev := f.emitter.last()
	require.NotNil(t, ev)
	assert.Equal(t, "hit", ev.CacheStatus)
}

func TestHandleScanSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner.result = &types.ScanResult{
		Origin:         "example.com",
		FinalURL:       "https://www.example.com/",
		RelatedDomains: []string{"api.example.com", "example.com"},
		RedirectChain:  []types.RedirectHop{},
	}

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	require.Nil(t, apiErr)
	require.NotNil(t, report)
	assert.Equal(t, types.ScanStatusOK, report.Status)
	assert.False(t, report.Cached)
	assert.Equal(t, []string{"api.example.com", "example.com"}, report.RelatedDomains)
	assert.Equal(t, "https://example.com/", f.scanner.lastStart)
	assert.Equal(t, []string{"example.com"}, f.store.upserts)
}

func TestHandleLookupErrorDegradesToScan(t *testing.T) {
	f := newFixture(t, nil)
	f.store.lookupErr = errors.New("backend offline")

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	require.Nil(t, apiErr)
	require.NotNil(t, report)
	assert.Equal(t, types.ScanStatusOK, report.Status)
	assert.Equal(t, 1, f.scanner.scanCalls())
}

func TestHandleSkipClasses(t *testing.T) {
	tests := []struct {
		name   string
		result *precheck.Result
	}{
		{
			name: "attachment",
			result: &precheck.Result{
				Class:    precheck.ClassAttachment,
				Skip:     true,
				Reason:   types.ReasonAttachment,
				FinalURL: "https://example.com/",
			},
		},
		{
			name: "non-HTML",
			result: &precheck.Result{
				Class:    precheck.ClassNonHTML,
				Skip:     true,
				Reason:   types.ReasonNonHTML("application/json"),
				FinalURL: "https://example.com/",
			},
		},
		{
			name: "redirect to file",
			result: &precheck.Result{
				Class:    precheck.ClassRedirectToFile,
				Skip:     true,
				Reason:   types.ReasonRedirectToFile("https://example.com/report.pdf"),
				FinalURL: "https://example.com/report.pdf",
			},
		},
		{
			name: "redirect loop without html hint",
			result: &precheck.Result{
				Class:    precheck.ClassRedirectLoop,
				Skip:     true,
				Reason:   types.ReasonRedirectLoop,
				FinalURL: "https://example.com/a",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.checker.result = tt.result

			report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
			require.Nil(t, apiErr)
			require.NotNil(t, report)
			assert.Equal(t, types.ScanStatusSkipped, report.Status)
			assert.Equal(t, tt.result.Reason, report.Reason)
			assert.Equal(t, tt.result.FinalURL, report.FinalURL)
			assert.Equal(t, []string{"example.com"}, report.RelatedDomains)
			assert.Equal(t, 0, f.scanner.scanCalls())
			assert.Empty(t, f.store.upserts, "skip outcomes are never cached")
		})
	}
}

func TestHandleMarketingRedirect(t *testing.T) {
	f := newFixture(t, nil)
	f.checker.result = &precheck.Result{
		Class:    precheck.ClassMarketingRedirect,
		Reason:   types.ReasonMarketingRedirect("https://landing.example.net/promo"),
		StartURL: "https://landing.example.net/promo",
		FinalURL: "https://landing.example.net/promo",
		SawHTML:  true,
	}

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	require.Nil(t, apiErr)
	require.NotNil(t, report)
	assert.Equal(t, types.ScanStatusOK, report.Status)
	assert.Equal(t, "https://landing.example.net/promo", f.scanner.lastStart)
	assert.Equal(t, types.ReasonMarketingRedirect("https://landing.example.net/promo"), report.Note)
}

func TestHandleForbiddenPrecheck(t *testing.T) {
	forbiddenResult := &precheck.Result{
		Class:      precheck.ClassForbidden,
		Skip:       true,
		TryBrowser: true,
		Reason:     types.ReasonForbidden,
		StartURL:   "https://example.com/",
		FinalURL:   "https://example.com/",
	}

	t.Run("browser rescues a 403 probe", func(t *testing.T) {
		f := newFixture(t, nil)
		f.checker.result = forbiddenResult

		report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
		require.Nil(t, apiErr)
		require.NotNil(t, report)
		assert.Equal(t, types.ScanStatusOK, report.Status)
	})

	t.Run("scan failure maps to 403 with blocked report", func(t *testing.T) {
		f := newFixture(t, nil)
		f.checker.result = forbiddenResult
		f.scanner.err = errors.New("navigation failed: blocked by bot wall")

		report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
		assert.Nil(t, report)
		require.NotNil(t, apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.Status)
		assert.Equal(t, types.CodeForbidden, apiErr.Code)
		require.NotNil(t, apiErr.Report)
		assert.Equal(t, types.ScanStatusBlocked, apiErr.Report.Status)
		assert.Equal(t, types.ReasonForbidden, apiErr.Report.Reason)
		assert.Empty(t, f.store.upserts)
	})
}

func TestHandleScanErrorWith403Substring(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner.err = errors.New("navigation failed: server returned 403")

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	assert.Nil(t, report)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	require.NotNil(t, apiErr.Report)
	assert.Equal(t, types.ScanStatusBlocked, apiErr.Report.Status)
}

func TestHandleTooManyRedirects(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner.err = chrome.ErrTooManyRedirects

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	require.Nil(t, apiErr)
	require.NotNil(t, report)
	assert.Equal(t, types.ScanStatusBlocked, report.Status)
	assert.Equal(t, types.ReasonRedirectLoopExceeded(types.DefaultMaxRedirectSteps), report.Reason)
	assert.Empty(t, f.store.upserts)
}

func TestHandleLoopWithHTMLHintBlocked(t *testing.T) {
	f := newFixture(t, nil)
	f.checker.result = &precheck.Result{
		Class:      precheck.ClassRedirectLoop,
		Skip:       true,
		TryBrowser: true,
		Reason:     types.ReasonRedirectLoopExceeded(15),
		StartURL:   "https://example.com/",
		SawHTML:    true,
	}
	f.scanner.err = errors.New("navigation failed")

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	require.Nil(t, apiErr)
	require.NotNil(t, report)
	assert.Equal(t, types.ScanStatusBlocked, report.Status)
	assert.Equal(t, types.ReasonRedirectLoopExceeded(15), report.Reason)
}

func TestHandleGenericScanError(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner.err = errors.New("browser crashed")

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	assert.Nil(t, report)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, types.CodeInternal, apiErr.Code)
}

func TestHandleHardTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *config.ScanConfig) {
		cfg.HardTimeout = types.Duration(150 * time.Millisecond)
	})
	f.scanner.block = true

	report, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	assert.Nil(t, report)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.Status)
	assert.Equal(t, types.CodeTimeout, apiErr.Code)
	assert.Empty(t, f.store.upserts)
}

func TestHandleConcurrencyCap(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	f.scanner.gate = release

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		domain := fmt.Sprintf("site-%d.example.com", i)
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			_, apiErr := f.orch.Handle(context.Background(), "req-"+domain, domain)
			assert.Nil(t, apiErr)
		}(domain)
	}

	// Two scans fill the semaphore; the rest queue behind it.
	require.Eventually(t, func() bool { return f.scanner.scanCalls() == 2 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, f.scanner.scanCalls())

	for i := 0; i < 5; i++ {
		release <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, 5, f.scanner.scanCalls())
	assert.Equal(t, 2, f.scanner.maxConcurrent())
}

func TestHandleSecondRequestServedFromCache(t *testing.T) {
	f := newFixture(t, nil)

	first, apiErr := f.orch.Handle(context.Background(), "req-1", "example.com")
	require.Nil(t, apiErr)
	assert.False(t, first.Cached)

	second, apiErr := f.orch.Handle(context.Background(), "req-2", "example.com")
	require.Nil(t, apiErr)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, f.scanner.scanCalls())
}
