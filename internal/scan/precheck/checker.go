package precheck

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/domainscout/engine/internal/common/config"
	"github.com/domainscout/engine/pkg/types"
)

// Termination classes, used as metric labels.
const (
	ClassOK                = "ok"
	ClassAttachment        = "attachment"
	ClassNonHTML           = "non_html"
	ClassForbidden         = "forbidden"
	ClassRedirectToFile    = "redirect_to_file"
	ClassMarketingRedirect = "marketing_redirect"
	ClassRedirectLoop      = "redirect_loop"
	ClassProceed           = "proceed"
)

// downloadableSuffixes is the closed set of path suffixes treated as file
// assets rather than pages.
var downloadableSuffixes = []string{
	".zip", ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg",
	".mp4", ".mp3", ".wav", ".csv", ".xls", ".xlsx", ".doc", ".docx",
	".ppt", ".pptx", ".exe", ".deb", ".rpm", ".apk", ".tar", ".tar.gz",
	".7z", ".gz", ".bz2",
}

// downloadKeywords are path substrings that mark a redirect target as a
// download endpoint even without a file suffix.
var downloadKeywords = []string{"download", "file", "export"}

// Result routes the orchestrator. Skip=false means a browser scan should run
// from StartURL; Skip with TryBrowser set means the browser may still be
// attempted (forbidden targets, loops that served HTML along the way).
type Result struct {
	Class      string
	Skip       bool
	TryBrowser bool
	Reason     string // precheck tag for responses; empty on plain ok/proceed
	StartURL   string // where the browser scan should start
	FinalURL   string // pre-resolved final URL for skip responses
	SawHTML    bool
}

// Checker walks redirects manually over a plain HTTP client, classifying a
// target before a browser session is committed. The client never follows
// redirects itself; every hop is inspected here.
type Checker struct {
	client       *http.Client
	maxRedirects int
	userAgent    string
	logger       *zap.Logger
}

func NewChecker(cfg *config.PrecheckConfig, userAgent string, logger *zap.Logger) *Checker {
	return &Checker{
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		maxRedirects: cfg.MaxRedirects,
		userAgent:    userAgent,
		logger:       logger,
	}
}

// Check walks from https://<domain>/ and classifies the target.
func (c *Checker) Check(ctx context.Context, domain string) *Result {
	return c.CheckURL(ctx, "https://"+domain+"/")
}

// CheckURL runs the walk from an explicit start URL.
func (c *Checker) CheckURL(ctx context.Context, startURL string) *Result {
	cur, err := url.Parse(startURL)
	if err != nil {
		return &Result{Class: ClassProceed, StartURL: startURL}
	}

	visited := make(map[string]bool)
	sawHTML := false

	for hop := 0; ; hop++ {
		if hop >= c.maxRedirects {
			return c.loopResult(startURL, cur.String(),
				types.ReasonRedirectLoopExceeded(c.maxRedirects), sawHTML)
		}

		key := stripFragment(cur)
		if visited[key] {
			return c.loopResult(startURL, cur.String(), types.ReasonRedirectLoop, sawHTML)
		}
		visited[key] = true

		resp, err := c.fetch(ctx, cur.String())
		if err != nil {
			// Transport failure: the browser stack may still succeed where a
			// bare client cannot (TLS quirks, protocol upgrades).
			c.logger.Debug("Precheck fetch failed, deferring to browser",
				zap.String("url", cur.String()),
				zap.Error(err))
			return &Result{Class: ClassProceed, StartURL: startURL, SawHTML: sawHTML}
		}

		contentType := resp.Header.Get("Content-Type")
		disposition := resp.Header.Get("Content-Disposition")
		location := resp.Header.Get("Location")
		status := resp.StatusCode
		drainBody(resp)

		isHTML := strings.HasPrefix(strings.ToLower(contentType), "text/html")
		if isHTML {
			sawHTML = true
		}

		if strings.Contains(strings.ToLower(disposition), "attachment") {
			return &Result{
				Class:    ClassAttachment,
				Skip:     true,
				Reason:   types.ReasonAttachment,
				FinalURL: cur.String(),
				SawHTML:  sawHTML,
			}
		}

		switch {
		case status == http.StatusForbidden:
			return &Result{
				Class:      ClassForbidden,
				Skip:       true,
				TryBrowser: true,
				Reason:     types.ReasonForbidden,
				StartURL:   startURL,
				FinalURL:   cur.String(),
				SawHTML:    sawHTML,
			}

		case status >= 200 && status < 300:
			if !isHTML {
				return &Result{
					Class:    ClassNonHTML,
					Skip:     true,
					Reason:   types.ReasonNonHTML(mediaType(contentType)),
					FinalURL: cur.String(),
					SawHTML:  sawHTML,
				}
			}
			if hop == 0 {
				return &Result{Class: ClassOK, StartURL: startURL, SawHTML: true}
			}
			// An earlier 3xx hop resolved to an HTML page elsewhere: start
			// the browser on the real landing page.
			return &Result{
				Class:    ClassMarketingRedirect,
				Reason:   types.ReasonMarketingRedirect(cur.String()),
				StartURL: cur.String(),
				FinalURL: cur.String(),
				SawHTML:  true,
			}

		case status >= 300 && status < 400:
			if location == "" {
				return &Result{Class: ClassProceed, StartURL: startURL, SawHTML: sawHTML}
			}
			next, err := cur.Parse(location)
			if err != nil {
				c.logger.Debug("Precheck got unparseable Location, deferring to browser",
					zap.String("url", cur.String()),
					zap.String("location", location))
				return &Result{Class: ClassProceed, StartURL: startURL, SawHTML: sawHTML}
			}
			if looksLikeFile(next) {
				target := next.String()
				return &Result{
					Class:    ClassRedirectToFile,
					Skip:     true,
					Reason:   types.ReasonRedirectToFile(target),
					FinalURL: target,
					SawHTML:  sawHTML,
				}
			}
			cur = next

		default:
			// 4xx/5xx other than 403: the probe proved nothing either way.
			return &Result{Class: ClassProceed, StartURL: startURL, SawHTML: sawHTML}
		}
	}
}

func (c *Checker) fetch(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	return c.client.Do(req)
}

// loopResult applies the escalation rule: a loop that served HTML on any
// walked hop is still worth a browser attempt.
func (c *Checker) loopResult(startURL, lastURL, reason string, sawHTML bool) *Result {
	return &Result{
		Class:      ClassRedirectLoop,
		Skip:       true,
		TryBrowser: sawHTML,
		Reason:     reason,
		StartURL:   startURL,
		FinalURL:   lastURL,
		SawHTML:    sawHTML,
	}
}

// drainBody reads a small prefix then closes, keeping connections reusable
// without pulling whole payloads.
func drainBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
	resp.Body.Close()
}

func stripFragment(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	return clone.String()
}

// looksLikeFile reports whether a redirect target points at a downloadable
// asset: a known file suffix or a download-ish path segment.
func looksLikeFile(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, suffix := range downloadableSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	for _, keyword := range downloadKeywords {
		if strings.Contains(path, keyword) {
			return true
		}
	}
	return false
}

// mediaType trims parameters from a Content-Type header value.
func mediaType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType)
}
