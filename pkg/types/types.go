package types

import (
	"fmt"
	"time"
)

// ScanStatus is the terminal state of one domain lookup as reported to the
// caller. "ok" means a browser scan completed, "skipped" means the pre-check
// classified the target as not worth a browser session, "blocked" means a
// browser scan was attempted and failed with a classified cause.
type ScanStatus string

const (
	ScanStatusOK      ScanStatus = "ok"
	ScanStatusSkipped ScanStatus = "skipped"
	ScanStatusBlocked ScanStatus = "blocked"
)

// Valid reports whether s is one of the three terminal states.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanStatusOK, ScanStatusSkipped, ScanStatusBlocked:
		return true
	}
	return false
}

// API error codes carried in error response bodies.
const (
	CodeBadDomain = "BAD_DOMAIN"
	CodeForbidden = "FORBIDDEN"
	CodeInternal  = "INTERNAL"
	CodeTimeout   = "TIMEOUT"
)

// Pre-check reason tags. Parameterised tags are built by the helpers below so
// that the exact shape is defined in one place.
const (
	ReasonAttachment   = "attachment"
	ReasonForbidden    = "forbidden"
	ReasonRedirectLoop = "redirect-loop"
)

// ReasonNonHTML tags a 2xx response whose Content-Type is not text/html.
func ReasonNonHTML(contentType string) string {
	return fmt.Sprintf("non-HTML (%s)", contentType)
}

// ReasonRedirectToFile tags a redirect whose target looks like a downloadable
// asset.
func ReasonRedirectToFile(target string) string {
	return fmt.Sprintf("redirect-to-file(%s)", target)
}

// ReasonMarketingRedirect tags a redirect chain that resolved to an HTML
// landing page at a different URL.
func ReasonMarketingRedirect(target string) string {
	return fmt.Sprintf("marketing-redirect(%s)", target)
}

// ReasonRedirectLoopExceeded tags a pre-check walk that ran out of hops.
func ReasonRedirectLoopExceeded(hops int) string {
	return fmt.Sprintf("redirect-loop(%d)", hops)
}

// RedirectHop is one document-level redirect: the response at From pointed the
// browser to To with the given 3xx status.
type RedirectHop struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Status int    `json:"status"`
}

// IsRedirectStatus reports whether the hop carries a 3xx status, the only
// range a well-formed chain may contain.
func (h RedirectHop) IsRedirectStatus() bool {
	return h.Status >= 300 && h.Status < 400
}

// ChainConnected reports whether consecutive hops link up: hop i's To must be
// hop i+1's From. An empty or single-hop chain is trivially connected.
func ChainConnected(chain []RedirectHop) bool {
	for i := 1; i < len(chain); i++ {
		if chain[i-1].To != chain[i].From {
			return false
		}
	}
	return true
}

// ScanResult is the immutable outcome of one browser scan.
type ScanResult struct {
	// Origin is the canonical hostname the scan started from.
	Origin string `json:"origin"`
	// FinalURL is the page URL after all document redirects settled.
	FinalURL string `json:"final_url"`
	// RelatedDomains is the sorted, deduplicated, noise-filtered set of
	// hostnames observed in any request or response. Origin is always present.
	RelatedDomains []string `json:"related_domains"`
	// RedirectChain holds document-level redirects in traversal order.
	RedirectChain []RedirectHop `json:"redirect_chain"`
	// DroppedDomains counts hosts discarded once the observation cap was hit.
	// Logged and exported as a metric, never part of the HTTP response.
	DroppedDomains int `json:"dropped_domains,omitempty"`
}

// DomainReport is the JSON body served for GET /domains.
type DomainReport struct {
	Domain         string        `json:"domain"`
	FinalURL       string        `json:"finalUrl"`
	RelatedDomains []string      `json:"relatedDomains"`
	RedirectChain  []RedirectHop `json:"redirectChain"`
	Cached         bool          `json:"cached"`
	CachedAt       int64         `json:"cachedAt,omitempty"`
	TTLAt          int64         `json:"ttlAt,omitempty"`
	Status         ScanStatus    `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	Note           string        `json:"note,omitempty"`
}

// Defaults for every tunable the service honours. Environment variables and
// the optional config file override these.
const (
	DefaultPort                 = 3000
	DefaultCacheTTL             = 21600 * time.Second
	DefaultMaxRedirectSteps     = 20
	DefaultPrecheckMaxRedirects = 15
	DefaultNavTimeout           = 30 * time.Second
	DefaultQuietWindow          = 650 * time.Millisecond
	DefaultSettlePoll           = 100 * time.Millisecond
	DefaultHardTimeout          = 70 * time.Second
	DefaultConcurrency          = 3
	DefaultMaxDomains           = 5000
	DefaultMaxRedirectLog       = 50
	DefaultSQLitePath           = "./cache.db"
	DefaultPrecheckTimeout      = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultEventFlushInterval   = 5 * time.Second
)
