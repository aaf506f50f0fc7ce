package events

import "time"

// ScanEvent captures the outcome of a single scan request for offline
// analysis. One event is emitted per request, cache hits included.
type ScanEvent struct {
	// Identifiers
	RequestID string `json:"request_id"`
	Domain    string `json:"domain"`

	// Outcome
	Outcome string `json:"outcome"` // ok, skipped, blocked, error
	Code    string `json:"code"`    // error code, empty on success
	Reason  string `json:"reason"`  // skip/block reason tag, empty otherwise

	// Result shape
	FinalURL       string `json:"final_url"`
	DomainCount    int    `json:"domain_count"`
	DroppedDomains int    `json:"dropped_domains"`
	RedirectHops   int    `json:"redirect_hops"`

	// Pipeline path
	CacheStatus   string  `json:"cache_status"` // hit, miss
	PrecheckClass string  `json:"precheck_class"`
	Duration      float64 `json:"duration"` // seconds

	CreatedAt time.Time `json:"created_at"`
}
