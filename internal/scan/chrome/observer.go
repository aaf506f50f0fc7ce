package chrome

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/domainscout/engine/pkg/types"
)

const settlePoll = types.DefaultSettlePoll

// observer accumulates what a single scan sees on the wire. CDP event
// handlers feed it from the listener goroutine while the scan goroutine polls
// it, so every method takes the mutex.
type observer struct {
	mu sync.Mutex

	inflight   int
	lastChange time.Time

	seen       map[string]struct{}
	maxDomains int
	dropped    int

	redirects      []types.RedirectHop
	redirectSeen   map[redirectKey]struct{}
	maxRedirectLog int

	documentHops int
}

type redirectKey struct {
	from string
	to   string
}

func newObserver(maxDomains, maxRedirectLog int) *observer {
	return &observer{
		lastChange:     time.Now(),
		seen:           make(map[string]struct{}),
		maxDomains:     maxDomains,
		redirectSeen:   make(map[redirectKey]struct{}),
		maxRedirectLog: maxRedirectLog,
	}
}

// RequestStarted records a fresh request for hostname. Redirect continuations
// reuse the in-flight slot of the request they continue, so continuation is
// set for requestWillBeSent events that carry a redirectResponse and only the
// hostname is recorded for those.
func (o *observer) RequestStarted(hostname string, continuation bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !continuation {
		o.inflight++
	}
	o.lastChange = time.Now()
	o.recordHostLocked(hostname)
}

// ResponseReceived settles one in-flight request.
func (o *observer) ResponseReceived(hostname string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight > 0 {
		o.inflight--
	}
	o.lastChange = time.Now()
	o.recordHostLocked(hostname)
}

// RequestFailed settles one in-flight request that never got a response.
func (o *observer) RequestFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight > 0 {
		o.inflight--
	}
	o.lastChange = time.Now()
}

func (o *observer) recordHostLocked(hostname string) {
	if hostname == "" {
		return
	}
	if _, ok := o.seen[hostname]; ok {
		return
	}
	if len(o.seen) >= o.maxDomains {
		o.dropped++
		return
	}
	o.seen[hostname] = struct{}{}
}

// HostSeen records a hostname without touching the in-flight accounting.
// Used for the source side of a redirect hop, which never had its own
// request event.
func (o *observer) HostSeen(hostname string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recordHostLocked(hostname)
}

// RedirectObserved appends a main-document hop to the redirect log; asset
// hops are ignored here since their hosts are already recorded by the request
// events. Repeated (from, to) pairs collapse into the first occurrence, so a
// tight loop produces a short log instead of max_redirect_log copies of the
// same edge.
func (o *observer) RedirectObserved(from, to string, status int, document bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !document {
		return
	}
	o.documentHops++

	key := redirectKey{from: from, to: to}
	if _, ok := o.redirectSeen[key]; ok {
		return
	}
	if len(o.redirects) >= o.maxRedirectLog {
		return
	}
	o.redirectSeen[key] = struct{}{}
	o.redirects = append(o.redirects, types.RedirectHop{From: from, To: to, Status: status})
}

// DocumentHops returns how many main-document redirects were observed.
func (o *observer) DocumentHops() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.documentHops
}

// WaitQuiet blocks until the network has been idle for quietWindow, the
// context expires, or the deadline passes. Idle means no request in flight
// and no activity inside the window. Returns true when the page settled and
// false when the time budget ran out first.
func (o *observer) WaitQuiet(ctx context.Context, quietWindow time.Duration, deadline time.Time) bool {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case now := <-ticker.C:
			if now.After(deadline) {
				return false
			}
			o.mu.Lock()
			settled := o.inflight == 0 && now.Sub(o.lastChange) >= quietWindow
			o.mu.Unlock()
			if settled {
				return true
			}
		}
	}
}

// Hostnames returns the recorded hosts in sorted order, excluding any the
// filter marks as noise, plus the count of hosts dropped over the cap.
func (o *observer) Hostnames(filter *NoiseFilter) ([]string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, 0, len(o.seen))
	for host := range o.seen {
		if filter != nil && filter.IsNoise(host) {
			continue
		}
		out = append(out, host)
	}
	sort.Strings(out)
	return out, o.dropped
}

// RedirectLog returns a copy of the deduplicated redirect hops in observation
// order.
func (o *observer) RedirectLog() []types.RedirectHop {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]types.RedirectHop, len(o.redirects))
	copy(out, o.redirects)
	return out
}
