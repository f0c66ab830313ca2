package redirect

import (
	"context"
	"strings"
	"sync"
	"time"
)

// sweepInterval is how often stale host slots are swept.
const sweepInterval = time.Minute

// HostDelay spaces requests to the same host. Each Wait reserves the next
// free slot for the host before sleeping, so concurrent callers queue up
// instead of firing together once a delay elapses. A host's slot is
// forgotten once it is older than the largest delay seen so far.
type HostDelay struct {
	mu        sync.Mutex
	next      map[string]time.Time
	now       func() time.Time
	maxDelay  time.Duration
	lastSweep time.Time
}

// NewHostDelay creates an empty delay tracker.
func NewHostDelay() *HostDelay {
	return &HostDelay{
		next: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Wait blocks until at least delay has passed since the previous request
// to host, then records this request. A zero delay never blocks but still
// records the request time.
func (h *HostDelay) Wait(ctx context.Context, host string, delay time.Duration) error {
	if h == nil || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	h.mu.Lock()
	now := h.now()
	if delay > h.maxDelay {
		h.maxDelay = delay
	}
	h.sweepLocked(now, false)
	at := now
	if last, ok := h.next[host]; ok && delay > 0 {
		if earliest := last.Add(delay); earliest.After(at) {
			at = earliest
		}
	}
	h.next[host] = at
	h.mu.Unlock()

	sleep := at.Sub(now)
	if sleep <= 0 {
		return nil
	}

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mark records a request to host now without waiting. A slot already
// reserved further in the future is kept.
func (h *HostDelay) Mark(host string) {
	if h == nil || host == "" {
		return
	}
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.sweepLocked(now, false)
	if last, ok := h.next[host]; !ok || last.Before(now) {
		h.next[host] = now
	}
}

// Last returns when the latest request to host was scheduled.
func (h *HostDelay) Last(host string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.next[strings.ToLower(host)]
	return t, ok
}

// Prune forgets hosts whose last slot is older than the largest delay seen
// and returns how many were dropped.
func (h *HostDelay) Prune() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sweepLocked(h.now(), true)
}

// Len returns the number of tracked hosts.
func (h *HostDelay) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.next)
}

func (h *HostDelay) sweepLocked(now time.Time, force bool) int {
	if !force && now.Sub(h.lastSweep) < sweepInterval {
		return 0
	}
	h.lastSweep = now
	n := 0
	for host, at := range h.next {
		if !at.Add(h.maxDelay).After(now) {
			delete(h.next, host)
			n++
		}
	}
	return n
}
