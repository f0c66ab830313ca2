// Package robots parses robots.txt into per-host directives and caches them.
package robots

import (
	"strings"
	"time"
)

// DefaultTTL is how long fetched directives stay fresh.
const DefaultTTL = 12 * time.Hour

// Directives are the rules of one robots.txt group for one host. Values are
// immutable once stored in a Cache; refreshes replace them whole.
type Directives struct {
	Allowed    []string
	Disallowed []string
	// CrawlDelay is the minimum spacing between requests to the host,
	// kept at millisecond precision.
	CrawlDelay time.Duration
	FetchedAt  time.Time
}

// CrawlDelayMillis returns the crawl delay in milliseconds.
func (d *Directives) CrawlDelayMillis() int64 {
	return d.CrawlDelay.Milliseconds()
}

// IsExpired reports whether the directives are older than DefaultTTL.
func (d *Directives) IsExpired() bool {
	return d.ExpiredAt(time.Now(), DefaultTTL)
}

// ExpiredAt reports whether the directives are older than ttl at now.
func (d *Directives) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(d.FetchedAt) >= ttl
}

// Permits reports whether path may be requested. The longest matching
// disallow rule wins only if it is longer than the longest matching allow
// rule; a path no rule matches is allowed.
func (d *Directives) Permits(path string) bool {
	if path == "" {
		path = "/"
	}

	disallow := longestMatch(d.Disallowed, path)
	if disallow == 0 {
		return true
	}
	return disallow <= longestMatch(d.Allowed, path)
}

func longestMatch(rules []string, path string) int {
	best := 0
	for _, rule := range rules {
		if len(rule) > best && matches(rule, path) {
			best = len(rule)
		}
	}
	return best
}

// matches is a prefix match that stops on segment boundaries: "/shop"
// matches "/shop", "/shop/x" and "/shop?q" but not "/shopping".
func matches(rule, path string) bool {
	if rule == "" || !strings.HasPrefix(path, rule) {
		return false
	}
	if len(path) == len(rule) || strings.HasSuffix(rule, "/") {
		return true
	}
	switch path[len(rule)] {
	case '/', '?', '#':
		return true
	}
	return false
}
