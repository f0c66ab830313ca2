// Package redirect decides whether and where a 3xx response may be followed.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
	"github.com/GriffinCanCode/marketwire/internal/transport/request"
	"github.com/GriffinCanCode/marketwire/internal/transport/robots"
)

// DefaultMaxHops matches net/http's redirect limit.
const DefaultMaxHops = 10

// Policy resolves redirect targets against robot directives and paces
// requests per host.
type Policy struct {
	robots     *robots.Cache
	delays     *HostDelay
	crawlDelay time.Duration
	maxHops    int
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// Options configure a Policy. A nil Robots cache allows every target.
type Options struct {
	Robots     *robots.Cache
	CrawlDelay time.Duration
	MaxHops    int
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
}

// NewPolicy creates a policy. MaxHops < 0 uses DefaultMaxHops.
func NewPolicy(opts Options) *Policy {
	maxHops := opts.MaxHops
	if maxHops < 0 {
		maxHops = DefaultMaxHops
	}
	return &Policy{
		robots:     opts.Robots,
		delays:     NewHostDelay(),
		crawlDelay: opts.CrawlDelay,
		maxHops:    maxHops,
		logger:     opts.Logger.Named("redirect"),
		metrics:    opts.Metrics,
	}
}

// MaxHops returns the hop limit.
func (p *Policy) MaxHops() int {
	return p.maxHops
}

// IsRedirect reports whether status asks the client to follow Location.
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Sanitize repairs a Location value before parsing: literal "<" becomes
// "%3C" and any ";jsessionid=..." segment is removed up to the next "?",
// "#" or the end.
func Sanitize(location string) string {
	location = strings.ReplaceAll(strings.TrimSpace(location), "<", "%3C")

	for {
		idx := indexFold(location, ";jsessionid=")
		if idx < 0 {
			return location
		}
		end := len(location)
		if rel := strings.IndexAny(location[idx:], "?#"); rel >= 0 {
			end = idx + rel
		}
		location = location[:idx] + location[end:]
	}
}

// indexFold is a case-insensitive strings.Index for an ASCII substr.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// Resolve reads Location from h and resolves it against from. allowed is
// false when robot directives forbid the target; the caller reports that as
// ErrRedirectBlocked. A missing or unusable Location is ErrMalformedRedirect.
// Resolve has no side effects beyond filling the directive cache, so the
// same inputs give the same answer.
func (p *Policy) Resolve(ctx context.Context, from *url.URL, h http.Header) (target *url.URL, allowed bool, err error) {
	target, err = Target(from, h)
	if err != nil {
		return nil, false, err
	}
	return target, p.Permits(ctx, target), nil
}

// Target sanitizes the Location in h and resolves it against from without
// consulting robot directives.
func Target(from *url.URL, h http.Header) (*url.URL, error) {
	raw := h.Get("Location")
	if strings.TrimSpace(raw) == "" {
		return nil, fault.New(fault.ErrMalformedRedirect, fault.PhaseRedirect, "location", from.Redacted(), errors.New("missing Location header"))
	}

	sanitized := Sanitize(raw)
	target, err := from.Parse(sanitized)
	if err != nil {
		return nil, fault.New(fault.ErrMalformedRedirect, fault.PhaseRedirect, "location", sanitized, err)
	}
	switch strings.ToLower(target.Scheme) {
	case "http", "https":
	default:
		return nil, fault.New(fault.ErrMalformedRedirect, fault.PhaseRedirect, "location", sanitized,
			fmt.Errorf("unsupported scheme %q", target.Scheme))
	}
	if target.Hostname() == "" {
		return nil, fault.New(fault.ErrMalformedRedirect, fault.PhaseRedirect, "location", sanitized, errors.New("missing host"))
	}
	return target, nil
}

// Permits reports whether robot directives allow target. Always true when
// the policy has no directive cache.
func (p *Policy) Permits(ctx context.Context, target *url.URL) bool {
	if p.robots == nil {
		return true
	}

	decision := p.robots.Check(ctx, target)
	if !decision.Allowed {
		p.metrics.IncRobotsBlocked()
		p.logger.Info("Redirect disallowed by robots",
			zap.String("target", target.Redacted()),
			zap.String("source", string(decision.Status)),
		)
		return false
	}
	return true
}

// Next builds the request for the following hop. 301, 302 and 303 switch to
// GET without a body; 307 and 308 keep method and body,
// which must be replayable. Credentials are not forwarded to another host.
func (p *Policy) Next(prev *request.Outgoing, status int, target *url.URL) (*request.Outgoing, error) {
	next := prev.Clone()
	next.URL = target

	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		next.Method = http.MethodGet
		next.Body = nil
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if next.Body != nil && !next.Body.Replayable() {
			return nil, fault.New(fault.ErrRedirectBlocked, fault.PhaseRedirect, "replay", target.Redacted(),
				errors.New("request body cannot be replayed"))
		}
	}

	if !strings.EqualFold(prev.URL.Hostname(), target.Hostname()) {
		for _, k := range []string{"Authorization", "Cookie", "Proxy-Authorization"} {
			next.Header.Del(k)
		}
	}
	return next, nil
}

// Delay returns the spacing to keep before requesting u: the larger of the
// configured crawl delay and the host's cached directive delay.
func (p *Policy) Delay(u *url.URL) time.Duration {
	delay := p.crawlDelay
	if p.robots != nil {
		if d, ok := p.robots.Peek(u); ok && d.CrawlDelay > delay {
			delay = d.CrawlDelay
		}
	}
	return delay
}

// Record notes a request to u's host so the next hop to it is spaced from
// this one.
func (p *Policy) Record(u *url.URL) {
	p.delays.Mark(u.Host)
}

// Wait blocks until u's host may be requested again.
func (p *Policy) Wait(ctx context.Context, u *url.URL) error {
	delay := p.Delay(u)
	if err := p.delays.Wait(ctx, u.Host, delay); err != nil {
		return fault.New(fault.ErrTransportFailure, fault.PhaseConnect, "crawl delay", u.Redacted(), err)
	}
	return nil
}
