package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
)

// maxRobotsSize caps how much of a robots.txt is parsed.
const maxRobotsSize = 512 << 10

// ErrUnavailable means directives could not be obtained (network failure or
// 5xx). Callers fail open and do not cache.
var ErrUnavailable = errors.New("robots.txt unavailable")

// Fetcher retrieves directives for an origin.
type Fetcher interface {
	Fetch(ctx context.Context, origin *url.URL) (Directives, error)
}

// HTTPFetcher fetches robots.txt with a small retry budget.
type HTTPFetcher struct {
	client    *retryablehttp.Client
	userAgent string
	now       func() time.Time
}

// NewHTTPFetcher builds a fetcher over transport, normally the pool's
// RoundTripper so fetches count against the same connection bounds.
func NewHTTPFetcher(transport http.RoundTripper, userAgent string, cfg config.RobotsConfig, logger *logging.Logger) *HTTPFetcher {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   cfg.FetchTimeout.Duration,
	}
	rc.RetryMax = cfg.Retries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger.Named("robots").Sugar()}

	return &HTTPFetcher{client: rc, userAgent: userAgent, now: time.Now}
}

// Fetch returns the parsed directives for origin. A 4xx answer yields empty
// directives (everything allowed); 5xx and network errors yield ErrUnavailable.
func (f *HTTPFetcher) Fetch(ctx context.Context, origin *url.URL) (Directives, error) {
	robotsURL := origin.Scheme + "://" + origin.Host + "/robots.txt"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return Directives{}, fmt.Errorf("build robots request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return Directives{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
		if err != nil {
			return Directives{}, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
		}
		return Parse(string(body), f.userAgent, f.now()), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRobotsSize))
		return Directives{FetchedAt: f.now()}, nil
	default:
		return Directives{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	*zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.Warnw(msg, keysAndValues...)
}
