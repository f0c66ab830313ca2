package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/marketwire/internal/shared/id"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
	"github.com/GriffinCanCode/marketwire/internal/transport/pool"
	"github.com/GriffinCanCode/marketwire/internal/transport/redirect"
	"github.com/GriffinCanCode/marketwire/internal/transport/request"
	"github.com/GriffinCanCode/marketwire/internal/transport/response"
	"github.com/GriffinCanCode/marketwire/internal/transport/robots"
)

// Options configure a Client. Pool is required and is not owned by the
// client: shut it down separately.
type Options struct {
	Client  config.ClientConfig
	Robots  config.RobotsConfig
	Breaker config.BreakerConfig
	Pool    *pool.Pool
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// Tracer records a span per call and per hop; nil disables export.
	Tracer *tracing.Tracer

	// RobotsFetcher overrides the default robots.txt fetcher.
	RobotsFetcher robots.Fetcher
	// IDs generates request ids; nil uses id.Default().
	IDs *id.Generator
	// Interceptors run after the built-in User-Agent and request id ones.
	Interceptors []Interceptor
}

// Client executes requests. Safe for concurrent use.
type Client struct {
	cfg      config.ClientConfig
	pool     *pool.Pool
	builder  *request.Builder
	policy   *redirect.Policy
	reader   *response.Reader
	robots   *robots.Cache
	breakers *resilience.Group
	limiter  *rate.Limiter
	resty    *resty.Client
	chain    []Interceptor
	tracer   *tracing.Tracer
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// New validates the configuration and wires a client over opts.Pool.
func New(opts Options) (*Client, error) {
	if opts.Pool == nil {
		return nil, errors.New("client: pool required")
	}
	cfg, err := config.NewClientConfig(opts.Client)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		pool:    opts.Pool,
		builder: request.NewBuilder(cfg, opts.Logger),
		reader:  response.NewReader(response.OptionsFrom(cfg, opts.Logger, opts.Metrics)),
		limiter: newLimiter(cfg.RateLimit),
		tracer:  opts.Tracer,
		logger:  opts.Logger.Named("client"),
		metrics: opts.Metrics,
	}

	if opts.Robots.Enabled {
		fetcher := opts.RobotsFetcher
		if fetcher == nil {
			fetcher = robots.NewHTTPFetcher(opts.Pool.RoundTripper(), cfg.UserAgent, opts.Robots, opts.Logger)
		}
		c.robots = robots.NewCache(fetcher, opts.Robots.TTL.Duration, opts.Robots.FetchTimeout.Duration, opts.Logger, opts.Metrics)
	}

	c.policy = redirect.NewPolicy(redirect.Options{
		Robots:     c.robots,
		CrawlDelay: cfg.CrawlDelay.Duration,
		MaxHops:    cfg.MaxRedirects,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	})

	if opts.Breaker.Enabled {
		c.breakers = resilience.NewGroup(resilience.Settings{
			TrialCalls:  1,
			Timeout:     opts.Breaker.OpenTimeout.Duration,
			ReadyToTrip: resilience.TripAfter(opts.Breaker.ConsecutiveFailures),
			IdleTTL:     max(breakerIdleTTL, 2*opts.Breaker.OpenTimeout.Duration),
			OnStateChange: func(name string, from, to resilience.State) {
				c.logger.Warn("Circuit breaker state changed",
					zap.String("target", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}

	ids := opts.IDs
	if ids == nil {
		ids = id.Default()
	}
	c.chain = append([]Interceptor{UserAgent(cfg.UserAgent), RequestID(ids)}, opts.Interceptors...)

	c.resty = resty.New().
		SetTransport(opts.Pool.Transport()).
		SetCookieJar(nil).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		SetPreRequestHook(applyDeclaredLength).
		SetLogger(c.logger.Named("resty").Sugar())

	return c, nil
}

// breakerIdleTTL is the least time a quiet target keeps its breaker.
const breakerIdleTTL = 10 * time.Minute

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
}

// Config returns the validated client configuration.
func (c *Client) Config() config.ClientConfig {
	return c.cfg
}

// Builder returns the request builder bound to this client's configuration.
func (c *Client) Builder() *request.Builder {
	return c.builder
}

// Robots returns the directive cache, or nil when robots are disabled.
func (c *Client) Robots() *robots.Cache {
	return c.robots
}

// BreakerStates returns per-target breaker states. Empty when disabled.
func (c *Client) BreakerStates() map[string]resilience.State {
	if c.breakers == nil {
		return map[string]resilience.State{}
	}
	return c.breakers.States()
}

// Close stops background robots refreshes. The pool is left running.
func (c *Client) Close() {
	if c.robots != nil {
		c.robots.Close()
	}
}

// Execute builds and sends a request. body may be nil.
func (c *Client) Execute(ctx context.Context, method, rawURL string, headers map[string]string, body request.Body) (*response.ApiResponse, error) {
	if c.pool.Closed() {
		return nil, fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "execute", rawURL, nil)
	}
	out, err := c.builder.BuildWithBody(method, rawURL, headers, body)
	if err != nil {
		c.metrics.RecordError(fault.Name(err))
		return nil, err
	}
	return c.Send(ctx, out)
}

// Send dispatches a built request, following redirects. out is not modified.
func (c *Client) Send(ctx context.Context, out *request.Outgoing) (resp *response.ApiResponse, err error) {
	if c.pool.Closed() {
		return nil, fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "send", out.URL.Redacted(), nil)
	}

	current := intercept(out.Clone(), c.chain)
	requestID := current.Header.Get(RequestIDHeader)
	logger := c.logger.With(
		zap.String("request_id", requestID),
		zap.String("method", current.Method),
	)

	span, ctx := c.tracer.StartSpan(ctx, "send")
	span.SetTag("request_id", requestID)
	span.SetTag("http.method", current.Method)
	span.SetTag("http.url", current.URL.Redacted())
	defer func() {
		if resp != nil {
			span.SetStatus(resp.StatusCode())
			span.SetTag("redirects", strconv.Itoa(len(resp.RedirectChain())))
		}
		if err != nil {
			span.SetError(err)
			span.SetTag("error.kind", fault.Name(err))
		}
		span.Finish()
		c.tracer.Submit(span)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(logger, current.URL, fault.New(fault.ErrTransportFailure, fault.PhaseConnect, "rate limit", current.URL.Redacted(), err))
	}

	timer := monitoring.NewTimer(c.metrics, current.Method)
	var chain []string

	for hop := 0; ; hop++ {
		if hop == 0 {
			c.policy.Record(current.URL)
		} else if err := c.policy.Wait(ctx, current.URL); err != nil {
			return nil, c.fail(logger, current.URL, err)
		}

		call, err := c.tracedDispatch(ctx, current, hop)
		if err != nil {
			return nil, c.fail(logger, current.URL, err)
		}
		status := call.raw.Resp.StatusCode

		if !redirect.IsRedirect(status) {
			resp, err := c.reader.Read(call.raw, chain)
			call.finish()
			if err != nil {
				return nil, c.fail(logger, current.URL, err)
			}

			elapsed := timer.Stop(resp.StatusCode(), resp.ContentLength())
			logger.Info("Request completed",
				zap.String("url", current.URL.Redacted()),
				zap.Int("status", resp.StatusCode()),
				zap.Int64("bytes", resp.ContentLength()),
				zap.Int("redirects", len(chain)),
				zap.Bool("truncated", resp.Truncated()),
				zap.Duration("duration", elapsed),
			)
			return resp, nil
		}

		header := call.raw.Resp.Header
		c.discard(logger, call)

		target, err := redirect.Target(current.URL, header)
		if err != nil {
			return nil, c.fail(logger, current.URL, err)
		}
		if hop >= c.policy.MaxHops() {
			return nil, c.fail(logger, current.URL, fault.New(fault.ErrRedirectBlocked, fault.PhaseRedirect, "hop limit", current.URL.Redacted(),
				fmt.Errorf("stopped after %d redirects", c.policy.MaxHops())))
		}
		if !c.policy.Permits(ctx, target) {
			return nil, c.fail(logger, current.URL, fault.New(fault.ErrRedirectBlocked, fault.PhaseRedirect, "robots", target.Redacted(), nil))
		}

		next, err := c.policy.Next(current, status, target)
		if err != nil {
			return nil, c.fail(logger, current.URL, err)
		}

		c.metrics.IncRedirects()
		logger.Debug("Following redirect",
			zap.Int("status", status),
			zap.String("from", current.URL.Redacted()),
			zap.String("to", target.Redacted()),
			zap.Int("hop", hop+1),
		)
		chain = append(chain, target.String())
		current = next
	}
}

// tracedDispatch wraps dispatch in a hop span that ends once headers arrive.
func (c *Client) tracedDispatch(ctx context.Context, out *request.Outgoing, hop int) (*call, error) {
	span, ctx := c.tracer.StartSpan(ctx, "hop")
	span.SetTag("hop", strconv.Itoa(hop))
	span.SetTag("http.url", out.URL.Redacted())

	cl, err := c.dispatch(tracing.WithClientTrace(ctx, span), out)
	if err != nil {
		span.SetError(err)
	} else {
		span.SetStatus(cl.raw.Resp.StatusCode)
	}
	span.Finish()
	c.tracer.Submit(span)
	return cl, err
}

func (c *Client) fail(logger *logging.Logger, u *url.URL, err error) error {
	kind := fault.Name(err)
	c.metrics.RecordError(kind)
	logger.Warn("Request failed",
		zap.String("url", u.Redacted()),
		zap.String("kind", kind),
		zap.Error(err),
	)
	return err
}
