package robots

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
)

// Status says where a Decision came from.
type Status string

const (
	StatusCached      Status = "cached"
	StatusFetched     Status = "fetched"
	StatusStale       Status = "stale"
	StatusUnavailable Status = "unavailable"
)

// Decision is the outcome of checking one URL.
type Decision struct {
	Allowed    bool
	CrawlDelay time.Duration
	Status     Status
}

// Cache holds directives per origin for one user agent. Safe for concurrent
// use; entries are replaced whole, never edited.
type Cache struct {
	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	now          func() time.Time

	mu         sync.RWMutex
	entries    map[string]*Directives
	refreshing map[string]bool
	flight     singleflight.Group

	life context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewCache creates a cache. ttl <= 0 uses DefaultTTL.
func NewCache(fetcher Fetcher, ttl, fetchTimeout time.Duration, logger *logging.Logger, metrics *monitoring.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	life, stop := context.WithCancel(context.Background())
	return &Cache{
		fetcher:      fetcher,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		logger:       logger.Named("robots"),
		metrics:      metrics,
		now:          time.Now,
		entries:      make(map[string]*Directives),
		refreshing:   make(map[string]bool),
		life:         life,
		stop:         stop,
	}
}

// Check decides whether u may be requested. Absent directives are fetched
// synchronously; expired ones allow and schedule a background refresh;
// unobtainable ones allow without caching.
func (c *Cache) Check(ctx context.Context, u *url.URL) Decision {
	key := originKey(u)
	path := requestPath(u)

	if d, ok := c.lookup(key); ok {
		if !d.ExpiredAt(c.now(), c.ttl) {
			return decide(d, path, StatusCached)
		}
		c.refresh(key, u)
		return Decision{Allowed: true, CrawlDelay: d.CrawlDelay, Status: StatusStale}
	}

	d, err := c.load(ctx, key, u)
	if err != nil {
		c.logger.Warn("Robots unavailable, allowing",
			zap.String("origin", key),
			zap.Error(err),
		)
		return Decision{Allowed: true, Status: StatusUnavailable}
	}
	return decide(d, path, StatusFetched)
}

// Peek returns cached directives for u's origin without fetching.
func (c *Cache) Peek(u *url.URL) (*Directives, bool) {
	return c.lookup(originKey(u))
}

// Store installs directives for the origin of u.
func (c *Cache) Store(u *url.URL, d Directives) {
	c.store(originKey(u), d)
}

// Purge drops the directives for the origin of u.
func (c *Cache) Purge(u *url.URL) {
	c.mu.Lock()
	delete(c.entries, originKey(u))
	c.mu.Unlock()
}

// Len returns the number of cached origins.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close cancels background refreshes and waits for them.
func (c *Cache) Close() {
	c.mu.Lock()
	c.stop()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cache) lookup(key string) (*Directives, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key]
	return d, ok
}

func (c *Cache) store(key string, d Directives) {
	c.mu.Lock()
	c.entries[key] = &d
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context, key string, u *url.URL) (*Directives, error) {
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()

		d, err := c.fetcher.Fetch(fetchCtx, originURL(u))
		if err != nil {
			c.metrics.RecordRobotsFetch("unavailable")
			return nil, err
		}
		c.metrics.RecordRobotsFetch("fetched")
		c.store(key, d)
		return &d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Directives), nil
}

// refresh reloads key in the background; at most one refresh per origin runs.
func (c *Cache) refresh(key string, u *url.URL) {
	c.mu.Lock()
	if c.refreshing[key] || c.life.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()
		if _, err := c.load(c.life, key, u); err != nil {
			c.logger.Debug("Robots refresh failed", zap.String("origin", key), zap.Error(err))
		}
	}()
}

func decide(d *Directives, path string, status Status) Decision {
	return Decision{
		Allowed:    d.Permits(path),
		CrawlDelay: d.CrawlDelay,
		Status:     status,
	}
}

func originKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func originURL(u *url.URL) *url.URL {
	return &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}
}

func requestPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
