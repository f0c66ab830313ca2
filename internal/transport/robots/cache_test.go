package robots

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
)

type stubFetcher struct {
	calls atomic.Int32
	delay time.Duration
	fetch func(origin *url.URL) (Directives, error)
}

func (s *stubFetcher) Fetch(ctx context.Context, origin *url.URL) (Directives, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Directives{}, ctx.Err()
		}
	}
	return s.fetch(origin)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestCache(t *testing.T, f Fetcher) *Cache {
	t.Helper()
	c := NewCache(f, time.Hour, time.Second, logging.Wrap(zaptest.NewLogger(t)), nil)
	t.Cleanup(c.Close)
	return c
}

func TestCheckFetchesOnce(t *testing.T) {
	f := &stubFetcher{fetch: func(origin *url.URL) (Directives, error) {
		assert.Equal(t, "https://shop.example.com", origin.String())
		return Directives{
			Allowed:    []string{"/shop/"},
			Disallowed: []string{"/shop/private/"},
			CrawlDelay: 250 * time.Millisecond,
			FetchedAt:  time.Now(),
		}, nil
	}}
	c := newTestCache(t, f)
	ctx := context.Background()

	first := c.Check(ctx, mustURL(t, "https://Shop.Example.com/shop/private/x"))
	assert.False(t, first.Allowed)
	assert.Equal(t, StatusFetched, first.Status)
	assert.Equal(t, 250*time.Millisecond, first.CrawlDelay)

	second := c.Check(ctx, mustURL(t, "https://shop.example.com/shop/public"))
	assert.True(t, second.Allowed)
	assert.Equal(t, StatusCached, second.Status)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCheckIsIdempotent(t *testing.T) {
	f := &stubFetcher{fetch: func(*url.URL) (Directives, error) {
		return Directives{Disallowed: []string{"/private"}, FetchedAt: time.Now()}, nil
	}}
	c := newTestCache(t, f)
	u := mustURL(t, "https://shop.example.com/private/orders")

	c.Check(context.Background(), u)
	a := c.Check(context.Background(), u)
	b := c.Check(context.Background(), u)
	assert.Equal(t, a, b)
}

func TestCheckConcurrentMissesShareFetch(t *testing.T) {
	f := &stubFetcher{
		delay: 50 * time.Millisecond,
		fetch: func(*url.URL) (Directives, error) {
			return Directives{FetchedAt: time.Now()}, nil
		},
	}
	c := newTestCache(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Check(context.Background(), mustURL(t, "https://shop.example.com/x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCheckFailsOpen(t *testing.T) {
	f := &stubFetcher{fetch: func(*url.URL) (Directives, error) {
		return Directives{}, ErrUnavailable
	}}
	c := newTestCache(t, f)
	u := mustURL(t, "https://shop.example.com/anything")

	d := c.Check(context.Background(), u)
	assert.True(t, d.Allowed)
	assert.Equal(t, StatusUnavailable, d.Status)

	// Not cached: the next check tries again
	c.Check(context.Background(), u)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Zero(t, c.Len())
}

func TestCheckExpiredAllowsAndRefreshesOnce(t *testing.T) {
	refreshed := make(chan struct{})
	f := &stubFetcher{
		delay: 20 * time.Millisecond,
		fetch: func(*url.URL) (Directives, error) {
			defer close(refreshed)
			return Directives{Disallowed: []string{"/"}, FetchedAt: time.Now()}, nil
		},
	}
	c := newTestCache(t, f)
	u := mustURL(t, "https://shop.example.com/catalog")

	c.Store(u, Directives{Disallowed: []string{"/"}, CrawlDelay: time.Second, FetchedAt: time.Now().Add(-2 * time.Hour)})

	stale := c.Check(context.Background(), u)
	assert.True(t, stale.Allowed, "expired directives are treated as absent")
	assert.Equal(t, StatusStale, stale.Status)
	assert.Equal(t, time.Second, stale.CrawlDelay)

	again := c.Check(context.Background(), u)
	assert.Equal(t, StatusStale, again.Status)

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not run")
	}

	assert.Eventually(t, func() bool {
		return c.Check(context.Background(), u).Status == StatusCached
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.False(t, c.Check(context.Background(), u).Allowed)
}

func TestPeekAndPurge(t *testing.T) {
	c := newTestCache(t, &stubFetcher{fetch: func(*url.URL) (Directives, error) {
		return Directives{}, errors.New("unused")
	}})
	u := mustURL(t, "http://shop.example.com:8080/x")

	_, ok := c.Peek(u)
	assert.False(t, ok)

	c.Store(u, Directives{CrawlDelay: time.Second, FetchedAt: time.Now()})
	d, ok := c.Peek(mustURL(t, "http://SHOP.example.com:8080/other"))
	require.True(t, ok)
	assert.Equal(t, time.Second, d.CrawlDelay)

	// Different port is a different origin
	_, ok = c.Peek(mustURL(t, "http://shop.example.com/x"))
	assert.False(t, ok)

	c.Purge(u)
	assert.Zero(t, c.Len())
}

func TestHTTPFetcher(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/robots.txt", r.URL.Path)
		assert.Equal(t, "marketwire/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(int(status.Load()))
		_, _ = io.WriteString(w, "User-agent: *\nDisallow: /admin\nCrawl-delay: 0.25\n")
	}))
	defer srv.Close()

	cfg := config.Default().Robots
	cfg.Retries = 1
	f := NewHTTPFetcher(http.DefaultTransport, "marketwire/1.0", cfg, logging.NewNop())
	origin := mustURL(t, srv.URL)

	t.Run("ok", func(t *testing.T) {
		d, err := f.Fetch(context.Background(), origin)
		require.NoError(t, err)
		assert.Equal(t, []string{"/admin"}, d.Disallowed)
		assert.Equal(t, int64(250), d.CrawlDelayMillis())
	})

	t.Run("not found allows all", func(t *testing.T) {
		status.Store(http.StatusNotFound)
		d, err := f.Fetch(context.Background(), origin)
		require.NoError(t, err)
		assert.Empty(t, d.Disallowed)
		assert.False(t, d.FetchedAt.IsZero())
	})

	t.Run("server error is unavailable after retry", func(t *testing.T) {
		status.Store(http.StatusServiceUnavailable)
		hits.Store(0)
		_, err := f.Fetch(context.Background(), origin)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("connection refused is unavailable", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := mustURL(t, dead.URL)
		dead.Close()

		cfg := cfg
		cfg.Retries = 0
		_, err := NewHTTPFetcher(http.DefaultTransport, "marketwire/1.0", cfg, nil).Fetch(context.Background(), deadURL)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}
