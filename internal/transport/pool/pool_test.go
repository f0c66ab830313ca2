package pool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
)

const target = "api.example.com:443"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, settings Settings) *Pool {
	t.Helper()
	p := New(settings, logging.Wrap(zaptest.NewLogger(t)), nil)
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func TestAcquireRespectsPerTargetBound(t *testing.T) {
	p := newTestPool(t, Settings{MaxTotal: 10, MaxPerTarget: 2, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	first, err := p.Acquire(ctx, target)
	require.NoError(t, err)
	_, err = p.Acquire(ctx, target)
	require.NoError(t, err)

	_, err = p.Acquire(ctx, target)
	assert.ErrorIs(t, err, fault.ErrPoolExhausted)

	// Other targets are unaffected
	other, err := p.Acquire(ctx, "cdn.example.com:443")
	require.NoError(t, err)
	other.Release()

	first.Release()
	third, err := p.Acquire(ctx, target)
	require.NoError(t, err)
	third.Release()
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := newTestPool(t, Settings{MaxTotal: 10, MaxPerTarget: 1, AcquireTimeout: 5 * time.Second})
	ctx := context.Background()

	held, err := p.Acquire(ctx, target)
	require.NoError(t, err)

	acquired := make(chan *Lease)
	go func() {
		lease, err := p.Acquire(ctx, target)
		assert.NoError(t, err)
		acquired <- lease
	}()

	select {
	case <-acquired:
		t.Fatal("acquire beyond per-target max must block")
	case <-time.After(50 * time.Millisecond):
	}

	held.Release()

	select {
	case lease := <-acquired:
		require.NotNil(t, lease)
		lease.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by release")
	}
}

func TestAcquireRespectsGlobalBound(t *testing.T) {
	p := newTestPool(t, Settings{MaxTotal: 2, MaxPerTarget: 2, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	a, err := p.Acquire(ctx, "a.example.com:443")
	require.NoError(t, err)
	b, err := p.Acquire(ctx, "b.example.com:443")
	require.NoError(t, err)

	_, err = p.Acquire(ctx, "c.example.com:443")
	assert.ErrorIs(t, err, fault.ErrPoolExhausted)

	// The failed attempt must not leak its per-target slot
	a.Release()
	b.Release()
	for i := 0; i < 2; i++ {
		lease, err := p.Acquire(ctx, "c.example.com:443")
		require.NoError(t, err)
		defer lease.Release()
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(t, Settings{MaxTotal: 10, MaxPerTarget: 1, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	lease, err := p.Acquire(ctx, target)
	require.NoError(t, err)
	lease.Release()
	lease.Release()
	assert.Equal(t, int64(0), p.Stats().Leased)

	held, err := p.Acquire(ctx, target)
	require.NoError(t, err)
	defer held.Release()

	_, err = p.Acquire(ctx, target)
	assert.ErrorIs(t, err, fault.ErrPoolExhausted, "double release must not free an extra slot")
}

func TestAcquireParentCancelled(t *testing.T) {
	p := newTestPool(t, Settings{MaxTotal: 10, MaxPerTarget: 1, AcquireTimeout: 5 * time.Second})

	held, err := p.Acquire(context.Background(), target)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx, target)
	assert.ErrorIs(t, err, fault.ErrTransportFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdown(t *testing.T) {
	p := New(Settings{MaxPerTarget: 1, AcquireTimeout: 5 * time.Second}, nil, nil)
	require.NoError(t, p.Start())

	held, err := p.Acquire(context.Background(), target)
	require.NoError(t, err)

	waiter := make(chan error)
	go func() {
		_, err := p.Acquire(context.Background(), target)
		waiter <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.Shutdown())

	select {
	case err := <-waiter:
		assert.ErrorIs(t, err, fault.ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown must wake blocked acquires")
	}

	// In-flight leases can still be released
	assert.NotPanics(t, held.Release)

	_, err = p.Acquire(context.Background(), target)
	assert.ErrorIs(t, err, fault.ErrPoolClosed)
	_, err = p.CloseExpired()
	assert.ErrorIs(t, err, fault.ErrPoolClosed)
	_, err = p.CloseIdleOlderThan(time.Second)
	assert.ErrorIs(t, err, fault.ErrPoolClosed)
	assert.ErrorIs(t, p.Start(), fault.ErrPoolClosed)
	assert.ErrorIs(t, p.Shutdown(), fault.ErrPoolClosed)
	assert.True(t, p.Stats().Closed)
}

// roundTrip performs one GET through the pool holding lease for the duration.
func roundTrip(t *testing.T, p *Pool, srv *httptest.Server) (*Lease, *http.Response) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	lease, err := p.Acquire(context.Background(), Target(u))
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(lease.Trace(context.Background()), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := p.Transport().RoundTrip(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	return lease, resp
}

func TestIdleConnectionsAreReaped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	p := newTestPool(t, DefaultSettings())
	clock := &fakeClock{now: time.Now()}
	p.now = clock.Now

	lease, _ := roundTrip(t, p, srv)
	assert.NotEmpty(t, lease.ConnID())

	stats := p.Stats()
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 0, stats.Idle, "bound connection is busy until release")

	clock.Advance(time.Minute)
	n, err := p.CloseIdleOlderThan(30 * time.Second)
	require.NoError(t, err)
	assert.Zero(t, n, "checked-out connection must never be reaped")

	lease.Release()
	n, err = p.CloseIdleOlderThan(30 * time.Second)
	require.NoError(t, err)
	assert.Zero(t, n, "release refreshes last use")

	clock.Advance(31 * time.Second)
	n, err = p.CloseIdleOlderThan(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, p.Stats().Open)
}

func TestKeepAliveExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Keep-Alive", "timeout=5, max=100")
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	p := newTestPool(t, DefaultSettings())
	clock := &fakeClock{now: time.Now()}
	p.now = clock.Now

	lease, resp := roundTrip(t, p, srv)
	lease.KeepAlive(resp.Header)
	lease.Release()

	n, err := p.CloseExpired()
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(6 * time.Second)
	n, err = p.CloseExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnectionsAreReused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	p := newTestPool(t, DefaultSettings())

	first, _ := roundTrip(t, p, srv)
	first.Release()
	// let the transport park the connection
	time.Sleep(20 * time.Millisecond)
	second, _ := roundTrip(t, p, srv)
	second.Release()

	assert.Equal(t, first.ConnID(), second.ConnID())
	assert.Equal(t, 1, p.Stats().Open)
}

func TestReaperSweeps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	p := New(Settings{SweepInterval: 10 * time.Millisecond, IdleTimeout: 10 * time.Millisecond}, nil, metrics)
	defer func() { _ = p.Shutdown() }()

	lease, _ := roundTrip(t, p, srv)
	lease.Release()

	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	p.Wake()

	assert.Eventually(t, func() bool { return p.Stats().Open == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PoolReaped.WithLabelValues("idle")))
}

func TestTarget(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://API.Example.com/v1/orders", "api.example.com:443"},
		{"http://api.example.com/v1", "api.example.com:80"},
		{"http://api.example.com:8080/", "api.example.com:8080"},
		{"https://[::1]:9443/x", "[::1]:9443"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Target(u))
		})
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"timeout=5, max=1000", 5 * time.Second, true},
		{"max=10,timeout=2", 2 * time.Second, true},
		{"Timeout = 7", 7 * time.Second, true},
		{"max=10", 0, false},
		{"timeout=soon", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := keepAliveTimeout(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{MaxTotal: 5, MaxPerTarget: 50}.withDefaults()
	assert.Equal(t, 5, s.MaxPerTarget, "per-target bound never exceeds total")
	assert.Equal(t, 30*time.Second, s.IdleTimeout)
	assert.Equal(t, 5*time.Second, s.SweepInterval)
}

func TestRoundTripperHoldsLeaseUntilClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "User-agent: *\nDisallow: /private/\n")
	}))
	defer srv.Close()

	p := newTestPool(t, Settings{MaxPerTarget: 1, AcquireTimeout: 50 * time.Millisecond})
	client := &http.Client{Transport: p.RoundTripper()}

	resp, err := client.Get(srv.URL + "/robots.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Stats().Leased)

	// Slot is held while the body is open
	_, err = client.Get(srv.URL + "/robots.txt")
	assert.ErrorIs(t, err, fault.ErrPoolExhausted)

	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, int64(0), p.Stats().Leased)
}
