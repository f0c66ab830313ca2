package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
)

// Pool bounds concurrent connections globally and per target and owns the
// http.Transport every client in the process dispatches through.
type Pool struct {
	settings  Settings
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	transport *http.Transport
	dialer    *net.Dialer
	now       func() time.Time

	total   *semaphore.Weighted
	mu      sync.Mutex
	targets map[string]*semaphore.Weighted
	conns   map[*trackedConn]struct{}
	leased  atomic.Int64

	closed   atomic.Bool
	life     context.Context
	stop     context.CancelFunc
	wake     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	startMu  sync.Mutex
	shutdown sync.Once
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Leased  int64          `json:"leased"`
	Open    int            `json:"open"`
	Idle    int            `json:"idle"`
	Targets map[string]int `json:"targets"`
	Closed  bool           `json:"closed"`
}

// New creates a pool. Call Start to run the reaper and Shutdown exactly once
// at process end.
func New(settings Settings, logger *logging.Logger, metrics *monitoring.Metrics) *Pool {
	settings = settings.withDefaults()
	life, stop := context.WithCancel(context.Background())

	p := &Pool{
		settings: settings,
		logger:   logger.Named("pool"),
		metrics:  metrics,
		dialer: &net.Dialer{
			Timeout:   settings.DialTimeout,
			KeepAlive: 30 * time.Second,
		},
		now:     time.Now,
		total:   semaphore.NewWeighted(int64(settings.MaxTotal)),
		targets: make(map[string]*semaphore.Weighted),
		conns:   make(map[*trackedConn]struct{}),
		life:    life,
		stop:    stop,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	p.transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           p.dial,
		MaxIdleConns:          settings.MaxTotal,
		MaxIdleConnsPerHost:   settings.MaxPerTarget,
		MaxConnsPerHost:       settings.MaxPerTarget,
		IdleConnTimeout:       settings.IdleTimeout,
		TLSHandshakeTimeout:   settings.DialTimeout,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: settings.AllowUntrustedSSL,
		},
	}

	return p
}

// Transport returns the pooled round tripper.
func (p *Pool) Transport() *http.Transport {
	return p.transport
}

// Settings returns the effective settings.
func (p *Pool) Settings() Settings {
	return p.settings
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Acquire blocks until a slot for target is free, AcquireTimeout elapses
// (ErrPoolExhausted), the pool shuts down (ErrPoolClosed) or ctx ends
// (ErrTransportFailure).
func (p *Pool) Acquire(ctx context.Context, target string) (*Lease, error) {
	if p.closed.Load() {
		return nil, fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "acquire", target, nil)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.settings.AcquireTimeout)
	defer cancel()
	stopWatch := context.AfterFunc(p.life, cancel)
	defer stopWatch()

	start := p.now()
	slot := p.targetSlot(target)

	if err := slot.Acquire(waitCtx, 1); err != nil {
		return nil, p.acquireError(ctx, target, err)
	}
	if err := p.total.Acquire(waitCtx, 1); err != nil {
		slot.Release(1)
		return nil, p.acquireError(ctx, target, err)
	}
	if p.closed.Load() {
		p.total.Release(1)
		slot.Release(1)
		return nil, fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "acquire", target, nil)
	}

	p.leased.Add(1)
	p.metrics.ObservePoolWait(p.now().Sub(start))
	p.publish()

	return &Lease{pool: p, target: target, slot: slot}, nil
}

func (p *Pool) acquireError(ctx context.Context, target string, cause error) error {
	switch {
	case p.closed.Load():
		return fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "acquire", target, nil)
	case ctx.Err() != nil:
		return fault.New(fault.ErrTransportFailure, fault.PhaseConnect, "acquire", target, ctx.Err())
	default:
		p.metrics.IncPoolTimeout()
		p.logger.Warn("Connection slot wait timed out",
			zap.String("target", target),
			zap.Duration("timeout", p.settings.AcquireTimeout),
		)
		return fault.New(fault.ErrPoolExhausted, fault.PhaseConnect, "acquire", target, cause)
	}
}

func (p *Pool) targetSlot(target string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.targets[target]
	if !ok {
		slot = semaphore.NewWeighted(int64(p.settings.MaxPerTarget))
		p.targets[target] = slot
	}
	return slot
}

func (p *Pool) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if p.closed.Load() {
		return nil, fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "dial", addr, nil)
	}

	conn, err := p.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	tc := newTrackedConn(p, addr, conn)
	p.mu.Lock()
	p.conns[tc] = struct{}{}
	p.mu.Unlock()
	p.publish()

	p.logger.Debug("Dialed connection",
		zap.String("conn_id", tc.id),
		zap.String("target", addr),
	)
	return tc, nil
}

func (p *Pool) forget(c *trackedConn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	p.publish()
}

// snapshot copies the registry so sweeps close sockets without holding mu.
func (p *Pool) snapshot() []*trackedConn {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := make([]*trackedConn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	return conns
}

// CloseExpired closes idle connections whose keep-alive deadline has passed.
func (p *Pool) CloseExpired() (int, error) {
	if p.closed.Load() {
		return 0, fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "close expired", "", nil)
	}
	now := p.now()
	return p.closeWhere(func(c *trackedConn) bool { return c.expired(now) }), nil
}

// CloseIdleOlderThan closes connections unused for at least d. Connections
// bound to a lease are skipped.
func (p *Pool) CloseIdleOlderThan(d time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "close idle", "", nil)
	}
	now := p.now()
	return p.closeWhere(func(c *trackedConn) bool { return c.idleFor(now) >= d }), nil
}

func (p *Pool) closeWhere(match func(*trackedConn) bool) int {
	closed := 0
	for _, c := range p.snapshot() {
		if c.busy.Load() > 0 || !match(c) {
			continue
		}
		if err := c.Close(); err != nil {
			p.logger.Debug("Close failed", zap.String("conn_id", c.id), zap.Error(err))
		}
		closed++
	}
	return closed
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	conns := p.snapshot()
	stats := Stats{
		Leased:  p.leased.Load(),
		Open:    len(conns),
		Targets: make(map[string]int),
		Closed:  p.closed.Load(),
	}
	for _, c := range conns {
		stats.Targets[c.target]++
		if c.busy.Load() == 0 {
			stats.Idle++
		}
	}
	return stats
}

func (p *Pool) publish() {
	if p.metrics == nil {
		return
	}
	p.mu.Lock()
	open := len(p.conns)
	p.mu.Unlock()
	p.metrics.SetPool(int(p.leased.Load()), open)
}

// Shutdown stops the reaper, refuses further acquires and closes every
// connection not bound to a lease. Leased connections close when their
// request finishes. A second call returns ErrPoolClosed.
func (p *Pool) Shutdown() error {
	first := false
	p.shutdown.Do(func() {
		first = true
		p.closed.Store(true)
		p.stop()

		p.startMu.Lock()
		if p.started.Load() {
			<-p.done
		}
		p.startMu.Unlock()

		p.transport.CloseIdleConnections()
		n := p.closeWhere(func(*trackedConn) bool { return true })
		p.logger.Info("Pool shut down",
			zap.Int("closed", n),
			zap.Int64("leased", p.leased.Load()),
		)
	})
	if !first {
		return fault.New(fault.ErrPoolClosed, fault.PhaseConnect, "shutdown", "", nil)
	}
	return nil
}

// IsClosed reports whether err means the pool was shut down.
func IsClosed(err error) bool {
	return errors.Is(err, fault.ErrPoolClosed)
}
