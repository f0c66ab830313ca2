package pool

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// trackedConn is a dialed connection registered with the pool. busy counts
// leases bound to it; the reaper never closes a busy connection.
type trackedConn struct {
	net.Conn

	pool    *Pool
	id      string
	target  string
	created time.Time

	lastUsed  atomic.Int64 // unix nanos
	expiresAt atomic.Int64 // unix nanos, 0 = no keep-alive deadline
	busy      atomic.Int32

	closeOnce sync.Once
	closeErr  error
}

func newTrackedConn(p *Pool, target string, conn net.Conn) *trackedConn {
	now := p.now()
	c := &trackedConn{
		Conn:    conn,
		pool:    p,
		id:      uuid.NewString(),
		target:  target,
		created: now,
	}
	c.lastUsed.Store(now.UnixNano())
	return c
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.touch()
	return n, err
}

func (c *trackedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.touch()
	return n, err
}

// Close closes the socket once and drops it from the pool registry.
func (c *trackedConn) Close() error {
	c.closeOnce.Do(func() {
		c.pool.forget(c)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

func (c *trackedConn) touch() {
	c.lastUsed.Store(c.pool.now().UnixNano())
}

func (c *trackedConn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastUsed.Load()))
}

func (c *trackedConn) expired(now time.Time) bool {
	deadline := c.expiresAt.Load()
	return deadline != 0 && now.UnixNano() >= deadline
}

// unwrapConn finds the pool's connection under whatever the transport handed
// to GotConn (a TLS session wraps the dialed socket).
func unwrapConn(conn net.Conn) *trackedConn {
	for conn != nil {
		switch c := conn.(type) {
		case *trackedConn:
			return c
		case *tls.Conn:
			conn = c.NetConn()
		default:
			return nil
		}
	}
	return nil
}
