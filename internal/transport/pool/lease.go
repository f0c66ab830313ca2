package pool

import (
	"context"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Lease is one acquired connection slot for a target. The HTTP transport
// picks or dials the concrete connection; Bind ties it to the lease so the
// reaper leaves it alone until Release.
type Lease struct {
	pool   *Pool
	target string
	slot   *semaphore.Weighted

	conn     atomic.Pointer[trackedConn]
	released sync.Once
}

// Target returns the host:port this lease was acquired for.
func (l *Lease) Target() string {
	return l.target
}

// ConnID returns the id of the bound connection, or "" before binding.
func (l *Lease) ConnID() string {
	if c := l.conn.Load(); c != nil {
		return c.id
	}
	return ""
}

// Trace returns ctx instrumented so the transport's connection choice is
// bound to this lease.
func (l *Lease) Trace(ctx context.Context) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			l.Bind(info.Conn)
		},
	})
}

// Bind marks conn as checked out to this lease. Connections the pool did
// not dial are ignored.
func (l *Lease) Bind(conn net.Conn) {
	tc := unwrapConn(conn)
	if tc == nil {
		return
	}
	tc.busy.Add(1)
	if prev := l.conn.Swap(tc); prev != nil {
		prev.busy.Add(-1)
	}
}

// KeepAlive applies the response's keep-alive rules to the bound connection:
// "Connection: close" expires it now, "Keep-Alive: timeout=N" in N seconds.
func (l *Lease) KeepAlive(h http.Header) {
	tc := l.conn.Load()
	if tc == nil {
		return
	}
	now := l.pool.now()

	for _, v := range h.Values("Connection") {
		if strings.EqualFold(strings.TrimSpace(v), "close") {
			tc.expiresAt.Store(now.UnixNano())
			return
		}
	}

	if timeout, ok := keepAliveTimeout(h.Get("Keep-Alive")); ok {
		tc.expiresAt.Store(now.Add(timeout).UnixNano())
	}
}

// Release returns the slot to the pool. Safe to call more than once; only
// the first call has effect.
func (l *Lease) Release() {
	l.released.Do(func() {
		if tc := l.conn.Load(); tc != nil {
			tc.touch()
			tc.busy.Add(-1)
		}
		l.slot.Release(1)
		l.pool.total.Release(1)
		l.pool.leased.Add(-1)
		l.pool.publish()
	})
}

func keepAliveTimeout(v string) (time.Duration, bool) {
	for _, part := range strings.Split(v, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "timeout") {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}
