package pool

import (
	"io"
	"net/http"
	"sync"
)

// RoundTripper returns an http.RoundTripper that leases a slot for every
// request and holds it until the response body is closed. Side fetches
// (robots.txt) use it so they count against the same bounds as calls.
func (p *Pool) RoundTripper() http.RoundTripper {
	return leasedTransport{pool: p}
}

type leasedTransport struct {
	pool *Pool
}

func (t leasedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	lease, err := t.pool.Acquire(req.Context(), Target(req.URL))
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	resp, err := t.pool.transport.RoundTrip(req.WithContext(lease.Trace(req.Context())))
	if err != nil {
		lease.Release()
		return nil, err
	}

	lease.KeepAlive(resp.Header)
	resp.Body = &releasingBody{ReadCloser: resp.Body, lease: lease}
	return resp, nil
}

// releasingBody releases its lease on the first Close.
type releasingBody struct {
	io.ReadCloser
	lease *Lease
	once  sync.Once
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.lease.Release)
	return err
}
