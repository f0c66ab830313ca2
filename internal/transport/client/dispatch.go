package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
	"github.com/GriffinCanCode/marketwire/internal/transport/pool"
	"github.com/GriffinCanCode/marketwire/internal/transport/request"
	"github.com/GriffinCanCode/marketwire/internal/transport/response"
)

// maxDrain bounds how much of a redirect body is read so its connection
// can be reused.
const maxDrain = 64 << 10

// lengthKey carries a declared stream length to the pre-request hook.
type lengthKey struct{}

func applyDeclaredLength(_ *resty.Client, r *http.Request) error {
	if n, ok := r.Context().Value(lengthKey{}).(int64); ok && n >= 0 {
		r.ContentLength = n
	}
	return nil
}

// call is one dispatched hop. finish releases everything it holds exactly once.
type call struct {
	raw     response.Raw
	lease   *pool.Lease
	cancel  context.CancelFunc
	closers []io.Closer
	once    sync.Once
}

func (cl *call) finish() {
	cl.once.Do(func() {
		cl.cancel()
		for _, c := range cl.closers {
			_ = c.Close()
		}
		cl.lease.Release()
	})
}

// dispatch sends one hop and returns with the response headers read and the
// lease still held.
func (c *Client) dispatch(ctx context.Context, out *request.Outgoing) (*call, error) {
	target := pool.Target(out.URL)
	lease, err := c.pool.Acquire(ctx, target)
	if err != nil {
		return nil, err
	}

	report := func(bool) {}
	if c.breakers != nil {
		done, err := c.breakers.Get(target).Allow()
		if err != nil {
			lease.Release()
			return nil, fault.New(fault.ErrTransportFailure, fault.PhaseConnect, "breaker", out.URL.Redacted(), err)
		}
		report = done
	}

	callCtx, cancel := context.WithCancel(lease.Trace(ctx))
	cl := &call{lease: lease, cancel: cancel}

	req := c.resty.R().SetDoNotParseResponse(true)
	req.Header = out.Header.Clone()
	tracing.Inject(ctx, req.Header)
	closers, length, err := attachBody(req, out.Body)
	cl.closers = closers
	if err != nil {
		cl.finish()
		report(true)
		return nil, err
	}
	if length >= 0 {
		callCtx = context.WithValue(callCtx, lengthKey{}, length)
	}
	req.SetContext(callCtx)

	// The read timeout also bounds the wait for response headers.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(c.cfg.ReadTimeout.Duration, func() {
		timedOut.Store(true)
		cancel()
	})
	resp, err := req.Execute(out.Method, out.URL.String())
	stopped := watchdog.Stop()

	if err == nil && !stopped {
		_ = resp.RawResponse.Body.Close()
		err = context.DeadlineExceeded
	}
	if err != nil {
		cl.finish()
		classified := classify(out.URL, err, timedOut.Load())
		report(!errors.Is(classified, fault.ErrTransportFailure) || ctx.Err() != nil)
		return nil, classified
	}
	report(true)

	raw := resp.RawResponse
	lease.KeepAlive(raw.Header)
	cl.raw = response.Raw{Resp: raw, Cancel: cancel}
	return cl, nil
}

// discard drains and closes a redirect body, then releases the hop. Errors
// here cannot change the outcome and are only logged.
func (c *Client) discard(logger *logging.Logger, cl *call) {
	body := cl.raw.Resp.Body
	if _, err := io.CopyN(io.Discard, body, maxDrain); err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("Failed to drain redirect body", zap.Error(err))
	}
	if err := body.Close(); err != nil {
		logger.Debug("Failed to close redirect body", zap.Error(err))
	}
	cl.finish()
}

func classify(u *url.URL, err error, timedOut bool) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe
	}
	if timedOut {
		return fault.New(fault.ErrReadFailure, fault.PhaseRead, "await headers", u.Redacted(),
			fmt.Errorf("%w: %v", response.ErrReadTimeout, err))
	}
	return fault.New(fault.ErrTransportFailure, fault.PhaseConnect, "dispatch", u.Redacted(), err)
}

// attachBody sets the entity on req. It returns files to close after the
// hop and the declared length, negative when unknown.
func attachBody(req *resty.Request, body request.Body) ([]io.Closer, int64, error) {
	switch b := body.(type) {
	case nil:
		return nil, -1, nil
	case request.BytesBody:
		setContentType(req, b.ContentType)
		req.SetBody(b.Data)
		return nil, -1, nil
	case request.StringBody:
		setContentType(req, b.ContentType)
		req.SetBody([]byte(b.Content))
		return nil, -1, nil
	case request.StreamBody:
		setContentType(req, b.ContentType)
		req.SetBody(b.Reader)
		return nil, b.Length, nil
	case request.FileBody:
		f, err := openFile(b.Path)
		if err != nil {
			return nil, -1, err
		}
		length := int64(-1)
		if info, err := f.Stat(); err == nil {
			length = info.Size()
		}
		setContentType(req, b.ContentType)
		req.SetBody(f)
		return []io.Closer{f}, length, nil
	case request.MultipartBody:
		return attachMultipart(req, b)
	default:
		return nil, -1, fault.New(fault.ErrUnsupportedEncoding, fault.PhaseBuild, "body", "", fmt.Errorf("unsupported body %T", body))
	}
}

func attachMultipart(req *resty.Request, b request.MultipartBody) ([]io.Closer, int64, error) {
	fields := make(url.Values, len(b.Fields))
	for _, f := range b.Fields {
		fields.Add(f.Name, f.Value)
	}
	req.SetMultipartFormData(map[string]string{})
	req.SetFormDataFromValues(fields)

	closers := make([]io.Closer, 0, len(b.Files))
	for _, part := range b.Files {
		f, err := openFile(part.Path)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, -1, err
		}
		closers = append(closers, f)

		name := part.FileName
		if name == "" {
			name = filepath.Base(part.Path)
		}
		req.SetMultipartField(part.Name, name, part.ContentType, f)
	}
	return closers, -1, nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.New(fault.ErrFileNotFound, fault.PhaseBuild, "open", path, err)
	}
	return f, nil
}

func setContentType(req *resty.Request, contentType string) {
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.SetHeader("Content-Type", contentType)
	}
}
