package response

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
)

// ChunkSize is the size of each body read.
const ChunkSize = 1024

// maxPresize caps the buffer reserved from a Content-Length header.
const maxPresize = 64 << 10

// ErrReadTimeout is the cause of a ReadFailure when no bytes arrived within
// the read timeout.
var ErrReadTimeout = errors.New("read timeout")

// Raw is a response whose body has not been read yet.
type Raw struct {
	Resp *http.Response
	// Gzip marks a body known to be gzip-compressed even when the response
	// carries no Content-Encoding header.
	Gzip bool
	// Cancel aborts the request that produced Resp. When nil the body is
	// closed instead.
	Cancel context.CancelFunc
}

// Options configure a Reader.
type Options struct {
	// MaxBytes caps the content held. Negative means unbounded.
	MaxBytes     int64
	ReadTimeout  time.Duration
	AllowGzip    bool
	SniffCharset bool
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics
}

// OptionsFrom maps client configuration onto reader options.
func OptionsFrom(cfg config.ClientConfig, logger *logging.Logger, metrics *monitoring.Metrics) Options {
	return Options{
		MaxBytes:     cfg.MaxDownloadSize,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		AllowGzip:    cfg.AllowGzip,
		SniffCharset: cfg.SniffCharset,
		Logger:       logger,
		Metrics:      metrics,
	}
}

// Reader consumes response bodies. It keeps no per-call state and is safe
// for concurrent use.
type Reader struct {
	opts   Options
	logger *logging.Logger
}

// NewReader creates a reader
func NewReader(opts Options) *Reader {
	return &Reader{
		opts:   opts,
		logger: opts.Logger.Named("response"),
	}
}

// Read consumes raw's body and returns the response with chain recorded as
// its redirect chain. The body is closed before Read returns. Any failure
// mid-stream aborts the request and yields ErrReadFailure; no partial
// response is returned.
func (r *Reader) Read(raw Raw, chain []string) (*ApiResponse, error) {
	resp := raw.Resp
	if resp == nil {
		return nil, fault.New(fault.ErrReadFailure, fault.PhaseRead, "read", "", errors.New("no response"))
	}
	target := ""
	if resp.Request != nil && resp.Request.URL != nil {
		target = resp.Request.URL.Redacted()
	}

	out := &ApiResponse{
		protocol:      resp.Proto,
		statusCode:    resp.StatusCode,
		reason:        reasonPhrase(resp),
		headers:       flattenHeaders(resp.Header),
		redirectChain: append([]string(nil), chain...),
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		out.content = []byte{}
		out.charset = r.charsetFor(resp.Header.Get("Content-Type"), nil)
		return out, nil
	}

	abort := func() {
		if raw.Cancel != nil {
			raw.Cancel()
			return
		}
		_ = resp.Body.Close()
	}

	wd := startWatchdog(r.opts.ReadTimeout, abort)
	content, truncated, err := r.stream(resp, raw.Gzip, wd)
	wd.stop()

	if err != nil {
		abort()
		r.closeBody(resp.Body, target)
		if wd.expired() {
			err = fmt.Errorf("%w after %s: %v", ErrReadTimeout, r.opts.ReadTimeout, err)
		}
		return nil, fault.New(fault.ErrReadFailure, fault.PhaseRead, "read", target, err)
	}
	r.closeBody(resp.Body, target)

	if truncated {
		r.opts.Metrics.IncTruncated()
		r.logger.Debug("Response truncated",
			zap.String("url", target),
			zap.Int64("max_bytes", r.opts.MaxBytes),
		)
	}

	out.content = content
	out.truncated = truncated
	out.charset = r.charsetFor(resp.Header.Get("Content-Type"), content)
	return out, nil
}

func (r *Reader) stream(resp *http.Response, flagged bool, wd *watchdog) ([]byte, bool, error) {
	src, closeDecoder, err := r.decoder(resp, flagged)
	if err != nil {
		return nil, false, err
	}
	if src == nil {
		return []byte{}, false, nil
	}
	defer closeDecoder()

	var buf bytes.Buffer
	if size := r.presize(resp.ContentLength); size > 0 {
		buf.Grow(size)
	}

	chunk := make([]byte, ChunkSize)
	for {
		want := len(chunk)
		if r.opts.MaxBytes >= 0 {
			remaining := r.opts.MaxBytes - int64(buf.Len())
			if remaining <= 0 {
				return buf.Bytes(), hasMore(src), nil
			}
			if remaining < int64(want) {
				want = int(remaining)
			}
		}

		n, err := src.Read(chunk[:want])
		if n > 0 {
			buf.Write(chunk[:n])
			wd.kick()
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
}

// presize returns how much to reserve up front for a declared length. The
// declared length is untrusted, so it never exceeds maxPresize or MaxBytes.
func (r *Reader) presize(declared int64) int {
	if declared <= 0 {
		return 0
	}
	size := min(declared, maxPresize)
	if r.opts.MaxBytes >= 0 {
		size = min(size, r.opts.MaxBytes)
	}
	return int(size)
}

// hasMore reports whether at least one more byte is available.
func hasMore(src io.Reader) bool {
	var one [1]byte
	n, _ := io.ReadFull(src, one[:])
	return n > 0
}

// decoder wraps the body in an inflater when the response is compressed
// and gzip support is on. A nil reader means the compressed stream is empty.
func (r *Reader) decoder(resp *http.Response, flagged bool) (io.Reader, func(), error) {
	noop := func() {}
	if !r.opts.AllowGzip || resp.Uncompressed {
		return resp.Body, noop, nil
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch {
	case encoding == "gzip" || encoding == "x-gzip" || (encoding == "" && flagged):
		gz, err := gzip.NewReader(resp.Body)
		if errors.Is(err, io.EOF) {
			return nil, noop, nil
		}
		if err != nil {
			return nil, noop, fmt.Errorf("gzip decode: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case encoding == "deflate":
		return inflate(resp.Body)
	default:
		return resp.Body, noop, nil
	}
}

// inflate handles both zlib-wrapped and raw deflate streams, since servers
// send either under Content-Encoding: deflate.
func inflate(body io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	br := bufio.NewReader(body)
	head, err := br.Peek(2)
	if len(head) == 0 && errors.Is(err, io.EOF) {
		return nil, noop, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, noop, fmt.Errorf("deflate decode: %w", err)
	}

	if len(head) == 2 && isZlibHeader(head[0], head[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, noop, fmt.Errorf("deflate decode: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	}
	fr := flate.NewReader(br)
	return fr, func() { _ = fr.Close() }, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func (r *Reader) charsetFor(contentType string, content []byte) string {
	name, explicit := declaredCharset(contentType)
	if explicit || !r.opts.SniffCharset {
		return name
	}
	if sniffed, ok := sniffCharset(content); ok {
		return sniffed
	}
	return name
}

// closeBody releases the body. Failures cannot change an already-read
// result, so they are only logged.
func (r *Reader) closeBody(body io.Closer, target string) {
	if err := body.Close(); err != nil {
		r.logger.Debug("Failed to close response body",
			zap.String("url", target),
			zap.Error(err),
		)
	}
}

// watchdog aborts a read that makes no progress for d. kick re-arms it.
type watchdog struct {
	d     time.Duration
	timer *time.Timer
	fired atomic.Bool
}

func startWatchdog(d time.Duration, onExpire func()) *watchdog {
	if d <= 0 {
		return nil
	}
	w := &watchdog{d: d}
	w.timer = time.AfterFunc(d, func() {
		w.fired.Store(true)
		onExpire()
	})
	return w
}

func (w *watchdog) kick() {
	if w != nil && !w.fired.Load() {
		w.timer.Reset(w.d)
	}
}

func (w *watchdog) stop() {
	if w != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) expired() bool {
	return w != nil && w.fired.Load()
}
