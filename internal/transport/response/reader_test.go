package response

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
)

func newResponse(code int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       &http.Request{URL: &url.URL{Scheme: "https", Host: "api.example.com", Path: "/orders"}},
	}
}

func newTestReader(maxBytes int64) *Reader {
	return NewReader(Options{MaxBytes: maxBytes, AllowGzip: true})
}

func TestReadJSON(t *testing.T) {
	resp := newResponse(http.StatusOK, http.Header{
		"Content-Type": {"application/json; charset=UTF-8"},
	}, []byte(`{"a":1}`))

	got, err := newTestReader(-1).Read(Raw{Resp: resp}, nil)
	require.NoError(t, err)

	assert.Equal(t, 200, got.StatusCode())
	assert.Equal(t, "OK", got.Reason())
	assert.Equal(t, "HTTP/1.1", got.Protocol())
	assert.Equal(t, "UTF-8", got.Charset())
	assert.Equal(t, `{"a":1}`, string(got.Content()))
	assert.True(t, got.IsSuccess())
	assert.False(t, got.Truncated())

	var v struct{ A int }
	require.NoError(t, got.DecodeJSON(&v))
	assert.Equal(t, 1, v.A)
}

func TestReadContentLengthRoundTrip(t *testing.T) {
	const maxBytes = 2048

	for _, n := range []int{0, 1, 1023, 1024, 1025, 2047, 2048, 2049, 5000} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			body := bytes.Repeat([]byte("x"), n)
			resp := newResponse(http.StatusOK, http.Header{"Content-Length": {strconv.Itoa(n)}}, body)

			got, err := newTestReader(maxBytes).Read(Raw{Resp: resp}, nil)
			require.NoError(t, err)

			want := n
			if n > maxBytes {
				want = maxBytes
			}
			assert.Len(t, got.Content(), want)
			assert.Equal(t, int64(want), got.ContentLength())
			assert.Equal(t, n > maxBytes, got.Truncated())
		})
	}
}

func TestReadUnbounded(t *testing.T) {
	body := bytes.Repeat([]byte("y"), 64*1024+7)
	got, err := newTestReader(-1).Read(Raw{Resp: newResponse(200, nil, body)}, nil)
	require.NoError(t, err)
	assert.Equal(t, body, got.Content())
	assert.False(t, got.Truncated())
}

func TestReadIgnoresOversizedDeclaredLength(t *testing.T) {
	for _, maxBytes := range []int64{-1, 1 << 40} {
		resp := newResponse(200, nil, []byte("7 bytes"))
		resp.ContentLength = 1 << 50

		var got *ApiResponse
		require.NotPanics(t, func() {
			var err error
			got, err = newTestReader(maxBytes).Read(Raw{Resp: resp}, nil)
			require.NoError(t, err)
		})
		assert.Equal(t, "7 bytes", string(got.Content()))
		assert.False(t, got.Truncated())
	}
}

func TestPresize(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int64
		declared int64
		want     int
	}{
		{"unknown length", -1, -1, 0},
		{"small declared", -1, 512, 512},
		{"capped when unbounded", -1, 1 << 50, maxPresize},
		{"capped by ceiling", 100, 4096, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newTestReader(tt.maxBytes).presize(tt.declared))
		})
	}
}

func TestReadZeroCeiling(t *testing.T) {
	got, err := newTestReader(0).Read(Raw{Resp: newResponse(200, nil, []byte("abc"))}, nil)
	require.NoError(t, err)
	assert.Empty(t, got.Content())
	assert.True(t, got.Truncated())
}

func TestReadEmptyBody(t *testing.T) {
	resp := newResponse(http.StatusNoContent, nil, nil)
	resp.Body = http.NoBody

	got, err := newTestReader(1024).Read(Raw{Resp: resp}, nil)
	require.NoError(t, err)
	assert.NotNil(t, got.Content())
	assert.Empty(t, got.Content())
	assert.Equal(t, int64(0), got.ContentLength())
	assert.Equal(t, DefaultCharset, got.Charset())
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReadGzip(t *testing.T) {
	plain := []byte(strings.Repeat(`{"sku":"A-1","qty":3}`, 200))
	compressed := gzipped(t, plain)
	header := func() http.Header {
		return http.Header{"Content-Encoding": {"gzip"}, "Content-Type": {"application/json"}}
	}

	t.Run("inflated", func(t *testing.T) {
		got, err := newTestReader(-1).Read(Raw{Resp: newResponse(200, header(), compressed)}, nil)
		require.NoError(t, err)
		assert.Equal(t, plain, got.Content())
	})

	t.Run("ceiling counts inflated bytes", func(t *testing.T) {
		got, err := newTestReader(100).Read(Raw{Resp: newResponse(200, header(), compressed)}, nil)
		require.NoError(t, err)
		assert.Equal(t, plain[:100], got.Content())
		assert.True(t, got.Truncated())
	})

	t.Run("disabled passes through", func(t *testing.T) {
		r := NewReader(Options{MaxBytes: -1, AllowGzip: false})
		got, err := r.Read(Raw{Resp: newResponse(200, header(), compressed)}, nil)
		require.NoError(t, err)
		assert.Equal(t, compressed, got.Content())
	})

	t.Run("flagged without header", func(t *testing.T) {
		got, err := newTestReader(-1).Read(Raw{Resp: newResponse(200, nil, compressed), Gzip: true}, nil)
		require.NoError(t, err)
		assert.Equal(t, plain, got.Content())
	})

	t.Run("empty compressed body", func(t *testing.T) {
		got, err := newTestReader(-1).Read(Raw{Resp: newResponse(200, header(), nil)}, nil)
		require.NoError(t, err)
		assert.Empty(t, got.Content())
	})

	t.Run("corrupt stream", func(t *testing.T) {
		_, err := newTestReader(-1).Read(Raw{Resp: newResponse(200, header(), []byte("not gzip at all"))}, nil)
		assert.ErrorIs(t, err, fault.ErrReadFailure)
	})
}

func TestReadDeflate(t *testing.T) {
	plain := []byte(strings.Repeat("listing ", 300))

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var fbuf bytes.Buffer
	fw, err := flate.NewWriter(&fbuf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	for name, body := range map[string][]byte{"zlib": zbuf.Bytes(), "raw": fbuf.Bytes()} {
		t.Run(name, func(t *testing.T) {
			resp := newResponse(200, http.Header{"Content-Encoding": {"deflate"}}, body)
			got, err := newTestReader(-1).Read(Raw{Resp: resp}, nil)
			require.NoError(t, err)
			assert.Equal(t, plain, got.Content())
		})
	}
}

type failingBody struct {
	data []byte
	err  error
}

func (f *failingBody) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func (f *failingBody) Close() error { return nil }

func TestReadFailureAborts(t *testing.T) {
	resp := newResponse(200, nil, nil)
	resp.Body = &failingBody{data: bytes.Repeat([]byte("z"), 3000), err: io.ErrUnexpectedEOF}

	cancelled := false
	got, err := newTestReader(-1).Read(Raw{Resp: resp, Cancel: func() { cancelled = true }}, nil)

	assert.Nil(t, got)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrReadFailure)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	phase, _ := fault.PhaseOf(err)
	assert.Equal(t, fault.PhaseRead, phase)
	assert.True(t, cancelled)
}

func TestReadTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	resp := newResponse(200, nil, nil)
	resp.Body = pr

	go func() {
		_, _ = pw.Write([]byte("partial"))
	}()

	r := NewReader(Options{MaxBytes: -1, ReadTimeout: 30 * time.Millisecond})
	start := time.Now()
	got, err := r.Read(Raw{Resp: resp, Cancel: func() { _ = pr.CloseWithError(context.Canceled) }}, nil)

	assert.Nil(t, got)
	assert.ErrorIs(t, err, fault.ErrReadFailure)
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolveCharset(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"", "UTF-8"},
		{"text/html", "UTF-8"},
		{"text/html; charset=ISO-8859-1", "ISO-8859-1"},
		{`text/plain; charset="windows-1252"`, "windows-1252"},
		{"text/plain; charset=bogus-9", "UTF-8"},
		{"application/octet-stream", ""},
		{"application/octet-stream; charset=latin1", "latin1"},
		{";;;", "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCharset(tt.contentType))
		})
	}
}

func TestReadCharsetSniffing(t *testing.T) {
	body := []byte(strings.Repeat("注文が確定しました。ありがとうございます。", 20))

	t.Run("sniffs when undeclared", func(t *testing.T) {
		r := NewReader(Options{MaxBytes: -1, SniffCharset: true})
		got, err := r.Read(Raw{Resp: newResponse(200, http.Header{"Content-Type": {"text/plain"}}, body)}, nil)
		require.NoError(t, err)
		assert.Equal(t, "UTF-8", got.Charset())
	})

	t.Run("declared charset wins", func(t *testing.T) {
		r := NewReader(Options{MaxBytes: -1, SniffCharset: true})
		resp := newResponse(200, http.Header{"Content-Type": {"text/plain; charset=Shift_JIS"}}, body)
		got, err := r.Read(Raw{Resp: resp}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Shift_JIS", got.Charset())
	})

	t.Run("binary stays binary", func(t *testing.T) {
		r := NewReader(Options{MaxBytes: -1, SniffCharset: true})
		resp := newResponse(200, http.Header{"Content-Type": {"application/octet-stream"}}, body)
		got, err := r.Read(Raw{Resp: resp}, nil)
		require.NoError(t, err)
		assert.Empty(t, got.Charset())
	})
}

func TestApiResponseAccessors(t *testing.T) {
	header := http.Header{
		"X-Request-Id": {"req_01"},
		"Content-Type": {"text/plain; charset=ISO-8859-1"},
		"Set-Cookie":   {"a=1", "b=2"},
		"Location":     {"/next"},
	}
	resp := newResponse(http.StatusNotFound, header, []byte{'c', 'a', 'f', 0xE9})
	chain := []string{"https://api.example.com/a", "https://api.example.com/b"}

	got, err := newTestReader(-1).Read(Raw{Resp: resp}, chain)
	require.NoError(t, err)

	assert.Equal(t, []Header{
		{"Content-Type", "text/plain; charset=ISO-8859-1"},
		{"Location", "/next"},
		{"Set-Cookie", "a=1"},
		{"Set-Cookie", "b=2"},
		{"X-Request-Id", "req_01"},
	}, got.Headers())
	assert.Equal(t, "req_01", got.Header("x-request-id"))
	assert.Equal(t, "/next", got.Location())

	text, err := got.Text()
	require.NoError(t, err)
	assert.Equal(t, "café", text)

	assert.True(t, got.IsFailure())
	assert.True(t, got.IsRequestFail())
	assert.False(t, got.IsServerFailure())

	// Returned slices are copies
	chain[0] = "mutated"
	got.RedirectChain()[1] = "mutated"
	got.Headers()[0].Value = "mutated"
	assert.Equal(t, []string{"https://api.example.com/a", "https://api.example.com/b"}, got.RedirectChain())
	assert.Equal(t, "text/plain; charset=ISO-8859-1", got.Header("Content-Type"))

	assert.Error(t, (&ApiResponse{statusCode: 204}).DecodeJSON(&struct{}{}))
}

func TestStatusPredicatesPartition(t *testing.T) {
	for code := 100; code < 600; code++ {
		success, req, server := IsSuccess(code), IsRequestFail(code), IsServerFailure(code)

		assert.False(t, req && server, code)
		assert.Equal(t, req || server, IsFailure(code), code)
		assert.False(t, success && IsFailure(code), code)
		assert.Equal(t, code >= 200 && code < 300, success, code)
	}
}

func TestReadNilResponse(t *testing.T) {
	_, err := newTestReader(-1).Read(Raw{}, nil)
	assert.True(t, errors.Is(err, fault.ErrReadFailure))
}
