// Package response turns a raw HTTP response into an immutable ApiResponse.
//
// The Reader streams the body in 1 KiB chunks under a byte ceiling,
// inflates gzip and deflate encodings, resolves the charset and closes the
// body before returning, so an ApiResponse never holds a live connection.
package response

import (
	"fmt"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// Header is one response header line.
type Header struct {
	Name  string
	Value string
}

// ApiResponse is a fully read response. Content is either the whole body or
// the first MaxBytes of it, in which case Truncated reports true. Accessors
// return copies except Content, which callers must treat as read-only.
type ApiResponse struct {
	protocol      string
	statusCode    int
	reason        string
	headers       []Header
	content       []byte
	charset       string
	redirectChain []string
	truncated     bool
}

// Protocol returns the protocol version, e.g. "HTTP/1.1".
func (r *ApiResponse) Protocol() string { return r.protocol }

// StatusCode returns the numeric status.
func (r *ApiResponse) StatusCode() int { return r.statusCode }

// Reason returns the reason phrase.
func (r *ApiResponse) Reason() string { return r.reason }

// Content returns the body bytes.
func (r *ApiResponse) Content() []byte { return r.content }

// Charset returns the resolved charset name. Empty means binary content.
func (r *ApiResponse) Charset() string { return r.charset }

// Truncated reports whether the body exceeded the download ceiling.
func (r *ApiResponse) Truncated() bool { return r.truncated }

// ContentLength returns the number of content bytes held.
func (r *ApiResponse) ContentLength() int64 { return int64(len(r.content)) }

// Headers returns the header lines, sorted by canonical name with the
// values of each name in received order.
func (r *ApiResponse) Headers() []Header {
	out := make([]Header, len(r.headers))
	copy(out, r.headers)
	return out
}

// Header returns the first value of the named header.
func (r *ApiResponse) Header(name string) string {
	name = textproto.CanonicalMIMEHeaderKey(name)
	for _, h := range r.headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Location returns the Location header.
func (r *ApiResponse) Location() string {
	return r.Header("Location")
}

// RedirectChain returns the URLs followed to reach this response, in order.
func (r *ApiResponse) RedirectChain() []string {
	out := make([]string, len(r.redirectChain))
	copy(out, r.redirectChain)
	return out
}

func (r *ApiResponse) IsSuccess() bool       { return IsSuccess(r.statusCode) }
func (r *ApiResponse) IsFailure() bool       { return IsFailure(r.statusCode) }
func (r *ApiResponse) IsRequestFail() bool   { return IsRequestFail(r.statusCode) }
func (r *ApiResponse) IsServerFailure() bool { return IsServerFailure(r.statusCode) }

// Text decodes the content using the response charset. Binary content and
// unknown charsets are returned as-is.
func (r *ApiResponse) Text() (string, error) {
	if r.charset == "" {
		return string(r.content), nil
	}
	enc, name := charset.Lookup(r.charset)
	if enc == nil || name == "utf-8" {
		return string(r.content), nil
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), r.content)
	if err != nil {
		return "", fmt.Errorf("decode %s content: %w", name, err)
	}
	return string(decoded), nil
}

// DecodeJSON unmarshals the content into v.
func (r *ApiResponse) DecodeJSON(v any) error {
	if len(r.content) == 0 {
		return fmt.Errorf("decode json: empty content (status %d)", r.statusCode)
	}
	if err := sonic.Unmarshal(r.content, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// String implements fmt.Stringer
func (r *ApiResponse) String() string {
	return fmt.Sprintf("%s %d %s (%d bytes)", r.protocol, r.statusCode, r.reason, len(r.content))
}

// Status classification over [200,300), [400,600), [400,500) and [500,600).
func IsSuccess(code int) bool       { return code >= 200 && code < 300 }
func IsFailure(code int) bool       { return code >= 400 && code < 600 }
func IsRequestFail(code int) bool   { return code >= 400 && code < 500 }
func IsServerFailure(code int) bool { return code >= 500 && code < 600 }

func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

func flattenHeaders(h http.Header) []Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Header, 0, len(h))
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, Header{Name: k, Value: v})
		}
	}
	return out
}
