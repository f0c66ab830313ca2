package request

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
)

var errIsDirectory = errors.New("is a directory")

type errUnknownCharset string

func (e errUnknownCharset) Error() string {
	return fmt.Sprintf("unknown charset %q", string(e))
}

// Outgoing is a request ready for dispatch. Built fresh per call.
type Outgoing struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   Body
}

// Clone returns a copy safe to modify for a redirect hop. Body is shared.
func (o *Outgoing) Clone() *Outgoing {
	u := *o.URL
	return &Outgoing{
		Method: o.Method,
		URL:    &u,
		Header: o.Header.Clone(),
		Body:   o.Body,
	}
}

var methods = map[string]bool{
	http.MethodGet:    false,
	http.MethodDelete: false,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
}

// AllowsBody reports whether method may carry an entity.
func AllowsBody(method string) bool {
	return methods[strings.ToUpper(method)]
}

// Builder turns method, URL and headers into an Outgoing request.
type Builder struct {
	cfg    config.ClientConfig
	logger *logging.Logger
}

// NewBuilder creates a builder over a validated client config.
func NewBuilder(cfg config.ClientConfig, logger *logging.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger.Named("request")}
}

// Build creates a request without a body.
func (b *Builder) Build(method, rawURL string, headers map[string]string) (*Outgoing, error) {
	return b.BuildWithBody(method, rawURL, headers, nil)
}

// BuildWithBody creates a request. GET and DELETE never carry a body: one
// passed with them is dropped. Missing attachment files fail with
// ErrFileNotFound before any network I/O.
func (b *Builder) BuildWithBody(method, rawURL string, headers map[string]string, body Body) (*Outgoing, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if _, ok := methods[method]; !ok {
		return nil, fault.New(fault.ErrInvalidURL, fault.PhaseBuild, "method", rawURL, fmt.Errorf("unsupported method %q", method))
	}

	u, err := b.resolveURL(rawURL)
	if err != nil {
		return nil, err
	}

	out := &Outgoing{
		Method: method,
		URL:    u,
		Header: b.defaultHeaders(),
	}

	// Caller headers last; sorted so colliding spellings resolve the same way every time.
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Header.Set(k, headers[k])
	}

	if body != nil && !AllowsBody(method) {
		b.logger.Warn("Dropping body on bodiless method",
			zap.String("method", method),
			zap.String("url", u.Redacted()),
		)
		body = nil
	}

	prepared, err := prepare(body)
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) && fe.URL == "" {
			fe.URL = u.Redacted()
		}
		return nil, err
	}
	out.Body = prepared

	return out, nil
}

func (b *Builder) defaultHeaders() http.Header {
	h := make(http.Header)
	if b.cfg.Accept != "" {
		h.Set("Accept", b.cfg.Accept)
	}
	if b.cfg.AcceptLanguage != "" {
		h.Set("Accept-Language", b.cfg.AcceptLanguage)
	}
	if b.cfg.AllowGzip {
		h.Set("Accept-Encoding", "gzip")
	}
	return h
}

func (b *Builder) resolveURL(raw string) (*url.URL, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "%20")

	if b.cfg.LockHost.Enabled && !hasHTTPScheme(raw) {
		return b.lockURL(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fault.New(fault.ErrInvalidURL, fault.PhaseBuild, "parse", raw, err)
	}
	if err := checkAbsolute(u); err != nil {
		return nil, fault.New(fault.ErrInvalidURL, fault.PhaseBuild, "parse", raw, err)
	}
	return u, nil
}

// lockURL moves raw onto the locked scheme, host and port and prefixes the
// base path onto its path.
func (b *Builder) lockURL(raw string) (*url.URL, error) {
	rel, err := url.Parse(raw)
	if err != nil {
		return nil, fault.New(fault.ErrInvalidURL, fault.PhaseBuild, "parse", raw, err)
	}

	lock := b.cfg.LockHost
	host := lock.Host
	if lock.Port > 0 {
		host += ":" + strconv.Itoa(lock.Port)
	}

	var sb strings.Builder
	sb.WriteString(lock.Scheme)
	sb.WriteString("://")
	sb.WriteString(host)
	sb.WriteString(joinPath(lock.BasePath, rel.EscapedPath()))
	if rel.RawQuery != "" {
		sb.WriteByte('?')
		sb.WriteString(rel.RawQuery)
	}
	if rel.Fragment != "" {
		sb.WriteByte('#')
		sb.WriteString(rel.EscapedFragment())
	}

	u, err := url.Parse(sb.String())
	if err != nil {
		return nil, fault.New(fault.ErrInvalidURL, fault.PhaseBuild, "lock host", raw, err)
	}
	if err := checkAbsolute(u); err != nil {
		return nil, fault.New(fault.ErrInvalidURL, fault.PhaseBuild, "lock host", raw, err)
	}
	return u, nil
}

func hasHTTPScheme(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func checkAbsolute(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return errors.New("relative url without a locked host")
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("missing host")
	}
	return nil
}

// joinPath joins base and p with exactly one slash between them.
func joinPath(base, p string) string {
	base = strings.TrimRight(base, "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	return base + "/" + p
}
