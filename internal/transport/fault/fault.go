package fault

import (
	"errors"
	"fmt"
)

// Error kinds. Compare with errors.Is; every *Error reports its kind through Is.
var (
	ErrInvalidURL          = errors.New("invalid url")
	ErrFileNotFound        = errors.New("file not found")
	ErrPoolExhausted       = errors.New("connection pool exhausted")
	ErrPoolClosed          = errors.New("connection pool closed")
	ErrMalformedRedirect   = errors.New("malformed redirect")
	ErrRedirectBlocked     = errors.New("redirect blocked")
	ErrReadFailure         = errors.New("response read failure")
	ErrTransportFailure    = errors.New("transport failure")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// Phase identifies the step of a call that failed.
type Phase int

const (
	PhaseBuild Phase = iota
	PhaseConnect
	PhaseRedirect
	PhaseRead
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseBuild:
		return "build"
	case PhaseConnect:
		return "connect"
	case PhaseRedirect:
		return "redirect"
	case PhaseRead:
		return "read"
	default:
		return "unknown"
	}
}

// Error is a transport-classified failure. Kind is one of the Err* sentinels,
// Err is the preserved underlying cause (may be nil).
type Error struct {
	Kind  error
	Phase Phase
	Op    string
	URL   string
	Err   error
}

// New creates a classified error
func New(kind error, phase Phase, op, url string, cause error) *Error {
	return &Error{
		Kind:  kind,
		Phase: phase,
		Op:    op,
		URL:   url,
		Err:   cause,
	}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Phase, e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Phase, e.Op, e.Kind)
	}
	if e.URL != "" {
		msg += fmt.Sprintf(" (%s)", e.URL)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error
func (e *Error) Is(target error) bool {
	return target != nil && e.Kind == target
}

// KindOf returns the kind of a classified error, or nil if err is not one.
func KindOf(err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return nil
}

// PhaseOf returns the phase of a classified error. ok is false if err is not one.
func PhaseOf(err error) (Phase, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Phase, true
	}
	return 0, false
}

var names = map[error]string{
	ErrInvalidURL:          "invalid_url",
	ErrFileNotFound:        "file_not_found",
	ErrPoolExhausted:       "pool_exhausted",
	ErrPoolClosed:          "pool_closed",
	ErrMalformedRedirect:   "malformed_redirect",
	ErrRedirectBlocked:     "redirect_blocked",
	ErrReadFailure:         "read_failure",
	ErrTransportFailure:    "transport_failure",
	ErrUnsupportedEncoding: "unsupported_encoding",
}

// Name returns a stable snake_case label for err's kind, "unclassified"
// for plain errors and "" for nil.
func Name(err error) string {
	if err == nil {
		return ""
	}
	if name, ok := names[KindOf(err)]; ok {
		return name
	}
	return "unclassified"
}
